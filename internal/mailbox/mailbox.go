package mailbox

import (
	"context"
	"io"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	// register the charsets legacy mail clients encode headers and parts with
	_ "github.com/emersion/go-message/charset"
)

const (
	DefaultServer     = "imap.gmail.com:993"
	DefaultFolder     = "[Gmail]/Sent Mail"
	DefaultRetries    = 3
	DefaultRetryDelay = 5 * time.Second

	fetchBuffer = 10
)

var (
	ErrConnect = errors.New("IMAP connection error")
	ErrLogin   = errors.New("IMAP login error")
	ErrFetch   = errors.New("IMAP fetch error")
	ErrParse   = errors.New("message parse error")
)

// Attachment is a file attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a fetched message.
type Message struct {
	UID uint32
	// Key identifies the message in the folder across sessions, <uidvalidity>:<uid>
	Key         string
	MessageID   string
	Subject     string
	Date        time.Time
	To          []string
	Attachments []Attachment
}

// AddressedTo returns true when one of the To recipients is addr, compared case insensitively.
func (m *Message) AddressedTo(addr string) bool {
	for _, to := range m.To {
		if strings.EqualFold(strings.TrimSpace(to), strings.TrimSpace(addr)) {
			return true
		}
	}

	return false
}

// Session defines the IMAP client methods used,
// this is mainly to swap the go-imap client for tests
type Session interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// DialFunc opens a connection to the IMAP server.
type DialFunc func(addr string) (Session, error)

// DialTLS connects to the IMAP server over TLS.
func DialTLS(addr string) (Session, error) {
	return client.DialTLS(addr, nil)
}

// Options defines the mailbox parameters.
type Options struct {
	Server     string
	Username   string
	Password   string
	Folder     string
	Retries    int
	RetryDelay time.Duration
}

// Mailbox fetches messages from an IMAP folder.
type Mailbox struct {
	opts   Options
	dial   DialFunc
	logger *logrus.Entry
}

// New returns a Mailbox for the given options, dial is DialTLS when nil.
func New(opts Options, dial DialFunc, logger *logrus.Logger) *Mailbox {
	if opts.Server == "" {
		opts.Server = DefaultServer
	}

	if opts.Folder == "" {
		opts.Folder = DefaultFolder
	}

	if opts.Retries < 1 {
		opts.Retries = 1
	}

	if dial == nil {
		dial = DialTLS
	}

	return &Mailbox{
		opts: opts,
		dial: dial,
		logger: logger.WithFields(logrus.Fields{
			"component": "mailbox",
			"account":   opts.Username,
		}),
	}
}

// FetchSince returns the messages in the folder since the given time, retrying the session on failure.
//
// IMAP SINCE has a date granularity, the messages of the whole day of since are returned.
func (m *Mailbox) FetchSince(ctx context.Context, since time.Time) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	return m.fetchWithRetry(ctx, criteria)
}

// FetchAll returns all messages in the folder, retrying the session on failure.
func (m *Mailbox) FetchAll(ctx context.Context) ([]Message, error) {
	return m.fetchWithRetry(ctx, imap.NewSearchCriteria())
}

func (m *Mailbox) fetchWithRetry(ctx context.Context, criteria *imap.SearchCriteria) ([]Message, error) {
	var (
		messages []Message
		attempt  int
	)

	op := func() error {
		attempt++

		var err error

		messages, err = m.fetch(criteria)
		if err != nil {
			m.logger.WithFields(logrus.Fields{"attempt": attempt, "of": m.opts.Retries}).WithError(err).Warn("mailbox fetch failed")
		}

		return err
	}

	// nolint:gosec // retries is a small positive configuration value
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.opts.RetryDelay), uint64(m.opts.Retries-1)),
		ctx,
	)

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}

	return messages, nil
}

// fetch runs one session, the session is always logged out.
func (m *Mailbox) fetch(criteria *imap.SearchCriteria) ([]Message, error) {
	c, err := m.dial(m.opts.Server)
	if err != nil {
		return nil, errors.Wrap(ErrConnect, err.Error())
	}

	defer func() {
		if err := c.Logout(); err != nil {
			m.logger.WithError(err).Debug("logout")
		}
	}()

	if err := c.Login(m.opts.Username, m.opts.Password); err != nil {
		return nil, errors.Wrap(ErrLogin, err.Error())
	}

	status, err := c.Select(m.opts.Folder, true)
	if err != nil {
		return nil, errors.Wrap(ErrFetch, "select "+m.opts.Folder+": "+err.Error())
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, errors.Wrap(ErrFetch, "search: "+err.Error())
	}

	m.logger.WithFields(logrus.Fields{"folder": m.opts.Folder, "count": len(uids)}).Debug("messages found")

	if len(uids) == 0 {
		return []Message{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, fetchBuffer)
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	messages := []Message{}

	for msg := range ch {
		parsed, err := parseMessage(msg, section)
		if err != nil {
			m.logger.WithField("uid", msg.Uid).WithError(err).Warn("skipped message")
			continue
		}

		parsed.Key = strconv.FormatUint(uint64(status.UidValidity), 10) + ":" + strconv.FormatUint(uint64(msg.Uid), 10)
		messages = append(messages, *parsed)
	}

	if err := <-done; err != nil {
		return nil, errors.Wrap(ErrFetch, err.Error())
	}

	return messages, nil
}

func parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	body := msg.GetBody(section)
	if body == nil {
		return nil, errors.Wrap(ErrParse, "server did not return the message body")
	}

	parsed, err := Parse(body)
	if err != nil {
		return nil, err
	}

	parsed.UID = msg.Uid

	if msg.Envelope != nil {
		if parsed.Date.IsZero() {
			parsed.Date = msg.Envelope.Date
		}

		if len(parsed.To) == 0 {
			for _, addr := range msg.Envelope.To {
				parsed.To = append(parsed.To, addr.Address())
			}
		}
	}

	return parsed, nil
}

// Parse reads an RFC 5322 message with its attachments.
//
// Parts with a content disposition and a file name are returned as attachments, inline or not.
func Parse(r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, errors.Wrap(ErrParse, err.Error())
	}

	defer mr.Close()

	parsed := &Message{}

	parsed.MessageID, _ = mr.Header.MessageID()
	parsed.Subject, _ = mr.Header.Subject()
	parsed.Date, _ = mr.Header.Date()

	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			parsed.To = append(parsed.To, addr.Address)
		}
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}

		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}

			return nil, errors.Wrap(ErrParse, err.Error())
		}

		filename, ok := partFilename(p.Header)
		if !ok {
			continue
		}

		data, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, errors.Wrap(ErrParse, filename+": "+err.Error())
		}

		contentType, _, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))

		parsed.Attachments = append(parsed.Attachments, Attachment{
			Filename:    filename,
			ContentType: contentType,
			Data:        data,
		})
	}

	return parsed, nil
}

func partFilename(h mail.PartHeader) (string, bool) {
	if h.Get("Content-Disposition") == "" {
		return "", false
	}

	var ah *mail.AttachmentHeader

	switch h := h.(type) {
	case *mail.AttachmentHeader:
		ah = h
	case *mail.InlineHeader:
		ah = &mail.AttachmentHeader{Header: h.Header}
	default:
		return "", false
	}

	filename, err := ah.Filename()
	if err != nil || filename == "" {
		return "", false
	}

	return filename, true
}
