package parking

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/metal-toolbox/toolshed/internal/mailbox"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	// pure Go sqlite driver registered as "sqlite"
	_ "modernc.org/sqlite"
)

const downloadSchema = `
CREATE TABLE IF NOT EXISTS processed_emails (
	message_id    TEXT PRIMARY KEY,
	subject       TEXT,
	date          TEXT,
	email_account TEXT
);
`

var ErrStore = errors.New("parking store error")

// Store records the messages whose exports were downloaded.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the sqlite database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		// nolint:gomnd // file permissions are clearer in this form.
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrap(ErrStore, err.Error())
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(ErrStore, "open: "+err.Error())
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, downloadSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(ErrStore, "schema: "+err.Error())
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsProcessed returns true when the message id was recorded.
func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var n int

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM processed_emails WHERE message_id = ?", messageID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(ErrStore, err.Error())
	}

	return n > 0, nil
}

// MarkProcessed records the message, recording it again is a no-op.
func (s *Store) MarkProcessed(ctx context.Context, messageID, subject string, date time.Time, account string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed_emails (message_id, subject, date, email_account) VALUES (?, ?, ?, ?)",
		messageID, subject, date.Format(time.RFC1123Z), account,
	)
	if err != nil {
		return errors.Wrap(ErrStore, err.Error())
	}

	return nil
}

// Fetcher returns every message of a mail folder.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]mailbox.Message, error)
}

// Downloader saves the csv exports attached to the sent mail of an account.
type Downloader struct {
	store  *Store
	dir    string
	logger *logrus.Entry
}

// NewDownloader returns a Downloader writing exports into dir.
func NewDownloader(store *Store, dir string, logger *logrus.Logger) *Downloader {
	return &Downloader{
		store:  store,
		dir:    dir,
		logger: logger.WithField("component", "parking.download"),
	}
}

// Download saves the csv attachments of the messages not seen before and returns the number of
// files written.
func (d *Downloader) Download(ctx context.Context, account string, fetcher Fetcher) (int, error) {
	messages, err := fetcher.FetchAll(ctx)
	if err != nil {
		return 0, err
	}

	// nolint:gomnd // file permissions are clearer in this form.
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return 0, errors.Wrap(ErrOutput, err.Error())
	}

	var written int

	for i := range messages {
		msg := &messages[i]

		id := msg.MessageID
		if id == "" {
			// messages without an id are tracked by their folder position
			id = account + ":" + msg.Key
		}

		done, err := d.store.IsProcessed(ctx, id)
		if err != nil {
			return written, err
		}

		if done {
			continue
		}

		var saved bool

		for _, att := range msg.Attachments {
			if !strings.HasSuffix(strings.ToUpper(att.Filename), ".CSV") {
				continue
			}

			path := filepath.Join(d.dir, filepath.Base(att.Filename))

			// nolint:gomnd // file permissions are clearer in this form.
			if err := os.WriteFile(path, att.Data, 0o640); err != nil {
				return written, errors.Wrap(ErrOutput, err.Error())
			}

			d.logger.WithFields(logrus.Fields{"account": account, "file": path}).Debug("export saved")

			written++
			saved = true
		}

		if !saved {
			continue
		}

		if err := d.store.MarkProcessed(ctx, id, msg.Subject, msg.Date, account); err != nil {
			return written, err
		}
	}

	return written, nil
}
