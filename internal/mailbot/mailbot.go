package mailbot

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/metal-toolbox/toolshed/internal/mailbox"
	"github.com/metal-toolbox/toolshed/internal/metrics"
	"github.com/metal-toolbox/toolshed/internal/telegram"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	pkgName = "internal/mailbot"

	DefaultPollInterval = time.Minute
	DefaultLookback     = time.Hour
	DefaultRestartDelay = 10 * time.Second

	captionTimeFormat = "2006-01-02 15:04:05"
)

// replies sent to the telegram users.
const (
	replyNeedUsername = "Для использования бота необходимо иметь username в Telegram."
	replySubscribed   = "Вы успешно подписались на уведомления."
	replyReconnected  = "Вы успешно переподключились к боту."
	replyUnsubscribed = "Вы отписались от получения уведомлений."
	replyNoPermission = "К сожалению, у Вас нет разрешения на использование этого бота."
	replyError        = "Произошла ошибка при обработке команды."
	captionPrefix     = "Изображение отправлено: "
)

var (
	ErrUpdatesClosed = errors.New("telegram update stream closed")

	imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}
)

// MailFetcher returns the sent messages since a point in time.
type MailFetcher interface {
	FetchSince(ctx context.Context, since time.Time) ([]mailbox.Message, error)
}

// Messenger delivers images and replies to telegram chats and receives the messages sent to the bot.
type Messenger interface {
	SendPhoto(ctx context.Context, chatID int64, name string, data []byte, caption string) error
	Reply(ctx context.Context, chatID int64, messageID int, text string) error
	Updates(ctx context.Context) <-chan telegram.Incoming
}

// Options defines the mail relay parameters.
type Options struct {
	// ToAddress only messages sent to this recipient are relayed.
	ToAddress string
	// AllowedUsers are the @usernames allowed to subscribe.
	AllowedUsers []string
	PicturesDir  string
	PollInterval time.Duration
	Lookback     time.Duration
	RestartDelay time.Duration
}

// Bot relays the images attached to sent mail to the subscribed telegram chats.
type Bot struct {
	store     *Store
	mail      MailFetcher
	messenger Messenger
	opts      Options
	allowed   map[string]bool
	logger    *logrus.Entry
	now       func() time.Time
}

// New returns a mail relay Bot.
func New(store *Store, mail MailFetcher, messenger Messenger, opts Options, logger *logrus.Logger) *Bot {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}

	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}

	allowed := make(map[string]bool, len(opts.AllowedUsers))
	for _, u := range opts.AllowedUsers {
		allowed[strings.TrimSpace(u)] = true
	}

	return &Bot{
		store:     store,
		mail:      mail,
		messenger: messenger,
		opts:      opts,
		allowed:   allowed,
		logger:    logger.WithField("component", "mailbot"),
		now:       time.Now,
	}
}

// Run polls the mailbox and handles the bot commands until ctx is canceled.
//
// The mailbox is polled once at start and then every poll interval,
// when the update stream ends both loops are restarted after the restart delay.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot started")

	for {
		err := b.runOnce(ctx)
		if ctx.Err() != nil {
			b.logger.Info("bot stopped")
			return nil
		}

		b.logger.WithError(err).WithField("delay", b.opts.RestartDelay.String()).Error("bot loop exited, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.opts.RestartDelay):
		}
	}
}

func (b *Bot) runOnce(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.updateLoop(gctx)
	})

	g.Go(func() error {
		b.pollLoop(gctx)
		return nil
	})

	return g.Wait()
}

func (b *Bot) updateLoop(ctx context.Context) error {
	for in := range b.messenger.Updates(ctx) {
		b.HandleIncoming(ctx, in)
	}

	if ctx.Err() != nil {
		return nil
	}

	return ErrUpdatesClosed
}

func (b *Bot) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := b.Poll(ctx); err != nil && ctx.Err() == nil {
			b.logger.WithError(err).Error("error while checking mail")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll prunes the chats of users no longer allowed and relays the images of the new sent mail.
func (b *Bot) Poll(ctx context.Context) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Poll")
	defer span.End()

	removed, err := b.store.PruneUnauthorized(ctx, b.allowed)
	if err != nil {
		b.logger.WithError(err).Warn("authorized chats refresh failed")
	}

	for _, u := range removed {
		b.logger.WithField("username", u).Info("removed unauthorized user")
	}

	b.logger.Info("checking sent mail")

	messages, err := b.mail.FetchSince(ctx, b.now().Add(-b.opts.Lookback))
	if err != nil {
		metrics.FetchErrors.With(metrics.StageLabelMailbot).Inc()
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	span.SetAttributes(attribute.Int("messages", len(messages)))

	for idx := range messages {
		if err := b.processMessage(ctx, &messages[idx]); err != nil {
			b.logger.WithFields(logrus.Fields{
				"uid":     messages[idx].UID,
				"subject": messages[idx].Subject,
			}).WithError(err).Error("message processing failed")
		}
	}

	b.logger.Info("finished checking sent mail")

	return nil
}

func (b *Bot) processMessage(ctx context.Context, msg *mailbox.Message) error {
	done, err := b.store.IsProcessed(ctx, msg.Key)
	if err != nil {
		return err
	}

	if done || !msg.AddressedTo(b.opts.ToAddress) {
		return nil
	}

	logger := b.logger.WithFields(logrus.Fields{"uid": msg.UID, "subject": msg.Subject})
	logger.Info("processing email")

	var chats []Chat

	for _, att := range msg.Attachments {
		if !IsImage(att.Filename) {
			continue
		}

		path, err := b.saveAttachment(msg.UID, att)
		if err != nil {
			return err
		}

		logger.WithField("file", path).Info("saved image")

		if chats == nil {
			if chats, err = b.store.ActiveChats(ctx); err != nil {
				return err
			}
		}

		b.relay(ctx, chats, att, captionPrefix+msg.Date.Format(captionTimeFormat))
	}

	// processed whether or not it had image attachments
	if err := b.store.MarkProcessed(ctx, msg.Key); err != nil {
		return err
	}

	metrics.MessagesProcessed.With(metrics.StageLabelMailbot).Inc()

	return nil
}

func (b *Bot) relay(ctx context.Context, chats []Chat, att mailbox.Attachment, caption string) {
	for _, chat := range chats {
		logger := b.logger.WithFields(logrus.Fields{"file": att.Filename, "chatID": chat.ID})

		err := b.messenger.SendPhoto(ctx, chat.ID, att.Filename, att.Data, caption)

		switch {
		case err == nil:
			metrics.ImagesForwarded.With(metrics.StageLabelMailbot).Inc()
			logger.Info("sent image to telegram")
		case telegram.IsChatNotFound(err):
			logger.Warn("chat not found, deactivating")

			if err := b.store.Deactivate(ctx, chat.ID); err != nil {
				logger.WithError(err).Error("chat deactivate failed")
				continue
			}

			metrics.ChatsDeactivated.With(metrics.StageLabelMailbot).Inc()
		default:
			metrics.SendErrors.With(metrics.StageLabelMailbot).Inc()
			logger.WithError(err).Error("error sending image")
		}
	}
}

// saveAttachment writes the attachment into the pictures directory as <uid>_<filename>.
func (b *Bot) saveAttachment(uid uint32, att mailbox.Attachment) (string, error) {
	// nolint:gomnd // file permissions are clearer in this form.
	if err := os.MkdirAll(b.opts.PicturesDir, 0o750); err != nil {
		return "", err
	}

	path := filepath.Join(b.opts.PicturesDir, strconv.FormatUint(uint64(uid), 10)+"_"+filepath.Base(att.Filename))

	// nolint:gomnd // file permissions are clearer in this form.
	if err := os.WriteFile(path, att.Data, 0o640); err != nil {
		return "", err
	}

	return path, nil
}

// HandleIncoming handles a message sent to the bot.
func (b *Bot) HandleIncoming(ctx context.Context, in telegram.Incoming) {
	logger := b.logger.WithFields(logrus.Fields{"username": in.Username, "chatID": in.ChatID})

	switch {
	case in.IsCommand("start"):
		b.reply(ctx, in, b.start(ctx, in, logger))
	case in.IsCommand("stop"):
		b.reply(ctx, in, b.stop(ctx, in, logger))
	default:
		logger.WithField("text", in.Text).Info("received message")
	}
}

func (b *Bot) start(ctx context.Context, in telegram.Incoming, logger *logrus.Entry) string {
	if in.Username == "" {
		logger.Warn("user without username attempted to start bot")
		return replyNeedUsername
	}

	if !b.allowed[in.Username] {
		logger.Warn("unauthorized subscription attempt")
		return replyNoPermission
	}

	reconnected, err := b.store.Subscribe(ctx, in.ChatID, in.Username)
	if err != nil {
		logger.WithError(err).Error("subscribe failed")
		return replyError
	}

	logger.WithField("reconnected", reconnected).Info("user subscribed to notifications")

	if reconnected {
		return replyReconnected
	}

	return replySubscribed
}

func (b *Bot) stop(ctx context.Context, in telegram.Incoming, logger *logrus.Entry) string {
	if in.Username == "" || !b.allowed[in.Username] {
		logger.Warn("unauthorized unsubscribe attempt")
		return replyNoPermission
	}

	if err := b.store.UpsertChat(ctx, Chat{ID: in.ChatID, Username: in.Username, Active: false}); err != nil {
		logger.WithError(err).Error("unsubscribe failed")
		return replyError
	}

	logger.Info("user unsubscribed from notifications")

	return replyUnsubscribed
}

func (b *Bot) reply(ctx context.Context, in telegram.Incoming, text string) {
	if err := b.messenger.Reply(ctx, in.ChatID, in.MessageID, text); err != nil {
		b.logger.WithField("chatID", in.ChatID).WithError(err).Warn("reply failed")
	}
}

// IsImage returns true when the file name has an image extension relayed to the chats.
func IsImage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))

	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}

	return false
}
