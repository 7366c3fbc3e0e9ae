package telegram

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// updatesTimeout is the long poll timeout in seconds.
	updatesTimeout = 60

	// requests are long polled, the client timeout has to exceed updatesTimeout.
	clientTimeout = 90 * time.Second

	updatesBuffer = 100
)

var (
	ErrBotInit        = errors.New("telegram bot initialization error")
	ErrUpdatesStopped = errors.New("telegram update stream already stopped")
)

// Incoming is a text message sent to the bot.
type Incoming struct {
	ChatID    int64
	MessageID int
	// Username is the sender @username, empty when the sender has none.
	Username string
	Text     string
}

// IsCommand returns true when the message is the given /command, with or without a @botname suffix.
func (i *Incoming) IsCommand(command string) bool {
	fields := strings.Fields(i.Text)
	if len(fields) == 0 {
		return false
	}

	name, _, _ := strings.Cut(fields[0], "@")

	return name == "/"+command
}

// API defines the telegram bot API methods used,
// this is mainly to swap the tgbotapi instance for tests
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Dialer returns a new API instance.
type Dialer func() (API, error)

// Bot sends to and receives messages from telegram chats.
type Bot struct {
	mu  sync.Mutex
	api API
	// stopped is set once StopReceivingUpdates was called on api, an API instance
	// cannot receive updates again after it was stopped.
	stopped bool
	dial    Dialer
	logger  *logrus.Entry
}

// New returns a Bot authenticated with the token.
func New(token string, logger *logrus.Logger) (*Bot, error) {
	dial := func() (API, error) {
		return dialBotAPI(token, logger)
	}

	return NewWithDialer(dial, logger)
}

func dialBotAPI(token string, logger *logrus.Logger) (API, error) {
	// init retryable http client
	retryableClient := retryablehttp.NewClient()

	// set retryable HTTP client to be the otel http client to collect telemetry
	retryableClient.HTTPClient = otelhttp.DefaultClient

	// request URLs include the bot token, the retryable client logger is disabled to keep it out of the logs.
	retryableClient.Logger = nil

	client := retryableClient.StandardClient()
	client.Timeout = clientTimeout

	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, errors.Wrap(ErrBotInit, err.Error())
	}

	logger.WithFields(logrus.Fields{"component": "telegram", "bot": api.Self.UserName}).Info("authorized")

	return api, nil
}

// NewWithDialer returns a Bot using the API returned by dial,
// dial is called again when updates are requested after a previous update stream was stopped.
func NewWithDialer(dial Dialer, logger *logrus.Logger) (*Bot, error) {
	api, err := dial()
	if err != nil {
		return nil, err
	}

	bot := NewWithAPI(api, logger)
	bot.dial = dial

	return bot, nil
}

// NewWithAPI returns a Bot using the given API.
func NewWithAPI(api API, logger *logrus.Logger) *Bot {
	return &Bot{
		api:    api,
		logger: logger.WithField("component", "telegram"),
	}
}

func (b *Bot) currentAPI() API {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.api
}

// updatesAPI returns the API to receive updates with, a new one is dialed when the current one was stopped.
func (b *Bot) updatesAPI() (API, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.stopped {
		return b.api, nil
	}

	if b.dial == nil {
		return nil, ErrUpdatesStopped
	}

	api, err := b.dial()
	if err != nil {
		return nil, err
	}

	b.api = api
	b.stopped = false

	return api, nil
}

// stopUpdates stops the update stream of api unless that was done already.
func (b *Bot) stopUpdates(api API) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.api != api || b.stopped {
		return
	}

	b.stopped = true
	api.StopReceivingUpdates()
}

// SendPhoto sends an image to the chat.
func (b *Bot) SendPhoto(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	photo.Caption = caption

	if _, err := b.currentAPI().Send(photo); err != nil {
		return errors.Wrap(err, "send photo")
	}

	return nil
}

// Reply sends a text message to the chat in reply to the message.
func (b *Bot) Reply(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = messageID

	if _, err := b.currentAPI().Send(msg); err != nil {
		return errors.Wrap(err, "send reply")
	}

	return nil
}

// Updates returns the text messages sent to the bot.
//
// The returned channel is closed once ctx is canceled or the underlying update stream ends.
// Each call after a stream was stopped receives on a newly dialed API.
func (b *Bot) Updates(ctx context.Context) <-chan Incoming {
	out := make(chan Incoming, updatesBuffer)

	api, err := b.updatesAPI()
	if err != nil {
		b.logger.WithError(err).Error("update stream unavailable")
		close(out)

		return out
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = updatesTimeout

	updates := api.GetUpdatesChan(u)

	go func() {
		defer close(out)
		defer b.stopUpdates(api)

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					b.logger.Warn("update stream closed")
					return
				}

				if update.Message == nil || update.Message.Chat == nil {
					continue
				}

				in := Incoming{
					ChatID:    update.Message.Chat.ID,
					MessageID: update.Message.MessageID,
					Text:      update.Message.Text,
				}

				if update.Message.From != nil && update.Message.From.UserName != "" {
					in.Username = "@" + update.Message.From.UserName
				}

				select {
				case out <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// IsChatNotFound returns true when the error is the API response for a chat the bot can no longer reach.
func IsChatNotFound(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "chat not found")
}
