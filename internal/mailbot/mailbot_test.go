package mailbot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/metal-toolbox/toolshed/internal/mailbox"
	"github.com/metal-toolbox/toolshed/internal/telegram"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeMail struct {
	mu       sync.Mutex
	messages []mailbox.Message
	err      error
	since    []time.Time
}

func (f *fakeMail) FetchSince(_ context.Context, since time.Time) ([]mailbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.since = append(f.since, since)

	return f.messages, f.err
}

func (f *fakeMail) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.since)
}

type sentPhoto struct {
	chatID  int64
	name    string
	caption string
}

type reply struct {
	chatID    int64
	messageID int
	text      string
}

// nolint:govet // fieldalignment, pointless in tests
type fakeMessenger struct {
	mu       sync.Mutex
	sendErrs map[int64]error
	photos   []sentPhoto
	replies  []reply
	// streams are returned by successive Updates calls, the last one is reused.
	streams  []chan telegram.Incoming
	streamNo int
}

func (f *fakeMessenger) SendPhoto(_ context.Context, chatID int64, name string, _ []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.sendErrs[chatID]; err != nil {
		return err
	}

	f.photos = append(f.photos, sentPhoto{chatID, name, caption})

	return nil
}

func (f *fakeMessenger) Reply(_ context.Context, chatID int64, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.replies = append(f.replies, reply{chatID, messageID, text})

	return nil
}

func (f *fakeMessenger) Updates(ctx context.Context) <-chan telegram.Incoming {
	f.mu.Lock()
	src := f.streams[min(f.streamNo, len(f.streams)-1)]
	f.streamNo++
	f.mu.Unlock()

	out := make(chan telegram.Incoming)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case in, ok := <-src:
				if !ok {
					return
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

func newTestBot(t *testing.T, mail MailFetcher, messenger Messenger) (*Bot, *Store) {
	t.Helper()

	s := newTestStore(t)

	b := New(s, mail, messenger, Options{
		ToAddress:    "reports@example.com",
		AllowedUsers: []string{"@alice", " @bob"},
		PicturesDir:  filepath.Join(t.TempDir(), "Pictures"),
		PollInterval: time.Hour,
		RestartDelay: 10 * time.Millisecond,
	}, logrus.New())

	b.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	return b, s
}

func TestIsImage(t *testing.T) {
	for name, want := range map[string]bool{
		"photo.PNG":  true,
		"a.jpg":      true,
		"b.JPEG":     true,
		"c.gif":      true,
		"report.pdf": false,
		"png":        false,
		"":           false,
	} {
		assert.Equal(t, want, IsImage(name), name)
	}
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	sent := time.Date(2024, 5, 1, 11, 30, 15, 0, time.UTC)

	mail := &fakeMail{messages: []mailbox.Message{
		{
			UID: 7, Key: "1:7", Subject: "photos", Date: sent, To: []string{"Reports@example.com"},
			Attachments: []mailbox.Attachment{
				{Filename: "a.png", Data: []byte("png")},
				{Filename: "notes.txt", Data: []byte("txt")},
				{Filename: "../b.JPG", Data: []byte("jpg")},
			},
		},
		{UID: 8, Key: "1:8", Subject: "no images", To: []string{"reports@example.com"}},
		{UID: 9, Key: "1:9", Subject: "elsewhere", To: []string{"someone@example.com"},
			Attachments: []mailbox.Attachment{{Filename: "c.png"}}},
	}}

	messenger := &fakeMessenger{sendErrs: map[int64]error{
		2: &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"},
		3: errors.New("network down"),
	}}

	b, s := newTestBot(t, mail, messenger)

	require.NoError(t, s.UpsertChat(ctx, Chat{ID: 1, Username: "@alice", Active: true}))
	require.NoError(t, s.UpsertChat(ctx, Chat{ID: 2, Username: "@bob", Active: true}))
	require.NoError(t, s.UpsertChat(ctx, Chat{ID: 3, Username: "@bob2", Active: true}))

	require.NoError(t, b.Poll(ctx))

	assert.Equal(t, []time.Time{b.now().Add(-time.Hour)}, mail.since)

	// @bob2 is pruned before the mail is checked, @bob is deactivated on chat not found
	caption := "Изображение отправлено: 2024-05-01 11:30:15"
	assert.Equal(t, []sentPhoto{{1, "a.png", caption}, {1, "../b.JPG", caption}}, messenger.photos)

	chats, err := s.ActiveChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Chat{{ID: 1, Username: "@alice", Active: true}}, chats)

	for key, want := range map[string]bool{"1:7": true, "1:8": true, "1:9": false} {
		done, err := s.IsProcessed(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, done, key)
	}

	_, err = os.Stat(filepath.Join(b.opts.PicturesDir, "7_a.png"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(b.opts.PicturesDir, "7_b.JPG"))
	assert.NoError(t, err)

	// processed messages are not relayed again
	messenger.photos = nil

	require.NoError(t, b.Poll(ctx))
	assert.Empty(t, messenger.photos)
}

func TestPollFetchError(t *testing.T) {
	mail := &fakeMail{err: mailbox.ErrConnect}
	b, _ := newTestBot(t, mail, &fakeMessenger{})

	assert.ErrorIs(t, b.Poll(context.Background()), mailbox.ErrConnect)
}

func TestHandleIncoming(t *testing.T) {
	ctx := context.Background()

	// nolint:govet // struct field ordering is fine as is for tests
	tests := []struct {
		name       string
		in         telegram.Incoming
		seed       *Chat
		wantReply  string
		wantActive []Chat
	}{
		{
			"start without username",
			telegram.Incoming{ChatID: 10, MessageID: 1, Text: "/start"},
			nil,
			replyNeedUsername,
			[]Chat{},
		},
		{
			"start not allowed",
			telegram.Incoming{ChatID: 10, MessageID: 1, Username: "@mallory", Text: "/start"},
			nil,
			replyNoPermission,
			[]Chat{},
		},
		{
			"start subscribes",
			telegram.Incoming{ChatID: 10, MessageID: 1, Username: "@alice", Text: "/start"},
			nil,
			replySubscribed,
			[]Chat{{ID: 10, Username: "@alice", Active: true}},
		},
		{
			"start reconnects",
			telegram.Incoming{ChatID: 11, MessageID: 1, Username: "@alice", Text: "/start"},
			&Chat{ID: 10, Username: "@alice"},
			replyReconnected,
			[]Chat{{ID: 11, Username: "@alice", Active: true}},
		},
		{
			"stop unsubscribes",
			telegram.Incoming{ChatID: 10, MessageID: 1, Username: "@bob", Text: "/stop"},
			&Chat{ID: 10, Username: "@bob", Active: true},
			replyUnsubscribed,
			[]Chat{},
		},
		{
			"stop not allowed",
			telegram.Incoming{ChatID: 10, MessageID: 1, Username: "@mallory", Text: "/stop"},
			&Chat{ID: 10, Username: "@mallory", Active: true},
			replyNoPermission,
			[]Chat{{ID: 10, Username: "@mallory", Active: true}},
		},
		{
			"other text is not replied to",
			telegram.Incoming{ChatID: 10, MessageID: 1, Username: "@alice", Text: "hello"},
			nil,
			"",
			[]Chat{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messenger := &fakeMessenger{}
			b, s := newTestBot(t, &fakeMail{}, messenger)

			if tt.seed != nil {
				require.NoError(t, s.UpsertChat(ctx, *tt.seed))
			}

			b.HandleIncoming(ctx, tt.in)

			if tt.wantReply == "" {
				assert.Empty(t, messenger.replies)
			} else {
				assert.Equal(t, []reply{{tt.in.ChatID, tt.in.MessageID, tt.wantReply}}, messenger.replies)
			}

			chats, err := s.ActiveChats(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantActive, chats)
		})
	}
}

func TestRunRestartsOnClosedUpdates(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	closed := make(chan telegram.Incoming)
	close(closed)

	live := make(chan telegram.Incoming, 1)
	live <- telegram.Incoming{ChatID: 10, MessageID: 5, Username: "@alice", Text: "/start"}

	mail := &fakeMail{}
	messenger := &fakeMessenger{streams: []chan telegram.Incoming{closed, live}}

	b, _ := newTestBot(t, mail, messenger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- b.Run(ctx)
	}()

	// the first loop exits with the closed update stream, the restarted loop polls again
	require.Eventually(t, func() bool {
		messenger.mu.Lock()
		defer messenger.mu.Unlock()

		return mail.calls() >= 2 && len(messenger.replies) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, replySubscribed, messenger.replies[0].text)
}
