package mailbot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "db", "mail_bot.db"))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestStoreProcessed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	done, err := s.IsProcessed(ctx, "42:7")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.MarkProcessed(ctx, "42:7"))
	require.NoError(t, s.MarkProcessed(ctx, "42:7"), "marking twice is not an error")

	done, err = s.IsProcessed(ctx, "42:7")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.IsProcessed(ctx, "43:7")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	reconnected, err := s.Subscribe(ctx, 100, "@alice")
	require.NoError(t, err)
	assert.False(t, reconnected)

	require.NoError(t, s.Deactivate(ctx, 100))

	chat, err := s.ChatByUsername(ctx, "@alice")
	require.NoError(t, err)
	assert.Equal(t, &Chat{ID: 100, Username: "@alice", Active: false}, chat)

	// alice starts the bot from a new chat
	reconnected, err = s.Subscribe(ctx, 200, "@alice")
	require.NoError(t, err)
	assert.True(t, reconnected)

	chats, err := s.ActiveChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Chat{{ID: 200, Username: "@alice", Active: true}}, chats)

	// bob takes over the chat alice used to have
	require.NoError(t, s.UpsertChat(ctx, Chat{ID: 300, Username: "@bob", Active: true}))

	reconnected, err = s.Subscribe(ctx, 300, "@alice")
	require.NoError(t, err)
	assert.True(t, reconnected)

	chats, err = s.ActiveChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Chat{{ID: 300, Username: "@alice", Active: true}}, chats)

	_, err = s.ChatByUsername(ctx, "@bob")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestStorePruneUnauthorized(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertChat(ctx, Chat{ID: 1, Username: "@alice", Active: true}))
	require.NoError(t, s.UpsertChat(ctx, Chat{ID: 2, Username: "@bob", Active: true}))
	require.NoError(t, s.UpsertChat(ctx, Chat{ID: 3, Active: false}))

	removed, err := s.PruneUnauthorized(ctx, map[string]bool{"@alice": true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"@bob", ""}, removed)

	chats, err := s.ActiveChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Chat{{ID: 1, Username: "@alice", Active: true}}, chats)
}
