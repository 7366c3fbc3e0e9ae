package mailbot

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	// pure Go sqlite driver registered as "sqlite"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_emails (
	email_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS authorized_chats (
	chat_id   INTEGER PRIMARY KEY,
	username  TEXT,
	is_active INTEGER DEFAULT 0
);
`

var (
	ErrStore        = errors.New("mailbot store error")
	ErrChatNotFound = errors.New("chat not found in store")
)

// Chat is a telegram chat subscribed to the relayed images.
type Chat struct {
	ID       int64
	Username string
	Active   bool
}

// Store persists the processed messages and the subscribed chats in sqlite.
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

	// a single connection serializes writers, sqlite allows one at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(ErrStore, "schema: "+err.Error())
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsProcessed returns true when the message key was marked processed.
func (s *Store) IsProcessed(ctx context.Context, key string) (bool, error) {
	var n int

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM processed_emails WHERE email_id = ?", key).Scan(&n)
	if err != nil {
		return false, errors.Wrap(ErrStore, err.Error())
	}

	return n > 0, nil
}

// MarkProcessed records the message key, marking a key twice is not an error.
func (s *Store) MarkProcessed(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO processed_emails (email_id) VALUES (?)", key); err != nil {
		return errors.Wrap(ErrStore, err.Error())
	}

	return nil
}

// ActiveChats returns the chats subscribed to the images.
func (s *Store) ActiveChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT chat_id, COALESCE(username, '') FROM authorized_chats WHERE is_active = 1 ORDER BY chat_id",
	)
	if err != nil {
		return nil, errors.Wrap(ErrStore, err.Error())
	}

	defer rows.Close()

	chats := []Chat{}

	for rows.Next() {
		c := Chat{Active: true}
		if err := rows.Scan(&c.ID, &c.Username); err != nil {
			return nil, errors.Wrap(ErrStore, err.Error())
		}

		chats = append(chats, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(ErrStore, err.Error())
	}

	return chats, nil
}

// UpsertChat inserts or replaces the chat.
func (s *Store) UpsertChat(ctx context.Context, chat Chat) error {
	_, err := s.db.ExecContext(
		ctx,
		"INSERT OR REPLACE INTO authorized_chats (chat_id, username, is_active) VALUES (?, ?, ?)",
		chat.ID, nullString(chat.Username), boolToInt(chat.Active),
	)
	if err != nil {
		return errors.Wrap(ErrStore, err.Error())
	}

	return nil
}

// Deactivate unsubscribes the chat, the chat username is kept.
func (s *Store) Deactivate(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE authorized_chats SET is_active = 0 WHERE chat_id = ?", chatID); err != nil {
		return errors.Wrap(ErrStore, err.Error())
	}

	return nil
}

// ChatByUsername returns the chat stored for the @username.
func (s *Store) ChatByUsername(ctx context.Context, username string) (*Chat, error) {
	c := &Chat{Username: username}

	var active int

	err := s.db.QueryRowContext(
		ctx,
		"SELECT chat_id, COALESCE(is_active, 0) FROM authorized_chats WHERE username = ? LIMIT 1",
		username,
	).Scan(&c.ID, &active)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrChatNotFound, username)
	}

	if err != nil {
		return nil, errors.Wrap(ErrStore, err.Error())
	}

	c.Active = active == 1

	return c, nil
}

// Subscribe activates the chat for the @username.
//
// When the username is already stored its chat id is updated and reconnected is true.
func (s *Store) Subscribe(ctx context.Context, chatID int64, username string) (reconnected bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(ErrStore, err.Error())
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var n int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM authorized_chats WHERE username = ?", username).Scan(&n); err != nil {
		return false, errors.Wrap(ErrStore, err.Error())
	}

	if n > 0 {
		// the chat id may be held by a row of another username.
		if _, err = tx.ExecContext(
			ctx, "DELETE FROM authorized_chats WHERE chat_id = ? AND (username IS NULL OR username != ?)", chatID, username,
		); err != nil {
			return false, errors.Wrap(ErrStore, err.Error())
		}

		if _, err = tx.ExecContext(
			ctx, "UPDATE authorized_chats SET chat_id = ?, is_active = 1 WHERE username = ?", chatID, username,
		); err != nil {
			return false, errors.Wrap(ErrStore, err.Error())
		}

		reconnected = true
	} else {
		if _, err = tx.ExecContext(
			ctx, "INSERT OR REPLACE INTO authorized_chats (chat_id, username, is_active) VALUES (?, ?, 1)", chatID, username,
		); err != nil {
			return false, errors.Wrap(ErrStore, err.Error())
		}
	}

	if err = tx.Commit(); err != nil {
		return false, errors.Wrap(ErrStore, err.Error())
	}

	return reconnected, nil
}

// PruneUnauthorized removes the chats whose username is not in allowed and returns the removed usernames.
func (s *Store) PruneUnauthorized(ctx context.Context, allowed map[string]bool) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT chat_id, COALESCE(username, '') FROM authorized_chats")
	if err != nil {
		return nil, errors.Wrap(ErrStore, err.Error())
	}

	type row struct {
		chatID   int64
		username string
	}

	remove := []row{}

	for rows.Next() {
		var r row
		if err := rows.Scan(&r.chatID, &r.username); err != nil {
			rows.Close()
			return nil, errors.Wrap(ErrStore, err.Error())
		}

		if !allowed[r.username] {
			remove = append(remove, r)
		}
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(ErrStore, err.Error())
	}

	removed := make([]string, 0, len(remove))

	for _, r := range remove {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM authorized_chats WHERE chat_id = ?", r.chatID); err != nil {
			return removed, errors.Wrap(ErrStore, err.Error())
		}

		removed = append(removed, r.username)
	}

	return removed, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
