package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/store"
)

// Schema creates the message and tombstone tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id    TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	client_id  TEXT    NOT NULL DEFAULT '',
	user_id    TEXT    NOT NULL DEFAULT '',
	user_name  TEXT    NOT NULL DEFAULT '',
	body       TEXT    NOT NULL,
	type       TEXT    NOT NULL DEFAULT 'text',
	quoted_id  TEXT    NOT NULL DEFAULT '',
	edited     BOOLEAN NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE (room_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages(room_id, created_at, seq);

CREATE TABLE IF NOT EXISTS tombstones (
	room_id    TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	deleted_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, id)
);
`

// Migrate applies Schema to db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const messageColumns = `id, room_id, client_id, user_id, user_name, body, type, quoted_id, edited, created_at`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema or seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

// SaveMessage persists msg, assigning ID and Time when unset.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *core.Message) error {
	if msg.RoomID == "" {
		return core.ErrRoomRequired
	}
	if msg.ID == "" {
		msg.ID = core.NewClientID()
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = core.MessageTypeText
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, messageArgs(*msg)...); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns one message or store.ErrNotFound.
func (s *SQLiteStore) GetMessage(ctx context.Context, roomID, messageID string) (core.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = ? AND id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, roomID, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Message{}, store.ErrNotFound
	}
	if err != nil {
		return core.Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListMessages retrieves messages from a room with pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int, beforeID string) ([]core.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	var query string
	var args []any
	if beforeID != "" {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE room_id = ?
			  AND (created_at, seq) < (SELECT created_at, seq FROM messages WHERE room_id = ? AND id = ?)
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		`
		args = []any{roomID, roomID, beforeID, limit + 1}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE room_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		`
		args = []any{roomID, limit + 1}
	}

	messages, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	slices.Reverse(messages)
	return messages, hasMore, nil
}

// UpdateMessage replaces the text of a message and marks it edited.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, roomID, messageID, text string) (core.Message, error) {
	query := `UPDATE messages SET body = ?, edited = 1 WHERE room_id = ? AND id = ?`
	result, err := s.db.ExecContext(ctx, query, text, roomID, messageID)
	if err != nil {
		return core.Message{}, fmt.Errorf("update message: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return core.Message{}, store.ErrNotFound
	}
	return s.GetMessage(ctx, roomID, messageID)
}

// DeleteMessage removes a message and records a tombstone for it.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, roomID, messageID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ? AND id = ?`, roomID, messageID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO tombstones (room_id, id, deleted_at)
		VALUES (?, ?, ?)
	`, roomID, messageID, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert tombstone: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// ==== Cache implementation ====

// UpsertMessages inserts or refreshes confirmed messages, skipping temporary and tombstoned ones.
func (s *SQLiteStore) UpsertMessages(ctx context.Context, roomID string, msgs []core.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	deleted, err := s.Tombstones(ctx, roomID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id, id) DO UPDATE SET
			client_id = excluded.client_id,
			user_name = excluded.user_name,
			body      = excluded.body,
			type      = excluded.type,
			edited    = excluded.edited OR messages.edited
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.ID == "" || m.Temporary() || slices.Contains(deleted, m.ID) {
			continue
		}
		m.RoomID = roomID
		if m.Type == "" {
			m.Type = core.MessageTypeText
		}
		if _, err := stmt.ExecContext(ctx, messageArgs(m)...); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecentMessages returns the newest limit messages of a room, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]core.Message, error) {
	msgs, _, err := s.ListMessages(ctx, roomID, limit, "")
	return msgs, err
}

// Tombstones lists ids deleted in a room.
func (s *SQLiteStore) Tombstones(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tombstones WHERE room_id = ? ORDER BY deleted_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tombstones: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (core.Message, error) {
	var (
		msg     core.Message
		typ     string
		created int64
	)
	err := row.Scan(&msg.ID, &msg.RoomID, &msg.ClientID, &msg.UserID, &msg.UserName,
		&msg.Text, &typ, &msg.QuotedMessageID, &msg.Edited, &created)
	if err != nil {
		return core.Message{}, err
	}
	msg.Type = core.MessageType(typ)
	msg.Time = time.UnixMilli(created).UTC()
	return msg, nil
}

func messageArgs(m core.Message) []any {
	return []any{
		m.ID, m.RoomID, m.ClientID, m.UserID, m.UserName,
		m.Text, string(m.Type), m.QuotedMessageID, m.Edited, m.Time.UnixMilli(),
	}
}
