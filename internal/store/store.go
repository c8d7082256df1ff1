package store

import (
	"context"
	"errors"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("not found")

// Cache persists what the client has already seen so a restarted session can
// render a room before the network answers, and so deletions stay deleted.
type Cache interface {
	// UpsertMessages inserts or refreshes confirmed messages. Temporary entries are skipped.
	UpsertMessages(ctx context.Context, roomID string, msgs []core.Message) error

	// DeleteMessage removes a message and records a tombstone for it.
	// It reports whether a row existed.
	DeleteMessage(ctx context.Context, roomID, messageID string) (bool, error)

	// RecentMessages returns the newest limit messages of a room, oldest first.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]core.Message, error)

	// Tombstones lists ids deleted in a room.
	Tombstones(ctx context.Context, roomID string) ([]string, error)
}

// MessageStore is the authoritative message log of the development server.
type MessageStore interface {
	// SaveMessage persists msg, assigning ID and Time when unset.
	SaveMessage(ctx context.Context, msg *core.Message) error

	// GetMessage returns one message or ErrNotFound.
	GetMessage(ctx context.Context, roomID, messageID string) (core.Message, error)

	// ListMessages retrieves messages from a room with pagination.
	// If beforeID is set, returns messages older than that message.
	// The result is oldest first; hasMore reports whether older messages remain.
	ListMessages(ctx context.Context, roomID string, limit int, beforeID string) (msgs []core.Message, hasMore bool, err error)

	// UpdateMessage replaces the text of a message and marks it edited.
	UpdateMessage(ctx context.Context, roomID, messageID, text string) (core.Message, error)

	// DeleteMessage removes a message and records a tombstone for it.
	DeleteMessage(ctx context.Context, roomID, messageID string) (bool, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	Cache
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
