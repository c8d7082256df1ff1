package core

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText               MessageType = "text"
	MessageTypeSystemNotification MessageType = "system_notification"
)

// TemporaryPrefix marks ids generated locally before the server confirms a message.
const TemporaryPrefix = "temp_"

// Message is the domain model for a chat message held by the client.
type Message struct {
	ID              string
	ClientID        string // idempotency key echoed back by the server, if any
	RoomID          string
	UserID          string
	UserName        string
	Text            string
	Time            time.Time
	Type            MessageType
	QuotedMessageID string // reference only, may dangle
	IsOwn           bool
	Edited          bool
}

// Temporary reports whether the message is still awaiting server confirmation.
func (m Message) Temporary() bool {
	return IsTemporaryID(m.ID)
}

// IsTemporaryID reports whether id was generated by NewTemporaryID.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryPrefix)
}

// NewTemporaryID returns an id of the form temp_<unixMillis>_<random>.
func NewTemporaryID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return TemporaryPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + random
}

// NewClientID returns a fresh idempotency key for an outgoing message.
func NewClientID() string {
	return uuid.NewString()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
}

// ParseTime parses the ISO-ish timestamps servers put on messages.
// Bare integers are treated as unix milliseconds. Unparseable input yields the zero time.
func ParseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// FormatTime renders t the way messages carry it on the wire.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Page is one slice of room history as returned by the server, oldest first.
type Page struct {
	Messages []Message
	HasMore  bool
}
