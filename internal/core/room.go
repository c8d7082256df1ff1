package core

import (
	"slices"
	"time"
)

// room is the per-room message window: ordered list plus pagination flags.
type room struct {
	ID         string
	messages   []Message
	hasMore    bool
	loading    bool
	loaded     bool
	tombstones map[string]struct{}
}

func newRoom(id string) *room {
	return &room{
		ID:         id,
		hasMore:    true,
		tombstones: make(map[string]struct{}),
	}
}

// indexOf returns the position of id, scanning from the newest entry.
func (r *room) indexOf(id string) int {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *room) deleted(id string) bool {
	_, ok := r.tombstones[id]
	return ok
}

// reconcileCandidate finds the temp entry a confirmed message replaces.
// A matching client id wins; otherwise only the newest temp entry from the same
// user with identical text is considered, and only when its time is within window.
func (r *room) reconcileCandidate(msg Message, window time.Duration) int {
	if msg.ClientID != "" {
		for i := len(r.messages) - 1; i >= 0; i-- {
			m := r.messages[i]
			if m.Temporary() && m.ClientID == msg.ClientID {
				return i
			}
		}
	}
	if msg.UserID == "" {
		return -1
	}
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if !m.Temporary() || m.UserID != msg.UserID || m.Text != msg.Text {
			continue
		}
		if withinWindow(m.Time, msg.Time, window) {
			return i
		}
		return -1
	}
	return -1
}

// pending returns the unconfirmed entries in list order.
func (r *room) pending() []Message {
	var out []Message
	for _, m := range r.messages {
		if m.Temporary() {
			out = append(out, m)
		}
	}
	return out
}

// confirmedIn reports whether page already holds the confirmed copy of temp entry p.
func confirmedIn(page []Message, p Message, window time.Duration) bool {
	for _, m := range page {
		if m.Temporary() {
			continue
		}
		if p.ClientID != "" && m.ClientID == p.ClientID {
			return true
		}
		if m.UserID == p.UserID && m.Text == p.Text && withinWindow(p.Time, m.Time, window) {
			return true
		}
	}
	return false
}

func confirmed(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Temporary() {
			out = append(out, m)
		}
	}
	return out
}

// oldestConfirmed returns the id of the earliest server-confirmed message.
func (r *room) oldestConfirmed() (string, bool) {
	for _, m := range r.messages {
		if !m.Temporary() {
			return m.ID, true
		}
	}
	return "", false
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	// A missing timestamp on either side cannot rule the match out.
	if a.IsZero() || b.IsZero() {
		return true
	}
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// sortByTime orders messages by time, keeping insertion order for ties.
func sortByTime(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return a.Time.Compare(b.Time)
	})
}
