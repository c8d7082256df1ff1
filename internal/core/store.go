package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultReconcileWindow bounds the time skew between a temp message and its confirmation.
const DefaultReconcileWindow = 10 * time.Second

// AppendResult describes what Append did with a message.
type AppendResult int

const (
	// AppendIgnored means the message was invalid or previously deleted.
	AppendIgnored AppendResult = iota
	// AppendDuplicate means an entry with the same id already exists.
	AppendDuplicate
	// AppendInserted means the message was added at the end of the list.
	AppendInserted
	// AppendReconciled means the message replaced a temp entry in place.
	AppendReconciled
)

func (r AppendResult) String() string {
	switch r {
	case AppendDuplicate:
		return "duplicate"
	case AppendInserted:
		return "inserted"
	case AppendReconciled:
		return "reconciled"
	default:
		return "ignored"
	}
}

// ChangeKind is the kind of mutation reported to observers.
type ChangeKind int

const (
	ChangeInserted ChangeKind = iota
	ChangeReconciled
	ChangeUpdated
	ChangeRemoved
	ChangeReplaced
	ChangeMerged
)

// Change describes a committed mutation of a room list.
type Change struct {
	Kind       ChangeKind
	RoomID     string
	Message    Message   // single-message changes
	Messages   []Message // ChangeReplaced and ChangeMerged: the server page that was applied
	ReplacedID string    // ChangeReconciled: the temp id that was replaced
}

// Options configures a Store.
type Options struct {
	CurrentUserID   string
	ReconcileWindow time.Duration
	Logger          *zerolog.Logger
}

// Store is the single source of truth for every room's message list.
// All writes go through Append, Update, Remove and the history hooks.
type Store struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	userID    string
	window    time.Duration
	observers []func(Change)
	log       *zerolog.Logger
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	window := opts.ReconcileWindow
	if window <= 0 {
		window = DefaultReconcileWindow
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		rooms:  make(map[string]*room),
		userID: opts.CurrentUserID,
		window: window,
		log:    logger,
	}
}

// SetCurrentUser changes the user used to derive IsOwn for later inserts.
func (s *Store) SetCurrentUser(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// CurrentUser returns the user id IsOwn is derived from.
func (s *Store) CurrentUser() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Observe registers fn to be called after every committed mutation.
// Callbacks run outside the store lock, in mutation order per goroutine.
func (s *Store) Observe(fn func(Change)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Append inserts msg into its room, de-duplicating and reconciling temp entries.
func (s *Store) Append(roomID string, msg Message) AppendResult {
	if roomID == "" || msg.ID == "" {
		return AppendIgnored
	}
	msg.RoomID = roomID

	s.mu.Lock()
	r := s.room(roomID)
	msg.IsOwn = s.userID != "" && msg.UserID == s.userID

	if r.indexOf(msg.ID) >= 0 {
		s.mu.Unlock()
		return AppendDuplicate
	}
	if r.deleted(msg.ID) {
		s.mu.Unlock()
		s.log.Debug().Str("room_id", roomID).Str("message_id", msg.ID).Msg("dropping deleted message")
		return AppendIgnored
	}

	if !msg.Temporary() {
		if idx := r.reconcileCandidate(msg, s.window); idx >= 0 {
			replaced := r.messages[idx].ID
			r.messages[idx] = msg
			s.mu.Unlock()
			s.log.Debug().Str("room_id", roomID).Str("message_id", msg.ID).Str("temp_id", replaced).Msg("reconciled temp message")
			s.notify(Change{Kind: ChangeReconciled, RoomID: roomID, Message: msg, ReplacedID: replaced})
			return AppendReconciled
		}
	}

	r.messages = append(r.messages, msg)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeInserted, RoomID: roomID, Message: msg})
	return AppendInserted
}

// Update replaces the text of a message. Unknown ids are ignored.
func (s *Store) Update(roomID, messageID, text string) bool {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	idx := r.indexOf(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	r.messages[idx].Text = text
	r.messages[idx].Edited = true
	updated := r.messages[idx]
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUpdated, RoomID: roomID, Message: updated})
	return true
}

// Remove deletes a message and remembers its id so it is never resurrected.
func (s *Store) Remove(roomID, messageID string) bool {
	if roomID == "" || messageID == "" {
		return false
	}
	s.mu.Lock()
	r := s.room(roomID)
	r.tombstones[messageID] = struct{}{}
	idx := r.indexOf(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	removed := r.messages[idx]
	r.messages = append(r.messages[:idx], r.messages[idx+1:]...)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRemoved, RoomID: roomID, Message: removed})
	return true
}

// Messages returns a copy of the room's ordered list.
func (s *Store) Messages(roomID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Message looks up a single message by id.
func (s *Store) Message(roomID, messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return Message{}, false
	}
	idx := r.indexOf(messageID)
	if idx < 0 {
		return Message{}, false
	}
	return r.messages[idx], true
}

// Len returns the number of messages held for a room.
func (s *Store) Len(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[roomID]; ok {
		return len(r.messages)
	}
	return 0
}

// HasMore reports whether older history may exist. Unknown rooms report true.
func (s *Store) HasMore(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.hasMore
	}
	return true
}

// IsLoadingMore reports whether a backward fetch is in flight for the room.
func (s *Store) IsLoadingMore(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.loading
	}
	return false
}

// IsLoaded reports whether the latest page has been fetched for the room.
func (s *Store) IsLoaded(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.loaded
	}
	return false
}

// Invalidate clears the loaded marker so the next initial load hits the network.
func (s *Store) Invalidate(roomID string) {
	s.mu.Lock()
	if r, ok := s.rooms[roomID]; ok {
		r.loaded = false
	}
	s.mu.Unlock()
}

// OldestConfirmedID returns the pagination cursor for the next backward fetch.
func (s *Store) OldestConfirmedID(roomID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.oldestConfirmed()
	}
	return "", false
}

// RestoreTombstones marks ids as deleted without touching the list.
func (s *Store) RestoreTombstones(roomID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	r := s.room(roomID)
	for _, id := range ids {
		r.tombstones[id] = struct{}{}
	}
	s.mu.Unlock()
}

// Seed fills a room that has neither been loaded nor received messages yet.
// It returns false when the room already has content.
func (s *Store) Seed(roomID string, msgs []Message) bool {
	s.mu.Lock()
	r := s.room(roomID)
	if r.loaded || len(r.messages) > 0 {
		s.mu.Unlock()
		return false
	}
	r.messages = s.filterPage(r, roomID, msgs, nil)
	sortByTime(r.messages)
	s.mu.Unlock()
	return true
}

// ReplaceAll swaps the room's list for a freshly fetched latest page.
// Confirmed entries newer than the page's newest message arrived live while
// the page was in flight and are kept. Unconfirmed temp entries survive at the
// tail so pending sends are not lost.
func (s *Store) ReplaceAll(roomID string, page []Message, hasMore bool) {
	s.mu.Lock()
	r := s.room(roomID)
	next := s.filterPage(r, roomID, page, nil)
	sortByTime(next)
	if n := len(next); n > 0 {
		newest := next[n-1].Time
		inPage := make(map[string]struct{}, n)
		for _, m := range next {
			inPage[m.ID] = struct{}{}
		}
		for _, m := range r.messages {
			if m.Temporary() || !m.Time.After(newest) || r.deleted(m.ID) {
				continue
			}
			if _, dup := inPage[m.ID]; dup {
				continue
			}
			next = append(next, m)
		}
		sortByTime(next)
	}
	for _, p := range r.pending() {
		if !confirmedIn(next, p, s.window) {
			next = append(next, p)
		}
	}
	r.messages = next
	r.hasMore = hasMore
	r.loaded = true
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReplaced, RoomID: roomID, Messages: confirmed(next)})
}

// BeginLoadOlder claims the room's single backward-fetch slot.
// It fails when no older history exists or a fetch is already in flight.
func (s *Store) BeginLoadOlder(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	if !r.hasMore || r.loading {
		return false
	}
	r.loading = true
	return true
}

// AbortLoadOlder releases the backward-fetch slot without touching the list.
func (s *Store) AbortLoadOlder(roomID string) {
	s.mu.Lock()
	if r, ok := s.rooms[roomID]; ok {
		r.loading = false
	}
	s.mu.Unlock()
}

// MergeOlder folds an older page into the room and releases the fetch slot.
// Entries already present win over the page copy so edits are not regressed.
// It returns the number of messages added.
func (s *Store) MergeOlder(roomID string, page []Message, hasMore bool) int {
	s.mu.Lock()
	r := s.room(roomID)
	present := make(map[string]struct{}, len(r.messages))
	for _, m := range r.messages {
		present[m.ID] = struct{}{}
	}
	added := s.filterPage(r, roomID, page, present)

	merged := make([]Message, 0, len(added)+len(r.messages))
	merged = append(merged, added...)
	merged = append(merged, r.messages...)
	sortByTime(merged)
	r.messages = merged
	// hasMore only ever moves to false here.
	r.hasMore = r.hasMore && hasMore
	r.loading = false
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMerged, RoomID: roomID, Messages: added})
	return len(added)
}

// filterPage drops tombstoned, already present, id-less and in-page duplicate entries.
func (s *Store) filterPage(r *room, roomID string, page []Message, present map[string]struct{}) []Message {
	out := make([]Message, 0, len(page))
	seen := make(map[string]struct{}, len(page))
	for _, m := range page {
		if m.ID == "" || r.deleted(m.ID) {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if _, dup := present[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		m.RoomID = roomID
		m.IsOwn = s.userID != "" && m.UserID == s.userID
		out = append(out, m)
	}
	return out
}

// room returns the window for id, creating it. Caller holds s.mu.
func (s *Store) room(id string) *room {
	r, ok := s.rooms[id]
	if !ok {
		r = newRoom(id)
		s.rooms[id] = r
	}
	return r
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
}
