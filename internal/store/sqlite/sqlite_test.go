package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/store"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewWithSetup(":memory:", Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *SQLiteStore, roomID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		msg := core.Message{
			ID:     fmt.Sprintf("m%d", i),
			RoomID: roomID,
			UserID: "u1",
			Text:   fmt.Sprintf("message %d", i),
			Time:   base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveMessage(context.Background(), &msg); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
}

func ids(msgs []core.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestListMessagesPaginatesBackwards(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "general", 5)
	ctx := context.Background()

	tests := []struct {
		name     string
		before   string
		limit    int
		expected []string
		hasMore  bool
	}{
		{name: "latest page", limit: 2, expected: []string{"m4", "m5"}, hasMore: true},
		{name: "before m4", before: "m4", limit: 2, expected: []string{"m2", "m3"}, hasMore: true},
		{name: "last page", before: "m2", limit: 2, expected: []string{"m1"}, hasMore: false},
		{name: "unknown cursor", before: "nope", limit: 2, expected: []string{}, hasMore: false},
		{name: "everything", limit: 10, expected: []string{"m1", "m2", "m3", "m4", "m5"}, hasMore: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, hasMore, err := s.ListMessages(ctx, "general", tt.limit, tt.before)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			got := ids(msgs)
			if fmt.Sprint(got) != fmt.Sprint(tt.expected) || hasMore != tt.hasMore {
				t.Errorf("got %v (hasMore=%v), want %v (hasMore=%v)", got, hasMore, tt.expected, tt.hasMore)
			}
		})
	}
}

func TestSaveMessageAssignsIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := core.Message{RoomID: "general", UserID: "u1", Text: "hi", ClientID: "c-1"}
	if err := s.SaveMessage(ctx, &msg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if msg.ID == "" || msg.Time.IsZero() || msg.Type != core.MessageTypeText {
		t.Fatalf("identity not assigned: %+v", msg)
	}

	got, err := s.GetMessage(ctx, "general", msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ClientID != "c-1" || got.Text != "hi" || !got.Time.Equal(msg.Time.Truncate(time.Millisecond)) {
		t.Fatalf("unexpected message: %+v", got)
	}

	if err := s.SaveMessage(ctx, &core.Message{Text: "no room"}); !errors.Is(err, core.ErrRoomRequired) {
		t.Fatalf("expected room required, got %v", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "general", 2)
	ctx := context.Background()

	updated, err := s.UpdateMessage(ctx, "general", "m1", "changed")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Text != "changed" || !updated.Edited {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if _, err := s.UpdateMessage(ctx, "general", "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	existed, err := s.DeleteMessage(ctx, "general", "m1")
	if err != nil || !existed {
		t.Fatalf("delete: %v existed=%v", err, existed)
	}
	existed, err = s.DeleteMessage(ctx, "general", "m1")
	if err != nil || existed {
		t.Fatalf("second delete should be a no-op: %v existed=%v", err, existed)
	}
	if _, err := s.GetMessage(ctx, "general", "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	tombs, err := s.Tombstones(ctx, "general")
	if err != nil {
		t.Fatalf("tombstones: %v", err)
	}
	if len(tombs) != 1 || tombs[0] != "m1" {
		t.Fatalf("unexpected tombstones: %v", tombs)
	}
}

func TestUpsertSkipsTemporaryAndTombstoned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.DeleteMessage(ctx, "general", "gone"); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	msgs := []core.Message{
		{ID: "M1", UserID: "u1", Text: "first", Time: base},
		{ID: "temp_1_abc", UserID: "u1", Text: "pending", Time: base.Add(time.Second)},
		{ID: "gone", UserID: "u2", Text: "deleted", Time: base.Add(2 * time.Second)},
		{ID: "M2", UserID: "u2", Text: "second", Time: base.Add(3 * time.Second)},
	}
	if err := s.UpsertMessages(ctx, "general", msgs); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// a refreshed copy wins for body, and the edited flag never flips back
	if err := s.UpsertMessages(ctx, "general", []core.Message{
		{ID: "M1", UserID: "u1", Text: "first (edited)", Time: base, Edited: true},
	}); err != nil {
		t.Fatalf("upsert edit: %v", err)
	}
	if err := s.UpsertMessages(ctx, "general", []core.Message{
		{ID: "M1", UserID: "u1", Text: "first (edited)", Time: base},
	}); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}

	recent, err := s.RecentMessages(ctx, "general", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if fmt.Sprint(ids(recent)) != "[M1 M2]" {
		t.Fatalf("unexpected cached ids: %v", ids(recent))
	}
	if recent[0].Text != "first (edited)" || !recent[0].Edited || recent[0].RoomID != "general" {
		t.Fatalf("unexpected cached message: %+v", recent[0])
	}
}
