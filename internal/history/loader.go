package history

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// DefaultPageSize is used when Options.PageSize is not set.
const DefaultPageSize = 50

// Source fetches one page of room history, oldest first.
// An empty before asks for the latest page.
type Source interface {
	FetchHistory(ctx context.Context, roomID string, limit int, before string) (core.Page, error)
}

// Options configures a Loader.
type Options struct {
	PageSize int
	Logger   *zerolog.Logger
}

// Loader pulls history pages from a Source into the message store.
type Loader struct {
	store    *core.Store
	source   Source
	pageSize int
	log      *zerolog.Logger
	initial  singleflight.Group
}

// NewLoader builds a loader over store and source.
func NewLoader(store *core.Store, source Source, opts Options) *Loader {
	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Loader{
		store:    store,
		source:   source,
		pageSize: size,
		log:      logger,
	}
}

// LoadInitial fetches the latest page of roomID and replaces the room's list with it.
// Already loaded rooms are skipped unless force is set. Concurrent calls for the
// same room share one request; each caller still returns when its own ctx ends.
func (l *Loader) LoadInitial(ctx context.Context, roomID string, force bool) error {
	if roomID == "" {
		return core.ErrRoomRequired
	}
	if !force && l.store.IsLoaded(roomID) {
		return nil
	}

	ch := l.initial.DoChan(roomID, func() (any, error) {
		fetchCtx, cancel := sharedContext(ctx)
		defer cancel()
		return nil, l.fetchInitial(fetchCtx, roomID)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			l.log.Warn().Err(res.Err).Str("room", roomID).Bool("shared", res.Shared).Msg("initial history failed")
		}
		return res.Err
	}
}

func (l *Loader) fetchInitial(ctx context.Context, roomID string) error {
	page, err := l.source.FetchHistory(ctx, roomID, l.pageSize, "")
	if err != nil {
		return core.NewError(core.ErrCodeHistory, fmt.Sprintf("load history for room %s", roomID), err)
	}
	l.store.ReplaceAll(roomID, page.Messages, page.HasMore)
	l.log.Debug().
		Str("room", roomID).
		Int("count", len(page.Messages)).
		Bool("has_more", page.HasMore).
		Msg("initial history loaded")
	return nil
}

// sharedContext detaches a request from the cancellation of the caller that
// started it, keeping the caller's deadline as the upper bound.
func sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithCancel(detached)
}

// LoadOlder fetches the page before the oldest confirmed message and merges it in.
// It returns the number of messages added. It does nothing when the room has no
// older history, has no confirmed cursor yet, or already has a fetch in flight.
// A failed fetch leaves the list untouched and is not retried.
func (l *Loader) LoadOlder(ctx context.Context, roomID string) (int, error) {
	if roomID == "" {
		return 0, core.ErrRoomRequired
	}
	before, ok := l.store.OldestConfirmedID(roomID)
	if !ok {
		return 0, nil
	}
	if !l.store.BeginLoadOlder(roomID) {
		return 0, nil
	}

	page, err := l.source.FetchHistory(ctx, roomID, l.pageSize, before)
	if err != nil {
		l.store.AbortLoadOlder(roomID)
		l.log.Warn().Err(err).Str("room", roomID).Str("before", before).Msg("older history failed")
		return 0, core.NewError(core.ErrCodeHistory, fmt.Sprintf("load older history for room %s", roomID), err)
	}

	added := l.store.MergeOlder(roomID, page.Messages, page.HasMore)
	l.log.Debug().
		Str("room", roomID).
		Str("before", before).
		Int("added", added).
		Bool("has_more", l.store.HasMore(roomID)).
		Msg("older history merged")
	return added, nil
}

// SwitchRoom loads the room being entered, reusing its cached state when it was
// loaded before. The loaded marker of the room being left is cleared only when
// forceReload is set, so its next visit refetches.
func (l *Loader) SwitchRoom(ctx context.Context, from, to string, forceReload bool) error {
	if forceReload && from != "" && from != to {
		l.store.Invalidate(from)
	}
	return l.LoadInitial(ctx, to, false)
}

// Invalidate forces the next LoadInitial of roomID to hit the network.
func (l *Loader) Invalidate(roomID string) {
	l.store.Invalidate(roomID)
}
