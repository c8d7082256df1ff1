package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/transport/rest"
)

// ErrPending is returned when editing or deleting a message the server has not confirmed yet.
var ErrPending = errors.New("message is not confirmed yet")

// SendChatMessage posts text to roomID.
//
// When the socket is up the message is sent over it and shown at once as a
// temporary entry, which the server's broadcast later replaces. Otherwise the
// REST endpoint is used and the confirmed message is appended directly.
func (s *Session) SendChatMessage(ctx context.Context, roomID, text string, typ core.MessageType, replyTo string) error {
	if roomID == "" {
		return core.ErrRoomRequired
	}
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyText
	}
	if typ == "" {
		typ = core.MessageTypeText
	}

	now := time.Now()
	clientID := core.NewClientID()
	env, err := proto.NewEnvelope(proto.ChannelMessage, proto.ActionSend, proto.MessageData{
		RoomID:          roomID,
		ClientID:        clientID,
		Text:            text,
		Type:            string(typ),
		QuotedMessageID: replyTo,
	})
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}

	// The temp entry goes in before the write so an early echo can reconcile it.
	temp := core.Message{
		ID:              core.NewTemporaryID(now),
		ClientID:        clientID,
		UserID:          s.store.CurrentUser(),
		UserName:        s.userName,
		Text:            text,
		Time:            now,
		Type:            typ,
		QuotedMessageID: replyTo,
	}
	s.store.Append(roomID, temp)
	if s.conn.Send(env) {
		return nil
	}
	s.store.Remove(roomID, temp.ID)

	s.log.Debug().Str("room_id", roomID).Msg("socket unavailable, sending over rest")
	resp, err := s.api.SendMessage(ctx, roomID, proto.SendRequest{
		Text:     text,
		Type:     string(typ),
		ReplyTo:  replyTo,
		ClientID: clientID,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	sent := core.ParseTime(resp.SendTime)
	if sent.IsZero() {
		sent = now
	}
	s.store.Append(roomID, core.Message{
		ID:              resp.MessageID,
		ClientID:        clientID,
		UserID:          s.store.CurrentUser(),
		UserName:        s.userName,
		Text:            text,
		Time:            sent,
		Type:            typ,
		QuotedMessageID: replyTo,
	})
	return nil
}

// EditMessage replaces a message's text on the server and locally.
func (s *Session) EditMessage(ctx context.Context, roomID, messageID, text string) error {
	if roomID == "" {
		return core.ErrRoomRequired
	}
	if messageID == "" {
		return core.ErrMessageRequired
	}
	if core.IsTemporaryID(messageID) {
		return ErrPending
	}
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyText
	}

	if err := s.api.EditMessage(ctx, roomID, messageID, text); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	s.store.Update(roomID, messageID, text)
	return nil
}

// DeleteMessage removes a message on the server and locally.
// A message the server no longer has counts as deleted.
func (s *Session) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	if roomID == "" {
		return core.ErrRoomRequired
	}
	if messageID == "" {
		return core.ErrMessageRequired
	}
	if core.IsTemporaryID(messageID) {
		return ErrPending
	}

	if err := s.api.DeleteMessage(ctx, roomID, messageID); err != nil && !rest.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("delete message: %w", err)
	}
	s.store.Remove(roomID, messageID)
	s.forget(roomID, messageID)
	return nil
}

// OpenRoom makes roomID active and loads its latest page unless it was loaded before.
func (s *Session) OpenRoom(ctx context.Context, roomID string) error {
	return s.SwitchRoom(ctx, roomID, false)
}

// SwitchRoom leaves the active room for roomID. With forceReload the room being
// left is refetched on its next visit.
func (s *Session) SwitchRoom(ctx context.Context, roomID string, forceReload bool) error {
	if roomID == "" {
		return core.ErrRoomRequired
	}

	s.mu.Lock()
	from := s.active
	s.active = roomID
	s.mu.Unlock()

	s.seed(ctx, roomID)
	return s.loader.SwitchRoom(ctx, from, roomID, forceReload)
}

// seed fills a room that has not been loaded yet from the cache.
func (s *Session) seed(ctx context.Context, roomID string) {
	if s.cache == nil || s.store.IsLoaded(roomID) {
		return
	}

	tombstones, err := s.cache.Tombstones(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("read cached tombstones failed")
		return
	}
	s.store.RestoreTombstones(roomID, tombstones)

	limit := s.cfg.PageSize
	if limit <= 0 {
		limit = 50
	}
	cached, err := s.cache.RecentMessages(ctx, roomID, limit)
	if err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("read cached messages failed")
		return
	}
	if len(cached) > 0 && s.store.Seed(roomID, cached) {
		s.log.Debug().Str("room_id", roomID).Int("count", len(cached)).Msg("room seeded from cache")
	}
}
