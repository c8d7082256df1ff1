package client

import (
	"context"
	"slices"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/transport/ws"
)

// onMessage applies message/new, edited and deleted broadcasts to the store.
// Malformed and unknown envelopes are dropped.
func (s *Session) onMessage(env proto.Envelope) {
	var data proto.MessageData
	if err := env.Decode(&data); err != nil {
		s.log.Debug().Err(err).Str("action", env.Action).Msg("dropping malformed message envelope")
		return
	}
	if data.RoomID == "" || data.MessageID == "" {
		s.log.Debug().Str("action", env.Action).Msg("dropping message envelope without ids")
		return
	}

	switch env.Action {
	case proto.ActionNew:
		res := s.store.Append(data.RoomID, proto.ToMessage(data))
		s.log.Debug().Str("room_id", data.RoomID).Str("message_id", data.MessageID).Stringer("result", res).Msg("message received")
	case proto.ActionEdited:
		s.store.Update(data.RoomID, data.MessageID, data.Text)
	case proto.ActionDeleted:
		s.store.Remove(data.RoomID, data.MessageID)
		s.forget(data.RoomID, data.MessageID)
	default:
		s.log.Debug().Str("action", env.Action).Msg("ignoring message action")
	}
}

func (s *Session) onUserStatus(env proto.Envelope) {
	var data proto.UserStatusData
	if err := env.Decode(&data); err != nil || data.UserID == "" {
		return
	}
	s.mu.Lock()
	s.presence[data.UserID] = data.OnlineStatus
	s.mu.Unlock()
}

func (s *Session) onRoomMember(env proto.Envelope) {
	var data proto.RoomMemberData
	if err := env.Decode(&data); err != nil || data.RoomID == "" || data.UserID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch env.Action {
	case proto.ActionJoin:
		set, ok := s.members[data.RoomID]
		if !ok {
			set = make(map[string]struct{})
			s.members[data.RoomID] = set
		}
		set[data.UserID] = struct{}{}
	case proto.ActionLeave, proto.ActionKick:
		delete(s.members[data.RoomID], data.UserID)
		if env.Action == proto.ActionKick && data.UserID == s.store.CurrentUser() {
			s.log.Warn().Str("room_id", data.RoomID).Str("reason", data.Reason).Msg("removed from room")
		}
	}
}

// onConnection reloads the active room after a reconnect, since broadcasts
// sent while the socket was down are lost.
func (s *Session) onConnection(env proto.Envelope) {
	var data proto.ConnectionData
	if err := env.Decode(&data); err != nil {
		return
	}
	if data.State != ws.StateConnected.String() || !data.Reconnected {
		return
	}

	roomID := s.ActiveRoom()
	if roomID == "" {
		return
	}
	s.background(func(ctx context.Context) {
		ctx, cancel := s.requestContext(ctx)
		defer cancel()
		if err := s.loader.LoadInitial(ctx, roomID, true); err != nil {
			s.log.Warn().Err(err).Str("room_id", roomID).Msg("reload after reconnect failed")
			return
		}
		s.log.Info().Str("room_id", roomID).Msg("room reloaded after reconnect")
	})
}

func (s *Session) onError(env proto.Envelope) {
	var data proto.Error
	if err := env.Decode(&data); err != nil {
		return
	}
	s.log.Warn().Str("action", env.Action).Str("code", data.Code).Msg(data.Msg)
}

// Presence returns the last reported online status of userID, or "" if unknown.
func (s *Session) Presence(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence[userID]
}

// Members returns the ids of users seen joining roomID, sorted.
func (s *Session) Members(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members[roomID]))
	for id := range s.members[roomID] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// persist writes confirmed changes through to the cache.
func (s *Session) persist(change core.Change) {
	var msgs []core.Message
	switch change.Kind {
	case core.ChangeInserted, core.ChangeReconciled, core.ChangeUpdated:
		msgs = []core.Message{change.Message}
	case core.ChangeReplaced, core.ChangeMerged:
		msgs = change.Messages
	default:
		return
	}

	ctx, cancel := s.requestContext(context.Background())
	defer cancel()
	if err := s.cache.UpsertMessages(ctx, change.RoomID, msgs); err != nil {
		s.log.Warn().Err(err).Str("room_id", change.RoomID).Msg("cache write failed")
	}
}

// forget records a deletion in the cache.
func (s *Session) forget(roomID, messageID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := s.requestContext(context.Background())
	defer cancel()
	if _, err := s.cache.DeleteMessage(ctx, roomID, messageID); err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Str("message_id", messageID).Msg("cache delete failed")
	}
}
