package devserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// listMessages returns one page of room history, oldest first.
// GET /api/rooms/:room/messages?limit=N&before=<id>
func (s *Server) listMessages(c *gin.Context) {
	roomID := c.Param("room")

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid limit", Code: "bad_request"})
			return
		}
		limit = min(n, maxPageSize)
	}

	msgs, hasMore, err := s.store.ListMessages(c.Request.Context(), roomID, limit, c.Query("before"))
	if err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error", Code: "internal"})
		return
	}

	c.JSON(http.StatusOK, proto.HistoryResponse{
		Messages: proto.FromMessages(msgs),
		HasMore:  hasMore,
	})
}

// sendMessage stores a message and broadcasts it.
// POST /api/rooms/:room/messages
func (s *Server) sendMessage(c *gin.Context) {
	var req proto.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body", Code: "bad_request"})
		return
	}

	msg := core.Message{
		RoomID:          c.Param("room"),
		ClientID:        req.ClientID,
		UserID:          c.GetString(ContextKeyUserID),
		UserName:        c.GetString(ContextKeyUsername),
		Text:            req.Text,
		Type:            core.MessageType(req.Type),
		QuotedMessageID: req.ReplyTo,
	}
	if err := s.post(c.Request.Context(), &msg); err != nil {
		s.log.Error().Err(err).Str("room_id", msg.RoomID).Msg("failed to save message")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error", Code: "internal"})
		return
	}

	c.JSON(http.StatusCreated, proto.SendResponse{
		MessageID: msg.ID,
		SendTime:  core.FormatTime(msg.Time),
	})
}

// editMessage replaces a message's text.
// PATCH /api/rooms/:room/messages/:id
func (s *Server) editMessage(c *gin.Context) {
	var req proto.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Debug().Err(err).Msg("invalid edit request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body", Code: "bad_request"})
		return
	}

	roomID, messageID := c.Param("room"), c.Param("id")
	msg, err := s.store.UpdateMessage(c.Request.Context(), roomID, messageID, req.Text)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, proto.ErrorResponse{Error: "message not found", Code: "not_found"})
			return
		}
		s.log.Error().Err(err).Str("room_id", roomID).Str("message_id", messageID).Msg("failed to edit message")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error", Code: "internal"})
		return
	}

	s.publish(proto.ChannelMessage, proto.ActionEdited, proto.FromMessage(msg))
	c.Status(http.StatusNoContent)
}

// deleteMessage removes a message.
// DELETE /api/rooms/:room/messages/:id
func (s *Server) deleteMessage(c *gin.Context) {
	roomID, messageID := c.Param("room"), c.Param("id")
	existed, err := s.store.DeleteMessage(c.Request.Context(), roomID, messageID)
	if err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Str("message_id", messageID).Msg("failed to delete message")
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "internal server error", Code: "internal"})
		return
	}
	if !existed {
		c.JSON(http.StatusNotFound, proto.ErrorResponse{Error: "message not found", Code: "not_found"})
		return
	}

	s.publish(proto.ChannelMessage, proto.ActionDeleted, proto.MessageData{RoomID: roomID, MessageID: messageID})
	c.Status(http.StatusNoContent)
}
