package proto

import "errors"

// ErrEmptyData is returned when decoding an envelope without payload.
var ErrEmptyData = errors.New("envelope has no data")

// HistoryResponse is returned by GET /api/rooms/:room/messages.
type HistoryResponse struct {
	Messages []MessageData `json:"messages"`
	HasMore  bool          `json:"hasMore"`
}

// SendRequest is the body of POST /api/rooms/:room/messages.
type SendRequest struct {
	Text     string `json:"text" binding:"required"`
	Type     string `json:"type,omitempty"`
	ReplyTo  string `json:"replyTo,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// SendResponse is returned after a message is stored.
type SendResponse struct {
	MessageID string `json:"messageId"`
	SendTime  string `json:"sendTime"`
}

// EditRequest is the body of PATCH /api/rooms/:room/messages/:id.
type EditRequest struct {
	Text string `json:"text" binding:"required"`
}

// ErrorResponse is the JSON error body of every REST endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
