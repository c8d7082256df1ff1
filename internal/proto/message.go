package proto

import (
	"encoding/json"
	"time"
)

// Envelope is the unit exchanged over the socket in both directions.
type Envelope struct {
	Channel string          `json:"channel"`
	Action  string          `json:"action"`
	Data    json.RawMessage `json:"data,omitempty"`
	Time    int64           `json:"time,omitempty"`
}

const (
	ProtocolVersion = 1

	ChannelAuth       = "auth"
	ChannelMessage    = "message"
	ChannelUserStatus = "user_status"
	ChannelRoomMember = "room_member"
	ChannelError      = "error"
	ChannelHeartbeat  = "heartbeat"
	// ChannelConnection is local only: the transport publishes its state transitions on it.
	ChannelConnection = "connection"

	ActionHello = "hello"
	// ActionReady acknowledges an accepted hello.
	ActionReady = "ready"
	ActionPing  = "ping"
	ActionPong  = "pong"

	ActionNew     = "new"
	ActionEdited  = "edited"
	ActionDeleted = "deleted"
	// ActionSend is the client -> server request to post a message.
	ActionSend = "send"

	ActionUpdate = "update"

	ActionJoin  = "join"
	ActionLeave = "leave"
	ActionKick  = "kick"
)

// NewEnvelope marshals data into an envelope stamped with the current time.
func NewEnvelope(channel, action string, data any) (Envelope, error) {
	env := Envelope{
		Channel: channel,
		Action:  action,
		Time:    time.Now().UnixMilli(),
	}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return env, err
	}
	env.Data = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return ErrEmptyData
	}
	return json.Unmarshal(e.Data, v)
}

// HelloData authenticates the socket right after the handshake.
type HelloData struct {
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// MessageData is the payload of the message channel.
type MessageData struct {
	RoomID          string `json:"roomId"`
	MessageID       string `json:"messageId,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	UserID          string `json:"userId,omitempty"`
	UserName        string `json:"userName,omitempty"`
	Text            string `json:"text,omitempty"`
	Time            string `json:"time,omitempty"`
	Type            string `json:"type,omitempty"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
}

// UserStatusData is the payload of the user_status channel.
type UserStatusData struct {
	UserID       string `json:"userId"`
	OnlineStatus string `json:"onlineStatus"`
}

// RoomMemberData is the payload of the room_member channel.
type RoomMemberData struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

// ConnectionData is the payload of local connection state envelopes.
type ConnectionData struct {
	State       string `json:"state"`
	Attempt     int    `json:"attempt"`
	Reconnected bool   `json:"reconnected,omitempty"`
}

// Error describes a protocol-level error pushed by the server.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
