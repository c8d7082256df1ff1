package proto

import "github.com/vovakirdan/wirechat-client/internal/core"

// ToMessage converts a wire payload into the store's model. IsOwn is left to the store.
func ToMessage(d MessageData) core.Message {
	typ := core.MessageType(d.Type)
	if typ == "" {
		typ = core.MessageTypeText
	}
	return core.Message{
		ID:              d.MessageID,
		ClientID:        d.ClientID,
		RoomID:          d.RoomID,
		UserID:          d.UserID,
		UserName:        d.UserName,
		Text:            d.Text,
		Time:            core.ParseTime(d.Time),
		Type:            typ,
		QuotedMessageID: d.QuotedMessageID,
	}
}

// ToMessages converts a page of wire payloads.
func ToMessages(list []MessageData) []core.Message {
	out := make([]core.Message, 0, len(list))
	for _, d := range list {
		out = append(out, ToMessage(d))
	}
	return out
}

// FromMessage converts a stored message into its wire payload.
func FromMessage(m core.Message) MessageData {
	d := MessageData{
		RoomID:          m.RoomID,
		MessageID:       m.ID,
		ClientID:        m.ClientID,
		UserID:          m.UserID,
		UserName:        m.UserName,
		Text:            m.Text,
		Type:            string(m.Type),
		QuotedMessageID: m.QuotedMessageID,
	}
	if !m.Time.IsZero() {
		d.Time = core.FormatTime(m.Time)
	}
	return d
}

// FromMessages converts stored messages into wire payloads.
func FromMessages(list []core.Message) []MessageData {
	out := make([]MessageData, 0, len(list))
	for _, m := range list {
		out = append(out, FromMessage(m))
	}
	return out
}
