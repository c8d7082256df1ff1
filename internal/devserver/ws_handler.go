package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

const helloTimeout = 10 * time.Second

var (
	errHelloRequired      = errors.New("expected auth/hello as first frame")
	errUnsupportedVersion = errors.New("unsupported protocol version")
)

// serveWS upgrades an authenticated request and bridges it to the hub.
// GET /ws
func (s *Server) serveWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := awaitHello(ctx, conn); err != nil {
		s.log.Debug().Err(err).Msg("ws handshake rejected")
		if errors.Is(err, errUnsupportedVersion) {
			env, _ := proto.NewEnvelope(proto.ChannelError, proto.ActionHello, proto.Error{
				Code: "unsupported_version",
				Msg:  err.Error(),
			})
			_ = wsjson.Write(ctx, conn, env)
		}
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	ready, _ := proto.NewEnvelope(proto.ChannelAuth, proto.ActionReady, nil)
	if err := wsjson.Write(ctx, conn, ready); err != nil {
		s.log.Debug().Err(err).Msg("ws hello ack failed")
		return
	}

	client := &wsClient{
		id:       uuid.NewString(),
		userID:   c.GetString(ContextKeyUserID),
		userName: c.GetString(ContextKeyUsername),
		send:     make(chan proto.Envelope, clientBuffer),
		limiter:  s.limiter(),
	}
	if s.hub.add(client) {
		s.publish(proto.ChannelUserStatus, proto.ActionUpdate, proto.UserStatusData{UserID: client.userID, OnlineStatus: "online"})
	}
	defer func() {
		if s.hub.remove(client) {
			s.publish(proto.ChannelUserStatus, proto.ActionUpdate, proto.UserStatusData{UserID: client.userID, OnlineStatus: "offline"})
		}
	}()
	s.log.Debug().Str("client_id", client.id).Str("user_id", client.userID).Msg("ws client connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- s.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if code := websocket.CloseStatus(err); code != -1 {
			status = code
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			s.log.Warn().Err(err).Str("client_id", client.id).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (s *Server) limiter() *rate.Limiter {
	if s.cfg.InboundRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := s.cfg.InboundBurst
	if burst <= 0 {
		burst = int(s.cfg.InboundRate)
	}
	return rate.NewLimiter(rate.Limit(s.cfg.InboundRate), max(burst, 1))
}

// awaitHello reads the first frame, which must be auth/hello.
// The token was already checked on the upgrade request.
func awaitHello(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var env proto.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		return err
	}
	if env.Channel != proto.ChannelAuth || env.Action != proto.ActionHello {
		return errHelloRequired
	}
	var hello proto.HelloData
	if err := env.Decode(&hello); err != nil && !errors.Is(err, proto.ErrEmptyData) {
		return fmt.Errorf("decode hello: %w", err)
	}
	if hello.Protocol > proto.ProtocolVersion {
		return fmt.Errorf("%w: %d", errUnsupportedVersion, hello.Protocol)
	}
	return nil
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *wsClient) error {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}

		if env.Channel == proto.ChannelHeartbeat {
			if env.Action == proto.ActionPing {
				s.reply(client, proto.ChannelHeartbeat, proto.ActionPong, nil)
			}
			continue
		}

		if !client.limiter.Allow() {
			s.log.Debug().Str("client_id", client.id).Msg("ws client rate limited")
			s.reply(client, proto.ChannelError, env.Action, proto.Error{Code: "rate_limited", Msg: "too many requests"})
			continue
		}

		if protoErr := s.handle(ctx, client, env); protoErr != nil {
			s.reply(client, proto.ChannelError, env.Action, protoErr)
		}
	}
}

// handle applies one client request. Unknown requests are ignored.
func (s *Server) handle(ctx context.Context, client *wsClient, env proto.Envelope) *proto.Error {
	if env.Channel != proto.ChannelMessage || env.Action != proto.ActionSend {
		s.log.Debug().Str("channel", env.Channel).Str("action", env.Action).Msg("ignoring ws request")
		return nil
	}

	var data proto.MessageData
	if err := env.Decode(&data); err != nil {
		return &proto.Error{Code: "bad_request", Msg: "invalid message payload"}
	}
	if data.RoomID == "" || data.Text == "" {
		return &proto.Error{Code: "bad_request", Msg: "roomId and text are required"}
	}

	msg := core.Message{
		RoomID:          data.RoomID,
		ClientID:        data.ClientID,
		UserID:          client.userID,
		UserName:        client.userName,
		Text:            data.Text,
		Type:            core.MessageType(data.Type),
		QuotedMessageID: data.QuotedMessageID,
	}
	if err := s.post(ctx, &msg); err != nil {
		s.log.Error().Err(err).Str("client_id", client.id).Msg("failed to save ws message")
		return &proto.Error{Code: "internal", Msg: "failed to save message"}
	}
	return nil
}

// post stores msg and broadcasts it as message/new.
func (s *Server) post(ctx context.Context, msg *core.Message) error {
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return err
	}
	s.publish(proto.ChannelMessage, proto.ActionNew, proto.FromMessage(*msg))
	return nil
}

// reply queues an envelope for one socket only.
func (s *Server) reply(client *wsClient, channel, action string, data any) {
	env, err := proto.NewEnvelope(channel, action, data)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build reply")
		return
	}
	select {
	case client.send <- env:
	default:
		s.log.Warn().Str("client_id", client.id).Msg("client buffer full, dropping reply")
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, client *wsClient) error {
	for {
		select {
		case env := <-client.send:
			if err := wsjson.Write(ctx, conn, env); err != nil {
				s.log.Error().Err(err).Str("client_id", client.id).Msg("write ws envelope")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
