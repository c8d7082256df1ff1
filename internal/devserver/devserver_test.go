package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/store/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg config.DevServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "test-secret"
	}
	s := New(cfg, st, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func token(t *testing.T, s *Server, userID, name string) string {
	t.Helper()
	tok, err := auth.GenerateToken(s.JWT(), userID, name)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func request(t *testing.T, method, url, tok string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func dial(t *testing.T, ts *httptest.Server, tok string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	hello, _ := proto.NewEnvelope(proto.ChannelAuth, proto.ActionHello, proto.HelloData{Token: tok, Protocol: proto.ProtocolVersion})
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, channel, action string, data any) {
	t.Helper()
	env, err := proto.NewEnvelope(channel, action, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expect reads until an envelope on channel/action arrives.
func expect(t *testing.T, conn *websocket.Conn, channel, action string) proto.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("waiting for %s/%s: %v", channel, action, err)
		}
		if env.Channel == channel && env.Action == action {
			return env
		}
	}
}

func waitConnections(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Connections() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, s.Connections())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, config.DevServerConfig{})

	resp := request(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	_, ts := newTestServer(t, config.DevServerConfig{})

	tests := []struct {
		name string
		tok  string
	}{
		{name: "missing", tok: ""},
		{name: "garbage", tok: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := request(t, http.MethodGet, ts.URL+"/api/rooms/general/messages", tt.tok, nil)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
			body := decode[proto.ErrorResponse](t, resp)
			if body.Code != "unauthorized" {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestMessageLifecycle(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{})
	tok := token(t, s, "u1", "alice")
	base := ts.URL + "/api/rooms/general/messages"

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		resp := request(t, http.MethodPost, base, tok, proto.SendRequest{Text: text, ClientID: "c-" + text})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("send %q: expected 201, got %d", text, resp.StatusCode)
		}
		sent := decode[proto.SendResponse](t, resp)
		if sent.MessageID == "" || sent.SendTime == "" {
			t.Fatalf("unexpected send response: %+v", sent)
		}
		ids = append(ids, sent.MessageID)
	}

	resp := request(t, http.MethodGet, base+"?limit=2", tok, nil)
	page := decode[proto.HistoryResponse](t, resp)
	if len(page.Messages) != 2 || !page.HasMore {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page.Messages[0].Text != "two" || page.Messages[1].Text != "three" {
		t.Fatalf("page not chronological: %+v", page.Messages)
	}
	if page.Messages[1].UserID != "u1" || page.Messages[1].UserName != "alice" || page.Messages[1].ClientID != "c-three" {
		t.Fatalf("identity not stored: %+v", page.Messages[1])
	}

	resp = request(t, http.MethodGet, base+"?limit=2&before="+ids[1], tok, nil)
	page = decode[proto.HistoryResponse](t, resp)
	if len(page.Messages) != 1 || page.HasMore || page.Messages[0].MessageID != ids[0] {
		t.Fatalf("unexpected older page: %+v", page)
	}

	resp = request(t, http.MethodPatch, base+"/"+ids[0], tok, proto.EditRequest{Text: "uno"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("edit: expected 204, got %d", resp.StatusCode)
	}
	resp = request(t, http.MethodDelete, base+"/"+ids[1], tok, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}

	resp = request(t, http.MethodGet, base, tok, nil)
	page = decode[proto.HistoryResponse](t, resp)
	if len(page.Messages) != 2 || page.Messages[0].Text != "uno" || page.Messages[1].Text != "three" {
		t.Fatalf("unexpected history after edit and delete: %+v", page.Messages)
	}
}

func TestMessageErrors(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{})
	tok := token(t, s, "u1", "alice")
	base := ts.URL + "/api/rooms/general/messages"

	tests := []struct {
		name   string
		method string
		url    string
		body   any
		status int
		code   string
	}{
		{name: "bad limit", method: http.MethodGet, url: base + "?limit=abc", status: http.StatusBadRequest, code: "bad_request"},
		{name: "empty text", method: http.MethodPost, url: base, body: proto.SendRequest{}, status: http.StatusBadRequest, code: "bad_request"},
		{name: "edit missing", method: http.MethodPatch, url: base + "/nope", body: proto.EditRequest{Text: "x"}, status: http.StatusNotFound, code: "not_found"},
		{name: "delete missing", method: http.MethodDelete, url: base + "/nope", status: http.StatusNotFound, code: "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := request(t, tt.method, tt.url, tok, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			if body := decode[proto.ErrorResponse](t, resp); body.Code != tt.code {
				t.Fatalf("expected code %q, got %+v", tt.code, body)
			}
		})
	}
}

func TestSocketSendIsBroadcast(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{})
	alice := dial(t, ts, token(t, s, "u1", "alice"))
	bob := dial(t, ts, token(t, s, "u2", "bob"))
	waitConnections(t, s, 2)

	send(t, alice, proto.ChannelMessage, proto.ActionSend, proto.MessageData{RoomID: "general", ClientID: "c-1", Text: "hi"})

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		env := expect(t, conn, proto.ChannelMessage, proto.ActionNew)
		var data proto.MessageData
		if err := env.Decode(&data); err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if data.MessageID == "" || data.ClientID != "c-1" || data.UserID != "u1" || data.UserName != "alice" || data.Text != "hi" {
			t.Fatalf("%s: unexpected broadcast: %+v", name, data)
		}
	}
}

func TestRESTWritesAreBroadcast(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{})
	tok := token(t, s, "u1", "alice")
	conn := dial(t, ts, tok)
	waitConnections(t, s, 1)
	base := ts.URL + "/api/rooms/general/messages"

	sent := decode[proto.SendResponse](t, request(t, http.MethodPost, base, tok, proto.SendRequest{Text: "hi"}))
	expect(t, conn, proto.ChannelMessage, proto.ActionNew)

	request(t, http.MethodPatch, base+"/"+sent.MessageID, tok, proto.EditRequest{Text: "hello"})
	env := expect(t, conn, proto.ChannelMessage, proto.ActionEdited)
	var edited proto.MessageData
	_ = env.Decode(&edited)
	if edited.MessageID != sent.MessageID || edited.Text != "hello" {
		t.Fatalf("unexpected edit broadcast: %+v", edited)
	}

	request(t, http.MethodDelete, base+"/"+sent.MessageID, tok, nil)
	env = expect(t, conn, proto.ChannelMessage, proto.ActionDeleted)
	var deleted proto.MessageData
	_ = env.Decode(&deleted)
	if deleted.MessageID != sent.MessageID || deleted.RoomID != "general" {
		t.Fatalf("unexpected delete broadcast: %+v", deleted)
	}
}

func TestHeartbeatPingIsAnswered(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{})
	conn := dial(t, ts, token(t, s, "u1", "alice"))

	send(t, conn, proto.ChannelHeartbeat, proto.ActionPing, nil)
	expect(t, conn, proto.ChannelHeartbeat, proto.ActionPong)
}

// expectStatus reads until a user_status update for userID arrives.
func expectStatus(t *testing.T, conn *websocket.Conn, userID string) string {
	t.Helper()
	for {
		env := expect(t, conn, proto.ChannelUserStatus, proto.ActionUpdate)
		var status proto.UserStatusData
		if err := env.Decode(&status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if status.UserID == userID {
			return status.OnlineStatus
		}
	}
}

func TestPresenceFollowsSockets(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{})
	watcher := dial(t, ts, token(t, s, "u1", "alice"))
	waitConnections(t, s, 1)

	bob := dial(t, ts, token(t, s, "u2", "bob"))
	if got := expectStatus(t, watcher, "u2"); got != "online" {
		t.Fatalf("expected online, got %q", got)
	}

	bob.Close(websocket.StatusNormalClosure, "bye")
	if got := expectStatus(t, watcher, "u2"); got != "offline" {
		t.Fatalf("expected offline, got %q", got)
	}
}

func TestHelloIsAcknowledged(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{})
	conn := dial(t, ts, token(t, s, "u1", "alice"))
	expect(t, conn, proto.ChannelAuth, proto.ActionReady)
}

func TestSocketRequiresHello(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{})
	tok := token(t, s, "u1", "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	send(t, conn, proto.ChannelMessage, proto.ActionSend, proto.MessageData{RoomID: "general", Text: "hi"})

	var env proto.Envelope
	err = wsjson.Read(ctx, conn, &env)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestProtocolVersionMismatch(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{})
	tok := token(t, s, "u1", "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	send(t, conn, proto.ChannelAuth, proto.ActionHello, proto.HelloData{Token: tok, Protocol: proto.ProtocolVersion + 1})

	var env proto.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read: %v", err)
	}
	var protoErr proto.Error
	_ = env.Decode(&protoErr)
	if env.Channel != proto.ChannelError || protoErr.Code != "unsupported_version" {
		t.Fatalf("expected unsupported_version error, got %+v (%+v)", env, protoErr)
	}
}

func TestSocketRejectsUnauthenticatedUpgrade(t *testing.T) {
	_, ts := newTestServer(t, config.DevServerConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestSocketRateLimit(t *testing.T) {
	s, ts := newTestServer(t, config.DevServerConfig{InboundRate: 0.001, InboundBurst: 1})
	conn := dial(t, ts, token(t, s, "u1", "alice"))

	send(t, conn, proto.ChannelMessage, proto.ActionSend, proto.MessageData{RoomID: "general", Text: "first"})
	expect(t, conn, proto.ChannelMessage, proto.ActionNew)

	send(t, conn, proto.ChannelMessage, proto.ActionSend, proto.MessageData{RoomID: "general", Text: "second"})
	env := expect(t, conn, proto.ChannelError, proto.ActionSend)
	var protoErr proto.Error
	if err := env.Decode(&protoErr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if protoErr.Code != "rate_limited" {
		t.Fatalf("unexpected error: %+v", protoErr)
	}

	// heartbeats bypass the limiter
	send(t, conn, proto.ChannelHeartbeat, proto.ActionPing, nil)
	expect(t, conn, proto.ChannelHeartbeat, proto.ActionPong)
}

func TestRunStopsOnCancel(t *testing.T) {
	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	s := New(config.DevServerConfig{Addr: "127.0.0.1:0", JWTSecret: "x", ShutdownTimeout: time.Second}, st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
