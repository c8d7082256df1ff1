// Package client composes the transport, the message store and the history
// loader into the surface a chat UI talks to.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/history"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/scroll"
	"github.com/vovakirdan/wirechat-client/internal/store"
	"github.com/vovakirdan/wirechat-client/internal/transport/rest"
	"github.com/vovakirdan/wirechat-client/internal/transport/ws"
)

// Options configures a Session.
type Options struct {
	Config config.Config
	// Cache is optional. When set, confirmed messages and deletions are written
	// through and used to seed rooms before the network answers.
	Cache      store.Cache
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Session is one signed-in user's view of the chat.
type Session struct {
	cfg    config.Config
	conn   *ws.Connection
	store  *core.Store
	loader *history.Loader
	api    *rest.Client
	cache  store.Cache
	log    *zerolog.Logger

	userName string
	token    string

	mu       sync.RWMutex
	active   string
	presence map[string]string
	members  map[string]map[string]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	subs     []*ws.Subscription
	wg       sync.WaitGroup
}

// New builds a disconnected session.
// The current user comes from the config, or from the token's claims when unset.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	userID, userName := cfg.UserID, cfg.UserName
	if cfg.Token != "" && (userID == "" || userName == "") {
		claims, err := auth.ParseUnverified(cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("read token claims: %w", err)
		}
		if userID == "" {
			userID = claims.User()
		}
		if userName == "" {
			userName = claims.Username
		}
	}

	api, err := rest.New(rest.Options{
		BaseURL:    cfg.APIURL,
		Token:      cfg.Token,
		Timeout:    cfg.RequestTimeout,
		SendRate:   cfg.SendRate,
		SendBurst:  cfg.SendBurst,
		HTTPClient: opts.HTTPClient,
		Logger:     log.Component(logger, "rest"),
	})
	if err != nil {
		return nil, fmt.Errorf("rest client: %w", err)
	}

	st := core.NewStore(core.Options{
		CurrentUserID:   userID,
		ReconcileWindow: cfg.ReconcileWindow,
		Logger:          log.Component(logger, "store"),
	})

	s := &Session{
		cfg:   cfg,
		store: st,
		api:   api,
		cache: opts.Cache,
		loader: history.NewLoader(st, api, history.Options{
			PageSize: cfg.PageSize,
			Logger:   log.Component(logger, "history"),
		}),
		conn: ws.NewConnection(ws.Options{
			URL:               cfg.ServerURL,
			Protocol:          cfg.Protocol,
			HeartbeatInterval: cfg.HeartbeatInterval,
			MaxMissedPongs:    cfg.MaxMissedPongs,
			WriteTimeout:      cfg.WriteTimeout,
			Backoff: ws.Backoff{
				Min:    cfg.ReconnectMin,
				Max:    cfg.ReconnectMax,
				Factor: 2,
				Jitter: cfg.ReconnectJitter,
			},
			HTTPClient: opts.HTTPClient,
			Logger:     log.Component(logger, "ws"),
		}),
		log:      logger,
		userName: userName,
		token:    cfg.Token,
		presence: make(map[string]string),
		members:  make(map[string]map[string]struct{}),
	}

	s.subs = []*ws.Subscription{
		s.conn.On(proto.ChannelMessage, s.onMessage),
		s.conn.On(proto.ChannelUserStatus, s.onUserStatus),
		s.conn.On(proto.ChannelRoomMember, s.onRoomMember),
		s.conn.On(proto.ChannelConnection, s.onConnection),
		s.conn.On(proto.ChannelError, s.onError),
	}
	if s.cache != nil {
		st.Observe(s.persist)
	}
	return s, nil
}

// UserID returns the signed-in user's id.
func (s *Session) UserID() string {
	return s.store.CurrentUser()
}

// Connect starts the socket loop. Calling it while connected is a no-op.
// ctx bounds the session's background work.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.cancel == nil {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}
	runCtx := s.ctx
	s.mu.Unlock()

	s.conn.Connect(runCtx, s.token)
}

// Disconnect closes the socket, stops reconnecting and waits for background reloads.
func (s *Session) Disconnect() {
	s.conn.Disconnect()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Close disconnects and releases the session's subscriptions.
func (s *Session) Close() {
	s.Disconnect()
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// State returns the transport state.
func (s *Session) State() ws.State {
	return s.conn.State()
}

// Send writes a raw envelope. It returns false when the socket is not connected.
func (s *Session) Send(env proto.Envelope) bool {
	return s.conn.Send(env)
}

// On subscribes handler to a channel. Release it with Off or Subscription.Close.
func (s *Session) On(channel string, handler ws.Handler) *ws.Subscription {
	return s.conn.On(channel, handler)
}

// Off releases a subscription.
func (s *Session) Off(sub *ws.Subscription) {
	s.conn.Off(sub)
}

// Messages returns an ordered snapshot of a room.
func (s *Session) Messages(roomID string) []core.Message {
	return s.store.Messages(roomID)
}

// Observe registers fn for every committed change to any room.
func (s *Session) Observe(fn func(core.Change)) {
	s.store.Observe(fn)
}

// LoadOlder pages one step backwards in roomID.
func (s *Session) LoadOlder(ctx context.Context, roomID string) (int, error) {
	return s.loader.LoadOlder(ctx, roomID)
}

// HasMore reports whether roomID has older history on the server.
func (s *Session) HasMore(roomID string) bool {
	return s.store.HasMore(roomID)
}

// IsLoadingMore reports whether a backward fetch is in flight for roomID.
func (s *Session) IsLoadingMore(roomID string) bool {
	return s.store.IsLoadingMore(roomID)
}

// ActiveRoom returns the room last opened.
func (s *Session) ActiveRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Scroll builds a scroll controller over vp that pages this session's history.
func (s *Session) Scroll(vp scroll.Viewport) *scroll.Controller {
	c := scroll.NewController(vp, s, scroll.Options{
		NearBottom: s.cfg.Scroll.NearBottom,
		LoadOlder:  s.cfg.Scroll.LoadOlder,
		TopMargin:  s.cfg.Scroll.TopMargin,
		Logger:     log.Component(s.log, "scroll"),
	})
	c.OnLoadOlder(s.LoadOlder)
	return c
}

// background runs fn on the session context, tracked by Disconnect.
func (s *Session) background(fn func(ctx context.Context)) {
	s.mu.RLock()
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		s.mu.RUnlock()
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
