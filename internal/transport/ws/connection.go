package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

var (
	// ErrHeartbeatTimeout closes a session after too many unanswered pings.
	ErrHeartbeatTimeout = errors.New("ws: heartbeat timeout")
	// ErrNotConnected is reported by writes attempted outside the Connected state.
	ErrNotConnected = errors.New("ws: not connected")
)

// State is the lifecycle state of a Connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Options configures a Connection.
type Options struct {
	URL      string
	Protocol int

	HeartbeatInterval time.Duration
	MaxMissedPongs    int
	WriteTimeout      time.Duration
	DialTimeout       time.Duration
	ReadLimit         int64
	Backoff           Backoff
	// StableAfter is how long a silent session must stay up before it counts
	// as established. Any server frame other than an error establishes it sooner.
	StableAfter time.Duration

	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Protocol == 0 {
		o.Protocol = proto.ProtocolVersion
	}
	if o.MaxMissedPongs <= 0 {
		o.MaxMissedPongs = 2
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.Backoff == (Backoff{}) {
		o.Backoff = DefaultBackoff()
	}
	if o.StableAfter <= 0 {
		o.StableAfter = 5 * time.Second
	}
	return o
}

// Connection keeps one authenticated socket alive and routes inbound envelopes by channel.
// The socket is redialed with backoff until Disconnect is called.
type Connection struct {
	opts   Options
	log    *zerolog.Logger
	router *router

	mu            sync.Mutex
	state         State
	token         string
	attempt       int
	established   bool
	everConnected bool
	conn          *websocket.Conn
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewConnection builds a disconnected Connection.
func NewConnection(opts Options) *Connection {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Connection{
		opts:   opts,
		log:    logger,
		router: newRouter(),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the current retry number: consecutive failed dials plus
// sessions that ended before being established.
func (c *Connection) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Connect starts the connection loop. It is a no-op unless the connection is Disconnected.
// A non-empty token replaces the remembered one. Cancelling ctx behaves like Disconnect.
func (c *Connection) Connect(ctx context.Context, token string) {
	c.mu.Lock()
	if token != "" {
		c.token = token
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.attempt = 0
	c.state = StateConnecting
	c.mu.Unlock()

	c.publish(StateConnecting, 0, false)
	go c.run(runCtx, done)
}

// Disconnect closes the socket and stops reconnecting. It blocks until the loop exits.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	<-done
}

// On registers handler for channel. Handlers of a channel run in subscription order
// on the read goroutine.
func (c *Connection) On(channel string, handler Handler) *Subscription {
	return c.router.add(channel, handler)
}

// Off removes a subscription returned by On.
func (c *Connection) Off(sub *Subscription) {
	sub.Close()
}

// Send writes env synchronously. It reports false when not connected or when the write fails.
func (c *Connection) Send(env proto.Envelope) bool {
	return c.SendContext(context.Background(), env) == nil
}

// SendContext is Send with a caller context and the failure reason.
func (c *Connection) SendContext(ctx context.Context, env proto.Envelope) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}
	if env.Time == 0 {
		env.Time = time.Now().UnixMilli()
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		c.log.Warn().Err(err).Str("channel", env.Channel).Str("action", env.Action).Msg("ws send failed")
		return err
	}
	return nil
}

func (c *Connection) run(ctx context.Context, done chan struct{}) {
	defer c.stopped(done)
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt := c.failed()
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("ws dial failed")
			if !sleep(ctx, c.opts.Backoff.Delay(attempt)) {
				return
			}
			continue
		}

		if !c.connected(ctx, conn) {
			conn.CloseNow()
			return
		}
		err = c.session(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		attempt := c.dropped()
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("ws session ended")
		if !sleep(ctx, c.opts.Backoff.Delay(attempt)) {
			return
		}
	}
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.Dial(dialCtx, c.opts.URL, &websocket.DialOptions{
		HTTPClient: c.opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", c.opts.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	conn.SetReadLimit(c.opts.ReadLimit)

	hello, err := proto.NewEnvelope(proto.ChannelAuth, proto.ActionHello, proto.HelloData{
		Token:    token,
		Protocol: c.opts.Protocol,
	})
	if err != nil {
		conn.CloseNow()
		return nil, err
	}
	if err := wsjson.Write(dialCtx, conn, hello); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	return conn, nil
}

// session runs the read and heartbeat loops until either fails.
func (c *Connection) session(ctx context.Context, conn *websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stable := time.AfterFunc(c.opts.StableAfter, func() { c.establish(conn) })
	defer stable.Stop()

	pongs := make(chan struct{}, 1)
	errCh := make(chan error, 2)
	go func() {
		errCh <- c.readLoop(sessionCtx, conn, pongs)
	}()
	go func() {
		errCh <- c.heartbeat(sessionCtx, conn, pongs)
	}()

	err := <-errCh
	cancel()
	if errors.Is(err, ErrHeartbeatTimeout) {
		conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
	} else {
		conn.CloseNow()
	}
	<-errCh
	return err
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn, pongs chan<- struct{}) error {
	established := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Channel == "" {
			c.log.Debug().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		if !established && env.Channel != proto.ChannelError {
			established = true
			c.establish(conn)
		}
		if env.Channel == proto.ChannelAuth && env.Action == proto.ActionReady {
			continue
		}
		if env.Channel == proto.ChannelHeartbeat {
			if env.Action == proto.ActionPong {
				select {
				case pongs <- struct{}{}:
				default:
				}
			}
			continue
		}
		if env.Channel == proto.ChannelConnection {
			continue
		}
		if n := c.router.dispatch(env); n == 0 {
			c.log.Trace().Str("channel", env.Channel).Str("action", env.Action).Msg("no handler")
		}
	}
}

func (c *Connection) heartbeat(ctx context.Context, conn *websocket.Conn, pongs <-chan struct{}) error {
	if c.opts.HeartbeatInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	outstanding := false
	missed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pongs:
			outstanding = false
			missed = 0
		case <-ticker.C:
			if outstanding {
				missed++
				c.log.Debug().Int("missed", missed).Msg("pong missing")
				if missed >= c.opts.MaxMissedPongs {
					return ErrHeartbeatTimeout
				}
			}
			writeCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := wsjson.Write(writeCtx, conn, proto.Envelope{
				Channel: proto.ChannelHeartbeat,
				Action:  proto.ActionPing,
				Time:    time.Now().UnixMilli(),
			})
			cancel()
			if err != nil {
				return fmt.Errorf("send ping: %w", err)
			}
			outstanding = true
		}
	}
}

// connected records a live socket. It reports false if Disconnect already won the race.
func (c *Connection) connected(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	reconnected := c.everConnected
	c.conn = conn
	c.state = StateConnected
	c.established = false
	c.everConnected = true
	c.mu.Unlock()

	c.log.Info().Str("url", c.opts.URL).Bool("reconnected", reconnected).Msg("ws connected")
	c.publish(StateConnected, 0, reconnected)
	return true
}

// establish clears the retry number once the server has shown it accepted conn.
// Sessions that end first keep counting, so the backoff keeps growing.
func (c *Connection) establish(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn || c.established {
		c.mu.Unlock()
		return
	}
	c.established = true
	prev := c.attempt
	c.attempt = 0
	c.mu.Unlock()
	if prev > 0 {
		c.log.Debug().Int("attempt", prev).Msg("ws session established, retry count cleared")
	}
}

func (c *Connection) failed() int {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.state = StateReconnecting
	c.mu.Unlock()
	c.publish(StateReconnecting, attempt, false)
	return attempt
}

func (c *Connection) dropped() int {
	c.mu.Lock()
	c.conn = nil
	c.established = false
	c.attempt++
	attempt := c.attempt
	c.state = StateReconnecting
	c.mu.Unlock()
	c.publish(StateReconnecting, attempt, false)
	return attempt
}

func (c *Connection) stopped(done chan struct{}) {
	c.mu.Lock()
	current := c.done == done
	if current {
		c.state = StateDisconnected
		c.conn = nil
		c.cancel = nil
		c.done = nil
		c.attempt = 0
	}
	c.mu.Unlock()
	if current {
		c.log.Info().Msg("ws disconnected")
		c.publish(StateDisconnected, 0, false)
	}
	close(done)
}

// publish emits a local connection envelope. The action is the state name.
func (c *Connection) publish(state State, attempt int, reconnected bool) {
	env, err := proto.NewEnvelope(proto.ChannelConnection, state.String(), proto.ConnectionData{
		State:       state.String(),
		Attempt:     attempt,
		Reconnected: reconnected,
	})
	if err != nil {
		return
	}
	c.router.dispatch(env)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
