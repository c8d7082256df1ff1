package scroll

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// State is the controller's position in the pagination cycle.
type State int

const (
	StateInitialLoad State = iota
	StateSteady
	StateLoadingOlder
	StateRestoring
)

func (s State) String() string {
	switch s {
	case StateInitialLoad:
		return "initial_load"
	case StateSteady:
		return "steady"
	case StateLoadingOlder:
		return "loading_older"
	case StateRestoring:
		return "restoring"
	default:
		return "unknown"
	}
}

// Viewport is the scrollable message list as rendered. Offsets are measured
// from the top of the content in the same unit as ScrollTop.
type Viewport interface {
	ScrollTop() float64
	ScrollHeight() float64
	ClientHeight() float64
	SetScrollTop(top float64)
	// OffsetOf reports the top offset of the rendered message with the given id.
	OffsetOf(messageID string) (float64, bool)
	// FirstVisible reports the first message whose box intersects the visible area.
	FirstVisible() (string, bool)
}

// Source is the read side of the message store the controller consults.
type Source interface {
	Messages(roomID string) []core.Message
	HasMore(roomID string) bool
	IsLoadingMore(roomID string) bool
}

// LoadOlderFunc fetches and merges the page before the oldest loaded message.
type LoadOlderFunc func(ctx context.Context, roomID string) (int, error)

// Options holds pixel thresholds.
type Options struct {
	// NearBottom is the distance from the bottom within which new messages auto-scroll.
	NearBottom float64
	// LoadOlder is the distance from the top that triggers a backward load.
	LoadOlder float64
	// TopMargin is the screen offset given to fallback anchors.
	TopMargin float64
	Logger    *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.NearBottom <= 0 {
		o.NearBottom = 100
	}
	if o.LoadOlder <= 0 {
		o.LoadOlder = 80
	}
	if o.TopMargin < 0 {
		o.TopMargin = 0
	}
	return o
}

type anchor struct {
	id     string
	offset float64 // on-screen offset: message top minus scroll top
	top    float64
	height float64
}

// Controller decides when to page backwards and where to put the scroll
// position afterwards, so the message the user was reading stays put.
type Controller struct {
	opts Options
	vp   Viewport
	src  Source
	log  *zerolog.Logger

	mu        sync.Mutex
	loadOlder LoadOlderFunc
	room      string
	gen       uint64
	state     State
	anchor    *anchor
	nearBtm   bool
	showJump  bool
	rendered  int
	lastTop   float64
	cancel    context.CancelFunc
}

// NewController builds a controller over a viewport and a message source.
func NewController(vp Viewport, src Source, opts Options) *Controller {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Controller{
		opts:    opts,
		vp:      vp,
		src:     src,
		log:     logger,
		nearBtm: true,
	}
}

// OnLoadOlder registers the backward-load callback. It runs on its own goroutine.
func (c *Controller) OnLoadOlder(fn LoadOlderFunc) {
	c.mu.Lock()
	c.loadOlder = fn
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the room the controller is tracking.
func (c *Controller) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// ShouldAutoScroll reports whether newly arriving messages should pull the view down.
func (c *Controller) ShouldAutoScroll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nearBtm
}

// ShowScrollToBottom reports whether the jump-to-latest affordance should be shown.
func (c *Controller) ShowScrollToBottom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showJump
}

// SwitchRoom resets the controller for roomID. Anchors and in-flight loads of
// the previous room are abandoned.
func (c *Controller) SwitchRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.room = roomID
	c.state = StateInitialLoad
	c.anchor = nil
	c.nearBtm = true
	c.showJump = false
	c.rendered = 0
	c.lastTop = 0
}

// ScrollToBottom jumps to the newest message.
func (c *Controller) ScrollToBottom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gotoBottom()
}

// Rendered tells the controller the view now shows count messages of roomID.
func (c *Controller) Rendered(roomID string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if roomID != c.room {
		return
	}
	grew := count > c.rendered
	c.rendered = count

	switch c.state {
	case StateInitialLoad:
		if count == 0 {
			return
		}
		c.gotoBottom()
		c.state = StateSteady
	case StateSteady:
		if !grew {
			return
		}
		if c.nearBtm {
			c.gotoBottom()
			return
		}
		c.showJump = true
	case StateLoadingOlder:
		// the merge may render before the load callback returns
		c.restoreAnchor()
	case StateRestoring:
		c.restoreAnchor()
		c.finishRestore()
	}
}

// Scrolled is called after the user or the view moved the scroll position.
// Only an upward move into the LoadOlder band starts a backward load.
func (c *Controller) Scrolled() {
	c.mu.Lock()
	defer c.mu.Unlock()

	top := c.vp.ScrollTop()
	upward := top < c.lastTop
	c.lastTop = top
	c.nearBtm = c.vp.ScrollHeight()-top-c.vp.ClientHeight() <= c.opts.NearBottom
	if c.nearBtm {
		c.showJump = false
	}

	if c.state != StateSteady || !upward || top > c.opts.LoadOlder || c.loadOlder == nil || c.room == "" {
		return
	}
	if !c.src.HasMore(c.room) || c.src.IsLoadingMore(c.room) {
		return
	}
	a, ok := c.captureAnchor()
	if !ok {
		return
	}
	c.anchor = a
	c.state = StateLoadingOlder

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	room, gen, fn := c.room, c.gen, c.loadOlder
	c.log.Debug().Str("room", room).Str("anchor", a.id).Msg("loading older messages")
	go func() {
		added, err := fn(ctx, room)
		c.loadDone(room, gen, added, err)
	}()
}

func (c *Controller) loadDone(room string, gen uint64, added int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room != c.room || gen != c.gen || c.state != StateLoadingOlder {
		c.log.Debug().Str("room", room).Msg("dropping stale older load")
		return
	}
	c.cancel = nil
	if err != nil || added == 0 {
		if err != nil {
			c.log.Warn().Err(err).Str("room", room).Msg("older load failed")
		}
		c.anchor = nil
		c.state = StateSteady
		return
	}
	if c.rendered >= len(c.src.Messages(room)) {
		c.restoreAnchor()
		c.finishRestore()
		return
	}
	c.state = StateRestoring
}

// captureAnchor picks the first visible message, falling back to the oldest
// loaded one pinned at the top margin. Caller holds c.mu.
func (c *Controller) captureAnchor() (*anchor, bool) {
	top := c.vp.ScrollTop()
	a := &anchor{top: top, height: c.vp.ScrollHeight()}
	if id, ok := c.vp.FirstVisible(); ok {
		if off, ok := c.vp.OffsetOf(id); ok {
			a.id = id
			a.offset = off - top
			return a, true
		}
	}
	msgs := c.src.Messages(c.room)
	if len(msgs) == 0 {
		return nil, false
	}
	a.id = msgs[0].ID
	a.offset = c.opts.TopMargin
	return a, true
}

// restoreAnchor puts the anchor back at its captured screen offset. When the
// anchor is gone it keeps the old content in place by the height delta.
func (c *Controller) restoreAnchor() {
	if c.anchor == nil {
		return
	}
	var target float64
	if off, ok := c.vp.OffsetOf(c.anchor.id); ok {
		target = off - c.anchor.offset
	} else {
		target = c.anchor.top + (c.vp.ScrollHeight() - c.anchor.height)
	}
	c.setTop(target)
}

func (c *Controller) finishRestore() {
	c.anchor = nil
	c.state = StateSteady
}

func (c *Controller) gotoBottom() {
	c.setTop(c.vp.ScrollHeight() - c.vp.ClientHeight())
	c.nearBtm = true
	c.showJump = false
}

// setTop moves the view and records the position, so the Scrolled event the
// view emits for it does not count as user movement.
func (c *Controller) setTop(top float64) {
	top = c.clamp(top)
	c.vp.SetScrollTop(top)
	c.lastTop = top
}

func (c *Controller) clamp(top float64) float64 {
	limit := c.vp.ScrollHeight() - c.vp.ClientHeight()
	if top > limit {
		top = limit
	}
	if top < 0 {
		top = 0
	}
	return top
}
