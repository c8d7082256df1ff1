package ws

import (
	"sync"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Handler receives envelopes for a subscribed channel.
type Handler func(env proto.Envelope)

// Subscription is the handle returned by On. Close it to unsubscribe.
type Subscription struct {
	channel string
	id      uint64
	router  *router
	once    sync.Once
}

// Channel returns the subscribed channel.
func (s *Subscription) Channel() string {
	return s.channel
}

// Close removes the handler. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.router.remove(s.channel, s.id)
	})
}

type route struct {
	id uint64
	fn Handler
}

// router fans envelopes out to handlers in subscription order.
type router struct {
	mu     sync.RWMutex
	nextID uint64
	routes map[string][]route
}

func newRouter() *router {
	return &router{routes: make(map[string][]route)}
}

func (r *router) add(channel string, fn Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.routes[channel] = append(r.routes[channel], route{id: id, fn: fn})
	return &Subscription{channel: channel, id: id, router: r}
}

func (r *router) remove(channel string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.routes[channel]
	for i, existing := range list {
		if existing.id != id {
			continue
		}
		next := make([]route, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.routes, channel)
		} else {
			r.routes[channel] = next
		}
		return
	}
}

// dispatch calls handlers outside the lock so they may subscribe or unsubscribe.
func (r *router) dispatch(env proto.Envelope) int {
	r.mu.RLock()
	list := r.routes[env.Channel]
	r.mu.RUnlock()
	for _, rt := range list {
		rt.fn(env)
	}
	return len(list)
}
