package devserver

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

const clientBuffer = 256

// wsClient is one connected socket.
type wsClient struct {
	id       string
	userID   string
	userName string
	send     chan proto.Envelope
	limiter  *rate.Limiter
}

// hub fans broadcast envelopes out to every connected socket.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	log     *zerolog.Logger
}

func newHub(logger *zerolog.Logger) *hub {
	return &hub{
		clients: make(map[*wsClient]struct{}),
		log:     logger,
	}
}

// add registers c and reports whether it is the user's first socket.
func (h *hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	first := !h.onlineLocked(c.userID)
	h.clients[c] = struct{}{}
	return first
}

// remove unregisters c and reports whether it was the user's last socket.
func (h *hub) remove(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	return !h.onlineLocked(c.userID)
}

func (h *hub) onlineLocked(userID string) bool {
	for c := range h.clients {
		if c.userID == userID {
			return true
		}
	}
	return false
}

// broadcast queues env on every socket. Slow sockets drop the envelope.
func (h *hub) broadcast(env proto.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			h.log.Warn().Str("client_id", c.id).Str("channel", env.Channel).Msg("client buffer full, dropping envelope")
		}
	}
}

// count returns the number of connected sockets.
func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
