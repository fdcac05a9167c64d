// Package hub fans session events out to websocket monitor clients.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-tony/pkg/protocol"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 64
)

// Hub maintains the set of monitor clients and broadcasts events to them.
type Hub struct {
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// New creates a hub. Run must be started before clients connect.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "hub"),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is done, disconnecting
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("monitor connected", "client", c.id, "clients", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("monitor disconnected", "client", c.id, "clients", count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("dropped slow monitor", "client", c.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish broadcasts an event. It never blocks; events are dropped when
// the hub is backed up. A nil hub ignores events.
func (h *Hub) Publish(typ protocol.EventType, sessionID string, data any) {
	if h == nil {
		return
	}
	ev, err := protocol.NewEvent(typ, sessionID, data)
	if err != nil {
		h.logger.Warn("event encode failed", "type", typ, "error", err)
		return
	}
	msg, err := ev.Bytes()
	if err != nil {
		h.logger.Warn("event encode failed", "type", typ, "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("broadcast full, dropping event", "type", typ)
	}
}

// ClientCount returns the number of connected monitors.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
