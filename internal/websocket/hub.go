// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/models"
)

// Client message types.
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// broadcast is a message plus the server it concerns. serverID is empty for
// messages every client receives.
type broadcast struct {
	serverID string
	msg      models.LiveMessage
}

// Hub keeps the set of live feed clients and fans messages out to them. It
// satisfies presence.Notifier and failover.ModeNotifier.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	doneOnce   sync.Once
	mu         sync.RWMutex
}

// NewHub creates a hub. Nothing is delivered until RunWithContext.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// RunWithContext owns the client set until ctx is done, then closes every
// client and returns ctx.Err().
//
// Lifecycle events are drained before broadcasts so a client registered
// before a message is always included in it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	defer h.doneOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case b := <-h.broadcast:
			h.deliver(b)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.LiveClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Str("server_filter", c.serverID).Msg("[live] Client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.LiveClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("[live] Client disconnected")
}

// deliver sends b to every matching client in id order. A client whose
// buffer is full is dropped.
func (h *Hub) deliver(b broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.sortedLocked()
	for _, c := range clients {
		if !c.wants(b.serverID) {
			continue
		}
		select {
		case c.send <- b.msg:
		default:
			close(c.send)
			delete(h.clients, c)
			logging.Warn().Uint64("client_id", c.id).Msg("[live] Client too slow, dropped")
		}
	}
	metrics.LiveClients.Set(float64(len(h.clients)))
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := h.sortedLocked()
	for _, c := range clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	metrics.LiveClients.Set(0)
	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", len(clients)).
		Msg("[live] Hub stopped")
}

func (h *Hub) sortedLocked() []*Client {
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (h *Hub) enqueue(b broadcast) {
	select {
	case h.broadcast <- b:
	default:
		logging.Warn().Str("message_type", b.msg.Type).Msg("[live] Broadcast channel full, dropping message")
	}
}

// NotifyActivity broadcasts ev to clients watching its server.
func (h *Hub) NotifyActivity(_ context.Context, ev models.ActivityEvent) {
	h.enqueue(broadcast{
		serverID: ev.ServerID,
		msg:      models.LiveMessage{Type: models.LiveActivity, Data: ev},
	})
}

// NotifyModeChange broadcasts a transport mode change to every client.
func (h *Hub) NotifyModeChange(_ context.Context, change models.ModeChange) {
	h.enqueue(broadcast{msg: models.LiveMessage{Type: models.LiveModeChanged, Data: change}})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// join hands c to the run loop. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
