// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

// Package hub fans live updates and notification signals out to
// connected dashboard clients over WebSocket.
package hub

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/tomtom215/fleetdeck/internal/logging"
	"github.com/tomtom215/fleetdeck/internal/metrics"
)

// Message types pushed to dashboard clients.
const (
	MessageTypePositions    = "positions"
	MessageTypeDevices      = "devices"
	MessageTypeEvents       = "events"
	MessageTypeNotification = "notification"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeFocus        = "focus"
)

// Message is the envelope for typed feed messages.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ErrBroadcastFull is returned when the broadcast queue is saturated and
// a message was dropped.
var ErrBroadcastFull = errors.New("broadcast channel full, message dropped")

// Hub maintains the set of connected clients and broadcasts payloads to
// them. Payloads are delivered to clients in client-id order so delivery
// is reproducible.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan interface{}
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// onFocus, when set, is invoked for each client focus message.
	focusMu sync.RWMutex
	onFocus func()
}

// NewHub creates a hub. Call Run (or supervise it) before registering
// clients.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan interface{}, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// SetFocusHandler registers the callback invoked when a dashboard client
// reports regaining focus.
func (h *Hub) SetFocusHandler(fn func()) {
	h.focusMu.Lock()
	defer h.focusMu.Unlock()
	h.onFocus = fn
}

func (h *Hub) handleFocus() {
	h.focusMu.RLock()
	fn := h.onFocus
	h.focusMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Run processes client lifecycle and broadcast traffic until the context
// is canceled. Lifecycle events take priority over broadcasts so client
// state is consistent before messages are delivered.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case payload := <-h.broadcast:
			h.broadcastToClients(payload)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.FeedClientsConnected.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("Feed client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.FeedClientsConnected.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("Feed client disconnected")
}

// BroadcastJSON queues a payload for delivery to every connected client.
// A saturated queue drops the payload rather than blocking the caller.
func (h *Hub) BroadcastJSON(v interface{}) error {
	select {
	case h.broadcast <- v:
		return nil
	default:
		logging.Warn().Msg("Feed broadcast channel full, dropping message")
		return ErrBroadcastFull
	}
}

// Broadcast queues a typed envelope message.
func (h *Hub) Broadcast(messageType string, data interface{}) error {
	return h.BroadcastJSON(Message{Type: messageType, Data: data})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastToClients delivers one payload to every client in id order.
// Clients with a full send queue are dropped; a stalled browser must not
// stall the feed.
func (h *Hub) broadcastToClients(payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- payload:
			metrics.FeedMessagesSent.Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.FeedClientsConnected.Set(float64(len(h.clients)))
	}
}

// closeAllClients closes every client in id order during shutdown.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}

	metrics.FeedClientsConnected.Set(0)
	logging.Info().Int("clients_closed", len(clients)).Msg("Feed hub stopped")
}

// String implements suture.Service naming.
func (h *Hub) String() string {
	return "feed-hub"
}

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.Run(ctx)
}
