// Nihontowatch - Japanese Sword Marketplace Engagement Analytics
// Copyright 2026 Nihontowatch
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nihontowatch/nihontowatch

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/nihontowatch/nihontowatch/internal/logging"
	"github.com/nihontowatch/nihontowatch/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down, for log
// filtering.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Hub maintains the set of active clients and broadcasts messages to
// them. It implements suture.Service via RunWithContext.
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan Message
	registerCh   chan *Client
	unregisterCh chan *Client
	mu           sync.RWMutex
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:    make(chan Message, 256),
		registerCh:   make(chan *Client),
		unregisterCh: make(chan *Client),
		clients:      make(map[*Client]bool),
	}
}

// Attach hands a new client to the hub's run loop. Detachment is not
// exposed; a client leaves when its read pump ends or the hub drops it.
func (h *Hub) Attach(client *Client) {
	h.registerCh <- client
}

// RunWithContext runs the hub until the context is canceled, then
// closes every connected client and returns ctx.Err().
//
// DETERMINISM: priority-based selection. When Go's select has multiple
// ready channels it picks randomly; checking shutdown, then lifecycle,
// then broadcast keeps client state consistent before messages flow.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown (non-blocking check)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle (non-blocking check)
		select {
		case client := <-h.registerCh:
			h.register(client)
			continue
		case client := <-h.unregisterCh:
			h.unregister(client)
			continue
		default:
		}

		// Priority 3: broadcast, or block until any event
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.registerCh:
			h.register(client)

		case client := <-h.unregisterCh:
			h.unregister(client)

		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(count))
	logging.Info().Int("total_clients", count).Str("session", client.sessionID).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(count))
	logging.Info().Int("total_clients", count).Str("session", client.sessionID).Msg("websocket client disconnected")
}

// broadcastToClients delivers a message to every client in client-id
// order. DETERMINISM: sorted iteration replaces random map order so
// delivery sequence is reproducible in tests. A client whose send
// buffer is full is dropped rather than allowed to stall the hub.
func (h *Hub) broadcastToClients(message Message) {
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
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WebSocketClients.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("dropped slow websocket clients")
	}
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.ClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(shutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// closeAllClients closes clients in id order for consistent shutdown.
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
	metrics.WebSocketClients.Set(0)
}

// BroadcastJSON queues a typed message for every client. Messages are
// dropped, not queued unboundedly, when the broadcast buffer is full.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	message := Message{
		Type: messageType,
		Data: data,
	}

	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
