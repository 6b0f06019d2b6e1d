// Package ws provides a live event stream over WebSocket. Connected UI
// clients join one (competition, class) group and receive the notable
// events dispatched for that class as JSON text frames.
package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub manages WebSocket connections and their group membership.
type Hub struct {
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *groupMessage
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

type groupMessage struct {
	group   string
	payload []byte
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *groupMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine; it returns when the
// context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("ws client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if clients, ok := h.groups[client.group]; ok {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.groups, client.group)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("ws client unregistered", zap.String("connID", client.connID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.groups[msg.group] {
				select {
				case client.send <- msg.payload:
				default:
					// Buffer full, schedule disconnect.
					go h.drop(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
	close(h.done)
}

// drop hands a client to the unregister loop. After shutdown nobody reads
// the channel anymore, so the send gives up instead of leaking the caller.
func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) joinGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.group = group

	h.logger.Debug("ws client joined group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// BroadcastEvent sends an event frame to all clients watching a group.
// Satisfies the dispatcher's Broadcaster interface. Never blocks the
// caller: the hub channel is buffered and a full queue drops the frame
// rather than stalling a poll pipeline.
func (h *Hub) BroadcastEvent(group string, payload []byte) {
	select {
	case h.broadcast <- &groupMessage{group: group, payload: payload}:
	default:
		h.logger.Warn("ws broadcast queue full, dropping event", zap.String("group", group))
	}
}
