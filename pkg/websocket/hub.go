// Package websocket maintains the live passenger and driver sessions and the
// per-ride rooms through which ride-state pushes reach both observers.
package websocket

import (
	"sync"

	"go.uber.org/zap"

	"github.com/farepact/farepact/pkg/logger"
)

// MessageHandler handles an inbound message of one type.
type MessageHandler func(*Client, *Message)

// Hub tracks connected clients and per-ride rooms.
type Hub struct {
	clients map[string]*Client
	rides   map[string]map[string]*Client

	Register   chan *Client
	Unregister chan *Client

	handlers map[string]MessageHandler
	mu       sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rides:      make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		handlers:   make(map[string]MessageHandler),
	}
}

// Run processes register/unregister requests. Call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Reconnect replaces the previous session for the same user.
	if existing, ok := h.clients[client.ID]; ok {
		close(existing.Send)
	}
	h.clients[client.ID] = client

	logger.Debug("websocket client registered",
		zap.String("user_id", client.ID),
		zap.String("role", client.Role),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[client.ID]; !ok || current != client {
		return
	}
	delete(h.clients, client.ID)

	if rideID := client.GetRide(); rideID != "" {
		if room, ok := h.rides[rideID]; ok {
			delete(room, client.ID)
			if len(room) == 0 {
				delete(h.rides, rideID)
			}
		}
	}

	close(client.Send)
	logger.Debug("websocket client unregistered", zap.String("user_id", client.ID))
}

// RegisterHandler installs the handler for one inbound message type.
func (h *Hub) RegisterHandler(msgType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[msgType] = handler
}

// HandleMessage routes an inbound message to its registered handler.
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	h.mu.RLock()
	handler, ok := h.handlers[msg.Type]
	h.mu.RUnlock()

	if ok {
		handler(client, msg)
	}
}

// JoinRide adds a connected client to a ride room.
func (h *Hub) JoinRide(clientID, rideID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	if _, ok := h.rides[rideID]; !ok {
		h.rides[rideID] = make(map[string]*Client)
	}
	h.rides[rideID][clientID] = client
	client.SetRide(rideID)
}

// LeaveRide removes a client from a ride room.
func (h *Hub) LeaveRide(clientID, rideID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rides[rideID]; ok {
		delete(room, clientID)
		if len(room) == 0 {
			delete(h.rides, rideID)
		}
	}
	if client, ok := h.clients[clientID]; ok {
		client.SetRide("")
	}
}

// SendToUser delivers a message to one connected user, if present.
func (h *Hub) SendToUser(userID string, msg *Message) {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()

	if ok {
		client.SendMessage(msg)
	}
}

// SendToRide delivers a message to every session in a ride room.
func (h *Hub) SendToRide(rideID string, msg *Message) {
	h.mu.RLock()
	room := h.rides[rideID]
	clients := make([]*Client, 0, len(room))
	for _, c := range room {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}

// ClientsInRide returns the sessions currently joined to a ride room.
func (h *Hub) ClientsInRide(rideID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0)
	for _, c := range h.rides[rideID] {
		out = append(out, c)
	}
	return out
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
