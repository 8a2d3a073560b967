package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/farepact/farepact/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Message is a typed payload pushed to or received from a session.
type Message struct {
	Type      string                 `json:"type"`
	RideID    string                 `json:"ride_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Client is one connected passenger or driver session.
type Client struct {
	ID     string
	Role   string // "passenger" or "driver"
	Conn   *websocket.Conn
	Send   chan *Message
	Hub    *Hub
	rideID string
	mu     sync.RWMutex
}

// NewClient creates a client for an authenticated connection.
func NewClient(id, role string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:   id,
		Role: role,
		Conn: conn,
		Send: make(chan *Message, 256),
		Hub:  hub,
	}
}

// ReadPump pumps messages from the connection to the hub's handlers.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error: " + err.Error())
			}
			break
		}

		msg.Timestamp = time.Now()
		msg.UserID = c.ID
		c.Hub.HandleMessage(c, &msg)
	}
}

// WritePump pumps messages from the hub to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues a message without blocking; a session that cannot keep
// up is disconnected rather than stalling the sender.
func (c *Client) SendMessage(msg *Message) {
	select {
	case c.Send <- msg:
	default:
		c.Hub.Unregister <- c
	}
}

// SetRide associates the client with a ride room.
func (c *Client) SetRide(rideID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rideID = rideID
}

// GetRide returns the client's current ride room, or "".
func (c *Client) GetRide() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rideID
}
