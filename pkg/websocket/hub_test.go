package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	return hub
}

func connect(t *testing.T, hub *Hub, id, role string) *Client {
	t.Helper()
	client := NewClient(id, role, nil, hub)
	hub.Register <- client
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.clients[id] == client
	}, time.Second, 5*time.Millisecond)
	return client
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := startHub(t)

	passenger := connect(t, hub, "p1", "passenger")
	connect(t, hub, "d1", "driver")
	assert.Equal(t, 2, hub.ClientCount())

	hub.Unregister <- passenger
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// The send channel is closed so the write pump exits.
	select {
	case _, open := <-passenger.Send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed on unregister")
	}
}

func TestHubReconnectReplacesSession(t *testing.T) {
	hub := startHub(t)

	first := connect(t, hub, "d1", "driver")
	second := connect(t, hub, "d1", "driver")

	assert.Equal(t, 1, hub.ClientCount())

	_, open := <-first.Send
	assert.False(t, open, "stale session should have its send channel closed")

	// Unregistering the stale session must not evict the replacement.
	hub.Unregister <- first
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	hub.SendToUser("d1", &Message{Type: "ping"})
	select {
	case msg := <-second.Send:
		assert.Equal(t, "ping", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("replacement session did not receive the message")
	}
}

func TestHubRideRooms(t *testing.T) {
	hub := startHub(t)

	passenger := connect(t, hub, "p1", "passenger")
	driver := connect(t, hub, "d1", "driver")
	outsider := connect(t, hub, "p2", "passenger")

	hub.JoinRide("p1", "ride-1")
	hub.JoinRide("d1", "ride-1")
	assert.Len(t, hub.ClientsInRide("ride-1"), 2)

	hub.SendToRide("ride-1", &Message{Type: "ride_update"})

	for _, c := range []*Client{passenger, driver} {
		select {
		case msg := <-c.Send:
			assert.Equal(t, "ride_update", msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("client %s missed the room broadcast", c.ID)
		}
	}
	select {
	case msg := <-outsider.Send:
		t.Fatalf("outsider received %q", msg.Type)
	default:
	}

	hub.LeaveRide("d1", "ride-1")
	assert.Len(t, hub.ClientsInRide("ride-1"), 1)
	assert.Empty(t, driver.GetRide())
}

func TestHubUnregisterCleansRoom(t *testing.T) {
	hub := startHub(t)

	passenger := connect(t, hub, "p1", "passenger")
	hub.JoinRide("p1", "ride-1")

	hub.Unregister <- passenger
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, hub.ClientsInRide("ride-1"))
}

func TestHubMessageRouting(t *testing.T) {
	hub := startHub(t)
	client := connect(t, hub, "d1", "driver")

	got := make(chan *Message, 1)
	hub.RegisterHandler("location_update", func(c *Client, msg *Message) {
		got <- msg
	})

	hub.HandleMessage(client, &Message{Type: "unknown_type"})
	hub.HandleMessage(client, &Message{Type: "location_update", Data: map[string]interface{}{"latitude": 37.7}})

	select {
	case msg := <-got:
		assert.Equal(t, 37.7, msg.Data["latitude"])
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestSendToAbsentUserIsNoop(t *testing.T) {
	hub := startHub(t)
	hub.SendToUser("nobody", &Message{Type: "ping"})
	assert.Equal(t, 0, hub.ClientCount())
}
