package ws

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeduel/codeduel-backend/internal/models"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []models.InboundEvent
}

func (h *recordingHandler) HandleConnect(userID, connID string)    {}
func (h *recordingHandler) HandleDisconnect(userID, connID string) {}

func (h *recordingHandler) HandleEvent(userID string, event models.InboundEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) recorded() []models.InboundEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.InboundEvent(nil), h.events...)
}

func TestHub_ReplaceConnection(t *testing.T) {
	hub := NewHub()

	old := NewClient(hub, nil, "u1")
	fresh := NewClient(hub, nil, "u1")

	hub.registerClient(old)
	hub.registerClient(fresh)

	// The replaced connection's send channel is closed.
	select {
	case _, open := <-old.send:
		assert.False(t, open)
	default:
		t.Fatal("old send channel should be closed")
	}

	// Delivery goes to the current connection.
	hub.dispatch(&Message{UserID: "u1", Type: "ping"})
	select {
	case msg := <-fresh.send:
		assert.Equal(t, "ping", msg.Type)
	default:
		t.Fatal("expected delivery to the fresh connection")
	}

	// The old pump's unregister fires after replacement; it must not
	// drop the live connection.
	hub.unregisterClient(old)
	assert.True(t, hub.IsConnected("u1"))

	hub.dispatch(&Message{UserID: "u1", Type: "pong"})
	select {
	case msg := <-fresh.send:
		assert.Equal(t, "pong", msg.Type)
	default:
		t.Fatal("expected delivery after the stale unregister")
	}
}

func TestHub_MatchFanOutSkipsExcept(t *testing.T) {
	hub := NewHub()

	a := NewClient(hub, nil, "u1")
	b := NewClient(hub, nil, "u2")
	hub.registerClient(a)
	hub.registerClient(b)
	hub.RegisterMatch("m1", "u1", "u2")

	hub.dispatch(&Message{MatchID: "m1", Except: "u1", Type: "opponent_progress"})

	select {
	case msg := <-b.send:
		assert.Equal(t, "opponent_progress", msg.Type)
	default:
		t.Fatal("expected fan-out to u2")
	}

	select {
	case <-a.send:
		t.Fatal("excepted user must not receive the fan-out")
	default:
	}

	hub.UnregisterMatch("m1")
	hub.dispatch(&Message{MatchID: "m1", Type: "opponent_progress"})
	select {
	case <-b.send:
		t.Fatal("no delivery after the match set is gone")
	default:
	}
}

func TestClient_EventLoopPreservesOrder(t *testing.T) {
	hub := NewHub()
	handler := &recordingHandler{}
	hub.SetHandler(handler)

	client := NewClient(hub, nil, "u1")
	go client.eventLoop()

	const n = 20
	for i := 0; i < n; i++ {
		client.events <- models.InboundEvent{Type: fmt.Sprintf("event-%d", i)}
	}
	close(client.events)

	require.Eventually(t, func() bool {
		return len(handler.recorded()) == n
	}, 2*time.Second, 10*time.Millisecond)

	for i, event := range handler.recorded() {
		assert.Equal(t, fmt.Sprintf("event-%d", i), event.Type)
	}
}
