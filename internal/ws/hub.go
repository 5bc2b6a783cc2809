package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/codeduel/codeduel-backend/internal/models"
)

// SessionHandler receives connection lifecycle and inbound client events.
// Implemented by service.GameService.
type SessionHandler interface {
	HandleConnect(userID, connID string)
	HandleDisconnect(userID, connID string)
	HandleEvent(userID string, event models.InboundEvent)
}

// Hub maps user ids to live connections and match ids to their explicit
// subscriber sets. Room membership does not survive a reconnect on its
// own: the session handler re-attaches users to matches explicitly.
type Hub struct {
	clients map[string]*Client
	matches map[string]map[string]struct{}
	mu      sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client

	handler SessionHandler
	logger  *zap.Logger
}

// Message is an outbound event. Routing fields are not serialized.
type Message struct {
	UserID  string      `json:"-"` // direct recipient
	MatchID string      `json:"-"` // fan out to a match's subscribers
	Except  string      `json:"-"` // skipped during match fan-out
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func NewHub() *Hub {
	logger, _ := zap.NewProduction()
	return &Hub{
		clients:    make(map[string]*Client),
		matches:    make(map[string]map[string]struct{}),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// SetHandler wires the session handler (set once at startup, before Run).
func (h *Hub) SetHandler(handler SessionHandler) {
	h.handler = handler
}

// Run processes register/unregister/broadcast until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.dispatch(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if old, exists := h.clients[client.userID]; exists {
		close(old.send)
		h.logger.Info("Replaced existing connection", zap.String("userId", client.userID))
	}
	h.clients[client.userID] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client registered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))

	// Presence and match re-attach hit the store; keep the hub loop free.
	if h.handler != nil {
		go h.handler.HandleConnect(client.userID, client.connID)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	current, exists := h.clients[client.userID]
	// A replaced connection's pump also unregisters; only a drop of the
	// current connection counts as the user going away.
	if !exists || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.userID)
	close(client.send)
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client unregistered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))

	if h.handler != nil {
		go h.handler.HandleDisconnect(client.userID, client.connID)
	}
}

func (h *Hub) dispatch(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if message.MatchID != "" {
		for userID := range h.matches[message.MatchID] {
			if userID == message.Except {
				continue
			}
			h.deliver(userID, message)
		}
		return
	}

	if message.UserID != "" {
		h.deliver(message.UserID, message)
	}
}

// deliver assumes h.mu is held (read).
func (h *Hub) deliver(userID string, message *Message) {
	client, exists := h.clients[userID]
	if !exists {
		return
	}

	select {
	case client.send <- message:
	default:
		h.logger.Warn("Client send channel full, dropping connection",
			zap.String("userId", userID))
		go func(c *Client) {
			h.unregister <- c
		}(client)
	}
}

// SendToUser queues a direct event.
func (h *Hub) SendToUser(userID, msgType string, payload interface{}) {
	h.broadcast <- &Message{UserID: userID, Type: msgType, Payload: payload}
}

// SendToMatch fans an event out to the match's subscribers, skipping
// exceptUserID when non-empty.
func (h *Hub) SendToMatch(matchID, exceptUserID, msgType string, payload interface{}) {
	h.broadcast <- &Message{MatchID: matchID, Except: exceptUserID, Type: msgType, Payload: payload}
}

// RegisterMatch adds the users to the match's subscriber set, creating it
// on first use. Called at match creation and again on every rejoin.
func (h *Hub) RegisterMatch(matchID string, userIDs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, exists := h.matches[matchID]
	if !exists {
		set = make(map[string]struct{}, 2)
		h.matches[matchID] = set
	}
	for _, userID := range userIDs {
		set[userID] = struct{}{}
	}
}

// UnregisterMatch drops the match's subscriber set.
func (h *Hub) UnregisterMatch(matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.matches, matchID)
}

// IsConnected reports whether the user has a live connection on this
// instance.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[userID]
	return exists
}
