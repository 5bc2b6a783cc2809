package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codeduel/codeduel-backend/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Submissions carry full
	// source files, so this is generous.
	maxMessageSize = 256 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins in production
		return true
	},
}

// Client is one live websocket connection bound to a verified user id.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan *Message
	events chan models.InboundEvent
	userID string
	connID string
	logger *zap.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	logger, _ := zap.NewProduction()
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan *Message, 256),
		events: make(chan models.InboundEvent, 64),
		userID: userID,
		connID: uuid.New().String(),
		logger: logger,
	}
}

// readPump reads inbound events and queues them for the event loop.
// Malformed frames produce an error event; the pump itself survives.
func (c *Client) readPump() {
	defer func() {
		close(c.events)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error",
					zap.String("userId", c.userID),
					zap.Error(err))
			}
			break
		}

		var event models.InboundEvent
		if err := json.Unmarshal(data, &event); err != nil || event.Type == "" {
			// Route through the hub: the send channel may already be
			// closed if a newer connection replaced this one.
			c.hub.SendToUser(c.userID, models.EventError, models.ErrorPayload{
				Code:    models.CodeBadRequest,
				Message: "malformed event",
			})
			continue
		}

		c.events <- event
	}
}

// eventLoop feeds inbound events to the session handler one at a time,
// so a client's events are handled in arrival order without tying up
// the read pump.
func (c *Client) eventLoop() {
	for event := range c.events {
		if c.hub.handler != nil {
			c.hub.handler.HandleEvent(c.userID, event)
		}
	}
}

// writePump pushes hub messages out and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.Error("Failed to marshal message",
					zap.String("userId", c.userID),
					zap.Error(err))
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("Failed to write message",
					zap.String("userId", c.userID),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and starts the client's pumps.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := NewClient(hub, conn, userID)
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
	go client.eventLoop()
}
