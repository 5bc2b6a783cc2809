package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeduel/codeduel-backend/internal/ws"
)

// WebSocketHandler upgrades authenticated requests into hub connections.
type WebSocketHandler struct {
	hub *ws.Hub
}

func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

// HandleWebSocket is the WebSocket entry point.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("userId")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ws.ServeWs(h.hub, c.Writer, c.Request, userID.(string))
}
