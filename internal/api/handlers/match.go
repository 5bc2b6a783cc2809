package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeduel/codeduel-backend/internal/store"
)

// MatchHandler serves read-only match snapshots.
type MatchHandler struct {
	matches *store.MatchStore
}

func NewMatchHandler(matches *store.MatchStore) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// GetMatch returns the current state of a match. Finished matches stay
// readable until their record expires.
func (h *MatchHandler) GetMatch(c *gin.Context) {
	matchID := c.Param("id")

	match, err := h.matches.Get(c.Request.Context(), matchID)
	if err != nil {
		if errors.Is(err, store.ErrMatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Match not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch match"})
		return
	}

	c.JSON(http.StatusOK, match)
}
