package api

import (
	"github.com/gin-gonic/gin"

	"github.com/codeduel/codeduel-backend/internal/api/handlers"
	"github.com/codeduel/codeduel-backend/internal/api/middleware"
	"github.com/codeduel/codeduel-backend/internal/config"
	"github.com/codeduel/codeduel-backend/internal/store"
	"github.com/codeduel/codeduel-backend/internal/ws"
)

// SetupRouter builds the HTTP surface. Gameplay happens over the
// WebSocket; the REST side is health plus read-only match lookup.
func SetupRouter(cfg *config.Config, hub *ws.Hub, matches *store.MatchStore) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	wsHandler := handlers.NewWebSocketHandler(hub)
	matchHandler := handlers.NewMatchHandler(matches)

	router.GET("/health", handlers.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ws", middleware.Auth(cfg), wsHandler.HandleWebSocket)

		matchRoutes := v1.Group("/matches")
		matchRoutes.Use(middleware.Auth(cfg))
		{
			matchRoutes.GET("/:id", matchHandler.GetMatch)
		}
	}

	return router
}
