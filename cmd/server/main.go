package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeduel/codeduel-backend/internal/api"
	"github.com/codeduel/codeduel-backend/internal/config"
	"github.com/codeduel/codeduel-backend/internal/repository"
	"github.com/codeduel/codeduel-backend/internal/service"
	"github.com/codeduel/codeduel-backend/internal/store"
	"github.com/codeduel/codeduel-backend/internal/ws"
	"github.com/codeduel/codeduel-backend/pkg/database"
	"github.com/codeduel/codeduel-backend/pkg/executor"
	"github.com/codeduel/codeduel-backend/pkg/logger"
	"github.com/codeduel/codeduel-backend/pkg/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting CodeDuel Backend",
		"port", cfg.Port,
		"env", cfg.Env,
	)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	logger.Info("Database connection established")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", "error", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}

	logger.Info("Redis connection established")

	// Match records outlive the match itself so results stay readable;
	// presence pointers are a safety net against crashed instances.
	matchTTL := cfg.MatchTimeout + time.Hour
	queue := store.NewQueue(redisClient)
	matches := store.NewMatchStore(redisClient, matchTTL)
	presence := store.NewPresence(redisClient, matchTTL)

	problemRepo := repository.NewProblemRepository(db)
	userRepo := repository.NewUserRepository(db)
	resultRepo := repository.NewResultRepository(db)

	hub := ws.NewHub()
	go hub.Run()

	runner := executor.NewClient(cfg.SandboxURL, cfg.SandboxTimeout)
	limiter := ratelimit.NewRateLimiter(cfg.SubmitBurst, cfg.SubmitRefillRate)
	bots := service.NewBotEngine(hub, cfg.BotBaseSolveTime)

	gameService := service.NewGameService(
		queue,
		matches,
		presence,
		problemRepo,
		userRepo,
		resultRepo,
		runner,
		hub,
		bots,
		limiter,
		cfg.MatchTimeout,
		cfg.CleanupGrace,
		cfg.SandboxTimeout,
	)

	// Break the construction cycles: the hub feeds events to the game
	// service, the bot engine reports completions back to it.
	hub.SetHandler(gameService)
	bots.SetFinisher(gameService)

	coordinator := service.NewCoordinator(
		queue,
		matches,
		problemRepo,
		hub,
		bots,
		gameService,
		cfg.TickInterval,
		cfg.BotTriggerAfter,
	)
	coordinator.Start()
	defer coordinator.Stop()

	logger.Info("Matchmaking coordinator started",
		"tickInterval", cfg.TickInterval,
		"botTriggerAfter", cfg.BotTriggerAfter,
	)

	router := api.SetupRouter(cfg, hub, matches)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	bots.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
