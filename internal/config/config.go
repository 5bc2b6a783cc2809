package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// CORS
	CORSAllowedOrigins []string

	// Matchmaking
	TickInterval    time.Duration
	BotTriggerAfter time.Duration

	// Match lifecycle
	MatchTimeout time.Duration
	CleanupGrace time.Duration

	// Bot engine
	BotBaseSolveTime time.Duration

	// Execution sandbox
	SandboxURL     string
	SandboxTimeout time.Duration

	// Submission throttle
	SubmitBurst      int64
	SubmitRefillRate int64
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:      parseDuration(getEnv("JWT_EXPIRATION", "24h"), 24*time.Hour),
		TickInterval:       parseDuration(getEnv("TICK_INTERVAL", "1s"), time.Second),
		BotTriggerAfter:    parseDuration(getEnv("BOT_TRIGGER_AFTER", "90s"), 90*time.Second),
		MatchTimeout:       parseDuration(getEnv("MATCH_TIMEOUT", "30m"), 30*time.Minute),
		CleanupGrace:       parseDuration(getEnv("CLEANUP_GRACE", "60s"), 60*time.Second),
		BotBaseSolveTime:   parseDuration(getEnv("BOT_BASE_SOLVE_TIME", "3m"), 3*time.Minute),
		SandboxURL:         getEnv("SANDBOX_URL", "http://localhost:8081"),
		SandboxTimeout:     parseDuration(getEnv("SANDBOX_TIMEOUT", "10s"), 10*time.Second),
		SubmitBurst:        parseInt64(getEnv("SUBMIT_BURST", "3"), 3),
		SubmitRefillRate:   parseInt64(getEnv("SUBMIT_REFILL_RATE", "1"), 1),
		CORSAllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"), ","),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
