package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func presenceKey(userID string) string {
	return fmt.Sprintf("duel:presence:%s", userID)
}

// Presence maps user ids to their current connection id so that any
// instance can tell whether a user is reachable. Entries expire on their
// own; live connections keep touching them.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

// clearScript removes the pointer only if it still names this connection,
// so a disconnect of a stale socket never clobbers a fresh reconnect.
var clearScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Set records the user's current connection.
func (p *Presence) Set(ctx context.Context, userID, connID string) error {
	if err := p.client.Set(ctx, presenceKey(userID), connID, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// Touch extends the presence TTL.
func (p *Presence) Touch(ctx context.Context, userID string) error {
	return p.client.Expire(ctx, presenceKey(userID), p.ttl).Err()
}

// Get returns the connection id, or empty string if the user is offline.
func (p *Presence) Get(ctx context.Context, userID string) (string, error) {
	connID, err := p.client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get presence: %w", err)
	}
	return connID, nil
}

// Clear removes the pointer if it still belongs to connID.
func (p *Presence) Clear(ctx context.Context, userID, connID string) error {
	if err := clearScript.Run(ctx, p.client, []string{presenceKey(userID)}, connID).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}
