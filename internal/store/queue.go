package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeduel/codeduel-backend/internal/models"
)

var (
	ErrAlreadyQueued = errors.New("user already queued")
	ErrNotEnough     = errors.New("not enough queued players")
)

const (
	queueKey   = "duel:queue"
	membersKey = "duel:queue:members"
)

// Queue is the FIFO waiting list backed by a Redis list plus a companion
// membership set for O(1) dedup. Every mutation is a single Lua script so
// that concurrent scheduler pops and client dequeues never interleave.
type Queue struct {
	client *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// enqueueScript appends the entry unless the user id is already a member.
// Returns -1 on duplicate, otherwise the 1-indexed position.
var enqueueScript = redis.NewScript(`
	if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
		return -1
	end
	redis.call('SADD', KEYS[2], ARGV[1])
	return redis.call('RPUSH', KEYS[1], ARGV[2])
`)

// removeScript drops the member and its list entry in one step.
var removeScript = redis.NewScript(`
	if redis.call('SREM', KEYS[2], ARGV[1]) == 0 then
		return 0
	end
	local items = redis.call('LRANGE', KEYS[1], 0, -1)
	for i, item in ipairs(items) do
		if cjson.decode(item).userId == ARGV[1] then
			redis.call('LREM', KEYS[1], 1, item)
			return 1
		end
	end
	return 0
`)

// popPairScript removes the two oldest entries, or nothing if fewer than
// two are present. Never leaves a lone entry popped.
var popPairScript = redis.NewScript(`
	if redis.call('LLEN', KEYS[1]) < 2 then
		return nil
	end
	local a = redis.call('LPOP', KEYS[1])
	local b = redis.call('LPOP', KEYS[1])
	redis.call('SREM', KEYS[2], cjson.decode(a).userId)
	redis.call('SREM', KEYS[2], cjson.decode(b).userId)
	return {a, b}
`)

// pushFrontScript returns a popped entry to the head, restoring its
// membership. Used when a popped player's partner turns out to be dead.
var pushFrontScript = redis.NewScript(`
	redis.call('SADD', KEYS[2], ARGV[1])
	redis.call('LPUSH', KEYS[1], ARGV[2])
	return redis.call('LLEN', KEYS[1])
`)

// Enqueue appends the entry and returns its 1-indexed position.
// ErrAlreadyQueued if the user id is present.
func (q *Queue) Enqueue(ctx context.Context, entry *models.QueueEntry) (int, error) {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	pos, err := enqueueScript.Run(ctx, q.client, []string{queueKey, membersKey}, entry.UserID, data).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue: %w", err)
	}
	if pos == -1 {
		return 0, ErrAlreadyQueued
	}

	return pos, nil
}

// Remove atomically takes the user out of the queue. Returns whether an
// entry was actually removed.
func (q *Queue) Remove(ctx context.Context, userID string) (bool, error) {
	n, err := removeScript.Run(ctx, q.client, []string{queueKey, membersKey}, userID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to remove from queue: %w", err)
	}
	return n == 1, nil
}

// PopPair atomically removes the two oldest entries in FIFO order.
// ErrNotEnough when fewer than two players are waiting.
func (q *Queue) PopPair(ctx context.Context) (*models.QueueEntry, *models.QueueEntry, error) {
	result, err := popPairScript.Run(ctx, q.client, []string{queueKey, membersKey}).Result()
	if err == redis.Nil || result == nil {
		return nil, nil, ErrNotEnough
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pop pair: %w", err)
	}

	raw, ok := result.([]interface{})
	if !ok || len(raw) != 2 {
		return nil, nil, fmt.Errorf("unexpected pop pair reply: %v", result)
	}

	a, err := decodeEntry(raw[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := decodeEntry(raw[1])
	if err != nil {
		return nil, nil, err
	}

	return a, b, nil
}

// PushFront returns an entry to the head of the queue, preserving its
// original-ish position.
func (q *Queue) PushFront(ctx context.Context, entry *models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	if err := pushFrontScript.Run(ctx, q.client, []string{queueKey, membersKey}, entry.UserID, data).Err(); err != nil {
		return fmt.Errorf("failed to push front: %w", err)
	}
	return nil
}

// Entries returns the full queue in FIFO order. Read-only.
func (q *Queue) Entries(ctx context.Context) ([]*models.QueueEntry, error) {
	items, err := q.client.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	entries := make([]*models.QueueEntry, 0, len(items))
	for _, item := range items {
		var entry models.QueueEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

// Len returns the number of waiting players.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, queueKey).Result()
}

// Position returns the 1-indexed position of the user, or 0 if absent.
func (q *Queue) Position(ctx context.Context, userID string) (int, error) {
	entries, err := q.Entries(ctx)
	if err != nil {
		return 0, err
	}

	for i, entry := range entries {
		if entry.UserID == userID {
			return i + 1, nil
		}
	}
	return 0, nil
}

func decodeEntry(raw interface{}) (*models.QueueEntry, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected queue entry type %T", raw)
	}

	var entry models.QueueEntry
	if err := json.Unmarshal([]byte(s), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue entry: %w", err)
	}
	return &entry, nil
}
