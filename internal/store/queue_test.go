package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeduel/codeduel-backend/internal/models"
)

func setupRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // test DB
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	client.FlushDB(ctx)
	return client
}

func testEntry(userID string) *models.QueueEntry {
	return &models.QueueEntry{
		UserID:      userID,
		ConnID:      "conn-" + userID,
		DisplayName: "Player " + userID,
		Rating:      1200,
		EnqueuedAt:  time.Now().UTC(),
	}
}

func TestQueue_EnqueueFIFO(t *testing.T) {
	client := setupRedis(t)
	defer client.Close()

	ctx := context.Background()
	queue := NewQueue(client)

	for i := 1; i <= 5; i++ {
		pos, err := queue.Enqueue(ctx, testEntry(fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
		assert.Equal(t, i, pos)
	}

	length, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), length)

	// Oldest pair first
	a, b, err := queue.PopPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, "u2", b.UserID)

	a, b, err = queue.PopPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u3", a.UserID)
	assert.Equal(t, "u4", b.UserID)
}

func TestQueue_Dedup(t *testing.T) {
	client := setupRedis(t)
	defer client.Close()

	ctx := context.Background()
	queue := NewQueue(client)

	_, err := queue.Enqueue(ctx, testEntry("u1"))
	require.NoError(t, err)

	_, err = queue.Enqueue(ctx, testEntry("u1"))
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	length, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestQueue_PopPairNotEnough(t *testing.T) {
	client := setupRedis(t)
	defer client.Close()

	ctx := context.Background()
	queue := NewQueue(client)

	_, _, err := queue.PopPair(ctx)
	assert.ErrorIs(t, err, ErrNotEnough)

	_, err = queue.Enqueue(ctx, testEntry("u1"))
	require.NoError(t, err)

	// A lone entry is never popped
	_, _, err = queue.PopPair(ctx)
	assert.ErrorIs(t, err, ErrNotEnough)

	length, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestQueue_Remove(t *testing.T) {
	client := setupRedis(t)
	defer client.Close()

	ctx := context.Background()
	queue := NewQueue(client)

	_, err := queue.Enqueue(ctx, testEntry("u1"))
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, testEntry("u2"))
	require.NoError(t, err)

	removed, err := queue.Remove(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, removed)

	// Second remove is a no-op
	removed, err = queue.Remove(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, removed)

	// Removal frees the slot for a re-join
	_, err = queue.Enqueue(ctx, testEntry("u1"))
	require.NoError(t, err)

	pos, err := queue.Position(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
}

func TestQueue_PushFront(t *testing.T) {
	client := setupRedis(t)
	defer client.Close()

	ctx := context.Background()
	queue := NewQueue(client)

	_, err := queue.Enqueue(ctx, testEntry("u1"))
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, testEntry("u2"))
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, testEntry("u3"))
	require.NoError(t, err)

	a, b, err := queue.PopPair(ctx)
	require.NoError(t, err)

	// u2's partner turned out dead: u2 goes back to the head
	_ = a
	require.NoError(t, queue.PushFront(ctx, b))

	pos, err := queue.Position(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	// And pairs ahead of u3 on the next pop
	a, b, err = queue.PopPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u2", a.UserID)
	assert.Equal(t, "u3", b.UserID)
}

func TestQueue_Entries(t *testing.T) {
	client := setupRedis(t)
	defer client.Close()

	ctx := context.Background()
	queue := NewQueue(client)

	old := testEntry("u1")
	old.EnqueuedAt = time.Now().UTC().Add(-2 * time.Minute)
	_, err := queue.Enqueue(ctx, old)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, testEntry("u2"))
	require.NoError(t, err)

	entries, err := queue.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "u1", entries[0].UserID)
	assert.Greater(t, entries[0].WaitedFor(time.Now()), 90*time.Second)
	assert.Less(t, entries[1].WaitedFor(time.Now()), time.Second)
}
