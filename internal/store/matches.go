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

var ErrMatchNotFound = errors.New("match not found")

func matchKey(matchID string) string {
	return fmt.Sprintf("duel:match:%s", matchID)
}

func userMatchKey(userID string) string {
	return fmt.Sprintf("duel:user:%s:match", userID)
}

// MatchStore holds in-flight match records plus userID->matchID pointers,
// all under a bounded TTL so abandoned records expire on their own.
//
// finishScript is the single correctness-bearing synchronization point of
// the system: the active->finished transition happens exactly once no
// matter how many callers race for it.
type MatchStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMatchStore creates the store. ttl should be the match timeout plus a
// grace buffer for clients to read the final state.
func NewMatchStore(client *redis.Client, ttl time.Duration) *MatchStore {
	return &MatchStore{client: client, ttl: ttl}
}

// finishScript: check-and-set active -> finished. Returns {0, record} if
// some other caller already finished the match, {1, record} if this call
// performed the transition.
var finishScript = redis.NewScript(`
	local raw = redis.call('GET', KEYS[1])
	if not raw then
		return nil
	end
	local m = cjson.decode(raw)
	if m.status ~= 'active' then
		return {0, raw}
	end
	m.status = 'finished'
	if ARGV[1] ~= '' then
		m.winnerId = ARGV[1]
	end
	m.reason = ARGV[2]
	m.finishedAt = ARGV[3]
	local out = cjson.encode(m)
	redis.call('SET', KEYS[1], out, 'KEEPTTL')
	return {1, out}
`)

// connScript rewrites the stored connection ref for one side on rejoin.
var connScript = redis.NewScript(`
	local raw = redis.call('GET', KEYS[1])
	if not raw then
		return 0
	end
	local m = cjson.decode(raw)
	if m.sideA.userId == ARGV[1] then
		m.sideA.connId = ARGV[2]
	elseif m.sideB.userId == ARGV[1] then
		m.sideB.connId = ARGV[2]
	else
		return 0
	end
	redis.call('SET', KEYS[1], cjson.encode(m), 'KEEPTTL')
	return 1
`)

// Create writes the match record and the user->match pointers for the
// human sides, all with the bounded TTL, in one pipeline.
func (s *MatchStore) Create(ctx context.Context, match *models.Match) error {
	data, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to marshal match: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, matchKey(match.ID), data, s.ttl)
	if !match.SideA.Bot {
		pipe.Set(ctx, userMatchKey(match.SideA.UserID), match.ID, s.ttl)
	}
	if !match.SideB.Bot {
		pipe.Set(ctx, userMatchKey(match.SideB.UserID), match.ID, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create match record: %w", err)
	}
	return nil
}

// Get returns the match record, ErrMatchNotFound if absent or expired.
func (s *MatchStore) Get(ctx context.Context, matchID string) (*models.Match, error) {
	raw, err := s.client.Get(ctx, matchKey(matchID)).Result()
	if err == redis.Nil {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	return decodeMatch(raw)
}

// GetByUser resolves the user->match pointer and loads the record.
func (s *MatchStore) GetByUser(ctx context.Context, userID string) (*models.Match, error) {
	matchID, err := s.client.Get(ctx, userMatchKey(userID)).Result()
	if err == redis.Nil {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user match: %w", err)
	}

	return s.Get(ctx, matchID)
}

// FinishIfActive performs the atomic first-wins transition. winnerID may
// be empty for a timed-out draw. The returned bool reports whether this
// caller performed the transition; the returned match is the record after
// the transition either way.
func (s *MatchStore) FinishIfActive(ctx context.Context, matchID, winnerID, reason string) (bool, *models.Match, error) {
	finishedAt := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := finishScript.Run(ctx, s.client, []string{matchKey(matchID)}, winnerID, reason, finishedAt).Result()
	if err == redis.Nil || result == nil {
		return false, nil, ErrMatchNotFound
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to finish match: %w", err)
	}

	reply, ok := result.([]interface{})
	if !ok || len(reply) != 2 {
		return false, nil, fmt.Errorf("unexpected finish reply: %v", result)
	}

	won, ok := reply[0].(int64)
	if !ok {
		return false, nil, fmt.Errorf("unexpected finish flag: %v", reply[0])
	}

	raw, ok := reply[1].(string)
	if !ok {
		return false, nil, fmt.Errorf("unexpected finish record: %v", reply[1])
	}

	match, err := decodeMatch(raw)
	if err != nil {
		return false, nil, err
	}

	return won == 1, match, nil
}

// UpdateConnection rewrites the stored connection ref for one side.
// Returns false if the match is gone or the user is not a participant.
func (s *MatchStore) UpdateConnection(ctx context.Context, matchID, userID, connID string) (bool, error) {
	n, err := connScript.Run(ctx, s.client, []string{matchKey(matchID)}, userID, connID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to update connection: %w", err)
	}
	return n == 1, nil
}

// Delete reclaims the record and both pointers after the cleanup grace.
func (s *MatchStore) Delete(ctx context.Context, match *models.Match) error {
	keys := []string{matchKey(match.ID)}
	if !match.SideA.Bot {
		keys = append(keys, userMatchKey(match.SideA.UserID))
	}
	if !match.SideB.Bot {
		keys = append(keys, userMatchKey(match.SideB.UserID))
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete match: %w", err)
	}
	return nil
}

func decodeMatch(raw string) (*models.Match, error) {
	var match models.Match
	if err := json.Unmarshal([]byte(raw), &match); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}
	return &match, nil
}
