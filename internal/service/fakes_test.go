package service

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/codeduel/codeduel-backend/internal/models"
	"github.com/codeduel/codeduel-backend/pkg/executor"
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

type sentMessage struct {
	UserID  string
	MatchID string
	Except  string
	Type    string
	Payload interface{}
}

// fakeNotifier records everything the services would have pushed to
// clients and doubles as the liveness oracle.
type fakeNotifier struct {
	mu        sync.Mutex
	messages  []sentMessage
	connected map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{connected: make(map[string]bool)}
}

func (n *fakeNotifier) SendToUser(userID, msgType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, sentMessage{UserID: userID, Type: msgType, Payload: payload})
}

func (n *fakeNotifier) SendToMatch(matchID, exceptUserID, msgType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, sentMessage{MatchID: matchID, Except: exceptUserID, Type: msgType, Payload: payload})
}

func (n *fakeNotifier) RegisterMatch(matchID string, userIDs ...string) {}

func (n *fakeNotifier) UnregisterMatch(matchID string) {}

func (n *fakeNotifier) IsConnected(userID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected[userID]
}

func (n *fakeNotifier) setConnected(userID string, up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected[userID] = up
}

// sentTo returns the direct messages of one type delivered to a user.
func (n *fakeNotifier) sentTo(userID, msgType string) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []sentMessage
	for _, m := range n.messages {
		if m.UserID == userID && m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// byType returns every recorded message of one type, direct or fan-out.
func (n *fakeNotifier) byType(msgType string) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []sentMessage
	for _, m := range n.messages {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeProblems struct {
	problem *models.Problem
}

func (p *fakeProblems) Random(ctx context.Context) (*models.Problem, error) {
	return p.problem, nil
}

func (p *fakeProblems) ByID(ctx context.Context, id string) (*models.Problem, error) {
	return p.problem, nil
}

type fakeUsers struct {
	users map[string]*models.User
}

func newFakeUsers(ids ...string) *fakeUsers {
	f := &fakeUsers{users: make(map[string]*models.User)}
	for _, id := range ids {
		f.users[id] = &models.User{ID: id, DisplayName: "Player " + id, Rating: 1200}
	}
	return f
}

func (f *fakeUsers) ByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return &models.User{ID: id, DisplayName: "Player " + id, Rating: 1200}, nil
}

type fakeResults struct {
	mu      sync.Mutex
	records []*models.MatchResult
}

func (f *fakeResults) Record(ctx context.Context, result *models.MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, result)
	return nil
}

func (f *fakeResults) recorded() []*models.MatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.MatchResult(nil), f.records...)
}

type fakeRunner struct {
	mu        sync.Mutex
	resp      *executor.RunResponse
	err       error
	onExecute func()
}

func (f *fakeRunner) Execute(ctx context.Context, req executor.RunRequest) (*executor.RunResponse, error) {
	f.mu.Lock()
	resp, err, hook := f.resp, f.err, f.onExecute
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return resp, err
}

func (f *fakeRunner) respond(resp *executor.RunResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp = resp
	f.err = err
}

func passingResponse(cases int) *executor.RunResponse {
	resp := &executor.RunResponse{}
	for i := 0; i < cases; i++ {
		resp.Cases = append(resp.Cases, executor.CaseVerdict{Passed: true, RuntimeMs: 5})
	}
	return resp
}

func failingResponse(passed, total int) *executor.RunResponse {
	resp := &executor.RunResponse{}
	for i := 0; i < total; i++ {
		resp.Cases = append(resp.Cases, executor.CaseVerdict{Passed: i < passed, RuntimeMs: 5})
	}
	return resp
}

func sampleProblem() *models.Problem {
	return &models.Problem{
		ID:          "prob-1",
		Title:       "Two Sum",
		Description: "Find two numbers adding up to the target.",
		Difficulty:  "medium",
		Rating:      1200,
		TimeLimitMs: 2000,
		TestCases: []models.TestCase{
			{ID: 0, Input: "1 2 3", Expected: "3"},
			{ID: 1, Input: "4 5 9", Expected: "9"},
			{ID: 2, Input: "7 7 14", Expected: "14", Hidden: true},
		},
	}
}
