package service

import (
	"context"

	"github.com/codeduel/codeduel-backend/internal/models"
	"github.com/codeduel/codeduel-backend/pkg/executor"
)

// Notifier fans events out to connected clients. Implemented by ws.Hub.
type Notifier interface {
	SendToUser(userID, msgType string, payload interface{})
	// SendToMatch delivers to every participant of the match except
	// exceptUserID (empty string means everyone).
	SendToMatch(matchID, exceptUserID, msgType string, payload interface{})
	RegisterMatch(matchID string, userIDs ...string)
	UnregisterMatch(matchID string)
	IsConnected(userID string) bool
}

// ProblemProvider is the problem-content collaborator.
type ProblemProvider interface {
	Random(ctx context.Context) (*models.Problem, error)
	ByID(ctx context.Context, id string) (*models.Problem, error)
}

// ResultRecorder is the write-once persistence collaborator for finished
// matches.
type ResultRecorder interface {
	Record(ctx context.Context, result *models.MatchResult) error
}

// UserProvider resolves verified user ids to their public profile.
type UserProvider interface {
	ByID(ctx context.Context, id string) (*models.User, error)
}

// Runner is the execution-sandbox collaborator.
type Runner interface {
	Execute(ctx context.Context, req executor.RunRequest) (*executor.RunResponse, error)
}
