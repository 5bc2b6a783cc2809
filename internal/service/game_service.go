package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeduel/codeduel-backend/internal/models"
	"github.com/codeduel/codeduel-backend/internal/store"
	"github.com/codeduel/codeduel-backend/pkg/executor"
	"github.com/codeduel/codeduel-backend/pkg/ratelimit"
)

// GameService arbitrates live matches: it accepts submissions, runs them
// through the sandbox, and settles the first-correct-wins race through
// the store's check-and-set. It also owns the per-match timeout and
// delayed-cleanup timers.
type GameService struct {
	queue    *store.Queue
	matches  *store.MatchStore
	presence *store.Presence
	problems ProblemProvider
	users    UserProvider
	results  ResultRecorder
	runner   Runner
	notifier Notifier
	bots     *BotEngine
	elo      *EloService
	limiter  *ratelimit.RateLimiter
	logger   *zap.Logger

	matchTimeout   time.Duration
	cleanupGrace   time.Duration
	sandboxTimeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewGameService(
	queue *store.Queue,
	matches *store.MatchStore,
	presence *store.Presence,
	problems ProblemProvider,
	users UserProvider,
	results ResultRecorder,
	runner Runner,
	notifier Notifier,
	bots *BotEngine,
	limiter *ratelimit.RateLimiter,
	matchTimeout, cleanupGrace, sandboxTimeout time.Duration,
) *GameService {
	logger, _ := zap.NewProduction()
	return &GameService{
		queue:          queue,
		matches:        matches,
		presence:       presence,
		problems:       problems,
		users:          users,
		results:        results,
		runner:         runner,
		notifier:       notifier,
		bots:           bots,
		elo:            NewEloService(),
		limiter:        limiter,
		logger:         logger,
		matchTimeout:   matchTimeout,
		cleanupGrace:   cleanupGrace,
		sandboxTimeout: sandboxTimeout,
		timers:         make(map[string]*time.Timer),
	}
}

// HandleConnect records presence and, if the user holds an active match,
// re-attaches the connection to it. Full payload re-delivery only happens
// on an explicit rejoin_match request.
func (s *GameService) HandleConnect(userID, connID string) {
	ctx := context.Background()

	if err := s.presence.Set(ctx, userID, connID); err != nil {
		s.logger.Error("Failed to set presence", zap.String("userId", userID), zap.Error(err))
	}

	match, err := s.matches.GetByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrMatchNotFound) {
			s.logger.Error("Failed to look up active match on connect",
				zap.String("userId", userID), zap.Error(err))
		}
		return
	}

	if match.IsActive() {
		s.notifier.RegisterMatch(match.ID, userID)
		if _, err := s.matches.UpdateConnection(ctx, match.ID, userID, connID); err != nil {
			s.logger.Error("Failed to update match connection",
				zap.String("matchId", match.ID), zap.Error(err))
		}
	}
}

// HandleDisconnect treats a drop while queued as a plain dequeue and a
// drop mid-match as a forfeit in favor of the other side. The CAS makes
// a double-fire harmless.
func (s *GameService) HandleDisconnect(userID, connID string) {
	ctx := context.Background()

	if err := s.presence.Clear(ctx, userID, connID); err != nil {
		s.logger.Error("Failed to clear presence", zap.String("userId", userID), zap.Error(err))
	}

	if removed, err := s.queue.Remove(ctx, userID); err != nil {
		s.logger.Error("Failed to dequeue on disconnect", zap.String("userId", userID), zap.Error(err))
	} else if removed {
		s.logger.Info("Removed disconnected user from queue", zap.String("userId", userID))
		return
	}

	match, err := s.matches.GetByUser(ctx, userID)
	if err != nil || !match.IsActive() {
		return
	}

	opponent := match.OpponentOf(userID)
	s.finish(ctx, match.ID, opponent.UserID, models.ReasonDisconnected, "")
}

// HandleEvent processes one inbound client event. The connection layer
// calls it from a per-connection worker, so a client's events run in
// arrival order and a slow sandbox call never blocks other clients or
// the socket pumps. A panic in one handler is contained here.
func (s *GameService) HandleEvent(userID string, event models.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in event handler",
				zap.String("userId", userID),
				zap.String("type", event.Type),
				zap.Any("panic", r))
			s.sendError(userID, models.CodeInternal, "internal error")
		}
	}()

	ctx := context.Background()

	// Any client activity keeps the presence pointer alive.
	if err := s.presence.Touch(ctx, userID); err != nil {
		s.logger.Warn("Failed to touch presence", zap.String("userId", userID), zap.Error(err))
	}

	switch event.Type {
	case models.EventJoinQueue:
		s.JoinQueue(ctx, userID)
	case models.EventLeaveQueue:
		s.LeaveQueue(ctx, userID)
	case models.EventSubmitCode:
		var payload models.SubmitCodePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			s.sendError(userID, models.CodeBadRequest, "malformed submit_code payload")
			return
		}
		s.HandleSubmission(ctx, userID, payload)
	case models.EventForfeit:
		var payload models.MatchRefPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			s.sendError(userID, models.CodeBadRequest, "malformed forfeit payload")
			return
		}
		s.HandleForfeit(ctx, userID, payload.MatchID)
	case models.EventRejoinMatch:
		var payload models.MatchRefPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			s.sendError(userID, models.CodeBadRequest, "malformed rejoin_match payload")
			return
		}
		s.Rejoin(ctx, userID, payload.MatchID)
	case models.EventCheckActiveMatch:
		s.CheckActiveMatch(ctx, userID)
	default:
		s.sendError(userID, models.CodeBadRequest, fmt.Sprintf("unknown event type %q", event.Type))
	}
}

// JoinQueue puts the user on the waiting list and reports the position.
// A user already holding an active match is pointed back at it instead:
// one user maps to at most one active match, and queueing them again
// would let the next pairing overwrite their user->match pointer.
func (s *GameService) JoinQueue(ctx context.Context, userID string) {
	current, err := s.matches.GetByUser(ctx, userID)
	if err == nil && current.IsActive() {
		s.logger.Info("Rejected queue join, user holds an active match",
			zap.String("userId", userID), zap.String("matchId", current.ID))
		s.notifier.SendToUser(userID, models.EventActiveMatch, models.ActiveMatchPayload{MatchID: current.ID})
		return
	}
	if err != nil && !errors.Is(err, store.ErrMatchNotFound) {
		s.logger.Error("Failed to check active match", zap.String("userId", userID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to join queue")
		return
	}

	user, err := s.users.ByID(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load user profile", zap.String("userId", userID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to join queue")
		return
	}

	connID, err := s.presence.Get(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to read presence", zap.String("userId", userID), zap.Error(err))
	}

	entry := &models.QueueEntry{
		UserID:      userID,
		ConnID:      connID,
		DisplayName: user.DisplayName,
		Rating:      user.Rating,
		EnqueuedAt:  time.Now().UTC(),
	}

	pos, err := s.queue.Enqueue(ctx, entry)
	if errors.Is(err, store.ErrAlreadyQueued) {
		s.sendError(userID, models.CodeAlreadyQueued, "already waiting for an opponent")
		return
	}
	if err != nil {
		s.logger.Error("Failed to enqueue", zap.String("userId", userID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to join queue")
		return
	}

	s.logger.Info("User joined queue", zap.String("userId", userID), zap.Int("position", pos))
	s.notifier.SendToUser(userID, models.EventQueueJoined, models.QueueJoinedPayload{Position: pos})
}

// LeaveQueue removes the user from the waiting list.
func (s *GameService) LeaveQueue(ctx context.Context, userID string) {
	removed, err := s.queue.Remove(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to leave queue", zap.String("userId", userID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to leave queue")
		return
	}

	if !removed {
		s.sendError(userID, models.CodeNotQueued, "not currently queued")
		return
	}

	s.notifier.SendToUser(userID, models.EventQueueLeft, nil)
}

// HandleSubmission runs the code through the sandbox and, on full
// acceptance, races for the match's single active->finished transition.
func (s *GameService) HandleSubmission(ctx context.Context, userID string, payload models.SubmitCodePayload) {
	if !s.limiter.Allow(userID) {
		s.sendError(userID, models.CodeRateLimited, "submitting too fast, slow down")
		return
	}

	match, err := s.matches.Get(ctx, payload.MatchID)
	if errors.Is(err, store.ErrMatchNotFound) {
		s.sendError(userID, models.CodeMatchNotActive, "match not found or expired")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load match", zap.String("matchId", payload.MatchID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to load match")
		return
	}

	if !match.HasParticipant(userID) {
		s.sendError(userID, models.CodeNotParticipant, "not a participant of this match")
		return
	}

	if !match.IsActive() {
		s.sendError(userID, models.CodeMatchNotActive, "match already finished")
		return
	}

	// Opponent sees activity, never content.
	s.notifier.SendToMatch(match.ID, userID, models.EventOpponentProgress, models.OpponentProgressPayload{
		Status: "opponent_testing",
	})

	problem, err := s.problems.ByID(ctx, match.ProblemID)
	if err != nil {
		s.logger.Error("Failed to fetch problem", zap.String("problemId", match.ProblemID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to load problem")
		return
	}

	outcome := s.runSubmission(ctx, payload, problem)

	if !outcome.Accepted() {
		s.notifier.SendToMatch(match.ID, userID, models.EventOpponentProgress, models.OpponentProgressPayload{
			Status:      "opponent_submission_failed",
			TestsPassed: outcome.Passed,
			TestsTotal:  outcome.Total,
		})
		s.notifier.SendToUser(userID, models.EventSubmissionResult, models.SubmissionResultPayload{
			Status:      string(outcome.Status),
			Passed:      outcome.Passed,
			Total:       outcome.Total,
			Diagnostics: outcome.Message,
		})
		return
	}

	// Race resolution: a single indivisible check-and-set decides the
	// winner; a concurrent accepted submission observes the finished
	// record and is reported as too late.
	won, final, err := s.matches.FinishIfActive(ctx, match.ID, userID, models.ReasonSolved)
	if errors.Is(err, store.ErrMatchNotFound) {
		// The record expired while the sandbox was running.
		s.sendError(userID, models.CodeMatchNotActive, "match not found or expired")
		return
	}
	if err != nil {
		s.logger.Error("Failed to finish match", zap.String("matchId", match.ID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to record result")
		return
	}

	if !won {
		s.notifier.SendToUser(userID, models.EventSubmissionResult, models.SubmissionResultPayload{
			Status: models.SubmissionStatusTooLate,
			Passed: outcome.Passed,
			Total:  outcome.Total,
		})
		return
	}

	s.notifier.SendToUser(userID, models.EventSubmissionResult, models.SubmissionResultPayload{
		Status: string(outcome.Status),
		Passed: outcome.Passed,
		Total:  outcome.Total,
	})

	s.finalize(ctx, final, payload.LanguageID)
}

// runSubmission maps the sandbox reply (or failure) onto an outcome.
// Sandbox errors become runtime_error, never an acceptance.
func (s *GameService) runSubmission(ctx context.Context, payload models.SubmitCodePayload, problem *models.Problem) *models.SubmissionOutcome {
	cases := make([]executor.TestCaseInput, len(problem.TestCases))
	for i, tc := range problem.TestCases {
		cases[i] = executor.TestCaseInput{Input: tc.Input, Expected: tc.Expected}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.sandboxTimeout)
	defer cancel()

	resp, err := s.runner.Execute(runCtx, executor.RunRequest{
		Code:        payload.Code,
		Language:    payload.LanguageID,
		TestCases:   cases,
		TimeLimitMs: problem.TimeLimitMs,
	})
	if err != nil {
		s.logger.Warn("Sandbox execution failed", zap.Error(err))
		return &models.SubmissionOutcome{
			Status:  models.VerdictRuntimeError,
			Total:   len(problem.TestCases),
			Message: "execution failed, please retry",
		}
	}

	if resp.CompileError != "" {
		return &models.SubmissionOutcome{
			Status:  models.VerdictCompileError,
			Total:   len(problem.TestCases),
			Message: resp.CompileError,
		}
	}

	outcome := &models.SubmissionOutcome{
		Total: len(problem.TestCases),
		Cases: make([]models.CaseResult, len(resp.Cases)),
	}

	timedOut := false
	errored := false
	for i, cv := range resp.Cases {
		outcome.Cases[i] = models.CaseResult{
			CaseID:    i,
			Passed:    cv.Passed,
			TimedOut:  cv.TimedOut,
			Errored:   cv.Errored,
			RuntimeMs: cv.RuntimeMs,
		}
		if cv.Passed {
			outcome.Passed++
		}
		timedOut = timedOut || cv.TimedOut
		errored = errored || cv.Errored
	}

	switch {
	case outcome.Passed == outcome.Total && outcome.Total > 0:
		outcome.Status = models.VerdictAccepted
	case timedOut:
		outcome.Status = models.VerdictTimeLimit
	case errored:
		outcome.Status = models.VerdictRuntimeError
	default:
		outcome.Status = models.VerdictWrongAnswer
	}

	return outcome
}

// HandleForfeit awards the match to the other side.
func (s *GameService) HandleForfeit(ctx context.Context, userID, matchID string) {
	match, err := s.matches.Get(ctx, matchID)
	if errors.Is(err, store.ErrMatchNotFound) {
		s.sendError(userID, models.CodeMatchNotActive, "match not found or expired")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load match", zap.String("matchId", matchID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to load match")
		return
	}

	if !match.HasParticipant(userID) {
		s.sendError(userID, models.CodeNotParticipant, "not a participant of this match")
		return
	}

	opponent := match.OpponentOf(userID)
	s.finish(ctx, matchID, opponent.UserID, models.ReasonForfeited, userID)
}

// FinishFromBot is the bot engine's completion callback: the bot beat the
// human to a correct solution.
func (s *GameService) FinishFromBot(matchID, botID string) {
	s.finish(context.Background(), matchID, botID, models.ReasonSolved, "")
}

// RegisterMatchTimeout arms the match-level timeout: still-active matches
// are forced to a winnerless draw when it fires.
func (s *GameService) RegisterMatchTimeout(matchID string) {
	timer := time.AfterFunc(s.matchTimeout, func() {
		s.finish(context.Background(), matchID, "", models.ReasonTimeout, "")
	})

	s.mu.Lock()
	s.timers[matchID] = timer
	s.mu.Unlock()
}

// finish performs the CAS transition and, if this caller won it, the full
// finalization. requester (optional) gets an informative notice when the
// match was already over.
func (s *GameService) finish(ctx context.Context, matchID, winnerID, reason, requester string) {
	won, final, err := s.matches.FinishIfActive(ctx, matchID, winnerID, reason)
	if errors.Is(err, store.ErrMatchNotFound) {
		if requester != "" {
			s.sendError(requester, models.CodeMatchNotActive, "match not found or expired")
		}
		return
	}
	if err != nil {
		s.logger.Error("Failed to finish match", zap.String("matchId", matchID), zap.Error(err))
		if requester != "" {
			s.sendError(requester, models.CodeInternal, "failed to finish match")
		}
		return
	}

	if !won {
		if requester != "" {
			s.sendError(requester, models.CodeMatchNotActive, "match already finished")
		}
		return
	}

	s.finalize(ctx, final, "")
}

// finalize runs exactly once per match, by the caller that performed the
// CAS transition: cancel pending timers and bot checkpoints, notify both
// sides, persist the result, and schedule the delayed cleanup.
func (s *GameService) finalize(ctx context.Context, match *models.Match, language string) {
	s.cancelTimer(match.ID)
	s.bots.Stop(match.ID)

	winner := match.SideOf(match.WinnerID)

	delta := 0
	if winner != nil {
		loser := match.OpponentOf(match.WinnerID)
		delta = s.elo.Delta(winner.Rating, loser.Rating)

		if match.Reason == models.ReasonSolved {
			s.notifier.SendToMatch(match.ID, match.WinnerID, models.EventOpponentProgress, models.OpponentProgressPayload{
				Status:  "opponent_solved",
				Percent: 100,
			})
		}
	}

	for _, side := range []models.MatchSide{match.SideA, match.SideB} {
		if side.Bot {
			continue
		}

		youWon := winner != nil && side.UserID == match.WinnerID
		newRating := side.Rating
		if winner != nil {
			if youWon {
				newRating += delta
			} else {
				newRating -= delta
			}
		}

		s.notifier.SendToUser(side.UserID, models.EventGameOver, models.GameOverPayload{
			WinnerID:  match.WinnerID,
			Reason:    match.Reason,
			YouWon:    youWon,
			Message:   gameOverMessage(youWon, match.Reason),
			NewRating: newRating,
		})
	}

	result := &models.MatchResult{
		MatchID:         match.ID,
		ProblemID:       match.ProblemID,
		Reason:          match.Reason,
		DurationSeconds: matchDurationSeconds(match),
		Language:        language,
		RatingDelta:     delta,
	}
	if winner != nil {
		result.WinnerID = winner.UserID
		result.LoserID = match.OpponentOf(winner.UserID).UserID
	}

	if err := s.results.Record(ctx, result); err != nil {
		s.logger.Error("Failed to persist match result",
			zap.String("matchId", match.ID), zap.Error(err))
	}

	s.logger.Info("Match finished",
		zap.String("matchId", match.ID),
		zap.String("winnerId", match.WinnerID),
		zap.String("reason", match.Reason),
		zap.Int("ratingDelta", delta))

	s.scheduleCleanup(match)
}

// scheduleCleanup reclaims the record after a grace period so clients can
// still read the final state.
func (s *GameService) scheduleCleanup(match *models.Match) {
	timer := time.AfterFunc(s.cleanupGrace, func() {
		if err := s.matches.Delete(context.Background(), match); err != nil {
			s.logger.Error("Failed to clean up match",
				zap.String("matchId", match.ID), zap.Error(err))
		}
		s.notifier.UnregisterMatch(match.ID)
		s.cancelTimer(match.ID)
	})

	s.mu.Lock()
	s.timers[match.ID] = timer
	s.mu.Unlock()
}

func (s *GameService) cancelTimer(matchID string) {
	s.mu.Lock()
	timer, exists := s.timers[matchID]
	if exists {
		delete(s.timers, matchID)
	}
	s.mu.Unlock()

	if exists {
		timer.Stop()
	}
}

// Rejoin re-delivers the match payload to a refreshed client after
// re-validating participation and liveness of the match.
func (s *GameService) Rejoin(ctx context.Context, userID, matchID string) {
	match, err := s.matches.Get(ctx, matchID)
	if errors.Is(err, store.ErrMatchNotFound) {
		s.sendError(userID, models.CodeMatchNotActive, "match not found or expired")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load match", zap.String("matchId", matchID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to load match")
		return
	}

	if !match.HasParticipant(userID) {
		s.sendError(userID, models.CodeNotParticipant, "not a participant of this match")
		return
	}

	if !match.IsActive() {
		s.sendError(userID, models.CodeMatchNotActive, "match already finished")
		return
	}

	connID, err := s.presence.Get(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to read presence", zap.String("userId", userID), zap.Error(err))
	}
	if connID != "" {
		if _, err := s.matches.UpdateConnection(ctx, matchID, userID, connID); err != nil {
			s.logger.Error("Failed to update match connection",
				zap.String("matchId", matchID), zap.Error(err))
		}
	}
	s.notifier.RegisterMatch(matchID, userID)

	problem, err := s.problems.ByID(ctx, match.ProblemID)
	if err != nil {
		s.logger.Error("Failed to fetch problem", zap.String("problemId", match.ProblemID), zap.Error(err))
		s.sendError(userID, models.CodeInternal, "failed to load problem")
		return
	}

	opponent := match.OpponentOf(userID)
	s.notifier.SendToUser(userID, models.EventMatchFound, models.MatchFoundPayload{
		MatchID: match.ID,
		Problem: problem.PublicView(),
		Opponent: models.OpponentView{
			UserID:      opponent.UserID,
			DisplayName: opponent.DisplayName,
			Rating:      opponent.Rating,
		},
		StartedAt: match.StartedAt,
	})

	s.logger.Info("User rejoined match",
		zap.String("userId", userID), zap.String("matchId", matchID))
}

// CheckActiveMatch tells the client whether it currently holds a live
// match, so a refreshed page knows to rejoin.
func (s *GameService) CheckActiveMatch(ctx context.Context, userID string) {
	match, err := s.matches.GetByUser(ctx, userID)
	if err != nil || !match.IsActive() {
		s.notifier.SendToUser(userID, models.EventActiveMatch, models.ActiveMatchPayload{})
		return
	}

	s.notifier.SendToUser(userID, models.EventActiveMatch, models.ActiveMatchPayload{MatchID: match.ID})
}

func (s *GameService) sendError(userID, code, message string) {
	s.notifier.SendToUser(userID, models.EventError, models.ErrorPayload{
		Code:    code,
		Message: message,
	})
}

func gameOverMessage(youWon bool, reason string) string {
	switch reason {
	case models.ReasonSolved:
		if youWon {
			return "You solved it first!"
		}
		return "Your opponent solved the problem first."
	case models.ReasonForfeited:
		if youWon {
			return "Your opponent forfeited."
		}
		return "You forfeited the match."
	case models.ReasonDisconnected:
		if youWon {
			return "Your opponent disconnected."
		}
		return "You left the match."
	case models.ReasonTimeout:
		return "Time limit reached. The match is a draw."
	}
	return "Match finished."
}

func matchDurationSeconds(match *models.Match) int {
	if match.FinishedAt == "" {
		return 0
	}
	finished, err := time.Parse(time.RFC3339Nano, match.FinishedAt)
	if err != nil {
		return 0
	}
	return int(finished.Sub(match.StartedAt).Seconds())
}
