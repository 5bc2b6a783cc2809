package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeduel/codeduel-backend/internal/models"
	"github.com/codeduel/codeduel-backend/internal/store"
	"github.com/codeduel/codeduel-backend/pkg/ratelimit"
)

type gameHarness struct {
	svc      *GameService
	queue    *store.Queue
	matches  *store.MatchStore
	presence *store.Presence
	notifier *fakeNotifier
	runner   *fakeRunner
	results  *fakeResults
	bots     *BotEngine
}

func newGameHarness(t *testing.T) *gameHarness {
	client := setupRedis(t)
	t.Cleanup(func() { client.Close() })

	notifier := newFakeNotifier()
	runner := &fakeRunner{resp: passingResponse(3)}
	results := &fakeResults{}
	bots := NewBotEngine(notifier, time.Hour)
	t.Cleanup(bots.StopAll)

	queue := store.NewQueue(client)
	matches := store.NewMatchStore(client, time.Hour)
	presence := store.NewPresence(client, time.Hour)

	svc := NewGameService(
		queue,
		matches,
		presence,
		&fakeProblems{problem: sampleProblem()},
		newFakeUsers(),
		results,
		runner,
		notifier,
		bots,
		ratelimit.NewRateLimiter(10, 1),
		time.Hour, // match timeout
		time.Hour, // cleanup grace
		5*time.Second,
	)
	bots.SetFinisher(svc)

	return &gameHarness{
		svc:      svc,
		queue:    queue,
		matches:  matches,
		presence: presence,
		notifier: notifier,
		runner:   runner,
		results:  results,
		bots:     bots,
	}
}

func (h *gameHarness) createMatch(t *testing.T, matchID, userA, userB string) *models.Match {
	match := &models.Match{
		ID:           matchID,
		SideA:        models.MatchSide{UserID: userA, ConnID: "conn-" + userA, DisplayName: "Player " + userA, Rating: 1200},
		SideB:        models.MatchSide{UserID: userB, ConnID: "conn-" + userB, DisplayName: "Player " + userB, Rating: 1200},
		ProblemID:    "prob-1",
		ProblemTitle: "Two Sum",
		Difficulty:   "medium",
		Status:       models.MatchStatusActive,
		StartedAt:    time.Now().UTC(),
	}
	require.NoError(t, h.matches.Create(context.Background(), match))
	return match
}

func TestHandleSubmission_AcceptedWinsMatch(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")

	h.svc.HandleSubmission(ctx, "u1", models.SubmitCodePayload{
		MatchID: "m1", Code: "solution", LanguageID: "go",
	})

	results := h.notifier.sentTo("u1", models.EventSubmissionResult)
	require.Len(t, results, 1)
	payload := results[0].Payload.(models.SubmissionResultPayload)
	assert.Equal(t, string(models.VerdictAccepted), payload.Status)
	assert.Equal(t, 3, payload.Passed)

	final, err := h.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFinished, final.Status)
	assert.Equal(t, "u1", final.WinnerID)
	assert.Equal(t, models.ReasonSolved, final.Reason)

	// Both humans hear the verdict.
	require.Len(t, h.notifier.sentTo("u1", models.EventGameOver), 1)
	losses := h.notifier.sentTo("u2", models.EventGameOver)
	require.Len(t, losses, 1)
	over := losses[0].Payload.(models.GameOverPayload)
	assert.False(t, over.YouWon)
	assert.Equal(t, "u1", over.WinnerID)

	recorded := h.results.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, "u1", recorded[0].WinnerID)
	assert.Equal(t, "u2", recorded[0].LoserID)
	assert.Equal(t, 16, recorded[0].RatingDelta)
}

func TestHandleSubmission_ConcurrentAcceptedHasOneWinner(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")

	var wg sync.WaitGroup
	for _, userID := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			h.svc.HandleSubmission(ctx, uid, models.SubmitCodePayload{
				MatchID: "m1", Code: "solution", LanguageID: "go",
			})
		}(userID)
	}
	wg.Wait()

	accepted := 0
	tooLate := 0
	for _, m := range h.notifier.byType(models.EventSubmissionResult) {
		payload := m.Payload.(models.SubmissionResultPayload)
		switch payload.Status {
		case string(models.VerdictAccepted):
			accepted++
		case models.SubmissionStatusTooLate:
			tooLate++
		}
	}
	assert.Equal(t, 1, accepted, "exactly one submission wins")
	assert.Equal(t, 1, tooLate, "the other is reported too late")

	final, err := h.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFinished, final.Status)
	assert.Contains(t, []string{"u1", "u2"}, final.WinnerID)

	// Finalization ran exactly once.
	assert.Len(t, h.results.recorded(), 1)
}

func TestHandleSubmission_WrongAnswerKeepsMatchRunning(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")
	h.runner.respond(failingResponse(2, 3), nil)

	h.svc.HandleSubmission(ctx, "u1", models.SubmitCodePayload{
		MatchID: "m1", Code: "broken", LanguageID: "go",
	})

	results := h.notifier.sentTo("u1", models.EventSubmissionResult)
	require.Len(t, results, 1)
	payload := results[0].Payload.(models.SubmissionResultPayload)
	assert.Equal(t, string(models.VerdictWrongAnswer), payload.Status)
	assert.Equal(t, 2, payload.Passed)
	assert.Equal(t, 3, payload.Total)

	final, err := h.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusActive, final.Status)

	// Opponent sees the failed attempt's tally, never the code.
	progress := h.notifier.byType(models.EventOpponentProgress)
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1].Payload.(models.OpponentProgressPayload)
	assert.Equal(t, "opponent_submission_failed", last.Status)
	assert.Equal(t, 2, last.TestsPassed)
}

func TestHandleSubmission_SandboxFailureIsNotAWin(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")
	h.runner.respond(nil, fmt.Errorf("sandbox down"))

	h.svc.HandleSubmission(ctx, "u1", models.SubmitCodePayload{
		MatchID: "m1", Code: "solution", LanguageID: "go",
	})

	results := h.notifier.sentTo("u1", models.EventSubmissionResult)
	require.Len(t, results, 1)
	payload := results[0].Payload.(models.SubmissionResultPayload)
	assert.Equal(t, string(models.VerdictRuntimeError), payload.Status)

	final, err := h.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusActive, final.Status)
}

func TestHandleSubmission_NotParticipant(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")

	h.svc.HandleSubmission(ctx, "intruder", models.SubmitCodePayload{
		MatchID: "m1", Code: "solution", LanguageID: "go",
	})

	errs := h.notifier.sentTo("intruder", models.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, models.CodeNotParticipant, errs[0].Payload.(models.ErrorPayload).Code)
}

func TestHandleSubmission_RateLimited(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")

	// Fresh service with a tight limiter.
	h.svc.limiter = ratelimit.NewRateLimiter(2, 1)

	for i := 0; i < 3; i++ {
		h.svc.HandleSubmission(ctx, "u1", models.SubmitCodePayload{
			MatchID: "m1", Code: "attempt", LanguageID: "go",
		})
	}

	var limited bool
	for _, m := range h.notifier.sentTo("u1", models.EventError) {
		if m.Payload.(models.ErrorPayload).Code == models.CodeRateLimited {
			limited = true
		}
	}
	assert.True(t, limited, "third rapid submission is throttled")
}

func TestHandleForfeit_AwardsOpponent(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")

	h.svc.HandleForfeit(ctx, "u1", "m1")

	final, err := h.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFinished, final.Status)
	assert.Equal(t, "u2", final.WinnerID)
	assert.Equal(t, models.ReasonForfeited, final.Reason)

	wins := h.notifier.sentTo("u2", models.EventGameOver)
	require.Len(t, wins, 1)
	over := wins[0].Payload.(models.GameOverPayload)
	assert.True(t, over.YouWon)
	assert.Equal(t, 1216, over.NewRating)

	losses := h.notifier.sentTo("u1", models.EventGameOver)
	require.Len(t, losses, 1)
	assert.Equal(t, 1184, losses[0].Payload.(models.GameOverPayload).NewRating)
}

func TestHandleDisconnect_WhileQueuedJustDequeues(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, &models.QueueEntry{
		UserID: "u1", ConnID: "c1", DisplayName: "Player u1", Rating: 1200, EnqueuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	h.svc.HandleDisconnect("u1", "c1")

	length, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
	assert.Empty(t, h.notifier.byType(models.EventGameOver))
}

func TestHandleDisconnect_MidMatchForfeitsOnce(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")

	h.svc.HandleDisconnect("u1", "conn-u1")
	// A second fire for the same drop must be a no-op.
	h.svc.HandleDisconnect("u1", "conn-u1")

	final, err := h.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFinished, final.Status)
	assert.Equal(t, "u2", final.WinnerID)
	assert.Equal(t, models.ReasonDisconnected, final.Reason)

	assert.Len(t, h.notifier.sentTo("u2", models.EventGameOver), 1)
	assert.Len(t, h.results.recorded(), 1)
}

func TestRejoin_ActiveMatchRedeliversState(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")
	require.NoError(t, h.presence.Set(ctx, "u1", "conn-new"))

	h.svc.Rejoin(ctx, "u1", "m1")

	found := h.notifier.sentTo("u1", models.EventMatchFound)
	require.Len(t, found, 1)
	payload := found[0].Payload.(models.MatchFoundPayload)
	assert.Equal(t, "m1", payload.MatchID)
	assert.Equal(t, "u2", payload.Opponent.UserID)

	// Hidden test cases stay hidden on re-delivery too.
	require.NotNil(t, payload.Problem)
	assert.Len(t, payload.Problem.TestCases, 2)

	final, err := h.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "conn-new", final.SideA.ConnID)
}

func TestRejoin_FinishedMatchIsRejected(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")
	h.svc.HandleForfeit(ctx, "u2", "m1")

	h.svc.Rejoin(ctx, "u1", "m1")

	errs := h.notifier.sentTo("u1", models.EventError)
	require.NotEmpty(t, errs)
	last := errs[len(errs)-1].Payload.(models.ErrorPayload)
	assert.Equal(t, models.CodeMatchNotActive, last.Code)
}

func TestRejoin_UnknownMatchIsRejected(t *testing.T) {
	h := newGameHarness(t)

	h.svc.Rejoin(context.Background(), "u1", "no-such-match")

	errs := h.notifier.sentTo("u1", models.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, models.CodeMatchNotActive, errs[0].Payload.(models.ErrorPayload).Code)
}

func TestCheckActiveMatch(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")

	h.svc.CheckActiveMatch(ctx, "u1")
	h.svc.CheckActiveMatch(ctx, "idle")

	active := h.notifier.sentTo("u1", models.EventActiveMatch)
	require.Len(t, active, 1)
	assert.Equal(t, "m1", active[0].Payload.(models.ActiveMatchPayload).MatchID)

	idle := h.notifier.sentTo("idle", models.EventActiveMatch)
	require.Len(t, idle, 1)
	assert.Empty(t, idle[0].Payload.(models.ActiveMatchPayload).MatchID)
}

func TestHandleSubmission_RecordExpiredDuringRun(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	match := h.createMatch(t, "m1", "u1", "u2")

	// The record TTL-expires while the sandbox is running: the CAS then
	// finds nothing, which is a too-late condition, not a server fault.
	h.runner.onExecute = func() {
		require.NoError(t, h.matches.Delete(ctx, match))
	}

	h.svc.HandleSubmission(ctx, "u1", models.SubmitCodePayload{
		MatchID: "m1", Code: "solution", LanguageID: "go",
	})

	errs := h.notifier.sentTo("u1", models.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, models.CodeMatchNotActive, errs[0].Payload.(models.ErrorPayload).Code)
	assert.Empty(t, h.notifier.byType(models.EventGameOver))
	assert.Empty(t, h.results.recorded())
}

func TestJoinQueue_ActiveMatchRedirects(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	h.createMatch(t, "m1", "u1", "u2")

	h.svc.JoinQueue(ctx, "u1")

	// The user is pointed back at the running match, not enqueued: a
	// second pairing would overwrite their user->match pointer and
	// orphan the first match.
	length, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
	assert.Empty(t, h.notifier.sentTo("u1", models.EventQueueJoined))

	active := h.notifier.sentTo("u1", models.EventActiveMatch)
	require.Len(t, active, 1)
	assert.Equal(t, "m1", active[0].Payload.(models.ActiveMatchPayload).MatchID)
}

func TestHandleEvent_RunsInArrivalOrder(t *testing.T) {
	h := newGameHarness(t)

	// A leave right behind a join must see the join's effect, not race
	// ahead of it.
	h.svc.HandleEvent("u1", models.InboundEvent{Type: models.EventJoinQueue})
	h.svc.HandleEvent("u1", models.InboundEvent{Type: models.EventLeaveQueue})

	assert.Len(t, h.notifier.sentTo("u1", models.EventQueueJoined), 1)
	assert.Len(t, h.notifier.sentTo("u1", models.EventQueueLeft), 1)
	assert.Empty(t, h.notifier.sentTo("u1", models.EventError))

	length, err := h.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestJoinQueue_DuplicateRejected(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()

	h.svc.JoinQueue(ctx, "u1")
	h.svc.JoinQueue(ctx, "u1")

	joined := h.notifier.sentTo("u1", models.EventQueueJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, 1, joined[0].Payload.(models.QueueJoinedPayload).Position)

	errs := h.notifier.sentTo("u1", models.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, models.CodeAlreadyQueued, errs[0].Payload.(models.ErrorPayload).Code)
}

func TestLeaveQueue_NotQueued(t *testing.T) {
	h := newGameHarness(t)

	h.svc.LeaveQueue(context.Background(), "u1")

	errs := h.notifier.sentTo("u1", models.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, models.CodeNotQueued, errs[0].Payload.(models.ErrorPayload).Code)
}

func TestFinishFromBot_BotBeatsHuman(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()

	botID := models.BotIDPrefix + "b1"
	match := &models.Match{
		ID:        "m1",
		SideA:     models.MatchSide{UserID: "u1", DisplayName: "Player u1", Rating: 1200},
		SideB:     models.MatchSide{UserID: botID, DisplayName: "ByteKnight", Rating: 1200, Bot: true},
		ProblemID: "prob-1",
		Status:    models.MatchStatusActive,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, h.matches.Create(ctx, match))

	h.svc.FinishFromBot("m1", botID)

	final, err := h.matches.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFinished, final.Status)
	assert.Equal(t, botID, final.WinnerID)

	// Only the human side gets a game_over.
	over := h.notifier.byType(models.EventGameOver)
	require.Len(t, over, 1)
	assert.Equal(t, "u1", over[0].UserID)
	payload := over[0].Payload.(models.GameOverPayload)
	assert.False(t, payload.YouWon)
	assert.Equal(t, 1184, payload.NewRating)
}
