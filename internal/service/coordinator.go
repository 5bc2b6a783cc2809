package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeduel/codeduel-backend/internal/models"
	"github.com/codeduel/codeduel-backend/internal/store"
)

// Coordinator drives pairing: a fixed-interval tick drains the queue two
// at a time, validates liveness after the atomic pop, and delegates
// waiters past the bot threshold to the bot engine. Ticks are
// single-flight: one that overruns the interval suppresses the next.
type Coordinator struct {
	queue    *store.Queue
	matches  *store.MatchStore
	problems ProblemProvider
	notifier Notifier
	bots     *BotEngine
	game     *GameService
	logger   *zap.Logger

	interval        time.Duration
	botTriggerAfter time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	ticking  atomic.Bool
}

func NewCoordinator(
	queue *store.Queue,
	matches *store.MatchStore,
	problems ProblemProvider,
	notifier Notifier,
	bots *BotEngine,
	game *GameService,
	interval, botTriggerAfter time.Duration,
) *Coordinator {
	logger, _ := zap.NewProduction()
	return &Coordinator{
		queue:           queue,
		matches:         matches,
		problems:        problems,
		notifier:        notifier,
		bots:            bots,
		game:            game,
		logger:          logger,
		interval:        interval,
		botTriggerAfter: botTriggerAfter,
		stopChan:        make(chan struct{}),
	}
}

// Start launches the scheduler loop.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("Starting match coordinator", zap.Duration("interval", c.interval))

	c.wg.Add(1)
	go c.loop()
}

// Stop halts the scheduler and waits for an in-flight tick.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()
	c.logger.Info("Match coordinator stopped")
}

func (c *Coordinator) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Tick()
		case <-c.stopChan:
			return
		}
	}
}

// Tick runs one scheduler pass. Exported so tests can drive the
// coordinator without the ticker.
func (c *Coordinator) Tick() {
	// Skip entirely while the previous tick is still running.
	if !c.ticking.CompareAndSwap(false, true) {
		return
	}
	defer c.ticking.Store(false)

	ctx := context.Background()

	c.delegateStaleWaiters(ctx)
	c.pairWaiting(ctx)
}

// delegateStaleWaiters hands anyone past the bot threshold to the bot
// engine, oldest first. Runs even when fewer than two players wait.
func (c *Coordinator) delegateStaleWaiters(ctx context.Context) {
	entries, err := c.queue.Entries(ctx)
	if err != nil {
		c.logger.Error("Failed to scan queue", zap.Error(err))
		return
	}

	now := time.Now()
	for _, entry := range entries {
		if entry.WaitedFor(now) < c.botTriggerAfter {
			continue
		}

		removed, err := c.queue.Remove(ctx, entry.UserID)
		if err != nil {
			c.logger.Error("Failed to remove stale waiter", zap.String("userId", entry.UserID), zap.Error(err))
			continue
		}
		if !removed {
			// Lost a race with a concurrent dequeue.
			continue
		}

		if !c.notifier.IsConnected(entry.UserID) {
			c.logger.Info("Dropping dead stale waiter", zap.String("userId", entry.UserID))
			continue
		}

		c.startBotMatch(ctx, entry)
	}
}

// pairWaiting pops pairs until the queue runs dry. Liveness is checked
// after the pop: a dead player is dropped and its live partner pushed
// back to the head.
func (c *Coordinator) pairWaiting(ctx context.Context) {
	for {
		a, b, err := c.queue.PopPair(ctx)
		if err == store.ErrNotEnough {
			return
		}
		if err != nil {
			c.logger.Error("Failed to pop pair", zap.Error(err))
			return
		}

		liveA := c.notifier.IsConnected(a.UserID)
		liveB := c.notifier.IsConnected(b.UserID)

		switch {
		case liveA && liveB:
			c.createMatch(ctx, a, b)
		case liveA:
			c.logger.Info("Dropping dead pairing candidate", zap.String("userId", b.UserID))
			c.requeue(ctx, a)
		case liveB:
			c.logger.Info("Dropping dead pairing candidate", zap.String("userId", a.UserID))
			c.requeue(ctx, b)
		default:
			c.logger.Info("Dropping dead pair",
				zap.String("userA", a.UserID), zap.String("userB", b.UserID))
		}
	}
}

func (c *Coordinator) requeue(ctx context.Context, entry *models.QueueEntry) {
	if err := c.queue.PushFront(ctx, entry); err != nil {
		c.logger.Error("Failed to push entry back", zap.String("userId", entry.UserID), zap.Error(err))
	}
}

// createMatch builds the match record for a live pair and notifies both
// sides. On collaborator failure both players go back to the queue and
// are told explicitly.
func (c *Coordinator) createMatch(ctx context.Context, a, b *models.QueueEntry) {
	problem, err := c.problems.Random(ctx)
	if err != nil {
		c.logger.Error("Failed to fetch problem", zap.Error(err))
		c.requeue(ctx, b)
		c.requeue(ctx, a)
		c.notifyMatchError(a.UserID, b.UserID)
		return
	}

	match := &models.Match{
		ID:            uuid.New().String(),
		SideA:         sideFromEntry(a),
		SideB:         sideFromEntry(b),
		ProblemID:     problem.ID,
		ProblemTitle:  problem.Title,
		ProblemRating: problem.Rating,
		Difficulty:    problem.Difficulty,
		Status:        models.MatchStatusActive,
		StartedAt:     time.Now().UTC(),
	}

	if err := c.matches.Create(ctx, match); err != nil {
		c.logger.Error("Failed to create match record", zap.Error(err))
		c.requeue(ctx, b)
		c.requeue(ctx, a)
		c.notifyMatchError(a.UserID, b.UserID)
		return
	}

	c.notifier.RegisterMatch(match.ID, a.UserID, b.UserID)

	view := problem.PublicView()
	c.notifier.SendToUser(a.UserID, models.EventMatchFound, models.MatchFoundPayload{
		MatchID:   match.ID,
		Problem:   view,
		Opponent:  opponentView(&match.SideB),
		StartedAt: match.StartedAt,
	})
	c.notifier.SendToUser(b.UserID, models.EventMatchFound, models.MatchFoundPayload{
		MatchID:   match.ID,
		Problem:   view,
		Opponent:  opponentView(&match.SideA),
		StartedAt: match.StartedAt,
	})

	c.game.RegisterMatchTimeout(match.ID)

	c.logger.Info("Match created",
		zap.String("matchId", match.ID),
		zap.String("userA", a.UserID),
		zap.String("userB", b.UserID),
		zap.String("problemId", problem.ID))
}

// startBotMatch pairs a long-waiting player with a synthetic opponent.
func (c *Coordinator) startBotMatch(ctx context.Context, entry *models.QueueEntry) {
	problem, err := c.problems.Random(ctx)
	if err != nil {
		c.logger.Error("Failed to fetch problem for bot match", zap.Error(err))
		c.requeue(ctx, entry)
		return
	}

	timeline := c.bots.NewTimeline(problem.Difficulty, problem.Rating)

	match := &models.Match{
		ID:    uuid.New().String(),
		SideA: sideFromEntry(entry),
		SideB: models.MatchSide{
			UserID:      timeline.BotID,
			DisplayName: timeline.DisplayName,
			Rating:      entry.Rating,
			Bot:         true,
		},
		ProblemID:     problem.ID,
		ProblemTitle:  problem.Title,
		ProblemRating: problem.Rating,
		Difficulty:    problem.Difficulty,
		Status:        models.MatchStatusActive,
		StartedAt:     time.Now().UTC(),
	}

	if err := c.matches.Create(ctx, match); err != nil {
		c.logger.Error("Failed to create bot match record", zap.Error(err))
		c.requeue(ctx, entry)
		return
	}

	c.notifier.RegisterMatch(match.ID, entry.UserID)

	c.notifier.SendToUser(entry.UserID, models.EventMatchFound, models.MatchFoundPayload{
		MatchID:   match.ID,
		Problem:   problem.PublicView(),
		Opponent:  opponentView(&match.SideB),
		StartedAt: match.StartedAt,
	})

	c.bots.Run(match.ID, timeline)
	c.game.RegisterMatchTimeout(match.ID)

	c.logger.Info("Bot match created",
		zap.String("matchId", match.ID),
		zap.String("userId", entry.UserID),
		zap.String("botId", timeline.BotID),
		zap.Duration("waited", entry.WaitedFor(time.Now())))
}

func (c *Coordinator) notifyMatchError(userIDs ...string) {
	for _, userID := range userIDs {
		c.notifier.SendToUser(userID, models.EventError, models.ErrorPayload{
			Code:    models.CodeInternal,
			Message: "failed to create match, you are back in the queue",
		})
	}
}

func sideFromEntry(entry *models.QueueEntry) models.MatchSide {
	return models.MatchSide{
		UserID:      entry.UserID,
		ConnID:      entry.ConnID,
		DisplayName: entry.DisplayName,
		Rating:      entry.Rating,
	}
}

func opponentView(side *models.MatchSide) models.OpponentView {
	return models.OpponentView{
		UserID:      side.UserID,
		DisplayName: side.DisplayName,
		Rating:      side.Rating,
	}
}
