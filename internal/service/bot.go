package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeduel/codeduel-backend/internal/models"
)

// botTier describes how a synthetic opponent behaves on one difficulty:
// how much slower/faster than the base solve time it is, and how likely
// it is to fail outright.
type botTier struct {
	minMult    float64
	maxMult    float64
	failChance float64
}

var botTiers = map[string]botTier{
	"easy":   {minMult: 1.8, maxMult: 2.5, failChance: 0.70},
	"medium": {minMult: 1.2, maxMult: 1.6, failChance: 0.60},
	"hard":   {minMult: 0.9, maxMult: 1.1, failChance: 0.40},
}

var botNames = []string{
	"ByteKnight", "NullPointer", "StackSmasher", "LambdaLord",
	"SegfaultSam", "HeapHermit", "TurboTuring", "GreedyGrace",
	"OffByOne", "RubberDuck",
}

// checkpointPercents is the progress schedule a bot walks through.
var checkpointPercents = [...]int{10, 25, 40, 60, 75, 90, 98}

var checkpointLabels = map[int]string{
	10: "Reading the problem",
	25: "Sketching an approach",
	40: "Writing code",
	60: "Debugging",
	75: "Running the samples",
	90: "Fixing edge cases",
	98: "Submitting",
}

// BotFinisher hands a successful bot run to the same completion path a
// human win takes. Implemented by GameService.
type BotFinisher interface {
	FinishFromBot(matchID, botID string)
}

// BotEngine produces and drives synthetic opponents. One goroutine per
// running bot, cancelled as a whole through a single per-match cancel.
type BotEngine struct {
	notifier  Notifier
	finisher  BotFinisher
	baseSolve time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewBotEngine(notifier Notifier, baseSolve time.Duration) *BotEngine {
	logger, _ := zap.NewProduction()
	return &BotEngine{
		notifier:  notifier,
		baseSolve: baseSolve,
		logger:    logger,
		running:   make(map[string]context.CancelFunc),
	}
}

// SetFinisher wires the completion callback (avoids the construction
// cycle with GameService).
func (e *BotEngine) SetFinisher(finisher BotFinisher) {
	e.finisher = finisher
}

// NewTimeline computes a bot's full behavior up front: total solve time,
// jittered checkpoint schedule, and the fail/succeed roll.
func (e *BotEngine) NewTimeline(difficulty string, problemRating int) *models.BotTimeline {
	tier, ok := botTiers[difficulty]
	if !ok {
		tier = botTiers["medium"]
	}

	mult := tier.minMult + rand.Float64()*(tier.maxMult-tier.minMult)

	// Harder-rated problems stretch the base solve time proportionally.
	ratingScale := float64(problemRating) / 1200.0
	if ratingScale < 0.5 {
		ratingScale = 0.5
	}

	total := time.Duration(float64(e.baseSolve) * mult * ratingScale)
	if total < time.Millisecond {
		total = time.Millisecond
	}

	checkpoints := make([]models.BotCheckpoint, 0, len(checkpointPercents))
	prev := time.Duration(0)
	for _, percent := range checkpointPercents {
		offset := time.Duration(float64(total) * float64(percent) / 100.0)

		// Jitter up to ±4% of total, keeping the schedule monotonic.
		jitter := time.Duration((rand.Float64()*0.08 - 0.04) * float64(total))
		offset += jitter
		if offset <= prev {
			offset = prev + time.Millisecond
		}
		prev = offset

		checkpoints = append(checkpoints, models.BotCheckpoint{
			Offset:  offset,
			Percent: percent,
			Label:   checkpointLabels[percent],
		})
	}

	timeline := &models.BotTimeline{
		BotID:       models.BotIDPrefix + uuid.New().String(),
		DisplayName: botNames[rand.Intn(len(botNames))],
		Total:       total,
		Checkpoints: checkpoints,
		Succeeds:    rand.Float64() >= tier.failChance,
	}

	if !timeline.Succeeds {
		timeline.FailAtPercent = 15 + rand.Intn(71) // [15, 85]
	}

	return timeline
}

// Run starts the bot's runner goroutine for the match.
func (e *BotEngine) Run(matchID string, timeline *models.BotTimeline) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if old, exists := e.running[matchID]; exists {
		old()
	}
	e.running[matchID] = cancel
	e.mu.Unlock()

	e.logger.Info("Bot started",
		zap.String("matchId", matchID),
		zap.String("botId", timeline.BotID),
		zap.Duration("total", timeline.Total),
		zap.Bool("succeeds", timeline.Succeeds))

	go e.run(ctx, matchID, timeline)
}

// Stop cancels every pending checkpoint for the match in one operation.
// Safe to call for matches without a bot.
func (e *BotEngine) Stop(matchID string) {
	e.mu.Lock()
	cancel, exists := e.running[matchID]
	if exists {
		delete(e.running, matchID)
	}
	e.mu.Unlock()

	if exists {
		cancel()
	}
}

// StopAll cancels every running bot. Used during shutdown.
func (e *BotEngine) StopAll() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.running))
	for matchID, cancel := range e.running {
		cancels = append(cancels, cancel)
		delete(e.running, matchID)
	}
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (e *BotEngine) run(ctx context.Context, matchID string, timeline *models.BotTimeline) {
	defer e.Stop(matchID)

	start := time.Now()

	for _, cp := range timeline.Checkpoints {
		if !timeline.Succeeds && cp.Percent >= timeline.FailAtPercent {
			if !sleepUntil(ctx, start, cp.Offset) {
				return
			}
			e.notifier.SendToMatch(matchID, "", models.EventOpponentProgress, models.OpponentProgressPayload{
				Status:  "Submission failed: wrong answer",
				Percent: cp.Percent,
			})
			e.logger.Info("Bot failed",
				zap.String("matchId", matchID),
				zap.Int("percent", cp.Percent))
			return
		}

		if !sleepUntil(ctx, start, cp.Offset) {
			return
		}
		e.notifier.SendToMatch(matchID, "", models.EventOpponentProgress, models.OpponentProgressPayload{
			Status:  cp.Label,
			Percent: cp.Percent,
		})
	}

	if !sleepUntil(ctx, start, timeline.Total) {
		return
	}

	if e.finisher != nil {
		e.finisher.FinishFromBot(matchID, timeline.BotID)
	}
}

// sleepUntil waits for start+offset; false when cancelled first.
func sleepUntil(ctx context.Context, start time.Time, offset time.Duration) bool {
	d := time.Until(start.Add(offset))
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
