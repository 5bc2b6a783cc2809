package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codeduel/codeduel-backend/internal/models"
	"github.com/codeduel/codeduel-backend/pkg/database"
)

// ResultRepository persists finished matches and applies rating deltas.
// Record is write-once per match id.
type ResultRepository struct {
	db *database.DB
}

func NewResultRepository(db *database.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Record inserts the match result and moves the rating delta between the
// two players in one transaction. Bot ids match no user row, so their
// updates are no-ops. A repeated Record for the same match id does
// nothing.
func (r *ResultRepository) Record(ctx context.Context, result *models.MatchResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO match_results
			(match_id, winner_id, loser_id, problem_id, reason, duration_seconds, language, rating_delta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (match_id) DO NOTHING
	`

	res, err := tx.ExecContext(ctx, insert,
		result.MatchID,
		nullString(result.WinnerID),
		nullString(result.LoserID),
		result.ProblemID,
		result.Reason,
		result.DurationSeconds,
		nullString(result.Language),
		result.RatingDelta,
	)
	if err != nil {
		return fmt.Errorf("failed to insert match result: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if inserted == 0 {
		// Already recorded; do not apply the delta twice.
		return tx.Commit()
	}

	if result.WinnerID != "" && result.RatingDelta != 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET rating = rating + $1 WHERE id = $2`,
			result.RatingDelta, result.WinnerID,
		); err != nil {
			return fmt.Errorf("failed to update winner rating: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET rating = rating - $1 WHERE id = $2`,
			result.RatingDelta, result.LoserID,
		); err != nil {
			return fmt.Errorf("failed to update loser rating: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match result: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
