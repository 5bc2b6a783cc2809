package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeduel/codeduel-backend/internal/models"
	"github.com/codeduel/codeduel-backend/pkg/database"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemRepository is the problem-content collaborator: problems plus
// their ordered test cases, hidden flag included.
type ProblemRepository struct {
	db *database.DB
}

func NewProblemRepository(db *database.DB) *ProblemRepository {
	return &ProblemRepository{db: db}
}

// Random picks one problem at random with its test cases.
func (r *ProblemRepository) Random(ctx context.Context) (*models.Problem, error) {
	query := `
		SELECT id, title, description, difficulty, rating, time_limit_ms
		FROM problems
		ORDER BY RANDOM()
		LIMIT 1
	`

	problem, err := r.scanProblem(r.db.QueryRowContext(ctx, query))
	if err != nil {
		return nil, err
	}

	if err := r.loadTestCases(ctx, problem); err != nil {
		return nil, err
	}

	return problem, nil
}

// ByID fetches a specific problem with its test cases.
func (r *ProblemRepository) ByID(ctx context.Context, id string) (*models.Problem, error) {
	query := `
		SELECT id, title, description, difficulty, rating, time_limit_ms
		FROM problems
		WHERE id = $1
	`

	problem, err := r.scanProblem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := r.loadTestCases(ctx, problem); err != nil {
		return nil, err
	}

	return problem, nil
}

func (r *ProblemRepository) scanProblem(row *sql.Row) (*models.Problem, error) {
	problem := &models.Problem{}
	err := row.Scan(
		&problem.ID,
		&problem.Title,
		&problem.Description,
		&problem.Difficulty,
		&problem.Rating,
		&problem.TimeLimitMs,
	)
	if err == sql.ErrNoRows {
		return nil, ErrProblemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch problem: %w", err)
	}
	return problem, nil
}

func (r *ProblemRepository) loadTestCases(ctx context.Context, problem *models.Problem) error {
	query := `
		SELECT position, input, expected, hidden
		FROM problem_test_cases
		WHERE problem_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, problem.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch test cases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tc models.TestCase
		if err := rows.Scan(&tc.ID, &tc.Input, &tc.Expected, &tc.Hidden); err != nil {
			return fmt.Errorf("failed to scan test case: %w", err)
		}
		problem.TestCases = append(problem.TestCases, tc)
	}

	return rows.Err()
}
