package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeduel/codeduel-backend/internal/models"
	"github.com/codeduel/codeduel-backend/pkg/database"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads the public profile slice this service needs.
// Account management happens elsewhere.
type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// ByID returns display name and rating for a verified user id.
func (r *UserRepository) ByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, display_name, rating
		FROM users
		WHERE id = $1
	`

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.DisplayName,
		&user.Rating,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	return user, nil
}
