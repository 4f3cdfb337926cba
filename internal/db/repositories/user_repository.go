// user_repository.go implements UserRepository: accounts and their group memberships.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/collection-hub/collection-hub/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts a user and its group memberships
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	user.ID = uuid.New().String()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, email, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.Email, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	for _, g := range user.Groups {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_groups (user_id, group_name) VALUES ($1, $2)`, user.ID, g); err != nil {
			return fmt.Errorf("failed to add user to group %q: %w", g, err)
		}
	}

	return tx.Commit()
}

// GetUserByID retrieves a user with groups, or nil when unknown
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getUser(ctx, `SELECT id, username, email, created_at, updated_at FROM users WHERE id = $1`, userID)
}

// GetUserByUsername retrieves a user with groups, or nil when unknown
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getUser(ctx, `SELECT id, username, email, created_at, updated_at FROM users WHERE username = $1`, username)
}

func (r *UserRepository) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	groups, err := r.GetUserGroups(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Groups = groups
	return &user, nil
}

// GetUserGroups returns the group names a user belongs to, sorted
func (r *UserRepository) GetUserGroups(ctx context.Context, userID string) ([]string, error) {
	groups := []string{}
	err := r.db.SelectContext(ctx, &groups,
		`SELECT group_name FROM user_groups WHERE user_id = $1 ORDER BY group_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user groups: %w", err)
	}
	return groups, nil
}
