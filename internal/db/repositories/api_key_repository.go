// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// lookup by prefix, creation and last-used timestamp updates.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/collection-hub/collection-hub/internal/db/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateAPIKey creates a new API key
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, expires_at, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		apiKey.ID, apiKey.UserID, apiKey.Name, apiKey.KeyHash, apiKey.KeyPrefix,
		apiKey.ExpiresAt, apiKey.LastUsedAt, apiKey.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// GetAPIKeysByPrefix retrieves API keys matching a display prefix (for authentication)
func (r *APIKeyRepository) GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error) {
	keys := []*models.APIKey{}
	err := r.db.SelectContext(ctx, &keys, `
		SELECT id, user_id, name, key_hash, key_prefix, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE key_prefix = $1`, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get api keys by prefix: %w", err)
	}
	return keys, nil
}

// UpdateLastUsed records that the key authenticated a request
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now().UTC(), keyID)
	return err
}
