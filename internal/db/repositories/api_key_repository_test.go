package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/collection-hub/collection-hub/internal/db/models"
)

var apiKeyCols = []string{
	"id", "user_id", "name", "key_hash", "key_prefix", "expires_at", "last_used_at", "created_at",
}

func newAPIKeyRepo(t *testing.T) (*APIKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAPIKeyRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestCreateAPIKey_Success(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").WillReturnResult(sqlmock.NewResult(1, 1))

	key := &models.APIKey{UserID: "user-1", Name: "CI", KeyHash: "hash", KeyPrefix: "hub_abc123"}
	if err := repo.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.ID == "" {
		t.Error("expected ID to be assigned")
	}
}

func TestCreateAPIKey_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").WillReturnError(errDB)

	if err := repo.CreateAPIKey(context.Background(), &models.APIKey{}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestGetAPIKeysByPrefix(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT .* FROM api_keys.*WHERE key_prefix").
		WithArgs("hub_abc123").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).
			AddRow("key-1", "user-1", "CI", "hash", "hub_abc123", nil, nil, time.Now()))

	keys, err := repo.GetAPIKeysByPrefix(context.Background(), "hub_abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0].UserID != "user-1" {
		t.Errorf("unexpected keys: %+v", keys)
	}
}

func TestGetAPIKeysByPrefix_NoMatch(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT .* FROM api_keys").WillReturnRows(sqlmock.NewRows(apiKeyCols))

	keys, err := repo.GetAPIKeysByPrefix(context.Background(), "hub_zzz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %d", len(keys))
	}
}

func TestUpdateLastUsed(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET last_used_at").
		WithArgs(sqlmock.AnyArg(), "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateLastUsed(context.Background(), "key-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
