package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/viralink-ai/viralink/internal/model"
)

// CreateAPIKey inserts a new API key record.
func (db *DB) CreateAPIKey(ctx context.Context, key model.APIKey) (model.APIKey, error) {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	key.CreatedAt = time.Now().UTC()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, key_id, key_hash, user_id, role, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.KeyID, key.KeyHash, key.UserID, string(key.Role), key.Active, key.CreatedAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}
	return key, nil
}

// GetActiveAPIKey retrieves an active API key by its public key_id.
// Returns ErrNotFound if no active key matches.
func (db *DB) GetActiveAPIKey(ctx context.Context, keyID string) (model.APIKey, error) {
	var (
		key  model.APIKey
		role string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, key_id, key_hash, user_id, role, active, created_at
		 FROM api_keys WHERE key_id = $1 AND active`, keyID,
	).Scan(&key.ID, &key.KeyID, &key.KeyHash, &key.UserID, &role, &key.Active, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, fmt.Errorf("storage: api key %q: %w", keyID, ErrNotFound)
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key: %w", err)
	}
	key.Role = model.UserRole(role)
	return key, nil
}

// DeactivateAPIKey marks a key inactive. Returns ErrNotFound for unknown keys.
func (db *DB) DeactivateAPIKey(ctx context.Context, keyID string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET active = false WHERE key_id = $1`, keyID,
	)
	if err != nil {
		return fmt.Errorf("storage: deactivate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %q: %w", keyID, ErrNotFound)
	}
	return nil
}
