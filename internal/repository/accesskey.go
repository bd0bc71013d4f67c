package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/voicecredits/voicecredits/internal/model"
)

// ErrAccessKeyNotFound is returned when no matching access key exists.
var ErrAccessKeyNotFound = errors.New("access key not found")

const accessKeyColumns = `id, user_id, key_hash, key_prefix, name, revoked_at, last_used_at, created_at`

// CreateAccessKey inserts a new access key into the database.
func (r *Repository) CreateAccessKey(ctx context.Context, key *model.AccessKey) error {
	query := `
		INSERT INTO access_keys (id, user_id, key_hash, key_prefix, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		key.ID,
		key.UserID,
		key.KeyHash,
		key.KeyPrefix,
		key.Name,
		key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create access key: %w", err)
	}

	return nil
}

// GetAccessKeyByID retrieves an access key by its ID.
func (r *Repository) GetAccessKeyByID(ctx context.Context, id string) (*model.AccessKey, error) {
	query := `SELECT ` + accessKeyColumns + ` FROM access_keys WHERE id = $1`

	key, err := scanAccessKey(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccessKeyNotFound
		}
		return nil, fmt.Errorf("failed to get access key: %w", err)
	}

	return key, nil
}

// GetAccessKeysByPrefix retrieves all active access keys matching a prefix.
// Used during authentication to find candidate keys for verification.
func (r *Repository) GetAccessKeysByPrefix(ctx context.Context, prefix string) ([]*model.AccessKey, error) {
	query := `SELECT ` + accessKeyColumns + ` FROM access_keys WHERE key_prefix = $1 AND revoked_at IS NULL`
	return r.queryAccessKeys(ctx, query, prefix)
}

// ListAccessKeysByUserID retrieves all access keys for a user.
func (r *Repository) ListAccessKeysByUserID(ctx context.Context, userID string) ([]*model.AccessKey, error) {
	query := `SELECT ` + accessKeyColumns + ` FROM access_keys WHERE user_id = $1 ORDER BY created_at DESC`
	return r.queryAccessKeys(ctx, query, userID)
}

// RevokeAccessKey revokes an access key by setting revoked_at.
func (r *Repository) RevokeAccessKey(ctx context.Context, id string) error {
	query := `
		UPDATE access_keys
		SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke access key: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrAccessKeyNotFound
	}

	return nil
}

// UpdateAccessKeyLastUsed updates the last_used_at timestamp.
// Should be called asynchronously after successful authentication.
func (r *Repository) UpdateAccessKeyLastUsed(ctx context.Context, id string) error {
	query := `UPDATE access_keys SET last_used_at = $2 WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to update access key last used: %w", err)
	}

	return nil
}

func (r *Repository) queryAccessKeys(ctx context.Context, query string, arg string) ([]*model.AccessKey, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query access keys: %w", err)
	}
	defer rows.Close()

	var keys []*model.AccessKey
	for rows.Next() {
		key, err := scanAccessKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access keys: %w", err)
	}

	return keys, nil
}

// scanAccessKey scans a single row into an AccessKey model.
func scanAccessKey(row pgx.Row) (*model.AccessKey, error) {
	var key model.AccessKey
	err := row.Scan(
		&key.ID,
		&key.UserID,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.Name,
		&key.RevokedAt,
		&key.LastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
