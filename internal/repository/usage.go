package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"github.com/voicecredits/voicecredits/internal/model"
)

// UsageFilter defines filters for listing usage records.
type UsageFilter struct {
	UserID       string
	BillingTypes []model.BillingType
}

func insertUsageRecord(ctx context.Context, tx pgx.Tx, record *model.UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, user_id, agent_id, duration_seconds, minutes_charged, billing_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := tx.Exec(ctx, query,
		record.ID,
		record.UserID,
		record.AgentID,
		record.DurationSeconds,
		record.MinutesCharged,
		record.BillingType,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}

	return nil
}

// ListUsageRecords retrieves a user's usage history, newest first.
func (r *Repository) ListUsageRecords(ctx context.Context, filter UsageFilter, cursor string, limit int) ([]*model.UsageRecord, string, error) {
	var cursorData *PaginationCursor
	if cursor != "" {
		var err error
		cursorData, err = decodeCursor(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
	}

	query := `
		SELECT id, user_id, agent_id, duration_seconds, minutes_charged, billing_type, created_at
		FROM usage_records
		WHERE user_id = $1
	`
	args := []any{filter.UserID}
	argIndex := 2

	if cursorData != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursorData.CreatedAt, cursorData.ID)
		argIndex += 2
	}

	if len(filter.BillingTypes) > 0 {
		types := make([]string, len(filter.BillingTypes))
		for i, bt := range filter.BillingTypes {
			types[i] = string(bt)
		}
		query += fmt.Sprintf(" AND billing_type = ANY($%d)", argIndex)
		args = append(args, pq.Array(types))
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1) // Fetch one extra to determine hasMore

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	var records []*model.UsageRecord
	for rows.Next() {
		var rec model.UsageRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.AgentID,
			&rec.DurationSeconds,
			&rec.MinutesCharged,
			&rec.BillingType,
			&rec.CreatedAt,
		); err != nil {
			return nil, "", fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating usage records: %w", err)
	}

	var nextCursor string
	if len(records) > limit {
		records = records[:limit] // Remove extra row
		last := records[len(records)-1]
		nextCursor = encodeCursor(&PaginationCursor{
			ID:        last.ID,
			CreatedAt: last.CreatedAt,
		})
	}

	return records, nextCursor, nil
}
