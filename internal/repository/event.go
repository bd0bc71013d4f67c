package repository

import (
	"context"
	"fmt"
)

// MarkEventProcessed records a provider event id. It returns false when the
// event was already recorded, so callers can skip duplicate deliveries.
func (r *Repository) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, eventID, eventType, r.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ForgetEvent removes a processed marker so a failed event can be redelivered.
func (r *Repository) ForgetEvent(ctx context.Context, eventID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM processed_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("failed to forget event: %w", err)
	}
	return nil
}
