package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// WebhookEventRepo implements ports.WebhookEventRepository. It is the
// durable idempotency guard for inbound provider events.
type WebhookEventRepo struct {
	pool Pool
}

// NewWebhookEventRepo creates a new WebhookEventRepo.
func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

// Insert claims the event id with a single atomic uniqueness-enforcing
// write: ON CONFLICT DO NOTHING plus the affected-row count. Concurrent
// deliveries of the same event race on the primary key and exactly one
// wins. Any error means "not claimed".
func (r *WebhookEventRepo) Insert(ctx context.Context, tx pgx.Tx, event *domain.WebhookEvent) (bool, error) {
	tag, err := tx.Exec(ctx, `INSERT INTO webhook_events (event_id, order_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.OrderID, event.Payload, event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches the audit record for an event id.
func (r *WebhookEventRepo) Get(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	query := `SELECT event_id, order_id, payload, created_at FROM webhook_events WHERE event_id = $1`

	event := &domain.WebhookEvent{}
	err := r.pool.QueryRow(ctx, query, eventID).Scan(&event.EventID, &event.OrderID, &event.Payload, &event.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return event, nil
}
