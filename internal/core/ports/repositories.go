package ports

import (
	"context"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderRepository defines persistence operations for orders and their
// line items. Methods accepting pgx.Tx run inside transaction blocks so
// order mutations commit atomically with their ledger postings.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order, items []domain.OrderLineItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error)
	ListLineItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLineItem, error)
	// Update persists status, paidAt, paymentRef and updatedAt.
	Update(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	// ListDeliveredWithoutPayout selects payout-eligible orders: status
	// DELIVERED, delivered on or before asOf, with no payout row yet.
	ListDeliveredWithoutPayout(ctx context.Context, asOf time.Time) ([]domain.Order, error)
}

// LedgerRepository is the append-only double-entry store.
type LedgerRepository interface {
	// Post writes one balanced group atomically within tx. Re-posting an
	// existing groupID is a no-op so callers can safely retry after a
	// crash. An unbalanced or malformed group is rejected before any row
	// is written.
	Post(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, entries []domain.LedgerEntry) error
	// Balance is a derived read: sum(credits) - sum(debits), always
	// computed from the immutable log.
	Balance(ctx context.Context, account, currency string) (int64, error)
	ListByReference(ctx context.Context, refType domain.ReferenceType, refID uuid.UUID) ([]domain.LedgerEntry, error)
}

// WebhookEventRepository is the durable idempotency guard. Insert is a
// single atomic uniqueness-enforcing write, not a read-then-write.
type WebhookEventRepository interface {
	// Insert claims the event id. Returns claimed=false when the id was
	// already recorded. A store failure means "not claimed": the caller
	// must not process the event.
	Insert(ctx context.Context, tx pgx.Tx, event *domain.WebhookEvent) (claimed bool, err error)
	Get(ctx context.Context, eventID string) (*domain.WebhookEvent, error)
}

// PayoutRepository defines persistence operations for seller payouts.
type PayoutRepository interface {
	// Create inserts a pending payout; returns created=false when one
	// already exists for the order/seller pair.
	Create(ctx context.Context, payout *domain.Payout) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error)
	// Claim atomically moves PENDING -> PROCESSING so no two workers run
	// the same payout concurrently. Returns false when the payout was
	// not claimable.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerRef string, attempts int) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, attempts int) error
	// Reopen moves FAILED back to PENDING for a manual re-trigger.
	Reopen(ctx context.Context, id uuid.UUID) (bool, error)
	ListByStatus(ctx context.Context, status domain.PayoutStatus, limit int) ([]domain.Payout, error)
	// PaidExistsForOrder reports whether this order's seller was already
	// paid out; refunds credit a different account in that case. Runs on
	// tx so the refund settlement reads the same snapshot it writes.
	PaidExistsForOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (bool, error)
}

// RefundRepository defines persistence operations for refunds.
type RefundRepository interface {
	Create(ctx context.Context, refund *domain.Refund) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error)
	// GetActiveByOrder returns the order's single non-void refund, or
	// nil when none exists.
	GetActiveByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Refund, error)
	// Claim atomically moves the refund into PROCESSING from the given
	// status, clearing any hold reason and recording the approver.
	Claim(ctx context.Context, id uuid.UUID, from domain.RefundStatus, approver string) (bool, error)
	MarkRefunded(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerRef string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
