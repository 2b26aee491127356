package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PayoutRepo implements ports.PayoutRepository.
type PayoutRepo struct {
	pool Pool
}

// NewPayoutRepo creates a new PayoutRepo.
func NewPayoutRepo(pool Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

const payoutColumns = `id, seller_id, order_id, amount, currency, status, attempts,
		provider_ref, failure_reason, created_at, updated_at`

// Create inserts a pending payout. The (order_id, seller_id) unique
// constraint makes batch creation idempotent: a second run over the
// same eligible orders inserts nothing.
func (r *PayoutRepo) Create(ctx context.Context, payout *domain.Payout) (bool, error) {
	query := `INSERT INTO payouts (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id, seller_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query,
		payout.ID, payout.SellerID, payout.OrderID, payout.Amount, payout.Currency,
		payout.Status, payout.Attempts, payout.ProviderRef, payout.FailureReason,
		payout.CreatedAt, payout.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert payout: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID fetches a payout, or nil when none exists.
func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`
	return scanPayout(r.pool.QueryRow(ctx, query, id))
}

// Claim atomically moves PENDING -> PROCESSING. The status guard in the
// WHERE clause is the whole concurrency story: two workers racing on
// one payout produce exactly one affected row.
func (r *PayoutRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE payouts
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		domain.PayoutStatusProcessing, time.Now(), id, domain.PayoutStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim payout: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaid finalizes a payout inside the settlement transaction so the
// status flip commits atomically with the ledger postings.
func (r *PayoutRepo) MarkPaid(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerRef string, attempts int) error {
	tag, err := tx.Exec(ctx, `UPDATE payouts
		SET status = $1, provider_ref = $2, attempts = $3, failure_reason = NULL, updated_at = $4
		WHERE id = $5`,
		domain.PayoutStatusPaid, providerRef, attempts, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark payout paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark payout paid: payout %s not found", id)
	}
	return nil
}

// MarkFailed records a terminal failure with its reason.
func (r *PayoutRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, attempts int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payouts
		SET status = $1, failure_reason = $2, attempts = $3, updated_at = $4
		WHERE id = $5`,
		domain.PayoutStatusFailed, reason, attempts, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark payout failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark payout failed: payout %s not found", id)
	}
	return nil
}

// Reopen moves FAILED back to PENDING for a manual re-trigger.
func (r *PayoutRepo) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE payouts
		SET status = $1, failure_reason = NULL, updated_at = $2
		WHERE id = $3 AND status = $4`,
		domain.PayoutStatusPending, time.Now(), id, domain.PayoutStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("reopen payout: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByStatus returns payouts in the given status, oldest first.
func (r *PayoutRepo) ListByStatus(ctx context.Context, status domain.PayoutStatus, limit int) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		p, err := scanPayoutRow(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

// PaidExistsForOrder reports whether a PAID payout exists for the order,
// inside the caller's transaction.
func (r *PayoutRepo) PaidExistsForOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS(
		SELECT 1 FROM payouts WHERE order_id = $1 AND status = $2)`,
		orderID, domain.PayoutStatusPaid,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check paid payout: %w", err)
	}
	return exists, nil
}

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	p, err := scanPayoutRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func scanPayoutRow(row pgx.Row) (*domain.Payout, error) {
	p := &domain.Payout{}
	err := row.Scan(
		&p.ID, &p.SellerID, &p.OrderID, &p.Amount, &p.Currency, &p.Status,
		&p.Attempts, &p.ProviderRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
