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

// RefundRepo implements ports.RefundRepository.
type RefundRepo struct {
	pool Pool
}

// NewRefundRepo creates a new RefundRepo.
func NewRefundRepo(pool Pool) *RefundRepo {
	return &RefundRepo{pool: pool}
}

const refundColumns = `id, order_id, amount, reason, status, failure_reason,
		provider_ref, requested_by, approved_by, created_at, updated_at`

// Create inserts a new refund request.
func (r *RefundRepo) Create(ctx context.Context, refund *domain.Refund) error {
	query := `INSERT INTO refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		refund.ID, refund.OrderID, refund.Amount, refund.Reason, refund.Status,
		refund.FailureReason, refund.ProviderRef, refund.RequestedBy, refund.ApprovedBy,
		refund.CreatedAt, refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// GetByID fetches a refund, or nil when none exists.
func (r *RefundRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`
	return scanRefund(r.pool.QueryRow(ctx, query, id))
}

// GetActiveByOrder returns the order's single non-FAILED refund. FAILED
// refunds are void: they stay visible but no longer block a new request.
func (r *RefundRepo) GetActiveByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds
		WHERE order_id = $1 AND status != $2
		ORDER BY created_at DESC LIMIT 1`
	return scanRefund(r.pool.QueryRow(ctx, query, orderID, domain.RefundStatusFailed))
}

// Claim atomically moves the refund from the given status into
// PROCESSING, recording the approver and clearing any hold reason. The
// status guard makes concurrent approvals of one refund race safely.
func (r *RefundRepo) Claim(ctx context.Context, id uuid.UUID, from domain.RefundStatus, approver string) (bool, error) {
	var approvedBy *string
	if approver != "" {
		approvedBy = &approver
	}
	tag, err := r.pool.Exec(ctx, `UPDATE refunds
		SET status = $1, failure_reason = NULL, approved_by = COALESCE($2, approved_by), updated_at = $3
		WHERE id = $4 AND status = $5`,
		domain.RefundStatusProcessing, approvedBy, time.Now(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("claim refund: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRefunded finalizes a refund inside the settlement transaction so
// the status flip commits atomically with the ledger postings.
func (r *RefundRepo) MarkRefunded(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerRef string) error {
	tag, err := tx.Exec(ctx, `UPDATE refunds
		SET status = $1, provider_ref = $2, failure_reason = NULL, updated_at = $3
		WHERE id = $4`,
		domain.RefundStatusRefunded, providerRef, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark refund refunded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark refund refunded: refund %s not found", id)
	}
	return nil
}

// MarkFailed records a terminal failure with its reason.
func (r *RefundRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE refunds
		SET status = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4`,
		domain.RefundStatusFailed, reason, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark refund failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark refund failed: refund %s not found", id)
	}
	return nil
}

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	rf := &domain.Refund{}
	err := row.Scan(
		&rf.ID, &rf.OrderID, &rf.Amount, &rf.Reason, &rf.Status, &rf.FailureReason,
		&rf.ProviderRef, &rf.RequestedBy, &rf.ApprovedBy, &rf.CreatedAt, &rf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rf, nil
}
