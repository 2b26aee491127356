package postgres

import (
	"context"
	"fmt"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository. The ledger_entries
// table is append-only: there is no UPDATE or DELETE statement in this
// file, and there must never be one.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Post writes one balanced group atomically within tx. Re-posting an
// existing groupID is a no-op so crash-retried callers stay safe. The
// group is validated before any row is written.
func (r *LedgerRepo) Post(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, entries []domain.LedgerEntry) error {
	if err := domain.ValidateGroup(groupID, entries); err != nil {
		return err
	}

	// The unique index on (group_id, account, direction) turns a
	// re-post into conflicting rows, so idempotency is enforced by the
	// database rather than a racy existence check.
	for _, e := range entries {
		tag, err := tx.Exec(ctx, `INSERT INTO ledger_entries
			(id, group_id, account, direction, amount, currency, reference_type, reference_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (group_id, account, direction) DO NOTHING`,
			e.ID, e.GroupID, e.Account, e.Direction, e.Amount, e.Currency,
			e.ReferenceType, e.ReferenceID, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Group already posted by an earlier attempt.
			return nil
		}
	}
	return nil
}

// Balance computes sum(credits) - sum(debits) for an account from the
// immutable log. Never stored redundantly, so it cannot drift.
func (r *LedgerRepo) Balance(ctx context.Context, account, currency string) (int64, error) {
	query := `SELECT
		COALESCE(SUM(amount) FILTER (WHERE direction = 'CREDIT'), 0)
		- COALESCE(SUM(amount) FILTER (WHERE direction = 'DEBIT'), 0)
		FROM ledger_entries WHERE account = $1 AND currency = $2`

	var balance int64
	if err := r.pool.QueryRow(ctx, query, account, currency).Scan(&balance); err != nil {
		return 0, fmt.Errorf("compute balance: %w", err)
	}
	return balance, nil
}

// ListByReference fetches all entries tied to one business reference,
// in audit order.
func (r *LedgerRepo) ListByReference(ctx context.Context, refType domain.ReferenceType, refID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := `SELECT id, group_id, account, direction, amount, currency, reference_type, reference_id, created_at
		FROM ledger_entries WHERE reference_type = $1 AND reference_id = $2 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, refType, refID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		err := rows.Scan(&e.ID, &e.GroupID, &e.Account, &e.Direction, &e.Amount,
			&e.Currency, &e.ReferenceType, &e.ReferenceID, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}
