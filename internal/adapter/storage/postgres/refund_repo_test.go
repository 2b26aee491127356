package postgres

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRefund() *domain.Refund {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Refund{
		ID:          uuid.New(),
		OrderID:     uuid.New(),
		Amount:      11000,
		Reason:      "damaged item",
		Status:      domain.RefundStatusPending,
		RequestedBy: "ops-alice",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func refundColumnNames() []string {
	return []string{"id", "order_id", "amount", "reason", "status", "failure_reason",
		"provider_ref", "requested_by", "approved_by", "created_at", "updated_at"}
}

func refundRow(rf *domain.Refund) *pgxmock.Rows {
	return pgxmock.NewRows(refundColumnNames()).AddRow(
		rf.ID, rf.OrderID, rf.Amount, rf.Reason, rf.Status, rf.FailureReason,
		rf.ProviderRef, rf.RequestedBy, rf.ApprovedBy, rf.CreatedAt, rf.UpdatedAt,
	)
}

func TestRefundRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundRepo(mock)
	rf := newTestRefund()

	mock.ExpectExec("INSERT INTO refunds").
		WithArgs(rf.ID, rf.OrderID, rf.Amount, rf.Reason, rf.Status,
			rf.FailureReason, rf.ProviderRef, rf.RequestedBy, rf.ApprovedBy,
			rf.CreatedAt, rf.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), rf)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepo_GetActiveByOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundRepo(mock)
	rf := newTestRefund()

	mock.ExpectQuery("SELECT .+ FROM refunds").
		WithArgs(rf.OrderID, domain.RefundStatusFailed).
		WillReturnRows(refundRow(rf))

	result, err := repo.GetActiveByOrder(context.Background(), rf.OrderID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, rf.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepo_GetActiveByOrder_None(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundRepo(mock)
	orderID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM refunds").
		WithArgs(orderID, domain.RefundStatusFailed).
		WillReturnRows(pgxmock.NewRows(refundColumnNames()))

	result, err := repo.GetActiveByOrder(context.Background(), orderID)
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepo_Claim(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE refunds").
		WithArgs(domain.RefundStatusProcessing, pgxmock.AnyArg(), pgxmock.AnyArg(), id, domain.RefundStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	claimed, err := repo.Claim(context.Background(), id, domain.RefundStatusPending, "ops-bob")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepo_Claim_WrongStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE refunds").
		WithArgs(domain.RefundStatusProcessing, pgxmock.AnyArg(), pgxmock.AnyArg(), id, domain.RefundStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	claimed, err := repo.Claim(context.Background(), id, domain.RefundStatusPending, "ops-bob")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepo_MarkRefunded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refunds").
		WithArgs(domain.RefundStatusRefunded, "prv-refund-1", pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.MarkRefunded(context.Background(), tx, id, "prv-refund-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepo_MarkFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE refunds").
		WithArgs(domain.RefundStatusFailed, "provider declined", pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.MarkFailed(context.Background(), id, "provider declined")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
