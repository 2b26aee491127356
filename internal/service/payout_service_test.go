package service

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type payoutTestDeps struct {
	svc        *PayoutServiceImpl
	orderRepo  *mocks.MockOrderRepository
	payoutRepo *mocks.MockPayoutRepository
	ledgerRepo *mocks.MockLedgerRepository
	provider   *mocks.MockPayoutProvider
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupPayoutService(t *testing.T) *payoutTestDeps {
	ctrl := gomock.NewController(t)
	d := &payoutTestDeps{
		orderRepo:  mocks.NewMockOrderRepository(ctrl),
		payoutRepo: mocks.NewMockPayoutRepository(ctrl),
		ledgerRepo: mocks.NewMockLedgerRepository(ctrl),
		provider:   mocks.NewMockPayoutProvider(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewPayoutService(
		d.orderRepo, d.payoutRepo, d.ledgerRepo, d.provider, d.transactor,
		PayoutOptions{
			MaxAttempts:     3,
			BackoffBase:     time.Millisecond,
			BackoffCap:      5 * time.Millisecond,
			ProviderTimeout: time.Second,
			BatchLimit:      50,
		},
		zerolog.Nop(),
	)
	return d
}

func pendingPayout() *domain.Payout {
	now := time.Now().UTC()
	return &domain.Payout{
		ID:        uuid.New(),
		SellerID:  uuid.New(),
		OrderID:   uuid.New(),
		Amount:    9000,
		Currency:  "USD",
		Status:    domain.PayoutStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func transientProviderErr() error {
	return &ports.ProviderError{Code: "TIMEOUT", Message: "gateway timeout", Transient: true}
}

func TestPayoutService_RunOne_Success(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	payout := pendingPayout()
	tx := &mockTx{}

	d.payoutRepo.EXPECT().GetByID(ctx, payout.ID).Return(payout, nil)
	d.payoutRepo.EXPECT().Claim(ctx, payout.ID).Return(true, nil)
	d.provider.EXPECT().SendPayout(gomock.Any(), payout).Return("prv-42", nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().
		Post(ctx, tx, domain.PayoutGroupID(payout.ID), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, groupID uuid.UUID, entries []domain.LedgerEntry) error {
			require.Len(t, entries, 2)
			require.NoError(t, domain.ValidateGroup(groupID, entries))
			byAccount := map[string]domain.EntryDirection{}
			for _, e := range entries {
				assert.Equal(t, int64(9000), e.Amount)
				byAccount[e.Account] = e.Direction
			}
			assert.Equal(t, domain.DirectionDebit, byAccount[domain.SellerPayableAccount(payout.SellerID)])
			assert.Equal(t, domain.DirectionCredit, byAccount[domain.AccountPlatformCash])
			return nil
		})
	d.payoutRepo.EXPECT().MarkPaid(ctx, tx, payout.ID, "prv-42", 1).Return(nil)

	result, err := d.svc.RunOne(ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.ProviderRef)
	assert.Equal(t, "prv-42", *result.ProviderRef)
	assert.True(t, tx.committed)
}

func TestPayoutService_RunOne_TransientRetriesThenSucceeds(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	payout := pendingPayout()
	tx := &mockTx{}

	d.payoutRepo.EXPECT().GetByID(ctx, payout.ID).Return(payout, nil)
	d.payoutRepo.EXPECT().Claim(ctx, payout.ID).Return(true, nil)
	gomock.InOrder(
		d.provider.EXPECT().SendPayout(gomock.Any(), payout).Return("", transientProviderErr()),
		d.provider.EXPECT().SendPayout(gomock.Any(), payout).Return("prv-43", nil),
	)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Post(ctx, tx, domain.PayoutGroupID(payout.ID), gomock.Any()).Return(nil)
	d.payoutRepo.EXPECT().MarkPaid(ctx, tx, payout.ID, "prv-43", 2).Return(nil)

	result, err := d.svc.RunOne(ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestPayoutService_RunOne_RetryBudgetExhausted(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	payout := pendingPayout()

	d.payoutRepo.EXPECT().GetByID(ctx, payout.ID).Return(payout, nil)
	d.payoutRepo.EXPECT().Claim(ctx, payout.ID).Return(true, nil)
	d.provider.EXPECT().SendPayout(gomock.Any(), payout).Return("", transientProviderErr()).Times(3)
	d.payoutRepo.EXPECT().
		MarkFailed(ctx, payout.ID, gomock.Any(), 3).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, reason string, _ int) error {
			assert.Contains(t, reason, "retry budget exhausted")
			return nil
		})

	result, err := d.svc.RunOne(ctx, payout.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.FailureReason)
}

func TestPayoutService_RunOne_PermanentDeclineFailsImmediately(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	payout := pendingPayout()

	d.payoutRepo.EXPECT().GetByID(ctx, payout.ID).Return(payout, nil)
	d.payoutRepo.EXPECT().Claim(ctx, payout.ID).Return(true, nil)
	d.provider.EXPECT().SendPayout(gomock.Any(), payout).
		Return("", &ports.ProviderError{Code: "ACCOUNT_CLOSED", Message: "seller account closed"})
	d.payoutRepo.EXPECT().MarkFailed(ctx, payout.ID, gomock.Any(), 1).Return(nil)

	result, err := d.svc.RunOne(ctx, payout.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestPayoutService_RunOne_AlreadyPaidIsNoOp(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	payout := pendingPayout()
	ref := "prv-earlier"
	payout.Status = domain.PayoutStatusPaid
	payout.ProviderRef = &ref

	d.payoutRepo.EXPECT().GetByID(ctx, payout.ID).Return(payout, nil)

	result, err := d.svc.RunOne(ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "prv-earlier", *result.ProviderRef)
}

func TestPayoutService_RunOne_ProcessingIsNotActionable(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	payout := pendingPayout()
	payout.Status = domain.PayoutStatusProcessing

	d.payoutRepo.EXPECT().GetByID(ctx, payout.ID).Return(payout, nil)

	_, err := d.svc.RunOne(ctx, payout.ID)
	assertAppError(t, err, "BIZ_007")
}

func TestPayoutService_RunOne_FailedIsManualRetrigger(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	payout := pendingPayout()
	reason := "retry budget exhausted"
	payout.Status = domain.PayoutStatusFailed
	payout.FailureReason = &reason
	tx := &mockTx{}

	d.payoutRepo.EXPECT().GetByID(ctx, payout.ID).Return(payout, nil)
	d.payoutRepo.EXPECT().Reopen(ctx, payout.ID).Return(true, nil)
	d.payoutRepo.EXPECT().Claim(ctx, payout.ID).Return(true, nil)
	d.provider.EXPECT().SendPayout(gomock.Any(), payout).Return("prv-44", nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Post(ctx, tx, domain.PayoutGroupID(payout.ID), gomock.Any()).Return(nil)
	d.payoutRepo.EXPECT().MarkPaid(ctx, tx, payout.ID, "prv-44", 1).Return(nil)

	result, err := d.svc.RunOne(ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestPayoutService_RunOne_ClaimContention(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	payout := pendingPayout()

	d.payoutRepo.EXPECT().GetByID(ctx, payout.ID).Return(payout, nil)
	// Another worker claimed it between the read and the claim.
	d.payoutRepo.EXPECT().Claim(ctx, payout.ID).Return(false, nil)

	_, err := d.svc.RunOne(ctx, payout.ID)
	assertAppError(t, err, "BIZ_007")
}

func TestPayoutService_RunOne_NotFound(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	d.payoutRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)

	_, err := d.svc.RunOne(ctx, id)
	assertAppError(t, err, "VAL_003")
}

func TestPayoutService_RunBatch_CreatesPayoutsForDeliveredOrders(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	asOf := time.Now().UTC()
	order := pendingOrder()
	order.Status = domain.OrderStatusDelivered

	d.orderRepo.EXPECT().ListDeliveredWithoutPayout(ctx, asOf).Return([]domain.Order{*order}, nil)
	d.orderRepo.EXPECT().ListLineItems(ctx, order.ID).Return(lineItemsFor(order), nil)
	d.payoutRepo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, p *domain.Payout) (bool, error) {
			assert.Equal(t, order.ID, p.OrderID)
			assert.Equal(t, order.SellerID, p.SellerID)
			assert.Equal(t, int64(9000), p.Amount)
			assert.Equal(t, domain.PayoutStatusPending, p.Status)
			return true, nil
		})
	// Nothing pending to process in this run.
	d.payoutRepo.EXPECT().ListByStatus(ctx, domain.PayoutStatusPending, 50).Return(nil, nil)

	result, err := d.svc.RunBatch(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestPayoutService_RunBatch_IsolatesFailures(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	asOf := time.Now().UTC()
	good := pendingPayout()
	bad := pendingPayout()
	tx := &mockTx{}

	d.orderRepo.EXPECT().ListDeliveredWithoutPayout(ctx, asOf).Return(nil, nil)
	d.payoutRepo.EXPECT().ListByStatus(ctx, domain.PayoutStatusPending, 50).
		Return([]domain.Payout{*bad, *good}, nil)

	// bad payout: permanent decline
	d.payoutRepo.EXPECT().GetByID(ctx, bad.ID).Return(bad, nil)
	d.payoutRepo.EXPECT().Claim(ctx, bad.ID).Return(true, nil)
	d.provider.EXPECT().SendPayout(gomock.Any(), bad).
		Return("", &ports.ProviderError{Code: "ACCOUNT_CLOSED", Message: "closed"})
	d.payoutRepo.EXPECT().MarkFailed(ctx, bad.ID, gomock.Any(), 1).Return(nil)

	// good payout proceeds regardless
	d.payoutRepo.EXPECT().GetByID(ctx, good.ID).Return(good, nil)
	d.payoutRepo.EXPECT().Claim(ctx, good.ID).Return(true, nil)
	d.provider.EXPECT().SendPayout(gomock.Any(), good).Return("prv-45", nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Post(ctx, tx, domain.PayoutGroupID(good.ID), gomock.Any()).Return(nil)
	d.payoutRepo.EXPECT().MarkPaid(ctx, tx, good.ID, "prv-45", 1).Return(nil)

	result, err := d.svc.RunBatch(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 1, result.Failed)
}

func TestPayoutService_RunBatch_SkipsZeroDueOrders(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	asOf := time.Now().UTC()
	order := pendingOrder()
	order.Status = domain.OrderStatusDelivered

	d.orderRepo.EXPECT().ListDeliveredWithoutPayout(ctx, asOf).Return([]domain.Order{*order}, nil)
	d.orderRepo.EXPECT().ListLineItems(ctx, order.ID).Return(nil, nil)
	d.payoutRepo.EXPECT().ListByStatus(ctx, domain.PayoutStatusPending, 50).Return(nil, nil)

	result, err := d.svc.RunBatch(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestPayoutService_RunBatch_StopsOnCanceledContext(t *testing.T) {
	d := setupPayoutService(t)
	defer d.ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	asOf := time.Now().UTC()
	p1 := pendingPayout()
	p2 := pendingPayout()

	d.orderRepo.EXPECT().ListDeliveredWithoutPayout(ctx, asOf).Return(nil, nil)
	d.payoutRepo.EXPECT().ListByStatus(ctx, domain.PayoutStatusPending, 50).
		DoAndReturn(func(context.Context, domain.PayoutStatus, int) ([]domain.Payout, error) {
			cancel()
			return []domain.Payout{*p1, *p2}, nil
		})

	// No GetByID/Claim expectations: the loop must stop before touching
	// any payout once the context is canceled.
	result, err := d.svc.RunBatch(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}
