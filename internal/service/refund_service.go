package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RefundOptions bounds the processor's provider calls and retries, and
// sets the two-person-control threshold.
type RefundOptions struct {
	LargeThreshold  int64
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	ProviderTimeout time.Duration
}

// RefundServiceImpl implements ports.RefundService.
type RefundServiceImpl struct {
	orderRepo  ports.OrderRepository
	refundRepo ports.RefundRepository
	payoutRepo ports.PayoutRepository
	ledgerRepo ports.LedgerRepository
	provider   ports.RefundProvider
	notifier   ports.Notifier
	transactor ports.DBTransactor
	opts       RefundOptions
	log        zerolog.Logger
}

// NewRefundService creates a new RefundServiceImpl.
func NewRefundService(
	orderRepo ports.OrderRepository,
	refundRepo ports.RefundRepository,
	payoutRepo ports.PayoutRepository,
	ledgerRepo ports.LedgerRepository,
	provider ports.RefundProvider,
	notifier ports.Notifier,
	transactor ports.DBTransactor,
	opts RefundOptions,
	log zerolog.Logger,
) *RefundServiceImpl {
	return &RefundServiceImpl{
		orderRepo:  orderRepo,
		refundRepo: refundRepo,
		payoutRepo: payoutRepo,
		ledgerRepo: ledgerRepo,
		provider:   provider,
		notifier:   notifier,
		transactor: transactor,
		opts:       opts,
		log:        log,
	}
}

// RequestRefund validates a refund request and either executes it
// immediately or parks it on the approval gate. At or above
// LargeThreshold no provider call happens until a second, distinct
// actor approves.
func (s *RefundServiceImpl) RequestRefund(ctx context.Context, orderID uuid.UUID, amount int64, reason, actor string) (ports.RefundDecision, error) {
	if amount <= 0 {
		return ports.RefundDecision{}, apperror.ErrInvalidAmount()
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return ports.RefundDecision{}, apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return ports.RefundDecision{}, apperror.ErrNotFound("order")
	}
	if amount > order.Total {
		return ports.RefundDecision{}, apperror.ErrRefundExceedsTotal()
	}
	if !order.Status.RefundEligible() {
		return ports.RefundDecision{}, apperror.ErrOrderNotRefundable(string(order.Status))
	}

	existing, err := s.refundRepo.GetActiveByOrder(ctx, orderID)
	if err != nil {
		return ports.RefundDecision{}, apperror.InternalError(fmt.Errorf("check existing refund: %w", err))
	}
	if existing != nil {
		if existing.AwaitingApproval() {
			return ports.RefundDecision{}, apperror.ErrApprovalRequired()
		}
		return ports.RefundDecision{}, apperror.ErrRefundAlreadyExists()
	}

	now := time.Now().UTC()
	refund := &domain.Refund{
		ID:          uuid.New(),
		OrderID:     orderID,
		Amount:      amount,
		Reason:      reason,
		Status:      domain.RefundStatusPending,
		RequestedBy: actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if amount >= s.opts.LargeThreshold {
		hold := domain.FailureReasonApprovalRequired
		refund.FailureReason = &hold
		if err := s.refundRepo.Create(ctx, refund); err != nil {
			return ports.RefundDecision{}, apperror.InternalError(fmt.Errorf("create refund: %w", err))
		}
		s.log.Info().
			Str("refund_id", refund.ID.String()).
			Str("order_id", orderID.String()).
			Int64("amount", amount).
			Str("requested_by", actor).
			Msg("large refund parked for second-actor approval")
		return ports.RefundDecision{RefundID: refund.ID, Status: refund.Status, ApprovalRequired: true}, nil
	}

	if err := s.refundRepo.Create(ctx, refund); err != nil {
		return ports.RefundDecision{}, apperror.InternalError(fmt.Errorf("create refund: %w", err))
	}
	claimed, err := s.refundRepo.Claim(ctx, refund.ID, domain.RefundStatusPending, actor)
	if err != nil {
		return ports.RefundDecision{}, apperror.InternalError(fmt.Errorf("claim refund: %w", err))
	}
	if !claimed {
		return ports.RefundDecision{}, apperror.ErrNotActionable("refund", string(refund.Status))
	}

	outcome, err := s.execute(ctx, refund, order)
	if err != nil {
		return ports.RefundDecision{}, err
	}
	status := domain.RefundStatusRefunded
	if !outcome.Success {
		status = domain.RefundStatusFailed
	}
	return ports.RefundDecision{RefundID: refund.ID, Status: status}, nil
}

// ApproveAndProcess releases an approval-gated refund. The approver
// must differ from the requesting actor.
func (s *RefundServiceImpl) ApproveAndProcess(ctx context.Context, refundID uuid.UUID, approver string) (ports.RefundOutcome, error) {
	refund, err := s.refundRepo.GetByID(ctx, refundID)
	if err != nil {
		return ports.RefundOutcome{}, apperror.InternalError(fmt.Errorf("load refund: %w", err))
	}
	if refund == nil {
		return ports.RefundOutcome{}, apperror.ErrNotFound("refund")
	}
	if refund.Status == domain.RefundStatusRefunded {
		// Replayed approval of a completed refund is a no-op success.
		return ports.RefundOutcome{Success: true, ProviderRef: refund.ProviderRef}, nil
	}
	if !refund.AwaitingApproval() {
		return ports.RefundOutcome{}, apperror.ErrNotActionable("refund", string(refund.Status))
	}
	if approver == refund.RequestedBy {
		return ports.RefundOutcome{}, apperror.ErrSameActorApproval()
	}

	order, err := s.orderRepo.GetByID(ctx, refund.OrderID)
	if err != nil {
		return ports.RefundOutcome{}, apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return ports.RefundOutcome{}, apperror.ErrNotFound("order")
	}

	claimed, err := s.refundRepo.Claim(ctx, refundID, domain.RefundStatusPending, approver)
	if err != nil {
		return ports.RefundOutcome{}, apperror.InternalError(fmt.Errorf("claim refund: %w", err))
	}
	if !claimed {
		return ports.RefundOutcome{}, apperror.ErrNotActionable("refund", string(refund.Status))
	}

	s.log.Info().
		Str("refund_id", refundID.String()).
		Str("requested_by", refund.RequestedBy).
		Str("approved_by", approver).
		Msg("refund approved by second actor")

	return s.execute(ctx, refund, order)
}

// execute calls the refund provider with bounded retries and books the
// result. A permanent failure leaves the order untouched: money never
// silently vanishes, the FAILED refund is the visible trail.
func (s *RefundServiceImpl) execute(ctx context.Context, refund *domain.Refund, order *domain.Order) (ports.RefundOutcome, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		providerCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
		providerRef, err := s.provider.ExecuteRefund(providerCtx, refund, order)
		cancel()

		if err == nil {
			if err := s.settle(ctx, refund, order, providerRef); err != nil {
				return ports.RefundOutcome{}, err
			}
			s.log.Info().
				Str("refund_id", refund.ID.String()).
				Str("provider_ref", providerRef).
				Int("attempts", attempt).
				Msg("refund completed")
			refund.ProviderRef = &providerRef
			s.notifyCompleted(refund)
			return ports.RefundOutcome{Success: true, ProviderRef: &providerRef}, nil
		}

		if !ports.IsTransient(err) {
			reason := err.Error()
			if markErr := s.refundRepo.MarkFailed(ctx, refund.ID, reason); markErr != nil {
				return ports.RefundOutcome{}, apperror.InternalError(fmt.Errorf("mark refund failed: %w", markErr))
			}
			s.log.Warn().Err(err).Str("refund_id", refund.ID.String()).Msg("refund permanently declined")
			return ports.RefundOutcome{FailureReason: &reason}, nil
		}

		lastErr = err
		s.log.Warn().Err(err).
			Str("refund_id", refund.ID.String()).
			Int("attempt", attempt).
			Msg("transient refund provider failure")

		if attempt < s.opts.MaxAttempts {
			if err := sleepBackoff(ctx, attempt, s.opts.BackoffBase, s.opts.BackoffCap); err != nil {
				break
			}
		}
	}

	reason := fmt.Sprintf("retry budget exhausted: %v", lastErr)
	if err := s.refundRepo.MarkFailed(ctx, refund.ID, reason); err != nil {
		return ports.RefundOutcome{}, apperror.InternalError(fmt.Errorf("mark refund failed: %w", err))
	}
	return ports.RefundOutcome{FailureReason: &reason}, nil
}

// settle books the refund in one transaction: ledger group, REFUNDED
// status, and the order's returns-branch transition when applicable.
// The credited account depends on payout timing: once the seller was
// paid out the platform bears the refund, otherwise it comes out of the
// seller's payable balance.
func (s *RefundServiceImpl) settle(ctx context.Context, refund *domain.Refund, order *domain.Order, providerRef string) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Payout timing is read inside the settle transaction so it cannot
	// change between the check and the posting it decides.
	paidOut, err := s.payoutRepo.PaidExistsForOrder(ctx, dbTx, order.ID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("check payout timing: %w", err))
	}
	creditAccount := domain.SellerPayableAccount(order.SellerID)
	if paidOut {
		creditAccount = domain.AccountPlatformCash
	}

	now := time.Now().UTC()
	groupID := domain.RefundGroupID(refund.ID)
	entries := []domain.LedgerEntry{
		{
			ID: uuid.New(), GroupID: groupID,
			Account: domain.AccountRefundLiability, Direction: domain.DirectionDebit,
			Amount: refund.Amount, Currency: order.Currency,
			ReferenceType: domain.ReferenceRefund, ReferenceID: refund.ID, CreatedAt: now,
		},
		{
			ID: uuid.New(), GroupID: groupID,
			Account: creditAccount, Direction: domain.DirectionCredit,
			Amount: refund.Amount, Currency: order.Currency,
			ReferenceType: domain.ReferenceRefund, ReferenceID: refund.ID, CreatedAt: now,
		},
	}
	if err := s.ledgerRepo.Post(ctx, dbTx, groupID, entries); err != nil {
		return apperror.InternalError(fmt.Errorf("post refund ledger group: %w", err))
	}

	if err := s.refundRepo.MarkRefunded(ctx, dbTx, refund.ID, providerRef); err != nil {
		return apperror.InternalError(fmt.Errorf("mark refunded: %w", err))
	}

	// Completing the refund of an approved return closes the order.
	if order.Status == domain.OrderStatusReturnApproved {
		if _, err := domain.Transition(order, domain.OrderStatusReturned, now); err == nil {
			if err := s.orderRepo.Update(ctx, dbTx, order); err != nil {
				return apperror.InternalError(fmt.Errorf("update order: %w", err))
			}
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// notifyCompleted is fire-and-forget: a notification failure never
// surfaces to the refund outcome.
func (s *RefundServiceImpl) notifyCompleted(refund *domain.Refund) {
	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()
	if err := s.notifier.NotifyRefundCompleted(ctx, refund); err != nil {
		s.log.Error().Err(err).Str("refund_id", refund.ID.String()).Msg("refund notification failed")
	}
}
