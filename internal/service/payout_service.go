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

// PayoutOptions bounds the orchestrator's provider calls and retries.
type PayoutOptions struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	ProviderTimeout time.Duration
	BatchLimit      int
}

// PayoutServiceImpl implements ports.PayoutService.
type PayoutServiceImpl struct {
	orderRepo  ports.OrderRepository
	payoutRepo ports.PayoutRepository
	ledgerRepo ports.LedgerRepository
	provider   ports.PayoutProvider
	transactor ports.DBTransactor
	opts       PayoutOptions
	log        zerolog.Logger
}

// NewPayoutService creates a new PayoutServiceImpl.
func NewPayoutService(
	orderRepo ports.OrderRepository,
	payoutRepo ports.PayoutRepository,
	ledgerRepo ports.LedgerRepository,
	provider ports.PayoutProvider,
	transactor ports.DBTransactor,
	opts PayoutOptions,
	log zerolog.Logger,
) *PayoutServiceImpl {
	return &PayoutServiceImpl{
		orderRepo:  orderRepo,
		payoutRepo: payoutRepo,
		ledgerRepo: ledgerRepo,
		provider:   provider,
		transactor: transactor,
		opts:       opts,
		log:        log,
	}
}

// RunBatch creates payouts for newly eligible orders and processes all
// pending payouts. Failures are isolated per payout; the run stops
// cooperatively between payouts when ctx is canceled.
func (s *PayoutServiceImpl) RunBatch(ctx context.Context, asOf time.Time) (ports.BatchResult, error) {
	if err := s.createEligiblePayouts(ctx, asOf); err != nil {
		return ports.BatchResult{}, err
	}

	pending, err := s.payoutRepo.ListByStatus(ctx, domain.PayoutStatusPending, s.opts.BatchLimit)
	if err != nil {
		return ports.BatchResult{}, apperror.InternalError(fmt.Errorf("list pending payouts: %w", err))
	}

	var result ports.BatchResult
	for _, payout := range pending {
		// Each payout is independently atomic and resumable, so
		// stopping between payouts never corrupts state.
		if err := ctx.Err(); err != nil {
			s.log.Warn().Int("processed", result.Processed).Msg("payout batch canceled")
			return result, nil
		}

		result.Processed++
		outcome, err := s.RunOne(ctx, payout.ID)
		if err != nil {
			s.log.Error().Err(err).Str("payout_id", payout.ID.String()).Msg("payout run failed")
			result.Failed++
			continue
		}
		if outcome.Success {
			result.Successful++
		} else {
			result.Failed++
		}
	}

	s.log.Info().
		Int("processed", result.Processed).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("payout batch complete")
	return result, nil
}

// createEligiblePayouts turns delivered orders without a payout into
// pending payout rows. Creation is idempotent: the unique order/seller
// constraint makes concurrent batch runs safe.
func (s *PayoutServiceImpl) createEligiblePayouts(ctx context.Context, asOf time.Time) error {
	orders, err := s.orderRepo.ListDeliveredWithoutPayout(ctx, asOf)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("list eligible orders: %w", err))
	}

	for _, order := range orders {
		items, err := s.orderRepo.ListLineItems(ctx, order.ID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("list line items for order %s: %w", order.ID, err))
		}
		totals := domain.SumLineItems(items)
		if totals.SellerDue <= 0 {
			s.log.Warn().Str("order_id", order.ID.String()).Msg("delivered order has nothing due to seller, skipping payout")
			continue
		}

		now := time.Now().UTC()
		created, err := s.payoutRepo.Create(ctx, &domain.Payout{
			ID:        uuid.New(),
			SellerID:  order.SellerID,
			OrderID:   order.ID,
			Amount:    totals.SellerDue,
			Currency:  order.Currency,
			Status:    domain.PayoutStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return apperror.InternalError(fmt.Errorf("create payout for order %s: %w", order.ID, err))
		}
		if created {
			s.log.Info().
				Str("order_id", order.ID.String()).
				Str("seller_id", order.SellerID.String()).
				Int64("amount", totals.SellerDue).
				Msg("payout created")
		}
	}
	return nil
}

// RunOne drives a single payout through the external provider. The
// payout is claimed atomically before the provider call so no two
// workers ever process the same payout concurrently. A FAILED payout is
// reopened first: calling RunOne on it is the manual re-trigger.
func (s *PayoutServiceImpl) RunOne(ctx context.Context, payoutID uuid.UUID) (ports.PayoutResult, error) {
	payout, err := s.payoutRepo.GetByID(ctx, payoutID)
	if err != nil {
		return ports.PayoutResult{}, apperror.InternalError(fmt.Errorf("load payout: %w", err))
	}
	if payout == nil {
		return ports.PayoutResult{}, apperror.ErrNotFound("payout")
	}

	switch payout.Status {
	case domain.PayoutStatusPaid:
		// Re-running a paid payout is a no-op success.
		return ports.PayoutResult{Success: true, ProviderRef: payout.ProviderRef}, nil
	case domain.PayoutStatusProcessing:
		return ports.PayoutResult{}, apperror.ErrNotActionable("payout", string(payout.Status))
	case domain.PayoutStatusFailed:
		reopened, err := s.payoutRepo.Reopen(ctx, payoutID)
		if err != nil {
			return ports.PayoutResult{}, apperror.InternalError(fmt.Errorf("reopen payout: %w", err))
		}
		if !reopened {
			return ports.PayoutResult{}, apperror.ErrNotActionable("payout", string(payout.Status))
		}
	}

	claimed, err := s.payoutRepo.Claim(ctx, payoutID)
	if err != nil {
		return ports.PayoutResult{}, apperror.InternalError(fmt.Errorf("claim payout: %w", err))
	}
	if !claimed {
		return ports.PayoutResult{}, apperror.ErrNotActionable("payout", string(domain.PayoutStatusPending))
	}

	return s.execute(ctx, payout)
}

// execute calls the provider with bounded retries and books the result.
func (s *PayoutServiceImpl) execute(ctx context.Context, payout *domain.Payout) (ports.PayoutResult, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		providerCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
		providerRef, err := s.provider.SendPayout(providerCtx, payout)
		cancel()

		if err == nil {
			if err := s.settle(ctx, payout, providerRef, attempt); err != nil {
				return ports.PayoutResult{}, err
			}
			s.log.Info().
				Str("payout_id", payout.ID.String()).
				Str("provider_ref", providerRef).
				Int("attempts", attempt).
				Msg("payout paid")
			return ports.PayoutResult{Success: true, ProviderRef: &providerRef}, nil
		}

		if !ports.IsTransient(err) {
			reason := err.Error()
			if markErr := s.payoutRepo.MarkFailed(ctx, payout.ID, reason, attempt); markErr != nil {
				return ports.PayoutResult{}, apperror.InternalError(fmt.Errorf("mark payout failed: %w", markErr))
			}
			s.log.Warn().Err(err).Str("payout_id", payout.ID.String()).Msg("payout permanently declined")
			return ports.PayoutResult{FailureReason: &reason}, nil
		}

		lastErr = err
		s.log.Warn().Err(err).
			Str("payout_id", payout.ID.String()).
			Int("attempt", attempt).
			Msg("transient payout provider failure")

		if attempt < s.opts.MaxAttempts {
			if err := sleepBackoff(ctx, attempt, s.opts.BackoffBase, s.opts.BackoffCap); err != nil {
				break
			}
		}
	}

	// Retry budget exhausted: visible terminal state, not an endless loop.
	reason := fmt.Sprintf("retry budget exhausted: %v", lastErr)
	if err := s.payoutRepo.MarkFailed(ctx, payout.ID, reason, s.opts.MaxAttempts); err != nil {
		return ports.PayoutResult{}, apperror.InternalError(fmt.Errorf("mark payout failed: %w", err))
	}
	return ports.PayoutResult{FailureReason: &reason}, nil
}

// settle books the payout in one transaction: ledger group plus PAID
// status. The deterministic group id makes a crash-retried settle hit
// the ledger's idempotent no-op path.
func (s *PayoutServiceImpl) settle(ctx context.Context, payout *domain.Payout, providerRef string, attempts int) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	groupID := domain.PayoutGroupID(payout.ID)
	entries := []domain.LedgerEntry{
		{
			ID: uuid.New(), GroupID: groupID,
			Account: domain.SellerPayableAccount(payout.SellerID), Direction: domain.DirectionDebit,
			Amount: payout.Amount, Currency: payout.Currency,
			ReferenceType: domain.ReferencePayout, ReferenceID: payout.ID, CreatedAt: now,
		},
		{
			ID: uuid.New(), GroupID: groupID,
			Account: domain.AccountPlatformCash, Direction: domain.DirectionCredit,
			Amount: payout.Amount, Currency: payout.Currency,
			ReferenceType: domain.ReferencePayout, ReferenceID: payout.ID, CreatedAt: now,
		},
	}
	if err := s.ledgerRepo.Post(ctx, dbTx, groupID, entries); err != nil {
		return apperror.InternalError(fmt.Errorf("post payout ledger group: %w", err))
	}

	if err := s.payoutRepo.MarkPaid(ctx, dbTx, payout.ID, providerRef, attempts); err != nil {
		return apperror.InternalError(fmt.Errorf("mark payout paid: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}
