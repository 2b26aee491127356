package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// ReconcileServiceImpl implements ports.Reconciler.
//
// Financial mutations (order transition + ledger post) ride the
// caller's transaction so they commit atomically with the idempotency
// claim. Invoice and notification calls are returned as post-commit
// effects; their failure never rolls back the financial state.
type ReconcileServiceImpl struct {
	orderRepo  ports.OrderRepository
	ledgerRepo ports.LedgerRepository
	invoicePrv ports.InvoiceProvider
	notifier   ports.Notifier
	log        zerolog.Logger
}

// NewReconcileService creates a new ReconcileServiceImpl.
func NewReconcileService(
	orderRepo ports.OrderRepository,
	ledgerRepo ports.LedgerRepository,
	invoicePrv ports.InvoiceProvider,
	notifier ports.Notifier,
	log zerolog.Logger,
) *ReconcileServiceImpl {
	return &ReconcileServiceImpl{
		orderRepo:  orderRepo,
		ledgerRepo: ledgerRepo,
		invoicePrv: invoicePrv,
		notifier:   notifier,
		log:        log,
	}
}

// Reconcile applies a normalized payment event to its order.
func (s *ReconcileServiceImpl) Reconcile(ctx context.Context, tx pgx.Tx, event domain.PaymentEvent, source string) (ports.ReconcileResult, error) {
	order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, event.OrderID)
	if err != nil {
		return ports.ReconcileResult{}, apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return ports.ReconcileResult{}, apperror.ErrNotFound("order")
	}

	switch event.Status {
	case domain.PaymentEventPaid:
		return s.applyPaid(ctx, tx, order, event, source)
	case domain.PaymentEventFailed:
		return s.applyFailed(ctx, tx, order, event, source)
	default:
		return ports.ReconcileResult{}, apperror.ErrMalformedPayload(fmt.Sprintf("unknown event status %q", event.Status))
	}
}

func (s *ReconcileServiceImpl) applyPaid(ctx context.Context, tx pgx.Tx, order *domain.Order, event domain.PaymentEvent, source string) (ports.ReconcileResult, error) {
	if event.Amount != order.Total {
		// The provider is authoritative for the payment having happened;
		// a mismatch is flagged for operators, not rejected.
		s.log.Warn().
			Str("order_id", order.ID.String()).
			Int64("event_amount", event.Amount).
			Int64("order_total", order.Total).
			Msg("payment amount does not match order total")
	}

	now := time.Now().UTC()
	applied, err := domain.Transition(order, domain.OrderStatusPaid, now)
	if err != nil {
		return ports.ReconcileResult{}, apperror.ErrInvalidTransition(string(order.Status), string(domain.OrderStatusPaid))
	}
	if !applied {
		// Replay that slipped past the dedup layer (e.g. a different key
		// derivation across provider API versions). Safe re-entrant no-op.
		s.log.Info().
			Str("order_id", order.ID.String()).
			Str("event_id", event.EventID).
			Str("source", source).
			Msg("order already paid, reconcile is a no-op")
		return ports.ReconcileResult{OK: true, Status: order.Status, SetPaidAt: false}, nil
	}

	if event.ProviderRef != "" {
		ref := event.ProviderRef
		order.PaymentRef = &ref
	}
	if err := s.orderRepo.Update(ctx, tx, order); err != nil {
		return ports.ReconcileResult{}, apperror.InternalError(fmt.Errorf("update order: %w", err))
	}

	if err := s.postPaymentLedgerGroup(ctx, tx, order, now); err != nil {
		return ports.ReconcileResult{}, err
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("event_id", event.EventID).
		Str("source", source).
		Int64("amount", event.Amount).
		Msg("order reconciled to paid, eligible for payout once delivered")

	return ports.ReconcileResult{
		OK:        true,
		Status:    order.Status,
		SetPaidAt: true,
		Effects:   s.paidEffects(order),
	}, nil
}

// postPaymentLedgerGroup books the payment split: the platform receives
// the order's net merchandise value and owes the seller their share,
// keeping the commission as revenue. Shipping stays out of commission.
// The group id is derived from the order so a crash-retried post hits
// the ledger's idempotent no-op path.
func (s *ReconcileServiceImpl) postPaymentLedgerGroup(ctx context.Context, tx pgx.Tx, order *domain.Order, now time.Time) error {
	items, err := s.orderRepo.ListLineItems(ctx, order.ID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("list line items: %w", err))
	}
	totals := domain.SumLineItems(items)
	if totals.Net == 0 {
		s.log.Warn().Str("order_id", order.ID.String()).Msg("order has no priced line items, skipping ledger posting")
		return nil
	}

	groupID := domain.OrderPaidGroupID(order.ID)
	entries := []domain.LedgerEntry{
		{
			ID: uuid.New(), GroupID: groupID,
			Account: domain.AccountPlatformCash, Direction: domain.DirectionDebit,
			Amount: totals.Net, Currency: order.Currency,
			ReferenceType: domain.ReferenceOrder, ReferenceID: order.ID, CreatedAt: now,
		},
		{
			ID: uuid.New(), GroupID: groupID,
			Account: domain.AccountCommissionRevenue, Direction: domain.DirectionCredit,
			Amount: totals.Commission, Currency: order.Currency,
			ReferenceType: domain.ReferenceOrder, ReferenceID: order.ID, CreatedAt: now,
		},
		{
			ID: uuid.New(), GroupID: groupID,
			Account: domain.SellerPayableAccount(order.SellerID), Direction: domain.DirectionCredit,
			Amount: totals.SellerDue, Currency: order.Currency,
			ReferenceType: domain.ReferenceOrder, ReferenceID: order.ID, CreatedAt: now,
		},
	}
	if totals.Commission == 0 {
		// zero-rate sellers produce a two-entry group
		entries = append(entries[:1], entries[2])
	}

	if err := s.ledgerRepo.Post(ctx, tx, groupID, entries); err != nil {
		return apperror.InternalError(fmt.Errorf("post payment ledger group: %w", err))
	}
	return nil
}

// paidEffects builds the post-commit effect list for a first paid
// transition. Each effect runs in its own error boundary after commit.
func (s *ReconcileServiceImpl) paidEffects(order *domain.Order) []ports.Effect {
	orderID := order.ID
	orderCopy := *order
	return []ports.Effect{
		{
			Name: "invoice_request",
			Run: func(ctx context.Context) error {
				return s.invoicePrv.RequestInvoice(ctx, orderID, "receipt")
			},
		},
		{
			Name: "payment_confirmed_notification",
			Run: func(ctx context.Context) error {
				return s.notifier.NotifyPaymentConfirmed(ctx, &orderCopy)
			},
		},
	}
}

func (s *ReconcileServiceImpl) applyFailed(ctx context.Context, tx pgx.Tx, order *domain.Order, event domain.PaymentEvent, source string) (ports.ReconcileResult, error) {
	applied, err := domain.Transition(order, domain.OrderStatusFailed, time.Now().UTC())
	if err != nil {
		return ports.ReconcileResult{}, apperror.ErrInvalidTransition(string(order.Status), string(domain.OrderStatusFailed))
	}
	if applied {
		if err := s.orderRepo.Update(ctx, tx, order); err != nil {
			return ports.ReconcileResult{}, apperror.InternalError(fmt.Errorf("update order: %w", err))
		}
	}

	// No money moved, nothing to book.
	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("event_id", event.EventID).
		Str("source", source).
		Bool("applied", applied).
		Msg("payment failed event reconciled")

	return ports.ReconcileResult{OK: true, Status: order.Status, SetPaidAt: false}, nil
}
