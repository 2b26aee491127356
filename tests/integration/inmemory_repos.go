package integration

import (
	"context"
	"sync"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// The in-memory repos mirror the postgres adapters' contracts closely
// enough to exercise the full service stack without a database. Every
// method takes the same mutex so the concurrency tests see the same
// atomicity the SQL statements provide.

// fakeTx satisfies pgx.Tx for transactor-driven code paths. The
// in-memory repos apply writes immediately, so commit and rollback are
// no-ops.
type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type memTransactor struct{}

func (memTransactor) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

// ---- orders ----

type memOrderRepo struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*domain.Order
	items   map[uuid.UUID][]domain.OrderLineItem
	payouts *memPayoutRepo
}

func newMemOrderRepo(payouts *memPayoutRepo) *memOrderRepo {
	return &memOrderRepo{
		orders:  make(map[uuid.UUID]*domain.Order),
		items:   make(map[uuid.UUID][]domain.OrderLineItem),
		payouts: payouts,
	}
}

func (r *memOrderRepo) Create(_ context.Context, order *domain.Order, items []domain.OrderLineItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *order
	r.orders[order.ID] = &cp
	r.items[order.ID] = append([]domain.OrderLineItem(nil), items...)
	return nil
}

func (r *memOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *order
	return &cp, nil
}

func (r *memOrderRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *memOrderRepo) ListLineItems(_ context.Context, orderID uuid.UUID) ([]domain.OrderLineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.OrderLineItem(nil), r.items[orderID]...), nil
}

func (r *memOrderRepo) Update(_ context.Context, _ pgx.Tx, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.Status = order.Status
	stored.PaidAt = order.PaidAt
	stored.PaymentRef = order.PaymentRef
	stored.UpdatedAt = order.UpdatedAt
	return nil
}

func (r *memOrderRepo) ListDeliveredWithoutPayout(_ context.Context, asOf time.Time) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.Status != domain.OrderStatusDelivered || order.UpdatedAt.After(asOf) {
			continue
		}
		if r.payouts.existsForOrder(order.ID) {
			continue
		}
		out = append(out, *order)
	}
	return out, nil
}

// ---- ledger ----

type memLedgerRepo struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
	groups  map[uuid.UUID]bool
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{groups: make(map[uuid.UUID]bool)}
}

func (r *memLedgerRepo) Post(_ context.Context, _ pgx.Tx, groupID uuid.UUID, entries []domain.LedgerEntry) error {
	if err := domain.ValidateGroup(groupID, entries); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups[groupID] {
		return nil
	}
	r.groups[groupID] = true
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *memLedgerRepo) Balance(_ context.Context, account, currency string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var balance int64
	for _, e := range r.entries {
		if e.Account != account || e.Currency != currency {
			continue
		}
		if e.Direction == domain.DirectionCredit {
			balance += e.Amount
		} else {
			balance -= e.Amount
		}
	}
	return balance, nil
}

func (r *memLedgerRepo) ListByReference(_ context.Context, refType domain.ReferenceType, refID uuid.UUID) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range r.entries {
		if e.ReferenceType == refType && e.ReferenceID == refID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memLedgerRepo) entryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ---- webhook events ----

type memWebhookEventRepo struct {
	mu     sync.Mutex
	events map[string]*domain.WebhookEvent
}

func newMemWebhookEventRepo() *memWebhookEventRepo {
	return &memWebhookEventRepo{events: make(map[string]*domain.WebhookEvent)}
}

func (r *memWebhookEventRepo) Insert(_ context.Context, _ pgx.Tx, event *domain.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.events[event.EventID]; exists {
		return false, nil
	}
	cp := *event
	r.events[event.EventID] = &cp
	return true, nil
}

func (r *memWebhookEventRepo) Get(_ context.Context, eventID string) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	if !ok {
		return nil, nil
	}
	cp := *event
	return &cp, nil
}

func (r *memWebhookEventRepo) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// ---- payouts ----

type memPayoutRepo struct {
	mu      sync.Mutex
	payouts map[uuid.UUID]*domain.Payout
}

func newMemPayoutRepo() *memPayoutRepo {
	return &memPayoutRepo{payouts: make(map[uuid.UUID]*domain.Payout)}
}

func (r *memPayoutRepo) existsForOrder(orderID uuid.UUID) bool {
	for _, p := range r.payouts {
		if p.OrderID == orderID {
			return true
		}
	}
	return false
}

func (r *memPayoutRepo) Create(_ context.Context, payout *domain.Payout) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payouts {
		if p.OrderID == payout.OrderID && p.SellerID == payout.SellerID {
			return false, nil
		}
	}
	cp := *payout
	r.payouts[payout.ID] = &cp
	return true, nil
}

func (r *memPayoutRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payout, ok := r.payouts[id]
	if !ok {
		return nil, nil
	}
	cp := *payout
	return &cp, nil
}

func (r *memPayoutRepo) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payout, ok := r.payouts[id]
	if !ok || payout.Status != domain.PayoutStatusPending {
		return false, nil
	}
	payout.Status = domain.PayoutStatusProcessing
	payout.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memPayoutRepo) MarkPaid(_ context.Context, _ pgx.Tx, id uuid.UUID, providerRef string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	payout, ok := r.payouts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	payout.Status = domain.PayoutStatusPaid
	payout.ProviderRef = &providerRef
	payout.Attempts = attempts
	payout.FailureReason = nil
	payout.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memPayoutRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	payout, ok := r.payouts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	payout.Status = domain.PayoutStatusFailed
	payout.FailureReason = &reason
	payout.Attempts = attempts
	payout.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memPayoutRepo) Reopen(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payout, ok := r.payouts[id]
	if !ok || payout.Status != domain.PayoutStatusFailed {
		return false, nil
	}
	payout.Status = domain.PayoutStatusPending
	payout.FailureReason = nil
	payout.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memPayoutRepo) ListByStatus(_ context.Context, status domain.PayoutStatus, limit int) ([]domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payout
	for _, p := range r.payouts {
		if p.Status == status {
			out = append(out, *p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memPayoutRepo) PaidExistsForOrder(_ context.Context, _ pgx.Tx, orderID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payouts {
		if p.OrderID == orderID && p.Status == domain.PayoutStatusPaid {
			return true, nil
		}
	}
	return false, nil
}

// ---- refunds ----

type memRefundRepo struct {
	mu      sync.Mutex
	refunds map[uuid.UUID]*domain.Refund
}

func newMemRefundRepo() *memRefundRepo {
	return &memRefundRepo{refunds: make(map[uuid.UUID]*domain.Refund)}
}

func (r *memRefundRepo) Create(_ context.Context, refund *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *refund
	r.refunds[refund.ID] = &cp
	return nil
}

func (r *memRefundRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[id]
	if !ok {
		return nil, nil
	}
	cp := *refund
	return &cp, nil
}

func (r *memRefundRepo) GetActiveByOrder(_ context.Context, orderID uuid.UUID) (*domain.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Refund
	for _, refund := range r.refunds {
		if refund.OrderID != orderID || refund.IsVoid() {
			continue
		}
		if latest == nil || refund.CreatedAt.After(latest.CreatedAt) {
			latest = refund
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memRefundRepo) Claim(_ context.Context, id uuid.UUID, from domain.RefundStatus, approver string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[id]
	if !ok || refund.Status != from {
		return false, nil
	}
	refund.Status = domain.RefundStatusProcessing
	refund.FailureReason = nil
	if approver != "" {
		cp := approver
		refund.ApprovedBy = &cp
	}
	refund.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memRefundRepo) MarkRefunded(_ context.Context, _ pgx.Tx, id uuid.UUID, providerRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[id]
	if !ok {
		return pgx.ErrNoRows
	}
	refund.Status = domain.RefundStatusRefunded
	refund.ProviderRef = &providerRef
	refund.FailureReason = nil
	refund.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memRefundRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[id]
	if !ok {
		return pgx.ErrNoRows
	}
	refund.Status = domain.RefundStatusFailed
	refund.FailureReason = &reason
	refund.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- outbound stubs ----

type stubPayoutProvider struct {
	mu    sync.Mutex
	calls int
}

func (s *stubPayoutProvider) SendPayout(_ context.Context, payout *domain.Payout) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "prv-payout-" + payout.ID.String()[:8], nil
}

type stubRefundProvider struct {
	mu    sync.Mutex
	calls int
}

func (s *stubRefundProvider) ExecuteRefund(_ context.Context, refund *domain.Refund, _ *domain.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "prv-refund-" + refund.ID.String()[:8], nil
}

type stubInvoiceProvider struct {
	mu    sync.Mutex
	calls int
}

func (s *stubInvoiceProvider) RequestInvoice(context.Context, uuid.UUID, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

type captureNotifier struct {
	mu        sync.Mutex
	confirmed []uuid.UUID
	refunded  []uuid.UUID
}

func (n *captureNotifier) NotifyPaymentConfirmed(_ context.Context, order *domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, order.ID)
	return nil
}

func (n *captureNotifier) NotifyRefundCompleted(_ context.Context, refund *domain.Refund) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunded = append(n.refunded, refund.ID)
	return nil
}
