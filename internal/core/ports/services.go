package ports

import (
	"context"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RawWebhook is an inbound provider notification before parsing.
type RawWebhook struct {
	ContentType string
	Body        []byte
	// Form holds the decoded fields for form-encoded (v1) payloads.
	Form map[string]string
}

// IngestResult reports the outcome of one webhook delivery.
type IngestResult struct {
	Accepted  bool
	Duplicate bool
}

// IngestService accepts provider notifications, verifies authenticity,
// normalizes the payload and guarantees at-most-once reconciliation.
type IngestService interface {
	Ingest(ctx context.Context, raw RawWebhook) (IngestResult, error)
}

// Effect is one best-effort side effect scheduled by the reconciler and
// executed after the financial transaction commits. Each effect runs in
// its own error boundary; a failure is logged, never propagated.
type Effect struct {
	Name string
	Run  func(ctx context.Context) error
}

// ReconcileResult reports the outcome of applying one payment event.
type ReconcileResult struct {
	OK        bool
	Status    domain.OrderStatus
	SetPaidAt bool
	// Effects are post-commit side effects (invoice, notification).
	Effects []Effect
}

// Reconciler applies a normalized payment event to an order. Financial
// mutations (order transition + ledger post) ride the caller's tx;
// everything downstream is returned as post-commit effects.
type Reconciler interface {
	Reconcile(ctx context.Context, tx pgx.Tx, event domain.PaymentEvent, source string) (ReconcileResult, error)
}

// BatchResult summarizes one payout batch run.
type BatchResult struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// PayoutResult reports the outcome of one payout execution.
type PayoutResult struct {
	Success       bool
	ProviderRef   *string
	FailureReason *string
}

// PayoutService finds eligible orders, creates payouts and drives them
// through the external payout provider.
type PayoutService interface {
	RunBatch(ctx context.Context, asOf time.Time) (BatchResult, error)
	RunOne(ctx context.Context, payoutID uuid.UUID) (PayoutResult, error)
}

// RefundDecision reports the outcome of a refund request.
type RefundDecision struct {
	RefundID         uuid.UUID
	Status           domain.RefundStatus
	ApprovalRequired bool
}

// RefundOutcome reports the outcome of refund execution.
type RefundOutcome struct {
	Success       bool
	ProviderRef   *string
	FailureReason *string
}

// RefundService validates refund requests, applies the two-person
// approval gate and drives approved refunds through the provider.
type RefundService interface {
	RequestRefund(ctx context.Context, orderID uuid.UUID, amount int64, reason, actor string) (RefundDecision, error)
	ApproveAndProcess(ctx context.Context, refundID uuid.UUID, approver string) (RefundOutcome, error)
}

// SignatureService handles HMAC-SHA256 signing and verification for
// legacy (v1) webhook payloads.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// TokenService validates operator bearer tokens. Token issuance lives
// outside this core; only the actor identity matters here because the
// refund approval gate requires two distinct actors.
type TokenService interface {
	Generate(actorID string) (string, time.Time, error)
	Validate(tokenString string) (*ActorClaims, error)
}

// ActorClaims holds the parsed operator token claims.
type ActorClaims struct {
	ActorID string
}

// DedupCache is the fast-path webhook dedup check in front of the
// durable idempotency guard. Best effort: a cache failure must fall
// through to the database claim, never block ingestion. Entries are
// written only after the durable claim commits.
type DedupCache interface {
	// Seen reports whether the event id was already fully processed.
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkSeen records a processed event id with a bounded TTL.
	MarkSeen(ctx context.Context, eventID string, ttl time.Duration) error
}
