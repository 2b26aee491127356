package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// effectTimeout bounds each post-commit side effect independently.
const effectTimeout = 10 * time.Second

// IngestServiceImpl implements ports.IngestService. It normalizes the
// two historical provider payload shapes, verifies authenticity,
// enforces at-most-once processing and drives the reconciler.
type IngestServiceImpl struct {
	webhookRepo   ports.WebhookEventRepository
	dedupCache    ports.DedupCache
	reconciler    ports.Reconciler
	sigSvc        ports.SignatureService
	transactor    ports.DBTransactor
	webhookSecret string
	dedupTTL      time.Duration
	log           zerolog.Logger
}

// NewIngestService creates a new IngestServiceImpl.
func NewIngestService(
	webhookRepo ports.WebhookEventRepository,
	dedupCache ports.DedupCache,
	reconciler ports.Reconciler,
	sigSvc ports.SignatureService,
	transactor ports.DBTransactor,
	webhookSecret string,
	dedupTTL time.Duration,
	log zerolog.Logger,
) *IngestServiceImpl {
	return &IngestServiceImpl{
		webhookRepo:   webhookRepo,
		dedupCache:    dedupCache,
		reconciler:    reconciler,
		sigSvc:        sigSvc,
		transactor:    transactor,
		webhookSecret: webhookSecret,
		dedupTTL:      dedupTTL,
		log:           log,
	}
}

// Ingest processes one provider delivery end to end: parse, verify,
// claim, reconcile, commit, then run post-commit effects. The success
// response is sent only after the reconciler's financial mutations are
// durable, so a provider retry is the correct recovery path for a
// crash mid-processing.
func (s *IngestServiceImpl) Ingest(ctx context.Context, raw ports.RawWebhook) (ports.IngestResult, error) {
	event, redacted, source, err := s.normalize(raw)
	if err != nil {
		return ports.IngestResult{}, err
	}

	// Layer 1: redis fast path. Best effort; only ever set after a
	// successful commit, so a hit is always a true duplicate.
	seen, err := s.dedupCache.Seen(ctx, event.EventID)
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", event.EventID).Msg("redis dedup check failed, falling through to DB claim")
	} else if seen {
		s.log.Info().Str("event_id", event.EventID).Str("source", source).Msg("duplicate webhook delivery (cache)")
		return ports.IngestResult{Accepted: true, Duplicate: true}, nil
	}

	// Layer 2: durable atomic claim + reconcile in one transaction.
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return ports.IngestResult{}, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	claimed, err := s.webhookRepo.Insert(ctx, dbTx, &domain.WebhookEvent{
		EventID:   event.EventID,
		OrderID:   event.OrderID,
		Payload:   redacted,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		// A failed claim means "not claimed": the event must not be
		// processed, or a redelivery could double-apply it.
		return ports.IngestResult{}, apperror.InternalError(fmt.Errorf("claim event: %w", err))
	}
	if !claimed {
		s.log.Info().Str("event_id", event.EventID).Str("source", source).Msg("duplicate webhook delivery")
		_ = s.dedupCache.MarkSeen(ctx, event.EventID, s.dedupTTL)
		return ports.IngestResult{Accepted: true, Duplicate: true}, nil
	}

	result, err := s.reconciler.Reconcile(ctx, dbTx, event, source)
	if err != nil {
		// Rollback discards the claim too, so the provider's retry will
		// reprocess the event from scratch.
		return ports.IngestResult{}, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return ports.IngestResult{}, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if err := s.dedupCache.MarkSeen(ctx, event.EventID, s.dedupTTL); err != nil {
		s.log.Warn().Err(err).Str("event_id", event.EventID).Msg("failed to cache processed event id")
	}

	s.runEffects(result.Effects, event.EventID)

	return ports.IngestResult{Accepted: true, Duplicate: false}, nil
}

// runEffects executes post-commit side effects, each in its own error
// boundary with a bounded timeout. Failures are logged, never returned:
// the financial state is already committed.
func (s *IngestServiceImpl) runEffects(effects []ports.Effect, eventID string) {
	for _, effect := range effects {
		ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
		if err := effect.Run(ctx); err != nil {
			s.log.Error().Err(err).
				Str("event_id", eventID).
				Str("effect", effect.Name).
				Msg("post-commit effect failed")
		}
		cancel()
	}
}

// normalize parses a raw delivery into the internal PaymentEvent,
// returning a redacted payload copy for the audit record and the
// source tag for logging.
func (s *IngestServiceImpl) normalize(raw ports.RawWebhook) (domain.PaymentEvent, []byte, string, error) {
	if strings.HasPrefix(raw.ContentType, "application/json") {
		event, redacted, err := s.parseV2(raw.Body)
		return event, redacted, "webhook:v2", err
	}
	event, redacted, err := s.parseV1(raw.Form)
	return event, redacted, "webhook:v1", err
}

// parseV1 handles the legacy form-encoded payload
// {order_id, status, amount, currency, signature}. The signature is
// verified before anything else; a redacted copy (signature stripped)
// is kept for audit.
func (s *IngestServiceImpl) parseV1(form map[string]string) (domain.PaymentEvent, []byte, error) {
	orderIDStr := form["order_id"]
	statusStr := form["status"]
	amountStr := form["amount"]
	currency := form["currency"]
	signature := form["signature"]

	if orderIDStr == "" || statusStr == "" || amountStr == "" {
		return domain.PaymentEvent{}, nil, apperror.ErrMalformedPayload("missing required form fields")
	}

	canonical := strings.Join([]string{orderIDStr, statusStr, amountStr, currency}, "|")
	if !s.sigSvc.Verify(s.webhookSecret, canonical, signature) {
		return domain.PaymentEvent{}, nil, apperror.ErrInvalidSignature()
	}

	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		return domain.PaymentEvent{}, nil, apperror.ErrMalformedPayload("invalid order_id")
	}
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil || amount <= 0 {
		return domain.PaymentEvent{}, nil, apperror.ErrMalformedPayload("invalid amount")
	}
	status, err := mapEventStatus(statusStr)
	if err != nil {
		return domain.PaymentEvent{}, nil, err
	}

	// v1 carries no provider transaction id; the derived hash is the key.
	event := domain.PaymentEvent{
		EventID:  domain.DeriveEventID("", orderID, status, amount),
		OrderID:  orderID,
		Status:   status,
		Amount:   amount,
		Currency: currency,
	}

	redacted, err := json.Marshal(map[string]string{
		"version":  "v1",
		"order_id": orderIDStr,
		"status":   statusStr,
		"amount":   amountStr,
		"currency": currency,
		// signature deliberately omitted
	})
	if err != nil {
		return domain.PaymentEvent{}, nil, apperror.InternalError(fmt.Errorf("marshal audit payload: %w", err))
	}
	return event, redacted, nil
}

// v2Envelope is the current provider JSON callback shape.
type v2Envelope struct {
	Payment struct {
		NtpID  string `json:"ntpID"`
		Status string `json:"status"`
	} `json:"payment"`
	Order struct {
		OrderID  string `json:"orderID"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"order"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseV2 handles the current JSON envelope. The provider transaction
// id (ntpID) is the canonical event identity when present; the derived
// hash is the documented fallback so both API versions key the same
// logical payment identically when the id is missing.
func (s *IngestServiceImpl) parseV2(body []byte) (domain.PaymentEvent, []byte, error) {
	var env v2Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.PaymentEvent{}, nil, apperror.ErrMalformedPayload("invalid JSON envelope")
	}
	if env.Order.OrderID == "" {
		return domain.PaymentEvent{}, nil, apperror.ErrMalformedPayload("missing order.orderID")
	}

	orderID, err := uuid.Parse(env.Order.OrderID)
	if err != nil {
		return domain.PaymentEvent{}, nil, apperror.ErrMalformedPayload("invalid order.orderID")
	}
	if env.Order.Amount <= 0 {
		return domain.PaymentEvent{}, nil, apperror.ErrMalformedPayload("invalid order.amount")
	}

	statusStr := env.Payment.Status
	if statusStr == "" && env.Error.Code != "" {
		statusStr = "failed"
	}
	status, err := mapEventStatus(statusStr)
	if err != nil {
		return domain.PaymentEvent{}, nil, err
	}

	event := domain.PaymentEvent{
		EventID:     domain.DeriveEventID(env.Payment.NtpID, orderID, status, env.Order.Amount),
		OrderID:     orderID,
		Status:      status,
		Amount:      env.Order.Amount,
		Currency:    env.Order.Currency,
		ProviderRef: env.Payment.NtpID,
	}

	// The envelope carries no secrets; keep it verbatim for audit.
	return event, body, nil
}

// mapEventStatus maps provider status strings onto the internal enum.
func mapEventStatus(status string) (domain.PaymentEventStatus, error) {
	switch strings.ToLower(status) {
	case "paid", "confirmed":
		return domain.PaymentEventPaid, nil
	case "failed", "rejected", "canceled":
		return domain.PaymentEventFailed, nil
	default:
		return "", apperror.ErrMalformedPayload(fmt.Sprintf("unknown status %q", status))
	}
}
