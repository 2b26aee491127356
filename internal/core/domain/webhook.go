package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentEventStatus is the normalized outcome carried by a provider
// notification.
type PaymentEventStatus string

const (
	PaymentEventPaid   PaymentEventStatus = "PAID"
	PaymentEventFailed PaymentEventStatus = "FAILED"
)

// PaymentEvent is the single internal shape every provider payload
// variant is normalized into before it reaches the reconciler.
type PaymentEvent struct {
	EventID     string             `json:"event_id"`
	OrderID     uuid.UUID          `json:"order_id"`
	Status      PaymentEventStatus `json:"status"`
	Amount      int64              `json:"amount"`
	Currency    string             `json:"currency"`
	ProviderRef string             `json:"provider_ref,omitempty"`
}

// WebhookEvent is the dedup record for one first-seen provider event.
// EventID is unique; the row is written once and never mutated.
type WebhookEvent struct {
	EventID   string    `json:"event_id"`
	OrderID   uuid.UUID `json:"order_id"`
	Payload   []byte    `json:"payload"` // redacted copy for audit
	CreatedAt time.Time `json:"created_at"`
}

// DeriveEventID computes the canonical idempotency key for a payment
// event. A provider transaction id is preferred when present because it
// is stable across provider API versions; otherwise the key is a hash
// of (orderID, status, amount) so identical retried deliveries collapse
// to one key while genuinely distinct events (different status or
// amount) do not.
func DeriveEventID(providerRef string, orderID uuid.UUID, status PaymentEventStatus, amount int64) string {
	if providerRef != "" {
		return "ntp:" + providerRef
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", orderID, status, amount))
	return "evt:" + hex.EncodeToString(sum[:])
}
