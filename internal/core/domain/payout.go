package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus represents the lifecycle state of a seller payout.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusPaid       PayoutStatus = "PAID"
	PayoutStatusFailed     PayoutStatus = "FAILED"
)

// Payout is money owed to a seller for one delivered order. Created
// when the order becomes eligible; terminal once PAID. FAILED payouts
// are retried only by an explicit manual re-trigger.
type Payout struct {
	ID            uuid.UUID    `json:"id"`
	SellerID      uuid.UUID    `json:"seller_id"`
	OrderID       uuid.UUID    `json:"order_id"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	Status        PayoutStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	ProviderRef   *string      `json:"provider_ref,omitempty"`
	FailureReason *string      `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IsTerminal returns true once the payout reached a final state.
func (p *Payout) IsTerminal() bool {
	return p.Status == PayoutStatusPaid || p.Status == PayoutStatusFailed
}
