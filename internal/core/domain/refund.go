package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefundStatus represents the lifecycle state of a buyer refund.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusRefunded   RefundStatus = "REFUNDED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

// FailureReasonApprovalRequired marks a refund held back by the
// two-person control gate: it stays PENDING until a second, distinct
// actor approves it.
const FailureReasonApprovalRequired = "approval_required"

// Refund is a buyer refund request against one order. At most one
// non-void refund exists per order and its amount never exceeds the
// order total.
type Refund struct {
	ID            uuid.UUID    `json:"id"`
	OrderID       uuid.UUID    `json:"order_id"`
	Amount        int64        `json:"amount"`
	Reason        string       `json:"reason"`
	Status        RefundStatus `json:"status"`
	FailureReason *string      `json:"failure_reason,omitempty"`
	ProviderRef   *string      `json:"provider_ref,omitempty"`
	RequestedBy   string       `json:"requested_by"`
	ApprovedBy    *string      `json:"approved_by,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// AwaitingApproval reports whether the refund is parked on the
// two-person gate.
func (r *Refund) AwaitingApproval() bool {
	return r.Status == RefundStatusPending &&
		r.FailureReason != nil && *r.FailureReason == FailureReasonApprovalRequired
}

// IsVoid reports whether the refund no longer blocks a new request.
// A FAILED refund is terminal and visible, but does not count as the
// order's single active refund.
func (r *Refund) IsVoid() bool {
	return r.Status == RefundStatusFailed
}
