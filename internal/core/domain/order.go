package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the lifecycle state of a marketplace order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusPaid            OrderStatus = "PAID"
	OrderStatusPacked          OrderStatus = "PACKED"
	OrderStatusShipped         OrderStatus = "SHIPPED"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusReturnRequested OrderStatus = "RETURN_REQUESTED"
	OrderStatusReturnApproved  OrderStatus = "RETURN_APPROVED"
	OrderStatusReturned        OrderStatus = "RETURNED"
)

// Order represents a marketplace order. Amounts are in the smallest
// currency unit (cents). Total = Subtotal + ShippingFee - Discount at
// creation; it is never recomputed afterwards.
type Order struct {
	ID          uuid.UUID   `json:"id"`
	SellerID    uuid.UUID   `json:"seller_id"`
	Status      OrderStatus `json:"status"`
	Currency    string      `json:"currency"`
	Subtotal    int64       `json:"subtotal"`
	ShippingFee int64       `json:"shipping_fee"`
	Discount    int64       `json:"discount"`
	Total       int64       `json:"total"`
	PaidAt      *time.Time  `json:"paid_at,omitempty"`
	PaymentRef  *string     `json:"payment_ref,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// OrderLineItem belongs to one order. Commission fields are computed
// once at order creation and immutable thereafter.
type OrderLineItem struct {
	ID               uuid.UUID `json:"id"`
	OrderID          uuid.UUID `json:"order_id"`
	SellerID         uuid.UUID `json:"seller_id"`
	Quantity         int64     `json:"quantity"`
	UnitPrice        int64     `json:"unit_price"`
	Discount         int64     `json:"discount"`
	CommissionRate   int64     `json:"commission_rate"` // basis points
	CommissionAmount int64     `json:"commission_amount"`
	SellerDue        int64     `json:"seller_due"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsTerminal returns true if no further transition is legal for the
// payment/ledger core. Delivered is terminal here; fulfillment states
// beyond it belong to the returns branch only.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCanceled || s == OrderStatusReturned
}

// RefundEligible reports whether an order in this status may be refunded.
func (s OrderStatus) RefundEligible() bool {
	return s == OrderStatusPaid || s == OrderStatusDelivered || s == OrderStatusReturnApproved
}

// legalTransitions maps each status to the set of statuses reachable
// from it. Only forward moves are defined; everything else is illegal.
var legalTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusPaid, OrderStatusFailed},
	OrderStatusFailed:          {OrderStatusPaid},
	OrderStatusPaid:            {OrderStatusPacked, OrderStatusCanceled},
	OrderStatusPacked:          {OrderStatusShipped, OrderStatusCanceled},
	OrderStatusShipped:         {OrderStatusDelivered, OrderStatusCanceled},
	OrderStatusDelivered:       {OrderStatusReturnRequested},
	OrderStatusReturnRequested: {OrderStatusReturnApproved},
	OrderStatusReturnApproved:  {OrderStatusReturned},
}

// CanTransition reports whether moving from -> to is a legal forward move.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies a status change to the order in place.
//
// Re-applying the current status is idempotent-safe: it returns
// (false, nil) with no mutation, so a replayed event is distinguishable
// from a genuinely illegal move, which returns an error and leaves the
// order untouched. PaidAt is set only on the first transition to PAID
// and never overwritten.
func Transition(order *Order, to OrderStatus, at time.Time) (bool, error) {
	if order.Status == to {
		return false, nil
	}
	if !CanTransition(order.Status, to) {
		return false, &InvalidTransitionError{From: order.Status, To: to}
	}
	if to == OrderStatusPaid && order.PaidAt == nil {
		paidAt := at
		order.PaidAt = &paidAt
	}
	order.Status = to
	order.UpdatedAt = at
	return true, nil
}

// InvalidTransitionError reports an illegal order status move.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return "invalid order transition: " + string(e.From) + " -> " + string(e.To)
}
