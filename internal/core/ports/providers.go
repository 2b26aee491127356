package ports

import (
	"context"
	"errors"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// ProviderError is a classified failure from an external money-movement
// provider. Transient errors (timeouts, 5xx) are retry-eligible;
// permanent errors (explicit declines) are terminal until a human
// intervenes.
type ProviderError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return "provider error (" + kind + ") " + e.Code + ": " + e.Message
}

// IsTransient reports whether err is a retry-eligible provider error.
// Unclassified errors count as transient: timeouts and connection
// failures must never be treated as declines.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

// PayoutProvider transfers money to a seller.
type PayoutProvider interface {
	SendPayout(ctx context.Context, payout *domain.Payout) (providerRef string, err error)
}

// RefundProvider returns money to a buyer.
type RefundProvider interface {
	ExecuteRefund(ctx context.Context, refund *domain.Refund, order *domain.Order) (providerRef string, err error)
}

// InvoiceProvider requests invoice issuance from the external invoicing
// collaborator. Best effort after a paid transition.
type InvoiceProvider interface {
	RequestInvoice(ctx context.Context, orderID uuid.UUID, invoiceType string) error
}

// Notifier delivers buyer/seller notifications. Fire-and-forget from
// the reconciler's perspective.
type Notifier interface {
	NotifyPaymentConfirmed(ctx context.Context, order *domain.Order) error
	NotifyRefundCompleted(ctx context.Context, refund *domain.Refund) error
}
