package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/rs/zerolog"
)

// Routing keys for buyer/seller notification events.
const (
	RouteKeyPaymentConfirmed = "order.payment.confirmed"
	RouteKeyRefundCompleted  = "order.refund.completed"
)

// Notifier implements ports.Notifier over an AMQP publisher. Messages
// are consumed by the notification service; delivery is best effort and
// never blocks or rolls back money movement.
type Notifier struct {
	publisher Publisher
	log       zerolog.Logger
}

// NewNotifier creates an AMQP-backed notifier.
func NewNotifier(publisher Publisher, log zerolog.Logger) *Notifier {
	return &Notifier{publisher: publisher, log: log}
}

type paymentConfirmedMessage struct {
	OrderID  string    `json:"order_id"`
	SellerID string    `json:"seller_id"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	PaidAt   time.Time `json:"paid_at"`
}

type refundCompletedMessage struct {
	RefundID string `json:"refund_id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
}

// NotifyPaymentConfirmed publishes a payment confirmation event.
func (n *Notifier) NotifyPaymentConfirmed(ctx context.Context, order *domain.Order) error {
	msg := paymentConfirmedMessage{
		OrderID:  order.ID.String(),
		SellerID: order.SellerID.String(),
		Amount:   order.Total,
		Currency: order.Currency,
	}
	if order.PaidAt != nil {
		msg.PaidAt = *order.PaidAt
	}
	return n.publish(ctx, RouteKeyPaymentConfirmed, msg)
}

// NotifyRefundCompleted publishes a refund completion event.
func (n *Notifier) NotifyRefundCompleted(ctx context.Context, refund *domain.Refund) error {
	return n.publish(ctx, RouteKeyRefundCompleted, refundCompletedMessage{
		RefundID: refund.ID.String(),
		OrderID:  refund.OrderID.String(),
		Amount:   refund.Amount,
		Reason:   refund.Reason,
	})
}

func (n *Notifier) publish(ctx context.Context, routingKey string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.publisher.Publish(ctx, routingKey, payload); err != nil {
		n.log.Warn().Err(err).Str("routing_key", routingKey).Msg("notification publish failed")
		return err
	}
	return nil
}
