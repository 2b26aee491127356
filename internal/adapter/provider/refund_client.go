package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"marketplace-ledger/internal/core/domain"

	"github.com/rs/zerolog"
)

// RefundClient implements ports.RefundProvider against the payment
// provider's refund HTTP API.
type RefundClient struct {
	baseURL    string
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewRefundClient creates a new refund provider client.
func NewRefundClient(baseURL string, httpClient HTTPClient, log zerolog.Logger) *RefundClient {
	return &RefundClient{baseURL: baseURL, httpClient: httpClient, log: log}
}

type refundRequest struct {
	RefundID   string `json:"refund_id"`
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref,omitempty"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Reason     string `json:"reason"`
}

type refundResponse struct {
	Ref string `json:"ref"`
}

// ExecuteRefund submits the refund against the order's original payment
// reference. The refund id is the provider-side idempotency key.
func (c *RefundClient) ExecuteRefund(ctx context.Context, refund *domain.Refund, order *domain.Order) (string, error) {
	rq := refundRequest{
		RefundID: refund.ID.String(),
		OrderID:  refund.OrderID.String(),
		Amount:   refund.Amount,
		Currency: order.Currency,
		Reason:   refund.Reason,
	}
	if order.PaymentRef != nil {
		rq.PaymentRef = *order.PaymentRef
	}
	body, err := json.Marshal(rq)
	if err != nil {
		return "", fmt.Errorf("marshal refund request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/refunds", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", refund.ID.String())

	resp, err := c.httpClient.Do(req)
	if cerr := classify(resp, err); cerr != nil {
		c.log.Warn().Err(cerr).Str("refund_id", refund.ID.String()).Msg("refund provider call failed")
		return "", cerr
	}
	defer resp.Body.Close()

	var rr refundResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("decode refund response: %w", err)
	}
	return rr.Ref, nil
}
