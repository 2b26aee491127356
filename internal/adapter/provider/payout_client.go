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

// PayoutClient implements ports.PayoutProvider against the external
// payout processor's HTTP API.
type PayoutClient struct {
	baseURL    string
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewPayoutClient creates a new payout provider client.
func NewPayoutClient(baseURL string, httpClient HTTPClient, log zerolog.Logger) *PayoutClient {
	return &PayoutClient{baseURL: baseURL, httpClient: httpClient, log: log}
}

type payoutRequest struct {
	PayoutID string `json:"payout_id"`
	SellerID string `json:"seller_id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type payoutResponse struct {
	Ref string `json:"ref"`
}

// SendPayout submits the transfer. The payout id doubles as the
// provider-side idempotency key so a retried submission cannot move
// money twice.
func (c *PayoutClient) SendPayout(ctx context.Context, payout *domain.Payout) (string, error) {
	body, err := json.Marshal(payoutRequest{
		PayoutID: payout.ID.String(),
		SellerID: payout.SellerID.String(),
		OrderID:  payout.OrderID.String(),
		Amount:   payout.Amount,
		Currency: payout.Currency,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payout.ID.String())

	resp, err := c.httpClient.Do(req)
	if cerr := classify(resp, err); cerr != nil {
		c.log.Warn().Err(cerr).Str("payout_id", payout.ID.String()).Msg("payout provider call failed")
		return "", cerr
	}
	defer resp.Body.Close()

	var pr payoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode payout response: %w", err)
	}
	return pr.Ref, nil
}
