package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InvoiceClient implements ports.InvoiceProvider. Invoice issuance is a
// best-effort side effect; callers never let a failure here roll back a
// committed payment.
type InvoiceClient struct {
	baseURL    string
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewInvoiceClient creates a new invoicing service client.
func NewInvoiceClient(baseURL string, httpClient HTTPClient, log zerolog.Logger) *InvoiceClient {
	return &InvoiceClient{baseURL: baseURL, httpClient: httpClient, log: log}
}

type invoiceRequest struct {
	OrderID string `json:"order_id"`
	Type    string `json:"type"`
}

// RequestInvoice asks the invoicing collaborator to issue a document
// for the order.
func (c *InvoiceClient) RequestInvoice(ctx context.Context, orderID uuid.UUID, invoiceType string) error {
	body, err := json.Marshal(invoiceRequest{OrderID: orderID.String(), Type: invoiceType})
	if err != nil {
		return fmt.Errorf("marshal invoice request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/invoices", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build invoice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if cerr := classify(resp, err); cerr != nil {
		return cerr
	}
	resp.Body.Close()
	return nil
}
