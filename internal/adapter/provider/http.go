package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"marketplace-ledger/internal/core/ports"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// errorBody is the provider's error envelope on non-2xx responses.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a provider response or transport failure onto a
// ProviderError. Connection failures, timeouts, 429 and 5xx are
// transient; any other 4xx is a decline the retry loop must not touch.
func classify(resp *http.Response, err error) error {
	if err != nil {
		code := "NETWORK"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			code = "TIMEOUT"
		}
		return &ports.ProviderError{Code: code, Message: err.Error(), Transient: true}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	if eb.Code == "" {
		eb.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
	}
	if eb.Message == "" {
		eb.Message = http.StatusText(resp.StatusCode)
	}

	transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return &ports.ProviderError{Code: eb.Code, Message: eb.Message, Transient: transient}
}
