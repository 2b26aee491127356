package dto

// WebhookAck is the provider-facing acknowledgement for an accepted
// notification. Providers retry on any non-200, so this is plain JSON
// without the operator response envelope.
type WebhookAck struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// RefundRequest is the request body for requesting a refund.
type RefundRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Reason string `json:"reason" binding:"required,max=500"`
}

// RefundResponse is the response body for a refund request.
type RefundResponse struct {
	RefundID         string `json:"refund_id"`
	Status           string `json:"status"`
	ApprovalRequired bool   `json:"approval_required"`
}

// RefundApproveResponse is the response body for refund approval.
type RefundApproveResponse struct {
	Success       bool    `json:"success"`
	ProviderRef   *string `json:"provider_ref,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// PayoutRunRequest is the request body for triggering a payout batch.
// AsOfDate bounds eligibility by delivery date; empty means today.
type PayoutRunRequest struct {
	AsOfDate string `json:"as_of_date" binding:"omitempty,datetime=2006-01-02"`
}

// PayoutRunResponse is the response body for a payout run.
type PayoutRunResponse struct {
	Success       bool    `json:"success"`
	ProviderRef   *string `json:"provider_ref,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// BalanceQuery is the query string for a balance read. Balances are
// per-currency, so the currency is mandatory.
type BalanceQuery struct {
	Currency string `form:"currency" binding:"required,iso_currency"`
}

// BalanceResponse is the response body for a derived account balance.
type BalanceResponse struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Balance  int64  `json:"balance"`
}
