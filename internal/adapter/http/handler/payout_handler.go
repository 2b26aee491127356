package handler

import (
	"errors"
	"io"
	"time"

	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PayoutHandler handles operator payout endpoints.
type PayoutHandler struct {
	payoutSvc ports.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(payoutSvc ports.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc}
}

// RunBatch handles POST /api/v1/payouts/run.
func (h *PayoutHandler) RunBatch(c *gin.Context) {
	// An empty body means "as of now".
	var req dto.PayoutRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	asOf := time.Now().UTC()
	if req.AsOfDate != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOfDate)
		if err != nil {
			response.Error(c, apperror.Validation("invalid as_of_date, expected YYYY-MM-DD"))
			return
		}
		// Inclusive of the whole day.
		asOf = parsed.Add(24*time.Hour - time.Nanosecond)
	}

	result, err := h.payoutSvc.RunBatch(c.Request.Context(), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, result)
}

// RunOne handles POST /api/v1/payouts/:id/run, the manual
// re-trigger for a failed payout.
func (h *PayoutHandler) RunOne(c *gin.Context) {
	payoutID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payout id"))
		return
	}

	result, err := h.payoutSvc.RunOne(c.Request.Context(), payoutID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.PayoutRunResponse{
		Success:       result.Success,
		ProviderRef:   result.ProviderRef,
		FailureReason: result.FailureReason,
	})
}
