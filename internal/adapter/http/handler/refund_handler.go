package handler

import (
	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/adapter/http/middleware"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RefundHandler handles operator refund endpoints.
type RefundHandler struct {
	refundSvc ports.RefundService
}

// NewRefundHandler creates a new RefundHandler.
func NewRefundHandler(refundSvc ports.RefundService) *RefundHandler {
	return &RefundHandler{refundSvc: refundSvc}
}

// Request handles POST /api/v1/refunds/:id (order id).
func (h *RefundHandler) Request(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	decision, err := h.refundSvc.RequestRefund(c.Request.Context(), orderID, req.Amount, req.Reason, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RefundResponse{
		RefundID:         decision.RefundID.String(),
		Status:           string(decision.Status),
		ApprovalRequired: decision.ApprovalRequired,
	})
}

// Approve handles POST /api/v1/refunds/:id/approve (refund id). The approving
// actor comes from the bearer token and must differ from the requester.
func (h *RefundHandler) Approve(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	refundID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid refund id"))
		return
	}

	outcome, err := h.refundSvc.ApproveAndProcess(c.Request.Context(), refundID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.RefundApproveResponse{
		Success:       outcome.Success,
		ProviderRef:   outcome.ProviderRef,
		FailureReason: outcome.FailureReason,
	})
}

// actorFromContext reads the authenticated operator id set by the
// bearer auth middleware.
func actorFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.CtxActorID)
	if !ok {
		return "", false
	}
	actor, ok := v.(string)
	return actor, ok && actor != ""
}
