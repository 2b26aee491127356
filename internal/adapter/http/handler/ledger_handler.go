package handler

import (
	"net/http"

	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// LedgerHandler exposes derived reads over the append-only ledger.
type LedgerHandler struct {
	ledgerRepo ports.LedgerRepository
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerRepo ports.LedgerRepository) *LedgerHandler {
	return &LedgerHandler{ledgerRepo: ledgerRepo}
}

// GetBalance handles GET /api/v1/ledger/accounts/:account/balance.
// The balance is always computed from the entries, never stored.
func (h *LedgerHandler) GetBalance(c *gin.Context) {
	account := c.Param("account")

	var q dto.BalanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation("currency query parameter is required (ISO 4217 code)"))
		return
	}

	balance, err := h.ledgerRepo.Balance(c.Request.Context(), account, q.Currency)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	response.OK(c, dto.BalanceResponse{
		Account:  account,
		Currency: q.Currency,
		Balance:  balance,
	})
}

// HealthCheck handles GET /health, verifying all dependencies.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
