package handler

import (
	"io"
	"net/http"
	"strings"

	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler receives inbound payment-provider notifications.
type WebhookHandler struct {
	ingestSvc ports.IngestService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingestSvc ports.IngestService) *WebhookHandler {
	return &WebhookHandler{ingestSvc: ingestSvc}
}

// Receive handles POST /api/v1/webhooks/payment. The provider retries
// on any non-200, so a 200 is sent only after the delivery's financial
// effects are durable (or it was a duplicate).
func (h *WebhookHandler) Receive(c *gin.Context) {
	raw, err := readRawWebhook(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.ingestSvc.Ingest(c.Request.Context(), raw)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookAck{Status: "ok", Duplicate: result.Duplicate})
}

// readRawWebhook sniffs the content type: form-encoded deliveries are
// the legacy (v1) shape, JSON is the current (v2) envelope.
func readRawWebhook(c *gin.Context) (ports.RawWebhook, error) {
	contentType := c.ContentType()

	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := c.Request.ParseForm(); err != nil {
			return ports.RawWebhook{}, apperror.ErrMalformedPayload("cannot parse form body")
		}
		form := make(map[string]string, len(c.Request.PostForm))
		for key := range c.Request.PostForm {
			form[key] = c.Request.PostForm.Get(key)
		}
		return ports.RawWebhook{ContentType: contentType, Form: form}, nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ports.RawWebhook{}, apperror.ErrMalformedPayload("cannot read request body")
	}
	return ports.RawWebhook{ContentType: contentType, Body: body}, nil
}
