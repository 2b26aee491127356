package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/core/ports/mocks"
	"marketplace-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type routerTestDeps struct {
	router     *gin.Engine
	ingestSvc  *mocks.MockIngestService
	refundSvc  *mocks.MockRefundService
	payoutSvc  *mocks.MockPayoutService
	ledgerRepo *mocks.MockLedgerRepository
	tokenSvc   *mocks.MockTokenService
	ctrl       *gomock.Controller
}

func setupTestRouter(t *testing.T, checkers ...ports.HealthChecker) *routerTestDeps {
	ctrl := gomock.NewController(t)
	d := &routerTestDeps{
		ingestSvc:  mocks.NewMockIngestService(ctrl),
		refundSvc:  mocks.NewMockRefundService(ctrl),
		payoutSvc:  mocks.NewMockPayoutService(ctrl),
		ledgerRepo: mocks.NewMockLedgerRepository(ctrl),
		tokenSvc:   mocks.NewMockTokenService(ctrl),
		ctrl:       ctrl,
	}
	d.router = SetupRouter(RouterDeps{
		IngestSvc:      d.ingestSvc,
		RefundSvc:      d.refundSvc,
		PayoutSvc:      d.payoutSvc,
		LedgerRepo:     d.ledgerRepo,
		TokenSvc:       d.tokenSvc,
		HealthCheckers: checkers,
		Logger:         zerolog.Nop(),
	})
	return d
}

// asOperator wires the token mock to accept one bearer token for the
// given actor and sets it on the request.
func (d *routerTestDeps) asOperator(req *http.Request, actor string) {
	d.tokenSvc.EXPECT().Validate("tok-"+actor).Return(&ports.ActorClaims{ActorID: actor}, nil)
	req.Header.Set("Authorization", "Bearer tok-"+actor)
}

func TestWebhook_JSONDelivery(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	body := `{"payment":{"ntpID":"tx-1001","status":"paid"},"order":{"orderID":"` + uuid.NewString() + `","amount":11000,"currency":"USD"}}`
	d.ingestSvc.EXPECT().
		Ingest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, raw ports.RawWebhook) (ports.IngestResult, error) {
			assert.Equal(t, "application/json", raw.ContentType)
			assert.JSONEq(t, body, string(raw.Body))
			assert.Nil(t, raw.Form)
			return ports.IngestResult{Accepted: true}, nil
		})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWebhook_FormDelivery(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	orderID := uuid.NewString()
	form := url.Values{}
	form.Set("order_id", orderID)
	form.Set("status", "paid")
	form.Set("amount", "11000")
	form.Set("currency", "USD")
	form.Set("signature", "deadbeef")

	d.ingestSvc.EXPECT().
		Ingest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, raw ports.RawWebhook) (ports.IngestResult, error) {
			assert.Equal(t, orderID, raw.Form["order_id"])
			assert.Equal(t, "paid", raw.Form["status"])
			assert.Equal(t, "deadbeef", raw.Form["signature"])
			return ports.IngestResult{Accepted: true}, nil
		})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_DuplicateFlagged(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	d.ingestSvc.EXPECT().
		Ingest(gomock.Any(), gomock.Any()).
		Return(ports.IngestResult{Accepted: true, Duplicate: true}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","duplicate":true}`, w.Body.String())
}

func TestWebhook_InvalidSignatureIs400(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	d.ingestSvc.EXPECT().
		Ingest(gomock.Any(), gomock.Any()).
		Return(ports.IngestResult{}, apperror.ErrInvalidSignature())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "SIG_001")
}

func TestWebhook_UnknownOrderIs404(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	d.ingestSvc.EXPECT().
		Ingest(gomock.Any(), gomock.Any()).
		Return(ports.IngestResult{}, apperror.ErrNotFound("order"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook_InternalErrorIs500(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	d.ingestSvc.EXPECT().
		Ingest(gomock.Any(), gomock.Any()).
		Return(ports.IngestResult{}, apperror.InternalError(errors.New("db down")))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	// Provider retries on non-200, which is exactly what we want here.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRefundRequest_Success(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	orderID := uuid.New()
	refundID := uuid.New()
	d.refundSvc.EXPECT().
		RequestRefund(gomock.Any(), orderID, int64(2500), "damaged item", "ops-alice").
		Return(ports.RefundDecision{RefundID: refundID, Status: domain.RefundStatusRefunded}, nil)

	body := `{"amount":2500,"reason":"damaged item"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds/"+orderID.String(), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), refundID.String())
	assert.Contains(t, w.Body.String(), `"approval_required":false`)
}

func TestRefundRequest_LargeNeedsApproval(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	orderID := uuid.New()
	d.refundSvc.EXPECT().
		RequestRefund(gomock.Any(), orderID, int64(60000), "bulk order never arrived", "ops-alice").
		Return(ports.RefundDecision{RefundID: uuid.New(), Status: domain.RefundStatusPending, ApprovalRequired: true}, nil)

	body := `{"amount":60000,"reason":"bulk order never arrived"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds/"+orderID.String(), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"approval_required":true`)
}

func TestRefundRequest_RequiresAuth(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds/"+uuid.NewString(), strings.NewReader(`{"amount":2500,"reason":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefundRequest_InvalidOrderID(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds/not-a-uuid", strings.NewReader(`{"amount":2500,"reason":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefundRequest_MissingReason(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds/"+uuid.NewString(), strings.NewReader(`{"amount":2500}`))
	req.Header.Set("Content-Type", "application/json")
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VAL_001")
}

func TestRefundApprove_Success(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	refundID := uuid.New()
	ref := "prv-refund-9"
	d.refundSvc.EXPECT().
		ApproveAndProcess(gomock.Any(), refundID, "ops-bob").
		Return(ports.RefundOutcome{Success: true, ProviderRef: &ref}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds/"+refundID.String()+"/approve", nil)
	d.asOperator(req, "ops-bob")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "prv-refund-9")
}

func TestRefundApprove_SameActorIs403(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	refundID := uuid.New()
	d.refundSvc.EXPECT().
		ApproveAndProcess(gomock.Any(), refundID, "ops-alice").
		Return(ports.RefundOutcome{}, apperror.ErrSameActorApproval())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds/"+refundID.String()+"/approve", nil)
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "BIZ_006")
}

func TestPayoutRunBatch_WithAsOfDate(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	d.payoutSvc.EXPECT().
		RunBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, asOf time.Time) (ports.BatchResult, error) {
			assert.Equal(t, 2026, asOf.Year())
			assert.Equal(t, time.March, asOf.Month())
			assert.Equal(t, 15, asOf.Day())
			return ports.BatchResult{Processed: 3, Successful: 2, Failed: 1}, nil
		})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts/run", strings.NewReader(`{"as_of_date":"2026-03-15"}`))
	req.Header.Set("Content-Type", "application/json")
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processed":3`)
}

func TestPayoutRunBatch_EmptyBodyMeansNow(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	d.payoutSvc.EXPECT().
		RunBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, asOf time.Time) (ports.BatchResult, error) {
			assert.WithinDuration(t, time.Now().UTC(), asOf, 5*time.Second)
			return ports.BatchResult{}, nil
		})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts/run", nil)
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPayoutRunBatch_BadDate(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts/run", strings.NewReader(`{"as_of_date":"15/03/2026"}`))
	req.Header.Set("Content-Type", "application/json")
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayoutRunOne_Success(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	payoutID := uuid.New()
	ref := "prv-77"
	d.payoutSvc.EXPECT().
		RunOne(gomock.Any(), payoutID).
		Return(ports.PayoutResult{Success: true, ProviderRef: &ref}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts/"+payoutID.String()+"/run", nil)
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "prv-77")
}

func TestPayoutRunOne_NotActionableIs409(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	payoutID := uuid.New()
	d.payoutSvc.EXPECT().
		RunOne(gomock.Any(), payoutID).
		Return(ports.PayoutResult{}, apperror.ErrNotActionable("payout", "PROCESSING"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts/"+payoutID.String()+"/run", nil)
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "BIZ_007")
}

func TestLedgerBalance_Success(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	d.ledgerRepo.EXPECT().
		Balance(gomock.Any(), "commission_revenue", "USD").
		Return(int64(1000), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/accounts/commission_revenue/balance?currency=USD", nil)
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":1000`)
}

func TestLedgerBalance_RequiresCurrency(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/accounts/platform_cash/balance", nil)
	d.asOperator(req, "ops-alice")
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerBalance_RejectsNonISOCurrency(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	for _, currency := range []string{"usd", "DOLLARS", "U$D"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/accounts/platform_cash/balance?currency="+url.QueryEscape(currency), nil)
		d.asOperator(req, "ops-alice")
		w := httptest.NewRecorder()
		d.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, "currency %q should be rejected", currency)
		assert.Contains(t, w.Body.String(), "VAL_001")
	}
}

func TestHealthCheck_Healthy(t *testing.T) {
	d := setupTestRouter(t)
	defer d.ctrl.Finish()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestHealthCheck_Degraded(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	down := mocks.NewMockHealthChecker(ctrl)
	down.EXPECT().Name().Return("postgres").AnyTimes()
	down.EXPECT().Ping(gomock.Any()).Return(fmt.Errorf("connection refused"))

	up := mocks.NewMockHealthChecker(ctrl)
	up.EXPECT().Name().Return("redis").AnyTimes()
	up.EXPECT().Ping(gomock.Any()).Return(nil)

	d := setupTestRouter(t, down, up)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
	assert.Contains(t, w.Body.String(), "connection refused")
}
