package integration

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Five provider retries of the same payment event race through the full
// HTTP stack. Exactly one delivery may do the financial work; the rest
// must acknowledge as duplicates without touching order or ledger.
func TestConcurrentWebhookDeliveries_ProcessedExactlyOnce(t *testing.T) {
	app := newTestApp(t)
	order := app.seedOrder(t, domain.OrderStatusPending)

	const deliveries = 5
	acks := make([]struct {
		Status    string `json:"status"`
		Duplicate bool   `json:"duplicate"`
	}, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := app.postPaidWebhookV2(t, order, "tx-race-1")
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&acks[i]))
		}(i)
	}
	wg.Wait()

	processed, duplicates := 0, 0
	for _, ack := range acks {
		require.Equal(t, "ok", ack.Status)
		if ack.Duplicate {
			duplicates++
		} else {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
	assert.Equal(t, deliveries-1, duplicates)

	// The financial work happened exactly once.
	stored, err := app.orderRepo.GetByID(t.Context(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, stored.Status)
	assert.Equal(t, 3, app.ledger.entryCount())
	assert.Equal(t, 1, app.webhooks.eventCount())
	assert.Equal(t, 1, app.invoices.calls)
	assert.Len(t, app.notifier.confirmed, 1)
}

// Concurrent manual triggers of the same payout must not double-pay the
// seller. Losers either fail the claim (409) or observe the terminal
// paid state (200 no-op); either way only one provider transfer happens.
func TestConcurrentPayoutTriggers_SinglePayment(t *testing.T) {
	app := newTestApp(t)
	order := app.seedOrder(t, domain.OrderStatusPending)
	app.postPaidWebhookV2(t, order, "tx-race-2").Body.Close()

	stored, err := app.orderRepo.GetByID(t.Context(), order.ID)
	require.NoError(t, err)
	stored.Status = domain.OrderStatusDelivered
	stored.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, app.orderRepo.Update(t.Context(), nil, stored))

	// Seed the pending payout directly; a batch run would pay it out
	// before the triggers get a chance to race.
	payout := &domain.Payout{
		ID:        uuid.New(),
		SellerID:  order.SellerID,
		OrderID:   order.ID,
		Amount:    9000,
		Currency:  "USD",
		Status:    domain.PayoutStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	created, err := app.payouts.Create(t.Context(), payout)
	require.NoError(t, err)
	require.True(t, created)

	const triggers = 5
	statuses := make([]int, triggers)

	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := app.postJSON(t, "/api/v1/payouts/"+payout.ID.String()+"/run", "ops-alice", nil)
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, status := range statuses {
		require.Contains(t, []int{http.StatusOK, http.StatusConflict}, status)
		if status == http.StatusOK {
			okCount++
		}
	}
	assert.GreaterOrEqual(t, okCount, 1)

	// One transfer, one ledger group, payable fully drained once.
	assert.Equal(t, 1, app.payoutPrv.calls)
	final, err := app.payouts.GetByID(t.Context(), payout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusPaid, final.Status)
	assert.Equal(t, int64(0), app.balance(t, domain.SellerPayableAccount(order.SellerID)))
}
