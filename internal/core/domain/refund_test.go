package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefund_AwaitingApproval(t *testing.T) {
	hold := FailureReasonApprovalRequired
	other := "provider declined"

	assert.True(t, (&Refund{Status: RefundStatusPending, FailureReason: &hold}).AwaitingApproval())
	assert.False(t, (&Refund{Status: RefundStatusPending}).AwaitingApproval())
	assert.False(t, (&Refund{Status: RefundStatusProcessing, FailureReason: &hold}).AwaitingApproval())
	assert.False(t, (&Refund{Status: RefundStatusFailed, FailureReason: &other}).AwaitingApproval())
}

func TestRefund_IsVoid(t *testing.T) {
	// Only a FAILED refund frees the order for a new request.
	assert.True(t, (&Refund{Status: RefundStatusFailed}).IsVoid())
	assert.False(t, (&Refund{Status: RefundStatusPending}).IsVoid())
	assert.False(t, (&Refund{Status: RefundStatusProcessing}).IsVoid())
	assert.False(t, (&Refund{Status: RefundStatusRefunded}).IsVoid())
}
