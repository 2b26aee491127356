package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := "order-1|paid|11000|USD"

	sig := svc.Sign("whsec_test", payload)
	assert.NotEmpty(t, sig)
	assert.True(t, svc.Verify("whsec_test", payload, sig))
}

func TestHMACSignatureService_Deterministic(t *testing.T) {
	svc := NewHMACSignatureService()

	sig1 := svc.Sign("whsec_test", "payload")
	sig2 := svc.Sign("whsec_test", "payload")
	assert.Equal(t, sig1, sig2)
}

func TestHMACSignatureService_RejectsTamperedPayload(t *testing.T) {
	svc := NewHMACSignatureService()

	sig := svc.Sign("whsec_test", "order-1|paid|11000|USD")
	assert.False(t, svc.Verify("whsec_test", "order-1|paid|99000|USD", sig))
}

func TestHMACSignatureService_RejectsWrongSecret(t *testing.T) {
	svc := NewHMACSignatureService()

	sig := svc.Sign("whsec_test", "payload")
	assert.False(t, svc.Verify("whsec_other", "payload", sig))
}

func TestHMACSignatureService_RejectsInvalidSignature(t *testing.T) {
	svc := NewHMACSignatureService()

	assert.False(t, svc.Verify("whsec_test", "payload", "not-a-signature"))
	assert.False(t, svc.Verify("whsec_test", "payload", ""))
}
