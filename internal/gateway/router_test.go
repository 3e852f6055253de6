package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute_AssignsProvidersPerOperation(t *testing.T) {
	mara := NewMarasoftpay(MarasoftpayConfig{})
	pay := NewPaystack(PaystackConfig{})

	r, err := Route(Providers{"marasoftpay": mara, "paystack": pay}, "marasoftpay", "paystack", "paystack", "marasoftpay")
	require.NoError(t, err)
	assert.Same(t, mara, r.Checkout)
	assert.Same(t, pay, r.Verify)
	assert.Same(t, pay, r.Refund)
	assert.Same(t, mara, r.Transfer)
}

func TestRoute_RejectsUnsupportedOperation(t *testing.T) {
	_, err := Route(Providers{"paystack": NewPaystack(PaystackConfig{})}, "paystack", "", "", "")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "checkout", cfgErr.Op)

	_, err = Route(Providers{}, "", "stripe", "", "")
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "unknown provider", cfgErr.Reason)
}

func TestRouter_UnconfiguredOperationIsRejected(t *testing.T) {
	var r Router
	_, err := r.InitiateRefund(context.Background(), RefundRequest{})
	assert.True(t, IsRejected(err))
}

func TestHTTPError_Classification(t *testing.T) {
	assert.True(t, IsUnavailable(&HTTPError{StatusCode: 503}))
	assert.True(t, IsUnavailable(&HTTPError{StatusCode: 429}))
	assert.True(t, IsRejected(&HTTPError{StatusCode: 400}))
	assert.True(t, IsRejected(&HTTPError{StatusCode: 404}))
}
