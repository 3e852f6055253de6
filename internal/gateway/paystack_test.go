package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaystackServer(t *testing.T, handler http.HandlerFunc) *Paystack {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPaystack(PaystackConfig{SecretKey: "sk_test", BaseURL: srv.URL, Timeout: time.Second})
}

func TestPaystack_VerifyTransaction(t *testing.T) {
	p := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "/transaction/verify/ref_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"reference":"ref_1","amount":500000,"currency":"NGN","status":"success"}}`))
	})

	v, err := p.VerifyTransaction(context.Background(), "ref_1")
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "NGN", v.Currency)
}

func TestPaystack_VerifyBusinessFailureIsNotAnError(t *testing.T) {
	p := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	})

	v, err := p.VerifyTransaction(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.Equal(t, "Transaction reference not found", v.RawStatus)
}

func TestPaystack_ServerErrorIsUnavailable(t *testing.T) {
	p := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.VerifyTransaction(context.Background(), "ref_1")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRejected(err))
}

func TestPaystack_TimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	p := NewPaystack(PaystackConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})

	_, err := p.VerifyTransaction(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestPaystack_InitiateRefund(t *testing.T) {
	p := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ref_1", body["transaction"])
		assert.EqualValues(t, 200000, body["amount"])
		_, _ = w.Write([]byte(`{"status":true,"data":{"id":77,"amount":200000,"status":"pending"}}`))
	})

	receipt, err := p.InitiateRefund(context.Background(), RefundRequest{Reference: "ref_1", Amount: decimal.NewFromInt(2000)})
	require.NoError(t, err)
	assert.Equal(t, "77", receipt.RefundID)
	assert.Equal(t, RefundPending, receipt.Status)
}

func TestPaystack_InitiateRefundRejected(t *testing.T) {
	p := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Refund amount exceeds transaction"}`))
	})

	_, err := p.InitiateRefund(context.Background(), RefundRequest{Reference: "ref_1", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Contains(t, err.Error(), "exceeds")
}

func TestPaystack_QueryRefundStatus(t *testing.T) {
	p := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/refund/77":
			_, _ = w.Write([]byte(`{"status":true,"data":{"id":77,"status":"processed"}}`))
		case "/refund":
			assert.Equal(t, "ref_1", r.URL.Query().Get("transaction"))
			_, _ = w.Write([]byte(`{"status":true,"data":[{"id":1,"amount":100000,"status":"failed"},{"id":2,"amount":200000,"status":"processed"}]}`))
		case "/refund/404":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":false,"message":"Refund not found"}`))
		}
	})
	ctx := context.Background()

	st, err := p.QueryRefundStatus(ctx, RefundQuery{RefundID: "77"})
	require.NoError(t, err)
	assert.Equal(t, RefundProcessed, st)

	st, err = p.QueryRefundStatus(ctx, RefundQuery{Reference: "ref_1", Amount: decimal.NewFromInt(2000)})
	require.NoError(t, err)
	assert.Equal(t, RefundProcessed, st)

	st, err = p.QueryRefundStatus(ctx, RefundQuery{Reference: "ref_1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	assert.Equal(t, RefundFailed, st)

	st, err = p.QueryRefundStatus(ctx, RefundQuery{Reference: "ref_1", Amount: decimal.NewFromInt(3000)})
	require.NoError(t, err)
	assert.Equal(t, RefundNotFound, st)

	st, err = p.QueryRefundStatus(ctx, RefundQuery{RefundID: "404"})
	require.NoError(t, err)
	assert.Equal(t, RefundNotFound, st)
}

func TestPaystack_QueryRefundStatusSkipsClaimedRefunds(t *testing.T) {
	p := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("transaction") {
		case "ref_one":
			_, _ = w.Write([]byte(`{"status":true,"data":[{"id":1,"amount":100000,"status":"processed"}]}`))
		case "ref_two":
			_, _ = w.Write([]byte(`{"status":true,"data":[{"id":1,"amount":100000,"status":"processed"},{"id":2,"amount":100000,"status":"pending"}]}`))
		}
	})
	ctx := context.Background()
	amount := decimal.NewFromInt(1000)

	// Единственный возврат провайдера уже принадлежит другой записи.
	st, err := p.QueryRefundStatus(ctx, RefundQuery{Reference: "ref_one", Amount: amount, Claimed: []string{"1"}})
	require.NoError(t, err)
	assert.Equal(t, RefundNotFound, st)

	st, err = p.QueryRefundStatus(ctx, RefundQuery{Reference: "ref_two", Amount: amount, Claimed: []string{"1"}})
	require.NoError(t, err)
	assert.Equal(t, RefundPending, st)

	_, err = p.QueryRefundStatus(ctx, RefundQuery{Reference: "ref_two", Amount: amount})
	assert.ErrorIs(t, err, ErrAmbiguousRefund)

	// Кандидат один, но на него претендуют две записи.
	_, err = p.QueryRefundStatus(ctx, RefundQuery{Reference: "ref_one", Amount: amount, Peers: 1})
	assert.ErrorIs(t, err, ErrAmbiguousRefund)
}
