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

	"github.com/solutionners/marketplace-backend/internal/models"
)

func newMarasoftpayServer(t *testing.T, handler http.HandlerFunc) *Marasoftpay {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	m := NewMarasoftpay(MarasoftpayConfig{
		EncKey:      "enc",
		CheckoutURL: srv.URL,
		APIURL:      srv.URL,
		TransferURL: srv.URL,
		Timeout:     time.Second,
	})
	m.now = func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }
	return m
}

func TestMarasoftpay_InitiateTransaction(t *testing.T) {
	m := newMarasoftpayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/initiate_transaction", r.URL.Path)
		var body struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "enc", body.Data["enc_key"])
		assert.Equal(t, "ref_1", body.Data["merchant_tx_ref"])
		assert.Equal(t, "5000.00", body.Data["amount"])
		_, _ = w.Write([]byte(`{"status":"success","url":"https://pay.example/1"}`))
	})

	out, err := m.InitiateTransaction(context.Background(), InitiateRequest{
		Amount: decimal.NewFromInt(5000), Currency: "NGN", Reference: "ref_1",
		Payer: Payer{Name: "Ada", Email: "ada@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/1", out.PaymentURL)
}

func TestMarasoftpay_InitiateTransactionFailure(t *testing.T) {
	m := newMarasoftpayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed","message":"invalid key"}`))
	})

	_, err := m.InitiateTransaction(context.Background(), InitiateRequest{Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
}

func TestMarasoftpay_VerifyTransaction(t *testing.T) {
	m := newMarasoftpayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/checktransaction", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"true","data":{"transaction_ref":"ref_1","amount":"5000.00","currency":"NGN","status":"successful","paycode":"PC1"}}`))
	})

	v, err := m.VerifyTransaction(context.Background(), "ref_1")
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "PC1", v.Paycode)
}

func TestMarasoftpay_VerifyNotVerified(t *testing.T) {
	m := newMarasoftpayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"false","message":"transaction not found"}`))
	})

	v, err := m.VerifyTransaction(context.Background(), "ref_x")
	require.NoError(t, err)
	assert.False(t, v.Verified)
}

func TestMarasoftpay_UndecodableBodyIsUnavailable(t *testing.T) {
	m := newMarasoftpayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := m.VerifyTransaction(context.Background(), "ref_1")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestMarasoftpay_InitiateTransfer(t *testing.T) {
	m := newMarasoftpayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/createtransfer", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "wd-1", r.PostForm.Get("transactionRef"))
		assert.Equal(t, "0123456789", r.PostForm.Get("account_number"))
		assert.Equal(t, "058", r.PostForm.Get("bank_code"))
		assert.Equal(t, "3000.00", r.PostForm.Get("amount"))
		_, _ = w.Write([]byte(`{"status":"success","transferCode":"TRF_9"}`))
	})

	receipt, err := m.InitiateTransfer(context.Background(), TransferRequest{
		CorrelationID: "wd-1",
		Amount:        decimal.NewFromInt(3000),
		Currency:      "NGN",
		Destination:   models.Recipient{AccountNumber: "0123456789", BankCode: "058"},
	})
	require.NoError(t, err)
	assert.Equal(t, "TRF_9", receipt.TransferCode)
}

func TestMarasoftpay_InitiateTransferRejected(t *testing.T) {
	m := newMarasoftpayServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"status":"failed","message":"invalid account"}`))
	})

	_, err := m.InitiateTransfer(context.Background(), TransferRequest{CorrelationID: "wd-1"})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
}

func TestMarasoftpay_QueryTransferStatus(t *testing.T) {
	m := newMarasoftpayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account_history/transfers", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "01-03-2026", body["start_date"])
		assert.Equal(t, "10-03-2026", body["end_date"])
		_, _ = w.Write([]byte(`{"status":"success","transactions":[
			{"transaction_ref":"wd-1","status":"Successful"},
			{"transaction_ref":"wd-2","status":"failed"},
			{"transaction_ref":"wd-3","status":"processing"}]}`))
	})
	ctx := context.Background()
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := map[string]TransferStatus{
		"wd-1": TransferSuccess,
		"wd-2": TransferFailed,
		"wd-3": TransferPending,
		"wd-4": TransferNotFound,
	}
	for id, want := range cases {
		got, err := m.QueryTransferStatus(ctx, TransferQuery{CorrelationID: id, Since: since})
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
}
