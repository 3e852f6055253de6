package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solutionners/marketplace-backend/internal/gateway"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/pkg/apperror"
)

func newPaymentService(f *fixture) *PaymentService {
	return NewPaymentService(f.store, f.gw, f.recorder, "ngn", "https://app.example.com/paid")
}

func TestPaymentService_InitiatePayment(t *testing.T) {
	f := newFixture(t)
	svc := newPaymentService(f)
	svc.now = func() time.Time { return time.UnixMilli(1700000000123) }

	var sent string
	f.gw.On("InitiateTransaction", mock.Anything, mock.MatchedBy(func(r gateway.InitiateRequest) bool {
		sent = r.Reference
		return r.Currency == "NGN" && r.Payer.Email == f.payer.Email &&
			r.RedirectURL == "https://app.example.com/paid" && r.Amount.Equal(amount(5000))
	})).Return(&gateway.Checkout{PaymentURL: "https://pay.example.com/x", Reference: "echo"}, nil)

	checkout, err := svc.InitiatePayment(context.Background(), f.payer.ID, InitiatePaymentInput{UploadID: f.upload.ID, Amount: amount(5000)})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/x", checkout.PaymentURL)
	assert.Regexp(t, regexp.MustCompile(`^ref_1700000000123_[0-9a-f]{8}$`), sent)
}

func TestPaymentService_InitiatePayment_GatewayDown(t *testing.T) {
	f := newFixture(t)
	svc := newPaymentService(f)
	f.gw.On("InitiateTransaction", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("marasoftpay: %w: dial tcp", gateway.ErrUnavailable))

	_, err := svc.InitiatePayment(context.Background(), f.payer.ID, InitiatePaymentInput{UploadID: f.upload.ID, Amount: amount(10)})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeGatewayUnavailable))
}

func TestPaymentService_CreatePaymentChecksIntent(t *testing.T) {
	f := newFixture(t)
	svc := newPaymentService(f)
	ctx := context.Background()
	other := f.store.PutUpload(models.Upload{CreatorID: f.creator.ID, Title: "Эссе", Budget: amount(5000)})
	stranger := f.store.PutUser(models.User{Email: "stranger@example.com"})

	var reference string
	f.gw.On("InitiateTransaction", mock.Anything, mock.MatchedBy(func(r gateway.InitiateRequest) bool {
		reference = r.Reference
		return true
	})).Return(&gateway.Checkout{PaymentURL: "https://pay.example.com/y"}, nil)

	_, err := svc.InitiatePayment(ctx, f.payer.ID, InitiatePaymentInput{UploadID: f.upload.ID, Amount: amount(5000)})
	require.NoError(t, err)

	intent, err := f.store.GetIntent(ctx, reference)
	require.NoError(t, err)
	assert.Equal(t, f.payer.ID, intent.UserID)
	assert.Equal(t, f.upload.ID, intent.UploadID)
	assertAmount(t, 5000, intent.Amount)

	_, err = svc.CreatePayment(ctx, stranger.ID, CreatePaymentInput{UploadID: f.upload.ID, Reference: reference, Amount: amount(5000)})
	assert.ErrorIs(t, err, apperror.ErrNotPayer)

	_, err = svc.CreatePayment(ctx, f.payer.ID, CreatePaymentInput{UploadID: other.ID, Reference: reference, Amount: amount(5000)})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeValidation))
	f.gw.AssertNotCalled(t, "VerifyTransaction", mock.Anything, mock.Anything)

	f.gw.On("VerifyTransaction", mock.Anything, reference).Return(&gateway.Verification{
		Reference: reference, Verified: true, Amount: amount(5000), Currency: "NGN", RawStatus: "success",
	}, nil)
	p, err := svc.CreatePayment(ctx, f.payer.ID, CreatePaymentInput{UploadID: f.upload.ID, Reference: reference, Amount: amount(5000)})
	require.NoError(t, err)
	assert.Equal(t, f.payer.ID, p.UserID)
	assertAmount(t, 5000, f.user(t, f.creator).Wallet)
	assertAmount(t, 0, f.user(t, stranger).TotalPayments)
}

func TestPaymentService_CreatePayment(t *testing.T) {
	f := newFixture(t)
	svc := newPaymentService(f)
	ctx := context.Background()

	f.gw.On("VerifyTransaction", mock.Anything, "ref_ok").Return(&gateway.Verification{
		Reference: "ref_ok", Verified: true, Amount: amount(5000), Currency: "NGN", RawStatus: "success", Paycode: "PC1",
	}, nil)

	p, err := svc.CreatePayment(ctx, f.payer.ID, CreatePaymentInput{UploadID: f.upload.ID, Reference: "ref_ok", Amount: amount(5000)})
	require.NoError(t, err)
	require.NotNil(t, p.Paycode)
	assert.Equal(t, "PC1", *p.Paycode)
	assertAmount(t, 5000, f.user(t, f.creator).Wallet)

	// Повторное подтверждение не доходит до шлюза.
	_, err = svc.CreatePayment(ctx, f.payer.ID, CreatePaymentInput{UploadID: f.upload.ID, Reference: "ref_ok", Amount: amount(5000)})
	assert.ErrorIs(t, err, apperror.ErrDuplicateReference)
	f.gw.AssertNumberOfCalls(t, "VerifyTransaction", 1)
	assertAmount(t, 5000, f.user(t, f.creator).Wallet)
}

func TestPaymentService_CreatePayment_Rejections(t *testing.T) {
	f := newFixture(t)
	svc := newPaymentService(f)
	ctx := context.Background()

	f.gw.On("VerifyTransaction", mock.Anything, "ref_pending").
		Return(&gateway.Verification{Reference: "ref_pending", Verified: false, RawStatus: "pending"}, nil)
	f.gw.On("VerifyTransaction", mock.Anything, "ref_short").
		Return(&gateway.Verification{Reference: "ref_short", Verified: true, Amount: amount(4000), Currency: "NGN"}, nil)
	f.gw.On("VerifyTransaction", mock.Anything, "ref_usd").
		Return(&gateway.Verification{Reference: "ref_usd", Verified: true, Amount: amount(5000), Currency: "USD"}, nil)
	f.gw.On("VerifyTransaction", mock.Anything, "ref_404").
		Return(nil, &gateway.HTTPError{Provider: "marasoftpay", StatusCode: 404})

	_, err := svc.CreatePayment(ctx, f.payer.ID, CreatePaymentInput{UploadID: f.upload.ID, Reference: "ref_pending", Amount: amount(5000)})
	assert.ErrorIs(t, err, apperror.ErrNotVerified)

	_, err = svc.CreatePayment(ctx, f.payer.ID, CreatePaymentInput{UploadID: f.upload.ID, Reference: "ref_short", Amount: amount(5000)})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.CreatePayment(ctx, f.payer.ID, CreatePaymentInput{UploadID: f.upload.ID, Reference: "ref_usd", Amount: amount(5000)})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.CreatePayment(ctx, f.payer.ID, CreatePaymentInput{UploadID: f.upload.ID, Reference: "ref_404", Amount: amount(5000)})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeGatewayRejected))

	_, err = svc.CreatePayment(ctx, f.payer.ID, CreatePaymentInput{UploadID: f.upload.ID, Reference: "ref_x", Amount: amount(0)})
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)

	assertAmount(t, 0, f.user(t, f.creator).Wallet)
	assertAmount(t, 0, f.user(t, f.payer).TotalPayments)
}

func TestPaymentService_GetAndList(t *testing.T) {
	f := newFixture(t)
	svc := newPaymentService(f)
	ctx := context.Background()
	p := f.pay(t, "ref_l1", 100)
	f.pay(t, "ref_l2", 200)

	got, err := svc.GetPayment(ctx, f.payer.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ref_l1", got.Reference)

	_, err = svc.GetPayment(ctx, f.creator.ID, p.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	items, err := svc.ListPayments(ctx, f.payer.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ref_l2", items[0].Reference)
}

func TestRefundService_RequestRefund(t *testing.T) {
	f := newFixture(t)
	svc := NewRefundService(f.store, f.recorder)
	ctx := context.Background()
	f.pay(t, "ref_r", 5000)
	f.gw.On("InitiateRefund", mock.Anything, mock.Anything).Return(&gateway.RefundReceipt{RefundID: "rf_9"}, nil)

	refund, err := svc.RequestRefund(ctx, f.payer.ID, RequestRefundInput{Reference: "ref_r", Amount: amount(2000), Reason: "дубль"})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusPending, refund.Status)
	require.NotNil(t, refund.Reason)

	got, err := svc.GetRefund(ctx, f.payer.ID, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, refund.ID, got.ID)

	_, err = svc.GetRefund(ctx, f.creator.ID, refund.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = svc.RequestRefund(ctx, f.payer.ID, RequestRefundInput{Reference: "missing", Amount: amount(1)})
	assert.ErrorIs(t, err, apperror.ErrPaymentNotFound)

	items, err := svc.ListRefunds(ctx, f.payer.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
