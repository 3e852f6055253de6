package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solutionners/marketplace-backend/internal/gateway"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/pkg/apperror"
	"github.com/solutionners/marketplace-backend/internal/repository/memory"
)

func TestWithdrawalService_SetRecipient(t *testing.T) {
	f := newFixture(t)
	svc := NewWithdrawalService(f.store, f.recorder, amount(100))
	ctx := context.Background()

	balance, err := svc.SetRecipient(ctx, f.creator.ID, models.Recipient{Type: " NUBAN ", Name: " Tunde ", AccountNumber: "0123456789", BankCode: "058"})
	require.NoError(t, err)
	require.NotNil(t, balance.Recipient)
	assert.Equal(t, models.RecipientTypeNuban, balance.Recipient.Type)
	assert.Equal(t, "Tunde", balance.Recipient.Name)

	_, err = svc.SetRecipient(ctx, f.creator.ID, models.Recipient{AccountNumber: "12", BankCode: "058"})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.SetRecipient(ctx, f.creator.ID, models.Recipient{Type: "paypal", AccountNumber: "0123456789", BankCode: "058"})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.SetRecipient(ctx, uuid.New(), models.Recipient{AccountNumber: "0123456789", BankCode: "058"})
	assert.ErrorIs(t, err, apperror.ErrUserNotFound)
}

func TestWithdrawalService_RequestWithdrawal(t *testing.T) {
	f := newFixture(t)
	svc := NewWithdrawalService(f.store, f.recorder, amount(100))
	ctx := context.Background()
	f.pay(t, "ref_svc_w", 1000)
	f.withRecipient(t)
	f.gw.On("InitiateTransfer", mock.Anything, mock.Anything).Return(&gateway.TransferReceipt{TransferCode: "TRF_S"}, nil)

	_, err := svc.RequestWithdrawal(ctx, f.creator.ID, RequestWithdrawalInput{Amount: amount(50)})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
	assert.Contains(t, err.Error(), "100.00")

	w, err := svc.RequestWithdrawal(ctx, f.creator.ID, RequestWithdrawalInput{Amount: amount(400)})
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusQueued, w.Status)

	got, err := svc.GetWithdrawal(ctx, f.creator.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	_, err = svc.GetWithdrawal(ctx, f.payer.ID, w.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = svc.GetWithdrawal(ctx, f.creator.ID, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrWithdrawalNotFound)

	items, err := svc.ListWithdrawals(ctx, f.creator.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	wallet, err := svc.GetWallet(ctx, f.creator.ID)
	require.NoError(t, err)
	assertAmount(t, 600, wallet.Wallet)
	assertAmount(t, 400, wallet.TotalWithdrawn)
}

func TestReviewService_Finalize(t *testing.T) {
	f := newFixture(t)
	svc := NewReviewService(f.store, f.recorder)
	ctx := context.Background()
	p := f.pay(t, "ref_rev", 1000)
	f.withRecipient(t)
	f.gw.On("InitiateRefund", mock.Anything, mock.Anything).Return(&gateway.RefundReceipt{RefundID: "rf"}, nil)
	f.gw.On("InitiateTransfer", mock.Anything, mock.Anything).Return(&gateway.TransferReceipt{TransferCode: "TRF"}, nil)

	refund, err := f.recorder.RequestRefund(ctx, RefundRequest{PaymentID: p.ID, ActorID: f.payer.ID, Amount: amount(300)})
	require.NoError(t, err)
	w, err := f.recorder.QueueWithdrawal(ctx, WithdrawalRequest{UserID: f.creator.ID, Amount: amount(500)})
	require.NoError(t, err)

	_, err = f.recorder.FlagForReview(ctx, models.RecordKindRefund, refund.ID, "stuck")
	require.NoError(t, err)
	_, err = f.recorder.FlagForReview(ctx, models.RecordKindWithdrawal, w.ID, "stuck")
	require.NoError(t, err)

	flagged, err := svc.ListFlagged(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, flagged.Refunds, 1)
	assert.Len(t, flagged.Withdrawals, 1)

	_, err = svc.FinalizeRefund(ctx, refund.ID, "unknown")
	assert.True(t, apperror.IsValidation(err))

	doneRefund, err := svc.FinalizeRefund(ctx, refund.ID, "success")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusSuccess, doneRefund.Status)

	doneW, err := svc.FinalizeWithdrawal(ctx, w.ID, "failed")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusFailed, doneW.Status)

	assertAmount(t, 300, f.user(t, f.payer).Wallet)
	assertAmount(t, 1000, f.user(t, f.creator).Wallet)

	audit, err := svc.Audit(ctx, f.creator.ID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent())
}

func TestNotificationService(t *testing.T) {
	repo := memory.NewNotificationStore()
	svc := NewNotificationService(repo)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.CreateNotificationForWS(ctx, userID, models.EventRefundSucceeded, map[string]any{"amount": "200"}))
	n, err := svc.CreateNotification(ctx, userID, models.EventWithdrawalQueued, nil)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(n.Payload, &payload))
	assert.Equal(t, models.EventWithdrawalQueued, payload["event"])

	count, err := svc.CountUnread(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.ErrorIs(t, svc.MarkAsRead(ctx, n.ID, uuid.New()), apperror.ErrForbidden)
	require.NoError(t, svc.MarkAsRead(ctx, n.ID, userID))
	assert.True(t, apperror.IsNotFound(svc.MarkAsRead(ctx, uuid.New(), userID)))

	unread, err := svc.ListNotifications(ctx, userID, 0, 0, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	require.NoError(t, svc.MarkAllAsRead(ctx, userID))
	count, err = svc.CountUnread(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, count)
}
