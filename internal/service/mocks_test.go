package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solutionners/marketplace-backend/internal/gateway"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/notify"
	"github.com/solutionners/marketplace-backend/internal/repository/memory"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) InitiateTransaction(ctx context.Context, req gateway.InitiateRequest) (*gateway.Checkout, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Checkout), args.Error(1)
}

func (m *mockGateway) VerifyTransaction(ctx context.Context, reference string) (*gateway.Verification, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Verification), args.Error(1)
}

func (m *mockGateway) InitiateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundReceipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.RefundReceipt), args.Error(1)
}

func (m *mockGateway) QueryRefundStatus(ctx context.Context, q gateway.RefundQuery) (gateway.RefundStatus, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(gateway.RefundStatus), args.Error(1)
}

func (m *mockGateway) InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferReceipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.TransferReceipt), args.Error(1)
}

func (m *mockGateway) QueryTransferStatus(ctx context.Context, q gateway.TransferQuery) (gateway.TransferStatus, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(gateway.TransferStatus), args.Error(1)
}

// recordingNotifier запоминает сообщения синхронно.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) events(event string) []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Message
	for _, m := range n.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

type fixture struct {
	store    *memory.Store
	gw       *mockGateway
	notifier *recordingNotifier
	recorder *Recorder
	payer    models.User
	creator  models.User
	upload   models.Upload
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	gw := new(mockGateway)
	n := &recordingNotifier{}
	f := &fixture{
		store:    store,
		gw:       gw,
		notifier: n,
		recorder: NewRecorder(store, gw, n, nil, RecorderConfig{Currency: "NGN", ReviewEmail: "ops@example.com"}),
		payer:    store.PutUser(models.User{Email: "payer@example.com", FirstName: "Ada"}),
		creator:  store.PutUser(models.User{Email: "creator@example.com", FirstName: "Tunde"}),
	}
	f.upload = store.PutUpload(models.Upload{CreatorID: f.creator.ID, Title: "Курсовая", Budget: amount(5000)})
	return f
}

func (f *fixture) pay(t *testing.T, reference string, v int64) *models.Payment {
	t.Helper()
	p, err := f.recorder.RecordPayment(context.Background(), PaymentRecord{
		PayerID:   f.payer.ID,
		UploadID:  f.upload.ID,
		Reference: reference,
		Amount:    amount(v),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) user(t *testing.T, u models.User) *models.User {
	t.Helper()
	got, err := f.store.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	return got
}

func (f *fixture) withRecipient(t *testing.T) {
	t.Helper()
	_, err := f.store.SetRecipient(context.Background(), f.creator.ID, models.Recipient{
		Type:          models.RecipientTypeNuban,
		Name:          "Tunde Bakare",
		AccountNumber: "0123456789",
		BankCode:      "058",
	})
	require.NoError(t, err)
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, got.Equal(amount(want)), "want %d, got %s %v", want, got.String(), msgAndArgs)
}
