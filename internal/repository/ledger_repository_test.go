package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solutionners/marketplace-backend/internal/db"
	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/models"
)

// openTestDB подключается к TEST_DATABASE_URL и применяет миграции.
// Без переменной тесты пропускаются.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL не задан")
	}
	ctx := context.Background()
	conn, err := db.NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.RunMigrations(ctx, conn, "../../migrations"))
	return conn
}

func seedUser(t *testing.T, conn *sqlx.DB, wallet int64) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	require.NoError(t, conn.Get(&id,
		`INSERT INTO users (email, wallet) VALUES ($1, $2) RETURNING id`,
		uuid.NewString()+"@example.com", decimal.NewFromInt(wallet)))
	return id
}

func seedUpload(t *testing.T, conn *sqlx.DB, creatorID uuid.UUID) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	require.NoError(t, conn.Get(&id, `INSERT INTO uploads (creator_id) VALUES ($1) RETURNING id`, creatorID))
	return id
}

func TestLedgerRepository_PaymentAndRefund(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := NewLedgerRepository(conn)

	payer := seedUser(t, conn, 0)
	creator := seedUser(t, conn, 0)
	upload := seedUpload(t, conn, creator)
	reference := "ref_" + uuid.NewString()

	payment := &models.Payment{UserID: payer, UploadID: upload, Amount: decimal.NewFromInt(5000), Currency: "NGN", Reference: reference}
	require.NoError(t, repo.WithinTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		_, err := tx.ApplyBalance(ctx, creator, models.BalanceDelta{Wallet: payment.Amount})
		return err
	}))
	assert.NotEqual(t, uuid.Nil, payment.ID)

	err := repo.WithinTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertPayment(ctx, &models.Payment{UserID: payer, UploadID: upload, Amount: decimal.NewFromInt(1), Currency: "NGN", Reference: reference})
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateReference)

	refund := &models.Refund{PaymentID: payment.ID, UserID: payer, UploadID: upload, Reference: reference, Amount: decimal.NewFromInt(2000), Status: models.RefundStatusPending}
	require.NoError(t, repo.WithinTx(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.LockPayment(ctx, payment.ID); err != nil {
			return err
		}
		return tx.InsertRefund(ctx, refund)
	}))

	var open decimal.Decimal
	require.NoError(t, repo.WithinTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		open, err = tx.SumOpenRefunds(ctx, payment.ID)
		return err
	}))
	assert.True(t, open.Equal(decimal.NewFromInt(2000)))

	// Конкурентная финализация проводится ровно один раз.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.WithinTx(ctx, func(tx domain.LedgerTx) error {
				_, changed, err := tx.TransitionRefund(ctx, refund.ID, models.RefundStatusPending, models.RefundStatusSuccess)
				if err != nil || !changed {
					return err
				}
				mu.Lock()
				changes++
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, changes)

	got, err := repo.GetRefund(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusSuccess, got.Status)

	totals, err := repo.SumFinalized(ctx, creator)
	require.NoError(t, err)
	assert.True(t, totals.PaymentsReceived.Equal(decimal.NewFromInt(5000)))
}

func TestLedgerRepository_BalanceGuard(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := NewLedgerRepository(conn)
	user := seedUser(t, conn, 100)

	err := repo.WithinTx(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.ApplyBalance(ctx, user, models.BalanceDelta{Wallet: decimal.NewFromInt(-101)})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = repo.WithinTx(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.ApplyBalance(ctx, uuid.New(), models.BalanceDelta{Wallet: decimal.NewFromInt(1)})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	u, err := repo.GetUser(ctx, user)
	require.NoError(t, err)
	assert.True(t, u.Wallet.Equal(decimal.NewFromInt(100)))
}

func TestLedgerRepository_ClaimAndFlag(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := NewLedgerRepository(conn)
	user := seedUser(t, conn, 0)

	w := &models.Withdrawal{
		ID:            uuid.New(),
		UserID:        user,
		Amount:        decimal.NewFromInt(300),
		Status:        models.WithdrawalStatusQueued,
		RecipientType: "nuban",
		AccountNumber: "0123456789",
		BankCode:      "058",
	}
	require.NoError(t, repo.WithinTx(ctx, func(tx domain.LedgerTx) error { return tx.InsertWithdrawal(ctx, w) }))

	ok, err := repo.ClaimAttempt(ctx, models.RecordKindWithdrawal, w.ID, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimAttempt(ctx, models.RecordKindWithdrawal, w.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := repo.RecordError(ctx, models.RecordKindWithdrawal, w.ID, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.MarkWithdrawalInitiated(ctx, w.ID, "TRF_1"))

	flagged, err := repo.FlagForReview(ctx, models.RecordKindWithdrawal, w.ID, "stuck")
	require.NoError(t, err)
	assert.True(t, flagged)

	flagged, err = repo.FlagForReview(ctx, models.RecordKindWithdrawal, w.ID, "stuck")
	require.NoError(t, err)
	assert.False(t, flagged)

	review, err := repo.ListFlagged(ctx, 100)
	require.NoError(t, err)
	var found bool
	for _, item := range review.Withdrawals {
		if item.ID == w.ID {
			found = true
			require.NotNil(t, item.TransferCode)
			assert.Equal(t, "TRF_1", *item.TransferCode)
		}
	}
	assert.True(t, found)

	ok, err = repo.ClaimAttempt(ctx, models.RecordKindWithdrawal, w.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "flagged record")
}

func TestLedgerRepository_IntentsAndPaymentRefunds(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	repo := NewLedgerRepository(conn)
	payer := seedUser(t, conn, 0)
	creator := seedUser(t, conn, 0)
	upload := seedUpload(t, conn, creator)
	reference := "ref_" + uuid.NewString()

	intent := &models.PaymentIntent{Reference: reference, UserID: payer, UploadID: upload, Amount: decimal.NewFromInt(5000), Currency: "NGN"}
	require.NoError(t, repo.SaveIntent(ctx, intent))
	assert.False(t, intent.CreatedAt.IsZero())
	assert.ErrorIs(t, repo.SaveIntent(ctx, intent), domain.ErrDuplicateReference)

	got, err := repo.GetIntent(ctx, reference)
	require.NoError(t, err)
	assert.Equal(t, payer, got.UserID)
	_, err = repo.GetIntent(ctx, "ref_missing_"+uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	payment := &models.Payment{UserID: payer, UploadID: upload, Amount: decimal.NewFromInt(5000), Currency: "NGN", Reference: reference}
	require.NoError(t, repo.WithinTx(ctx, func(tx domain.LedgerTx) error { return tx.InsertPayment(ctx, payment) }))
	for i := 0; i < 2; i++ {
		r := &models.Refund{PaymentID: payment.ID, UserID: payer, UploadID: upload, Reference: reference, Amount: decimal.NewFromInt(1000), Status: models.RefundStatusPending}
		require.NoError(t, repo.WithinTx(ctx, func(tx domain.LedgerTx) error { return tx.InsertRefund(ctx, r) }))
	}

	refunds, err := repo.ListPaymentRefunds(ctx, payment.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 2)
}
