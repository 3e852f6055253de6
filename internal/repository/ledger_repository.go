package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/repository/common"
)

const uniqueViolation = "23505"

// LedgerRepository хранилище леджера в PostgreSQL.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository создаёт экземпляр репозитория.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

var _ domain.LedgerStore = (*LedgerRepository)(nil)

// WithinTx выполняет fn в одной транзакции.
func (r *LedgerRepository) WithinTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

func (r *LedgerRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return getUser(ctx, r.db, id)
}

func (r *LedgerRepository) GetUpload(ctx context.Context, id uuid.UUID) (*models.Upload, error) {
	return getUpload(ctx, r.db, id)
}

func (r *LedgerRepository) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := common.GetByID[models.Payment](ctx, r.db, "payments", id, domain.ErrNotFound)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: get payment %w", err)
	}
	return p, nil
}

func (r *LedgerRepository) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	p, err := common.GetByField[models.Payment](ctx, r.db, "payments", "reference", reference, domain.ErrNotFound)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: get payment by reference %w", err)
	}
	return p, nil
}

func (r *LedgerRepository) GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	return getRefund(ctx, r.db, id)
}

func (r *LedgerRepository) GetWithdrawal(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	return getWithdrawal(ctx, r.db, id)
}

func (r *LedgerRepository) ListPayments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	items, err := common.SelectPage[models.Payment](ctx, r.db, "payments", userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list payments %w", err)
	}
	return items, nil
}

func (r *LedgerRepository) ListRefunds(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Refund, error) {
	items, err := common.SelectPage[models.Refund](ctx, r.db, "refunds", userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list refunds %w", err)
	}
	return items, nil
}

func (r *LedgerRepository) ListWithdrawals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error) {
	items, err := common.SelectPage[models.Withdrawal](ctx, r.db, "withdrawals", userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list withdrawals %w", err)
	}
	return items, nil
}

func (r *LedgerRepository) ListPaymentRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	items := make([]models.Refund, 0)
	if err := r.db.SelectContext(ctx, &items, `SELECT * FROM refunds WHERE payment_id = $1 ORDER BY created_at`, paymentID); err != nil {
		return nil, fmt.Errorf("ledger repository: list payment refunds %w", err)
	}
	return items, nil
}

func (r *LedgerRepository) SaveIntent(ctx context.Context, intent *models.PaymentIntent) error {
	err := r.db.GetContext(ctx, intent, `
		INSERT INTO payment_intents (reference, user_id, upload_id, amount, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, intent.Reference, intent.UserID, intent.UploadID, intent.Amount, intent.Currency)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateReference
		}
		return fmt.Errorf("ledger repository: save intent %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetIntent(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.GetContext(ctx, &intent, `SELECT * FROM payment_intents WHERE reference = $1`, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("ledger repository: get intent %w", err)
	}
	return &intent, nil
}

const dueCondition = `
	WHERE status = $1
	  AND review_flagged_at IS NULL
	  AND created_at < $2
	  AND (last_attempt_at IS NULL OR last_attempt_at < $3)
	ORDER BY created_at
	LIMIT $4
`

// ListDueRefunds возвращает pending возвраты, готовые к сверке.
func (r *LedgerRepository) ListDueRefunds(ctx context.Context, filter domain.DueFilter) ([]models.Refund, error) {
	items := make([]models.Refund, 0)
	query := `SELECT * FROM refunds` + dueCondition
	if err := r.db.SelectContext(ctx, &items, query, models.RefundStatusPending, filter.CreatedBefore, filter.AttemptBefore, filter.Limit); err != nil {
		return nil, fmt.Errorf("ledger repository: list due refunds %w", err)
	}
	return items, nil
}

// ListDueWithdrawals возвращает queued выводы, готовые к сверке.
func (r *LedgerRepository) ListDueWithdrawals(ctx context.Context, filter domain.DueFilter) ([]models.Withdrawal, error) {
	items := make([]models.Withdrawal, 0)
	query := `SELECT * FROM withdrawals` + dueCondition
	if err := r.db.SelectContext(ctx, &items, query, models.WithdrawalStatusQueued, filter.CreatedBefore, filter.AttemptBefore, filter.Limit); err != nil {
		return nil, fmt.Errorf("ledger repository: list due withdrawals %w", err)
	}
	return items, nil
}

// ListFlagged возвращает незавершённые записи, снятые со сверки.
func (r *LedgerRepository) ListFlagged(ctx context.Context, limit int) (*domain.Flagged, error) {
	out := &domain.Flagged{
		Refunds:     make([]models.Refund, 0),
		Withdrawals: make([]models.Withdrawal, 0),
	}
	if err := r.db.SelectContext(ctx, &out.Refunds, `
		SELECT * FROM refunds
		WHERE status = $1 AND review_flagged_at IS NOT NULL
		ORDER BY review_flagged_at LIMIT $2
	`, models.RefundStatusPending, limit); err != nil {
		return nil, fmt.Errorf("ledger repository: list flagged refunds %w", err)
	}
	if err := r.db.SelectContext(ctx, &out.Withdrawals, `
		SELECT * FROM withdrawals
		WHERE status = $1 AND review_flagged_at IS NOT NULL
		ORDER BY review_flagged_at LIMIT $2
	`, models.WithdrawalStatusQueued, limit); err != nil {
		return nil, fmt.Errorf("ledger repository: list flagged withdrawals %w", err)
	}
	return out, nil
}

// SetRecipient сохраняет реквизиты выплаты пользователя.
func (r *LedgerRepository) SetRecipient(ctx context.Context, userID uuid.UUID, recipient models.Recipient) (*models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `
		UPDATE users
		SET recipient_type = $2, recipient_name = $3, recipient_account_number = $4,
		    recipient_bank_code = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, userID, recipient.Type, recipient.Name, recipient.AccountNumber, recipient.BankCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("ledger repository: set recipient %w", err)
	}
	return &u, nil
}

// MarkRefundInitiated фиксирует, что шлюз принял возврат.
func (r *LedgerRepository) MarkRefundInitiated(ctx context.Context, id uuid.UUID, gatewayRefundID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refunds
		SET initiated_at = COALESCE(initiated_at, NOW()),
		    gateway_refund_id = COALESCE(NULLIF($2, ''), gateway_refund_id),
		    updated_at = NOW()
		WHERE id = $1
	`, id, gatewayRefundID)
	if err != nil {
		return fmt.Errorf("ledger repository: mark refund initiated %w", err)
	}
	return expectRow(res, "mark refund initiated")
}

// MarkWithdrawalInitiated фиксирует код перевода, выданный шлюзом.
func (r *LedgerRepository) MarkWithdrawalInitiated(ctx context.Context, id uuid.UUID, transferCode string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE withdrawals
		SET initiated_at = COALESCE(initiated_at, NOW()),
		    transfer_code = COALESCE(NULLIF($2, ''), transfer_code),
		    updated_at = NOW()
		WHERE id = $1
	`, id, transferCode)
	if err != nil {
		return fmt.Errorf("ledger repository: mark withdrawal initiated %w", err)
	}
	return expectRow(res, "mark withdrawal initiated")
}

// ClaimAttempt занимает запись для текущего прохода сверки.
func (r *LedgerRepository) ClaimAttempt(ctx context.Context, kind models.RecordKind, id uuid.UUID, attemptBefore time.Time) (bool, error) {
	table, open, err := kindTable(kind)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET last_attempt_at = NOW()
		WHERE id = $1 AND status = $2 AND review_flagged_at IS NULL
		  AND (last_attempt_at IS NULL OR last_attempt_at < $3)
	`, table), id, open, attemptBefore)
	if err != nil {
		return false, fmt.Errorf("ledger repository: claim %s %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger repository: claim %s rows affected %w", kind, err)
	}
	return n == 1, nil
}

// RecordError сохраняет ошибку шлюза и возвращает число неудачных попыток.
func (r *LedgerRepository) RecordError(ctx context.Context, kind models.RecordKind, id uuid.UUID, message string) (int, error) {
	table, _, err := kindTable(kind)
	if err != nil {
		return 0, err
	}
	var attempts int
	err = r.db.GetContext(ctx, &attempts, fmt.Sprintf(`
		UPDATE %s SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING attempts
	`, table), id, message)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("ledger repository: record %s error %w", kind, err)
	}
	return attempts, nil
}

// FlagForReview помечает незавершённую запись для ручного разбора.
func (r *LedgerRepository) FlagForReview(ctx context.Context, kind models.RecordKind, id uuid.UUID, reason string) (bool, error) {
	table, open, err := kindTable(kind)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET review_flagged_at = NOW(), review_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND review_flagged_at IS NULL
	`, table), id, open, reason)
	if err != nil {
		return false, fmt.Errorf("ledger repository: flag %s %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger repository: flag %s rows affected %w", kind, err)
	}
	return n == 1, nil
}

// SumFinalized пересчитывает счётчики пользователя по финансовым записям.
func (r *LedgerRepository) SumFinalized(ctx context.Context, userID uuid.UUID) (*models.LedgerTotals, error) {
	var totals models.LedgerTotals
	err := r.db.GetContext(ctx, &totals, `
		SELECT
			(SELECT COALESCE(SUM(amount), 0) FROM payments WHERE user_id = $1) AS total_payments,
			(SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE user_id = $1 AND status = 'success') AS total_refunded,
			(SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE user_id = $1 AND status <> 'failed') AS total_withdrawn,
			(SELECT COALESCE(SUM(p.amount), 0) FROM payments p
				JOIN uploads u ON u.id = p.upload_id
				WHERE u.creator_id = $1) AS payments_received
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: sum finalized %w", err)
	}
	return &totals, nil
}

// ledgerTx операции леджера в рамках одной транзакции.
type ledgerTx struct {
	tx *sqlx.Tx
}

func (t *ledgerTx) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return getUser(ctx, t.tx, id)
}

func (t *ledgerTx) GetUpload(ctx context.Context, id uuid.UUID) (*models.Upload, error) {
	return getUpload(ctx, t.tx, id)
}

func (t *ledgerTx) GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	return getRefund(ctx, t.tx, id)
}

func (t *ledgerTx) GetWithdrawal(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	return getWithdrawal(ctx, t.tx, id)
}

// ApplyBalance одним UPDATE прибавляет дельту ко всем полям кошелька.
// Условие в WHERE не даёт ни одному полю уйти в минус.
func (t *ledgerTx) ApplyBalance(ctx context.Context, userID uuid.UUID, d models.BalanceDelta) (*models.User, error) {
	var u models.User
	err := t.tx.GetContext(ctx, &u, `
		UPDATE users
		SET wallet = wallet + $2::numeric,
		    total_payments = total_payments + $3::numeric,
		    total_refunded = total_refunded + $4::numeric,
		    total_withdrawn = total_withdrawn + $5::numeric,
		    updated_at = NOW()
		WHERE id = $1
		  AND wallet + $2::numeric >= 0
		  AND total_payments + $3::numeric >= 0
		  AND total_refunded + $4::numeric >= 0
		  AND total_withdrawn + $5::numeric >= 0
		RETURNING *
	`, userID, d.Wallet, d.TotalPayments, d.TotalRefunded, d.TotalWithdrawn)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger repository: apply balance %w", err)
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID); err != nil {
		return nil, fmt.Errorf("ledger repository: apply balance check user %w", err)
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrInsufficientFunds
}

func (t *ledgerTx) ApplyUploadPayment(ctx context.Context, uploadID uuid.UUID, amount decimal.Decimal) (*models.Upload, error) {
	var up models.Upload
	err := t.tx.GetContext(ctx, &up, `
		UPDATE uploads
		SET amount_received = amount_received + $2::numeric, file_amount = $2::numeric, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, uploadID, amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("ledger repository: apply upload payment %w", err)
	}
	return &up, nil
}

func (t *ledgerTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	err := t.tx.GetContext(ctx, p, `
		INSERT INTO payments (user_id, upload_id, amount, currency, reference, paycode, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, p.UserID, p.UploadID, p.Amount, p.Currency, p.Reference, p.Paycode, p.Email)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateReference
		}
		return fmt.Errorf("ledger repository: insert payment %w", err)
	}
	return nil
}

func (t *ledgerTx) LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	if err := t.tx.GetContext(ctx, &p, `SELECT * FROM payments WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("ledger repository: lock payment %w", err)
	}
	return &p, nil
}

func (t *ledgerTx) SumOpenRefunds(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1 AND status <> $2
	`, paymentID, models.RefundStatusFailed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger repository: sum open refunds %w", err)
	}
	return sum, nil
}

func (t *ledgerTx) InsertRefund(ctx context.Context, rf *models.Refund) error {
	err := t.tx.GetContext(ctx, rf, `
		INSERT INTO refunds (payment_id, user_id, upload_id, reference, amount, email, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, rf.PaymentID, rf.UserID, rf.UploadID, rf.Reference, rf.Amount, rf.Email, rf.Reason, rf.Status)
	if err != nil {
		return fmt.Errorf("ledger repository: insert refund %w", err)
	}
	return nil
}

func (t *ledgerTx) TransitionRefund(ctx context.Context, id uuid.UUID, from, to string) (*models.Refund, bool, error) {
	var rf models.Refund
	err := t.tx.GetContext(ctx, &rf, `
		UPDATE refunds SET status = $3, finalized_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, id, from, to)
	if err == nil {
		return &rf, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("ledger repository: transition refund %w", err)
	}
	current, err := getRefund(ctx, t.tx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (t *ledgerTx) InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	err := t.tx.GetContext(ctx, w, `
		INSERT INTO withdrawals (id, user_id, amount, status, recipient_type, recipient_name, account_number, bank_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, w.ID, w.UserID, w.Amount, w.Status, w.RecipientType, w.RecipientName, w.AccountNumber, w.BankCode)
	if err != nil {
		return fmt.Errorf("ledger repository: insert withdrawal %w", err)
	}
	return nil
}

func (t *ledgerTx) TransitionWithdrawal(ctx context.Context, id uuid.UUID, from, to string) (*models.Withdrawal, bool, error) {
	var w models.Withdrawal
	err := t.tx.GetContext(ctx, &w, `
		UPDATE withdrawals SET status = $3, finalized_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, id, from, to)
	if err == nil {
		return &w, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("ledger repository: transition withdrawal %w", err)
	}
	current, err := getWithdrawal(ctx, t.tx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func getUser(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*models.User, error) {
	u, err := common.GetByID[models.User](ctx, q, "users", id, domain.ErrNotFound)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: get user %w", err)
	}
	return u, nil
}

func getUpload(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*models.Upload, error) {
	up, err := common.GetByID[models.Upload](ctx, q, "uploads", id, domain.ErrNotFound)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: get upload %w", err)
	}
	return up, nil
}

func getRefund(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*models.Refund, error) {
	rf, err := common.GetByID[models.Refund](ctx, q, "refunds", id, domain.ErrNotFound)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: get refund %w", err)
	}
	return rf, nil
}

func getWithdrawal(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*models.Withdrawal, error) {
	w, err := common.GetByID[models.Withdrawal](ctx, q, "withdrawals", id, domain.ErrNotFound)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: get withdrawal %w", err)
	}
	return w, nil
}

func kindTable(kind models.RecordKind) (table, openStatus string, err error) {
	switch kind {
	case models.RecordKindRefund:
		return "refunds", models.RefundStatusPending, nil
	case models.RecordKindWithdrawal:
		return "withdrawals", models.WithdrawalStatusQueued, nil
	default:
		return "", "", fmt.Errorf("ledger repository: unknown record kind %q", kind)
	}
}

func expectRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger repository: %s rows affected %w", op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
