package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solutionners/marketplace-backend/internal/models"
)

// Ошибки хранилища. Реализации оборачивают их через %w.
var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicateReference = errors.New("payment reference already recorded")
	ErrInsufficientFunds  = errors.New("balance guard rejected update")
)

// DueFilter отбирает незавершённые записи для сверки.
type DueFilter struct {
	// CreatedBefore отсекает записи моложе grace-периода.
	CreatedBefore time.Time
	// AttemptBefore пропускает записи, которые уже взял другой проход.
	AttemptBefore time.Time
	Limit         int
}

// Flagged записи, снятые со сверки и ожидающие ручного разбора.
type Flagged struct {
	Refunds     []models.Refund     `json:"refunds"`
	Withdrawals []models.Withdrawal `json:"withdrawals"`
}

// LedgerTx операции внутри одной единицы работы.
// Изменения балансов выполняются атомарным инкрементом на стороне хранилища.
type LedgerTx interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUpload(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)

	// ApplyBalance применяет дельту, если ни одно поле не уходит в минус.
	// Иначе возвращает ErrInsufficientFunds.
	ApplyBalance(ctx context.Context, userID uuid.UUID, delta models.BalanceDelta) (*models.User, error)
	// ApplyUploadPayment увеличивает amount_received и фиксирует file_amount.
	ApplyUploadPayment(ctx context.Context, uploadID uuid.UUID, amount decimal.Decimal) (*models.Upload, error)

	InsertPayment(ctx context.Context, payment *models.Payment) error
	// LockPayment читает платёж с блокировкой строки до конца транзакции.
	LockPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	// SumOpenRefunds сумма всех неотклонённых возвратов по платежу.
	SumOpenRefunds(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)

	InsertRefund(ctx context.Context, refund *models.Refund) error
	// TransitionRefund меняет статус только из from. Возвращает актуальную
	// запись и признак того, что переход произошёл.
	TransitionRefund(ctx context.Context, id uuid.UUID, from, to string) (*models.Refund, bool, error)

	InsertWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error
	TransitionWithdrawal(ctx context.Context, id uuid.UUID, from, to string) (*models.Withdrawal, bool, error)
}

// LedgerStore долговременное хранилище леджера.
type LedgerStore interface {
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUpload(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	GetRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)

	ListPayments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error)
	ListRefunds(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Refund, error)
	ListWithdrawals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error)
	// ListPaymentRefunds все возвраты платежа в порядке создания.
	ListPaymentRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error)

	ListDueRefunds(ctx context.Context, filter DueFilter) ([]models.Refund, error)
	ListDueWithdrawals(ctx context.Context, filter DueFilter) ([]models.Withdrawal, error)
	ListFlagged(ctx context.Context, limit int) (*Flagged, error)

	// SaveIntent сохраняет выданный reference. Повтор reference даёт ErrDuplicateReference.
	SaveIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetIntent(ctx context.Context, reference string) (*models.PaymentIntent, error)

	SetRecipient(ctx context.Context, userID uuid.UUID, recipient models.Recipient) (*models.User, error)
	MarkRefundInitiated(ctx context.Context, id uuid.UUID, gatewayRefundID string) error
	MarkWithdrawalInitiated(ctx context.Context, id uuid.UUID, transferCode string) error

	// ClaimAttempt занимает незавершённую запись для одного прохода сверки.
	// false означает, что запись уже финализирована, помечена или занята.
	ClaimAttempt(ctx context.Context, kind models.RecordKind, id uuid.UUID, attemptBefore time.Time) (bool, error)
	// RecordError увеличивает счётчик неудачных попыток и возвращает его.
	RecordError(ctx context.Context, kind models.RecordKind, id uuid.UUID, message string) (int, error)
	// FlagForReview снимает незавершённую запись со сверки.
	FlagForReview(ctx context.Context, kind models.RecordKind, id uuid.UUID, reason string) (bool, error)

	// SumFinalized пересчитывает суммы по записям пользователя.
	SumFinalized(ctx context.Context, userID uuid.UUID) (*models.LedgerTotals, error)
}
