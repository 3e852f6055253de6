// Package gateway нормализует API платёжных провайдеров к единому контракту.
// Адаптеры не хранят состояния.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solutionners/marketplace-backend/internal/models"
)

var (
	// ErrUnavailable сеть, таймаут, 5xx или нечитаемый ответ. Операцию можно повторить.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrRejected 4xx или явный отказ провайдера. Повтор бессмысленен.
	ErrRejected = errors.New("gateway rejected")
	// ErrAmbiguousRefund по сумме нашлось больше одного кандидата.
	ErrAmbiguousRefund = errors.New("gateway refund match is ambiguous")
)

// RefundStatus нормализованный статус возврата у провайдера.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
	RefundNotFound  RefundStatus = "not_found"
)

// TransferStatus нормализованный статус перевода у провайдера.
type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferSuccess  TransferStatus = "success"
	TransferFailed   TransferStatus = "failed"
	TransferNotFound TransferStatus = "not_found"
)

// Payer данные плательщика для страницы оплаты.
type Payer struct {
	Name  string
	Email string
	Phone string
}

type InitiateRequest struct {
	Payer       Payer
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	Description string
	RedirectURL string
}

type Checkout struct {
	PaymentURL string `json:"payment_url"`
	Reference  string `json:"reference"`
}

// Verification результат проверки транзакции. Verified=false это обычный
// ответ провайдера, а не ошибка вызова.
type Verification struct {
	Reference string          `json:"reference"`
	Verified  bool            `json:"verified"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	RawStatus string          `json:"raw_status"`
	Paycode   string          `json:"paycode,omitempty"`
}

type RefundRequest struct {
	Reference string
	Amount    decimal.Decimal
}

type RefundReceipt struct {
	RefundID string
	Status   RefundStatus
}

// RefundQuery ищет возврат по id провайдера, иначе по транзакции и сумме.
// При поиске по сумме возвраты из Claimed пропускаются: они уже
// принадлежат другим записям того же платежа.
type RefundQuery struct {
	RefundID  string
	Reference string
	Amount    decimal.Decimal
	Claimed   []string
	// Peers другие открытые возвраты платежа на ту же сумму без id провайдера.
	Peers int
}

type TransferRequest struct {
	// CorrelationID совпадает с ID вывода, повторный вызов использует тот же.
	CorrelationID string
	Amount        decimal.Decimal
	Currency      string
	Destination   models.Recipient
	Description   string
}

type TransferReceipt struct {
	TransferCode string
}

type TransferQuery struct {
	CorrelationID string
	Since         time.Time
}

type Checkouter interface {
	InitiateTransaction(ctx context.Context, req InitiateRequest) (*Checkout, error)
}

type Verifier interface {
	VerifyTransaction(ctx context.Context, reference string) (*Verification, error)
}

type Refunder interface {
	InitiateRefund(ctx context.Context, req RefundRequest) (*RefundReceipt, error)
	QueryRefundStatus(ctx context.Context, q RefundQuery) (RefundStatus, error)
}

type Transferer interface {
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error)
	QueryTransferStatus(ctx context.Context, q TransferQuery) (TransferStatus, error)
}

// Client полный контракт шлюза, которым пользуются сервисы и сверка.
type Client interface {
	Checkouter
	Verifier
	Refunder
	Transferer
}

// HTTPError ответ провайдера с не-2xx статусом.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: http %d", e.Provider, e.StatusCode)
}

// Unwrap относит ошибку к ErrUnavailable или ErrRejected по статусу.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408 {
		return ErrUnavailable
	}
	return ErrRejected
}

// IsUnavailable сообщает, что ошибку можно повторить позже.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRejected сообщает, что провайдер окончательно отказал.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

func rejected(provider, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", provider, ErrRejected, fmt.Sprintf(format, args...))
}

func unavailable(provider string, err error) error {
	return fmt.Errorf("%s: %w: %v", provider, ErrUnavailable, err)
}
