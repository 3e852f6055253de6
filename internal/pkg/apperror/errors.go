package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound                     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized                 ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden                    ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest                   ErrorCode = "BAD_REQUEST"
	ErrCodeConflict                     ErrorCode = "CONFLICT"
	ErrCodeInternal                     ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation                   ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError                ErrorCode = "DATABASE_ERROR"
	ErrCodeDuplicateReference           ErrorCode = "DUPLICATE_REFERENCE"
	ErrCodeInsufficientFunds            ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeInsufficientRefundableAmount ErrorCode = "INSUFFICIENT_REFUNDABLE_AMOUNT"
	ErrCodeGatewayUnavailable           ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayRejected              ErrorCode = "GATEWAY_REJECTED"
	ErrCodeInvariantViolation           ErrorCode = "INVARIANT_VIOLATION"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с обёрнутыми копиями сентинелов.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// WithCause возвращает копию ошибки с причиной, сохраняя код и сообщение.
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Cause = err
	return &cp
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeDuplicateReference:
		return http.StatusConflict
	case ErrCodeInsufficientFunds, ErrCodeInsufficientRefundableAmount:
		return http.StatusUnprocessableEntity
	case ErrCodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeGatewayRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HasCode проверяет код первой AppError в цепочке.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return HasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

func IsInvariantViolation(err error) bool {
	return HasCode(err, ErrCodeInvariantViolation)
}

var (
	ErrUserNotFound       = New(ErrCodeNotFound, "пользователь не найден")
	ErrPayerNotFound      = New(ErrCodeNotFound, "плательщик не найден")
	ErrTaskNotFound       = New(ErrCodeNotFound, "задача не найдена")
	ErrPaymentNotFound    = New(ErrCodeNotFound, "платёж не найден")
	ErrRefundNotFound     = New(ErrCodeNotFound, "возврат не найден")
	ErrWithdrawalNotFound = New(ErrCodeNotFound, "вывод не найден")
	ErrUnauthorized       = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden          = New(ErrCodeForbidden, "недостаточно прав")
	ErrNotPayer           = New(ErrCodeForbidden, "платёж принадлежит другому пользователю")
	ErrInvalidAmount      = New(ErrCodeValidation, "некорректная сумма")
	ErrRecipientRequired  = New(ErrCodeValidation, "не указаны реквизиты для вывода")
	ErrDuplicateReference = New(ErrCodeDuplicateReference, "платёж с таким reference уже записан")
	ErrInsufficientFunds  = New(ErrCodeInsufficientFunds, "недостаточно средств на кошельке")
	ErrRefundExceeds      = New(ErrCodeInsufficientRefundableAmount, "сумма возврата превышает остаток платежа")
	ErrGatewayUnavailable = New(ErrCodeGatewayUnavailable, "платёжный шлюз недоступен")
	ErrGatewayRejected    = New(ErrCodeGatewayRejected, "платёжный шлюз отклонил операцию")
	ErrNotVerified        = New(ErrCodeGatewayRejected, "транзакция не подтверждена шлюзом")
	ErrInvariantViolation = New(ErrCodeInvariantViolation, "нарушена целостность леджера")
)
