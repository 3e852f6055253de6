package dto

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InitiatePaymentRequest запрос на создание checkout у шлюза.
type InitiatePaymentRequest struct {
	UploadID    uuid.UUID       `json:"upload_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Phone       string          `json:"phone"`
	Description string          `json:"description"`
}

// CreatePaymentRequest подтверждение оплаты по reference шлюза.
type CreatePaymentRequest struct {
	UploadID  uuid.UUID       `json:"upload_id" binding:"required"`
	Reference string          `json:"reference" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// VerifyPaymentRequest проверка статуса транзакции без записи платежа.
type VerifyPaymentRequest struct {
	Reference string `json:"reference" binding:"required"`
}

// CreateRefundRequest запрос возврата по reference платежа.
type CreateRefundRequest struct {
	Reference string          `json:"reference" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" binding:"max=500"`
}

// RecipientRequest реквизиты выплаты.
type RecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name" binding:"max=200"`
	AccountNumber string `json:"account_number" binding:"required"`
	BankCode      string `json:"bank_code" binding:"required"`
}

// CreateWithdrawalRequest вывод средств; recipient переопределяет сохранённые реквизиты.
type CreateWithdrawalRequest struct {
	Amount    decimal.Decimal   `json:"amount"`
	Recipient *RecipientRequest `json:"recipient"`
}

// FinalizeRequest ручная финализация записи оператором.
type FinalizeRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}
