package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Withdrawal вывод средств из кошелька. Сумма списывается до подтверждения
// шлюзом; ID записи служит идентификатором корреляции перевода.
type Withdrawal struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	UserID        uuid.UUID       `db:"user_id" json:"user_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Status        string          `db:"status" json:"status"`
	TransferCode  *string         `db:"transfer_code" json:"transfer_code,omitempty"`
	RecipientType string          `db:"recipient_type" json:"recipient_type"`
	RecipientName string          `db:"recipient_name" json:"recipient_name"`
	AccountNumber string          `db:"account_number" json:"account_number"`
	BankCode      string          `db:"bank_code" json:"bank_code"`
	Settlement
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsFinal сообщает, что вывод в терминальном статусе.
func (w *Withdrawal) IsFinal() bool {
	return w.Status != WithdrawalStatusQueued
}

// Destination реквизиты, зафиксированные при создании вывода.
func (w *Withdrawal) Destination() Recipient {
	return Recipient{
		Type:          w.RecipientType,
		Name:          w.RecipientName,
		AccountNumber: w.AccountNumber,
		BankCode:      w.BankCode,
	}
}
