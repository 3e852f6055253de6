package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User описывает пользователя платформы вместе с его кошельком.
// Поля баланса меняет только Recorder.
type User struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	Email          string          `db:"email" json:"email"`
	FirstName      string          `db:"first_name" json:"first_name"`
	LastName       string          `db:"last_name" json:"last_name"`
	Role           string          `db:"role" json:"role"`
	Wallet         decimal.Decimal `db:"wallet" json:"wallet"`
	TotalPayments  decimal.Decimal `db:"total_payments" json:"total_payments"`
	TotalRefunded  decimal.Decimal `db:"total_refunded" json:"total_refunded"`
	TotalWithdrawn decimal.Decimal `db:"total_withdrawn" json:"total_withdrawn"`

	RecipientType          *string `db:"recipient_type" json:"-"`
	RecipientName          *string `db:"recipient_name" json:"-"`
	RecipientAccountNumber *string `db:"recipient_account_number" json:"-"`
	RecipientBankCode      *string `db:"recipient_bank_code" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Recipient возвращает сохранённые реквизиты выплаты или nil, если они неполные.
func (u *User) Recipient() *Recipient {
	if u.RecipientAccountNumber == nil || u.RecipientBankCode == nil ||
		*u.RecipientAccountNumber == "" || *u.RecipientBankCode == "" {
		return nil
	}
	r := &Recipient{
		AccountNumber: *u.RecipientAccountNumber,
		BankCode:      *u.RecipientBankCode,
	}
	if u.RecipientType != nil {
		r.Type = *u.RecipientType
	}
	if u.RecipientName != nil {
		r.Name = *u.RecipientName
	}
	return r
}

// Balance агрегированные поля кошелька пользователя.
type Balance struct {
	UserID         uuid.UUID       `json:"user_id"`
	Wallet         decimal.Decimal `json:"wallet"`
	TotalPayments  decimal.Decimal `json:"total_payments"`
	TotalRefunded  decimal.Decimal `json:"total_refunded"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	Recipient      *Recipient      `json:"recipient,omitempty"`
}

// BalanceOf собирает Balance из пользователя.
func BalanceOf(u *User) Balance {
	return Balance{
		UserID:         u.ID,
		Wallet:         u.Wallet,
		TotalPayments:  u.TotalPayments,
		TotalRefunded:  u.TotalRefunded,
		TotalWithdrawn: u.TotalWithdrawn,
		Recipient:      u.Recipient(),
	}
}

// BalanceDelta изменение полей кошелька, применяемое одной атомарной операцией.
type BalanceDelta struct {
	Wallet         decimal.Decimal
	TotalPayments  decimal.Decimal
	TotalRefunded  decimal.Decimal
	TotalWithdrawn decimal.Decimal
}

// IsZero сообщает, что дельта ничего не меняет.
func (d BalanceDelta) IsZero() bool {
	return d.Wallet.IsZero() && d.TotalPayments.IsZero() &&
		d.TotalRefunded.IsZero() && d.TotalWithdrawn.IsZero()
}
