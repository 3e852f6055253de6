package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment подтверждённый шлюзом входящий платёж. После создания не меняется.
type Payment struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	UploadID  uuid.UUID       `db:"upload_id" json:"upload_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	Reference string          `db:"reference" json:"reference"`
	Paycode   *string         `db:"paycode" json:"paycode,omitempty"`
	Email     string          `db:"email" json:"email"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// PaymentIntent привязка выданного reference к плательщику и задаче.
// Создаётся при открытии страницы оплаты.
type PaymentIntent struct {
	Reference string          `db:"reference" json:"reference"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	UploadID  uuid.UUID       `db:"upload_id" json:"upload_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
