package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Refund запрос на возврат по платежу.
// Переходы статуса монотонны: pending -> success | failed.
type Refund struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	PaymentID       uuid.UUID       `db:"payment_id" json:"payment_id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	UploadID        uuid.UUID       `db:"upload_id" json:"upload_id"`
	Reference       string          `db:"reference" json:"reference"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Email           string          `db:"email" json:"email"`
	Reason          *string         `db:"reason" json:"reason,omitempty"`
	Status          string          `db:"status" json:"status"`
	GatewayRefundID *string         `db:"gateway_refund_id" json:"gateway_refund_id,omitempty"`
	Settlement
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsFinal сообщает, что возврат в терминальном статусе.
func (r *Refund) IsFinal() bool {
	return r.Status != RefundStatusPending
}
