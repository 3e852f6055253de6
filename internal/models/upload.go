package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Upload задача или решение, за которое платит клиент.
// AmountReceived меняется только вместе с кошельком создателя.
type Upload struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	CreatorID      uuid.UUID       `db:"creator_id" json:"creator_id"`
	Title          string          `db:"title" json:"title"`
	Budget         decimal.Decimal `db:"budget" json:"budget"`
	FileAmount     decimal.Decimal `db:"file_amount" json:"file_amount"`
	AmountReceived decimal.Decimal `db:"amount_received" json:"amount_received"`
	Status         string          `db:"status" json:"status"`
	Solved         bool            `db:"solved" json:"solved"`
	Picked         bool            `db:"picked" json:"picked"`
	PickedBy       *uuid.UUID      `db:"picked_by" json:"picked_by,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}
