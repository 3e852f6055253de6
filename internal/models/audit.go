package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerTotals суммы, пересчитанные по финансовым записям пользователя.
type LedgerTotals struct {
	TotalPayments    decimal.Decimal `db:"total_payments" json:"total_payments"`
	TotalRefunded    decimal.Decimal `db:"total_refunded" json:"total_refunded"`
	TotalWithdrawn   decimal.Decimal `db:"total_withdrawn" json:"total_withdrawn"`
	PaymentsReceived decimal.Decimal `db:"payments_received" json:"payments_received"`
}

// ExpectedWallet баланс, который должен получиться из записей.
func (t LedgerTotals) ExpectedWallet() decimal.Decimal {
	return t.PaymentsReceived.Add(t.TotalRefunded).Sub(t.TotalWithdrawn)
}

// TotalsAudit результат сверки хранимых счётчиков с пересчитанными.
type TotalsAudit struct {
	UserID     uuid.UUID       `json:"user_id"`
	Stored     Balance         `json:"stored"`
	Computed   LedgerTotals    `json:"computed"`
	Wallet     decimal.Decimal `json:"expected_wallet"`
	Mismatches []string        `json:"mismatches,omitempty"`
}

// Consistent сообщает, что расхождений нет.
func (a *TotalsAudit) Consistent() bool {
	return len(a.Mismatches) == 0
}
