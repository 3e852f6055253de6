package models

import "time"

// Settlement служебное состояние асинхронной сверки со шлюзом.
type Settlement struct {
	InitiatedAt     *time.Time `db:"initiated_at" json:"initiated_at,omitempty"`
	Attempts        int        `db:"attempts" json:"attempts"`
	LastAttemptAt   *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
	ReviewFlaggedAt *time.Time `db:"review_flagged_at" json:"review_flagged_at,omitempty"`
	ReviewReason    *string    `db:"review_reason" json:"review_reason,omitempty"`
	FinalizedAt     *time.Time `db:"finalized_at" json:"finalized_at,omitempty"`
}

// Initiated сообщает, что шлюз принял операцию.
func (s Settlement) Initiated() bool {
	return s.InitiatedAt != nil
}

// Flagged сообщает, что запись ждёт ручного разбора.
func (s Settlement) Flagged() bool {
	return s.ReviewFlaggedAt != nil
}
