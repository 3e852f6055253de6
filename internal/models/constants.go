package models

// Статусы возвратов.
const (
	RefundStatusPending = "pending"
	RefundStatusSuccess = "success"
	RefundStatusFailed  = "failed"
)

// Статусы выводов средств.
const (
	WithdrawalStatusQueued  = "queued"
	WithdrawalStatusSuccess = "success"
	WithdrawalStatusFailed  = "failed"
)

// Статусы загрузок (задач).
const (
	UploadStatusPending   = "pending"
	UploadStatusSubmitted = "submitted"
	UploadStatusAccepted  = "accepted"
	UploadStatusRejected  = "rejected"
)

// Роли пользователей.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Типы получателей выплат.
const (
	RecipientTypeNuban = "nuban"
	RecipientTypeBank  = "bank"
)

// RecordKind обозначает тип финансовой записи, которую сверяет планировщик.
type RecordKind string

const (
	RecordKindRefund     RecordKind = "refund"
	RecordKindWithdrawal RecordKind = "withdrawal"
)

// События леджера для уведомлений.
const (
	EventPaymentSucceeded    = "payment.succeeded"
	EventPaymentReceived     = "payment.received"
	EventRefundSucceeded     = "refund.succeeded"
	EventRefundFailed        = "refund.failed"
	EventWithdrawalQueued    = "withdrawal.queued"
	EventWithdrawalSucceeded = "withdrawal.succeeded"
	EventWithdrawalFailed    = "withdrawal.failed"
	EventReviewRequired      = "ledger.review_required"
)

// ValidRefundStatuses список валидных статусов возвратов
var ValidRefundStatuses = map[string]struct{}{
	RefundStatusPending: {},
	RefundStatusSuccess: {},
	RefundStatusFailed:  {},
}

// ValidWithdrawalStatuses список валидных статусов выводов
var ValidWithdrawalStatuses = map[string]struct{}{
	WithdrawalStatusQueued:  {},
	WithdrawalStatusSuccess: {},
	WithdrawalStatusFailed:  {},
}

// ValidRecipientTypes список поддерживаемых типов получателей
var ValidRecipientTypes = map[string]struct{}{
	RecipientTypeNuban: {},
	RecipientTypeBank:  {},
}
