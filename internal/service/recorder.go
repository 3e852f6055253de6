package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/gateway"
	"github.com/solutionners/marketplace-backend/internal/logger"
	"github.com/solutionners/marketplace-backend/internal/metrics"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/notify"
	"github.com/solutionners/marketplace-backend/internal/pkg/apperror"
)

// Outcome итог асинхронной операции у шлюза.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// ParseOutcome разбирает исход, пришедший снаружи (админка, API).
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeSuccess, OutcomeFailed:
		return o, nil
	default:
		return "", apperror.New(apperror.ErrCodeValidation, "исход должен быть success или failed")
	}
}

// SettlementGateway операции шлюза, которые запускает Recorder.
type SettlementGateway interface {
	gateway.Refunder
	gateway.Transferer
}

// PaymentRecord подтверждённый шлюзом платёж, который нужно провести.
type PaymentRecord struct {
	PayerID   uuid.UUID
	UploadID  uuid.UUID
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Paycode   string
	Email     string
}

// RefundRequest запрос на возврат по платежу.
type RefundRequest struct {
	PaymentID uuid.UUID
	ActorID   uuid.UUID
	Amount    decimal.Decimal
	Reason    string
}

// WithdrawalRequest запрос на вывод. Destination nil означает сохранённые реквизиты.
type WithdrawalRequest struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Destination *models.Recipient
}

// RecorderConfig параметры Recorder.
type RecorderConfig struct {
	Currency string
	// ReviewEmail получает письма о записях, снятых со сверки.
	ReviewEmail string
}

// Recorder единственный компонент, который меняет кошельки, накопительные
// суммы и статусы финансовых записей. Каждая операция это одна единица работы
// хранилища; вызовы шлюза выполняются вне транзакции.
type Recorder struct {
	store    domain.LedgerStore
	gateway  SettlementGateway
	notifier notify.Notifier
	metrics  *metrics.Metrics
	cfg      RecorderConfig
}

// NewRecorder создаёт Recorder. notifier и m могут быть nil.
func NewRecorder(store domain.LedgerStore, gw SettlementGateway, notifier notify.Notifier, m *metrics.Metrics, cfg RecorderConfig) *Recorder {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	return &Recorder{store: store, gateway: gw, notifier: notifier, metrics: m, cfg: cfg}
}

// RecordPayment проводит подтверждённый платёж: создаёт запись, увеличивает
// amount_received задачи, total_payments плательщика и кошелёк создателя задачи.
func (r *Recorder) RecordPayment(ctx context.Context, in PaymentRecord) (*models.Payment, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if in.Reference == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "reference обязателен")
	}
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount
	}
	if in.Currency == "" {
		in.Currency = r.cfg.Currency
	}

	var (
		payment *models.Payment
		payer   *models.User
		creator *models.User
		upload  *models.Upload
	)
	err := r.store.WithinTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		if payer, err = tx.GetUser(ctx, in.PayerID); err != nil {
			return storeError(err, apperror.ErrPayerNotFound)
		}
		if upload, err = tx.GetUpload(ctx, in.UploadID); err != nil {
			return storeError(err, apperror.ErrTaskNotFound)
		}

		email := in.Email
		if email == "" {
			email = payer.Email
		}
		payment = &models.Payment{
			ID:        uuid.New(),
			UserID:    payer.ID,
			UploadID:  upload.ID,
			Amount:    in.Amount,
			Currency:  strings.ToUpper(in.Currency),
			Reference: in.Reference,
			Email:     email,
		}
		if in.Paycode != "" {
			payment.Paycode = &in.Paycode
		}
		if err = tx.InsertPayment(ctx, payment); err != nil {
			return storeError(err, apperror.ErrPaymentNotFound)
		}

		before := upload.AmountReceived
		if upload, err = tx.ApplyUploadPayment(ctx, upload.ID, in.Amount); err != nil {
			return storeError(err, apperror.ErrTaskNotFound)
		}
		if err = r.invariant("upload_amount_received", upload.AmountReceived.Equal(before.Add(in.Amount)), logrus.Fields{
			"upload_id": upload.ID,
			"reference": in.Reference,
		}); err != nil {
			return err
		}

		updates := []balanceUpdate{
			{userID: payer.ID, delta: models.BalanceDelta{TotalPayments: in.Amount}, target: &payer, notFound: apperror.ErrPayerNotFound},
			{userID: upload.CreatorID, delta: models.BalanceDelta{Wallet: in.Amount}, target: &creator, notFound: apperror.ErrUserNotFound},
		}
		return applyBalances(ctx, tx, updates)
	})
	if err != nil {
		logger.Get().WithFields(logrus.Fields{
			"user_id":   in.PayerID,
			"reference": in.Reference,
			"amount":    in.Amount.String(),
		}).WithError(err).Warn("ledger: payment not recorded")
		return nil, err
	}

	r.metrics.ObserveTransition("payment", "recorded")
	logger.Get().WithFields(logrus.Fields{
		"user_id":    payer.ID,
		"creator_id": creator.ID,
		"upload_id":  upload.ID,
		"reference":  payment.Reference,
		"amount":     payment.Amount.String(),
		"status":     "recorded",
	}).Info("ledger: payment recorded")

	data := map[string]any{
		"payment_id": payment.ID,
		"upload_id":  upload.ID,
		"reference":  payment.Reference,
		"amount":     payment.Amount.String(),
		"currency":   payment.Currency,
	}
	r.notifier.Notify(ctx, notify.Message{
		UserID:  payer.ID,
		Email:   payment.Email,
		Event:   models.EventPaymentSucceeded,
		Subject: "Оплата прошла успешно",
		Body:    fmt.Sprintf("Платёж %s на сумму %s %s по задаче «%s» проведён.", payment.Reference, payment.Amount.StringFixed(2), payment.Currency, upload.Title),
		Data:    data,
	})
	r.notifier.Notify(ctx, notify.Message{
		UserID:  creator.ID,
		Email:   creator.Email,
		Event:   models.EventPaymentReceived,
		Subject: "Поступила оплата",
		Body:    fmt.Sprintf("На ваш кошелёк зачислено %s %s за задачу «%s».", payment.Amount.StringFixed(2), payment.Currency, upload.Title),
		Data:    data,
	})
	return payment, nil
}

// RequestRefund создаёт возврат в статусе pending и отправляет его в шлюз.
// Кошельки не меняются до подтверждения шлюзом.
func (r *Recorder) RequestRefund(ctx context.Context, in RefundRequest) (*models.Refund, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount
	}

	var refund *models.Refund
	err := r.store.WithinTx(ctx, func(tx domain.LedgerTx) error {
		payment, err := tx.LockPayment(ctx, in.PaymentID)
		if err != nil {
			return storeError(err, apperror.ErrPaymentNotFound)
		}
		if payment.UserID != in.ActorID {
			return apperror.ErrNotPayer
		}

		open, err := tx.SumOpenRefunds(ctx, payment.ID)
		if err != nil {
			return storeError(err, apperror.ErrPaymentNotFound)
		}
		if open.Add(in.Amount).GreaterThan(payment.Amount) {
			return apperror.ErrRefundExceeds.WithCause(fmt.Errorf("refundable %s, requested %s",
				payment.Amount.Sub(open).StringFixed(2), in.Amount.StringFixed(2)))
		}

		refund = &models.Refund{
			ID:        uuid.New(),
			PaymentID: payment.ID,
			UserID:    payment.UserID,
			UploadID:  payment.UploadID,
			Reference: payment.Reference,
			Amount:    in.Amount,
			Email:     payment.Email,
			Status:    models.RefundStatusPending,
		}
		if reason := strings.TrimSpace(in.Reason); reason != "" {
			refund.Reason = &reason
		}
		if err := tx.InsertRefund(ctx, refund); err != nil {
			return storeError(err, apperror.ErrRefundNotFound)
		}

		after, err := tx.SumOpenRefunds(ctx, payment.ID)
		if err != nil {
			return storeError(err, apperror.ErrPaymentNotFound)
		}
		return r.invariant("refund_bound", !after.GreaterThan(payment.Amount), logrus.Fields{
			"payment_id": payment.ID,
			"reference":  payment.Reference,
		})
	})
	if err != nil {
		return nil, err
	}

	r.metrics.ObserveTransition(string(models.RecordKindRefund), refund.Status)
	logger.Get().WithFields(refundFields(refund)).Info("ledger: refund requested")

	submitted, err := r.SubmitRefund(ctx, refund)
	if err != nil {
		// Запись уже сохранена, повторную отправку выполнит сверка.
		r.recordAttemptError(ctx, models.RecordKindRefund, refund.ID, err)
	}
	return submitted, nil
}

// SubmitRefund отправляет возврат в шлюз. Отказ шлюза финализирует запись
// как failed; недоступность возвращается вызывающему без изменения статуса.
func (r *Recorder) SubmitRefund(ctx context.Context, refund *models.Refund) (*models.Refund, error) {
	receipt, err := r.gateway.InitiateRefund(ctx, gateway.RefundRequest{
		Reference: refund.Reference,
		Amount:    refund.Amount,
	})
	switch {
	case err == nil:
		if markErr := r.MarkRefundInitiated(ctx, refund.ID, receipt.RefundID); markErr != nil {
			logger.Get().WithFields(refundFields(refund)).WithError(markErr).Error("ledger: refund accepted by gateway but not marked")
			return refund, nil
		}
		return r.reloadRefund(ctx, refund), nil
	case gateway.IsRejected(err):
		logger.Get().WithFields(refundFields(refund)).WithError(err).Warn("ledger: refund rejected by gateway")
		return r.FinalizeRefund(ctx, refund.ID, OutcomeFailed)
	default:
		return refund, err
	}
}

// FinalizeRefund переводит pending возврат в итоговый статус. При success
// кошелёк плательщика и total_refunded увеличиваются на сумму возврата.
// Повторный вызов для уже финализированной записи ничего не меняет.
func (r *Recorder) FinalizeRefund(ctx context.Context, id uuid.UUID, outcome Outcome) (*models.Refund, error) {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return nil, err
	}

	var (
		refund  *models.Refund
		changed bool
	)
	err := r.store.WithinTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		refund, changed, err = tx.TransitionRefund(ctx, id, models.RefundStatusPending, string(outcome))
		if err != nil {
			return storeError(err, apperror.ErrRefundNotFound)
		}
		if !changed || outcome != OutcomeSuccess {
			return nil
		}
		payer, err := tx.ApplyBalance(ctx, refund.UserID, models.BalanceDelta{
			Wallet:        refund.Amount,
			TotalRefunded: refund.Amount,
		})
		if err != nil {
			return storeError(err, apperror.ErrPayerNotFound)
		}
		return r.invariant("wallet_non_negative", !payer.Wallet.IsNegative(), logrus.Fields{"user_id": payer.ID})
	})
	if err != nil {
		return nil, err
	}

	fields := refundFields(refund)
	if !changed {
		if refund.Status != string(outcome) {
			logger.Get().WithFields(fields).WithField("requested", outcome).Warn("ledger: refund already finalized with another outcome")
		}
		return refund, nil
	}

	r.metrics.ObserveTransition(string(models.RecordKindRefund), refund.Status)
	logger.Get().WithFields(fields).Info("ledger: refund finalized")

	msg := notify.Message{
		UserID: refund.UserID,
		Email:  refund.Email,
		Data: map[string]any{
			"refund_id": refund.ID,
			"reference": refund.Reference,
			"amount":    refund.Amount.String(),
			"status":    refund.Status,
		},
	}
	if outcome == OutcomeSuccess {
		msg.Event = models.EventRefundSucceeded
		msg.Subject = "Возврат выполнен"
		msg.Body = fmt.Sprintf("Возврат %s по платежу %s зачислен на ваш кошелёк.", refund.Amount.StringFixed(2), refund.Reference)
	} else {
		msg.Event = models.EventRefundFailed
		msg.Subject = "Возврат не выполнен"
		msg.Body = fmt.Sprintf("Платёжный шлюз отклонил возврат %s по платежу %s.", refund.Amount.StringFixed(2), refund.Reference)
	}
	r.notifier.Notify(ctx, msg)
	return refund, nil
}

// QueueWithdrawal списывает сумму с кошелька, создаёт вывод в статусе queued
// и отправляет перевод. Отказ шлюза возвращает средства и помечает вывод failed.
// При недоступности шлюза средства остаются списанными до решения сверки.
func (r *Recorder) QueueWithdrawal(ctx context.Context, in WithdrawalRequest) (*models.Withdrawal, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount
	}

	var (
		withdrawal *models.Withdrawal
		user       *models.User
	)
	err := r.store.WithinTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		if user, err = tx.GetUser(ctx, in.UserID); err != nil {
			return storeError(err, apperror.ErrUserNotFound)
		}

		dest, err := resolveDestination(user, in.Destination)
		if err != nil {
			return err
		}

		if user, err = tx.ApplyBalance(ctx, user.ID, models.BalanceDelta{
			Wallet:         in.Amount.Neg(),
			TotalWithdrawn: in.Amount,
		}); err != nil {
			return storeError(err, apperror.ErrUserNotFound)
		}
		if err = r.invariant("wallet_non_negative", !user.Wallet.IsNegative(), logrus.Fields{"user_id": user.ID}); err != nil {
			return err
		}

		withdrawal = &models.Withdrawal{
			ID:            uuid.New(),
			UserID:        user.ID,
			Amount:        in.Amount,
			Status:        models.WithdrawalStatusQueued,
			RecipientType: dest.Type,
			RecipientName: dest.Name,
			AccountNumber: dest.AccountNumber,
			BankCode:      dest.BankCode,
		}
		if err = tx.InsertWithdrawal(ctx, withdrawal); err != nil {
			return storeError(err, apperror.ErrWithdrawalNotFound)
		}
		return nil
	})
	if err != nil {
		logger.Get().WithFields(logrus.Fields{
			"user_id": in.UserID,
			"amount":  in.Amount.String(),
		}).WithError(err).Warn("ledger: withdrawal not queued")
		return nil, err
	}

	r.metrics.ObserveTransition(string(models.RecordKindWithdrawal), withdrawal.Status)
	logger.Get().WithFields(withdrawalFields(withdrawal)).Info("ledger: withdrawal queued")
	r.notifier.Notify(ctx, notify.Message{
		UserID:  user.ID,
		Email:   user.Email,
		Event:   models.EventWithdrawalQueued,
		Subject: "Заявка на вывод принята",
		Body:    fmt.Sprintf("Вывод %s на счёт %s поставлен в очередь.", withdrawal.Amount.StringFixed(2), maskAccount(withdrawal.AccountNumber)),
		Data:    withdrawalData(withdrawal),
	})

	submitted, err := r.SubmitTransfer(ctx, withdrawal)
	if err != nil {
		r.recordAttemptError(ctx, models.RecordKindWithdrawal, withdrawal.ID, err)
	}
	return submitted, nil
}

// SubmitTransfer отправляет перевод по выводу. ID вывода используется как
// идентификатор корреляции, поэтому повторная отправка безопасна для шлюза.
func (r *Recorder) SubmitTransfer(ctx context.Context, w *models.Withdrawal) (*models.Withdrawal, error) {
	receipt, err := r.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
		CorrelationID: w.ID.String(),
		Amount:        w.Amount,
		Currency:      r.cfg.Currency,
		Destination:   w.Destination(),
		Description:   "Вывод средств " + w.ID.String(),
	})
	switch {
	case err == nil:
		if markErr := r.SetTransferCode(ctx, w.ID, receipt.TransferCode); markErr != nil {
			logger.Get().WithFields(withdrawalFields(w)).WithError(markErr).Error("ledger: transfer accepted by gateway but not marked")
			return w, nil
		}
		return r.reloadWithdrawal(ctx, w), nil
	case gateway.IsRejected(err):
		logger.Get().WithFields(withdrawalFields(w)).WithError(err).Warn("ledger: transfer rejected by gateway")
		return r.FinalizeWithdrawal(ctx, w.ID, OutcomeFailed)
	default:
		return w, err
	}
}

// FinalizeWithdrawal переводит queued вывод в итоговый статус. При failed
// списание отменяется в той же единице работы. Повторный вызов ничего не меняет.
func (r *Recorder) FinalizeWithdrawal(ctx context.Context, id uuid.UUID, outcome Outcome) (*models.Withdrawal, error) {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return nil, err
	}

	var (
		withdrawal *models.Withdrawal
		user       *models.User
		changed    bool
	)
	err := r.store.WithinTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		withdrawal, changed, err = tx.TransitionWithdrawal(ctx, id, models.WithdrawalStatusQueued, string(outcome))
		if err != nil {
			return storeError(err, apperror.ErrWithdrawalNotFound)
		}
		if !changed {
			return nil
		}
		if outcome == OutcomeFailed {
			user, err = tx.ApplyBalance(ctx, withdrawal.UserID, models.BalanceDelta{
				Wallet:         withdrawal.Amount,
				TotalWithdrawn: withdrawal.Amount.Neg(),
			})
		} else {
			user, err = tx.GetUser(ctx, withdrawal.UserID)
		}
		if err != nil {
			return storeError(err, apperror.ErrUserNotFound)
		}
		return r.invariant("total_withdrawn_non_negative", !user.TotalWithdrawn.IsNegative(), logrus.Fields{"user_id": user.ID})
	})
	if err != nil {
		return nil, err
	}

	fields := withdrawalFields(withdrawal)
	if !changed {
		if withdrawal.Status != string(outcome) {
			logger.Get().WithFields(fields).WithField("requested", outcome).Warn("ledger: withdrawal already finalized with another outcome")
		}
		return withdrawal, nil
	}

	r.metrics.ObserveTransition(string(models.RecordKindWithdrawal), withdrawal.Status)
	logger.Get().WithFields(fields).Info("ledger: withdrawal finalized")

	msg := notify.Message{
		UserID: user.ID,
		Email:  user.Email,
		Data:   withdrawalData(withdrawal),
	}
	if outcome == OutcomeSuccess {
		msg.Event = models.EventWithdrawalSucceeded
		msg.Subject = "Вывод выполнен"
		msg.Body = fmt.Sprintf("Перевод %s на счёт %s выполнен.", withdrawal.Amount.StringFixed(2), maskAccount(withdrawal.AccountNumber))
	} else {
		msg.Event = models.EventWithdrawalFailed
		msg.Subject = "Вывод не выполнен"
		msg.Body = fmt.Sprintf("Перевод %s не выполнен, средства возвращены на кошелёк.", withdrawal.Amount.StringFixed(2))
	}
	r.notifier.Notify(ctx, msg)
	return withdrawal, nil
}

// SetTransferCode сохраняет код перевода, выданный шлюзом.
func (r *Recorder) SetTransferCode(ctx context.Context, id uuid.UUID, code string) error {
	if err := r.store.MarkWithdrawalInitiated(ctx, id, code); err != nil {
		return storeError(err, apperror.ErrWithdrawalNotFound)
	}
	return nil
}

// MarkRefundInitiated сохраняет идентификатор возврата у шлюза.
func (r *Recorder) MarkRefundInitiated(ctx context.Context, id uuid.UUID, gatewayRefundID string) error {
	if err := r.store.MarkRefundInitiated(ctx, id, gatewayRefundID); err != nil {
		return storeError(err, apperror.ErrRefundNotFound)
	}
	return nil
}

// FlagForReview снимает незавершённую запись со сверки. Возвращает false,
// если запись уже финализирована или помечена.
func (r *Recorder) FlagForReview(ctx context.Context, kind models.RecordKind, id uuid.UUID, reason string) (bool, error) {
	flagged, err := r.store.FlagForReview(ctx, kind, id, reason)
	if err != nil {
		return false, storeError(err, notFoundFor(kind))
	}
	if !flagged {
		return false, nil
	}

	r.metrics.ObserveReviewFlagged(string(kind))
	logger.Get().WithFields(logrus.Fields{
		"kind":   kind,
		"id":     id,
		"reason": reason,
	}).Error("ledger: record flagged for manual review")

	if r.cfg.ReviewEmail != "" {
		r.notifier.Notify(ctx, notify.Message{
			Email:   r.cfg.ReviewEmail,
			Event:   models.EventReviewRequired,
			Subject: "Запись леджера требует разбора",
			Body:    fmt.Sprintf("%s %s снята со сверки: %s", kind, id, reason),
			Data: map[string]any{
				"kind":   kind,
				"id":     id,
				"reason": reason,
			},
		})
	}
	return true, nil
}

// AuditUser пересчитывает накопительные суммы пользователя по записям и
// сравнивает их с сохранёнными. Расхождение возвращается как InvariantViolation
// вместе с отчётом.
func (r *Recorder) AuditUser(ctx context.Context, userID uuid.UUID) (*models.TotalsAudit, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, apperror.ErrUserNotFound)
	}
	totals, err := r.store.SumFinalized(ctx, userID)
	if err != nil {
		return nil, storeError(err, apperror.ErrUserNotFound)
	}

	audit := &models.TotalsAudit{
		UserID:   userID,
		Stored:   models.BalanceOf(user),
		Computed: *totals,
		Wallet:   totals.ExpectedWallet(),
	}
	compare := func(name string, stored, computed decimal.Decimal) {
		if !stored.Equal(computed) {
			audit.Mismatches = append(audit.Mismatches,
				fmt.Sprintf("%s: stored %s, computed %s", name, stored.StringFixed(2), computed.StringFixed(2)))
		}
	}
	compare("total_payments", user.TotalPayments, totals.TotalPayments)
	compare("total_refunded", user.TotalRefunded, totals.TotalRefunded)
	compare("total_withdrawn", user.TotalWithdrawn, totals.TotalWithdrawn)
	compare("wallet", user.Wallet, audit.Wallet)

	if audit.Consistent() {
		return audit, nil
	}
	r.metrics.ObserveInvariantViolation("lifetime_totals")
	logger.Get().WithFields(logrus.Fields{
		"user_id":    userID,
		"mismatches": audit.Mismatches,
	}).Error("ledger: lifetime totals mismatch")
	return audit, apperror.ErrInvariantViolation.WithCause(errors.New(strings.Join(audit.Mismatches, "; ")))
}

func (r *Recorder) recordAttemptError(ctx context.Context, kind models.RecordKind, id uuid.UUID, cause error) {
	attempts, err := r.store.RecordError(ctx, kind, id, cause.Error())
	entry := logger.Get().WithFields(logrus.Fields{"kind": kind, "id": id, "attempts": attempts})
	if err != nil {
		entry.WithError(err).Error("ledger: attempt error not recorded")
		return
	}
	entry.WithError(cause).Warn("ledger: gateway unavailable, left for reconciliation")
}

func (r *Recorder) reloadRefund(ctx context.Context, fallback *models.Refund) *models.Refund {
	refund, err := r.store.GetRefund(ctx, fallback.ID)
	if err != nil {
		return fallback
	}
	return refund
}

func (r *Recorder) reloadWithdrawal(ctx context.Context, fallback *models.Withdrawal) *models.Withdrawal {
	w, err := r.store.GetWithdrawal(ctx, fallback.ID)
	if err != nil {
		return fallback
	}
	return w
}

// invariant прерывает мутацию, если внутренняя проверка не прошла.
func (r *Recorder) invariant(check string, ok bool, fields logrus.Fields) error {
	if ok {
		return nil
	}
	r.metrics.ObserveInvariantViolation(check)
	logger.Get().WithFields(fields).WithField("check", check).Error("ledger: invariant violation")
	return apperror.ErrInvariantViolation.WithCause(fmt.Errorf("check %s failed", check))
}

func resolveDestination(user *models.User, explicit *models.Recipient) (models.Recipient, error) {
	var dest models.Recipient
	switch {
	case explicit != nil:
		dest = explicit.Normalize()
	case user.Recipient() != nil:
		dest = user.Recipient().Normalize()
	default:
		return dest, apperror.ErrRecipientRequired
	}
	if err := dest.Validate(); err != nil {
		return dest, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	return dest, nil
}

// storeError переводит ошибки хранилища в ошибки приложения.
type balanceUpdate struct {
	userID   uuid.UUID
	delta    models.BalanceDelta
	target   **models.User
	notFound *apperror.AppError
}

// applyBalances блокирует строки пользователей по возрастанию id, чтобы
// встречные платежи двух пользователей не взаимоблокировались. Каждый target
// получает итоговое состояние своего пользователя.
func applyBalances(ctx context.Context, tx domain.LedgerTx, updates []balanceUpdate) error {
	slices.SortStableFunc(updates, func(a, b balanceUpdate) int {
		return bytes.Compare(a.userID[:], b.userID[:])
	})
	latest := make(map[uuid.UUID]*models.User, len(updates))
	for _, u := range updates {
		user, err := tx.ApplyBalance(ctx, u.userID, u.delta)
		if err != nil {
			return storeError(err, u.notFound)
		}
		latest[u.userID] = user
	}
	for _, u := range updates {
		*u.target = latest[u.userID]
	}
	return nil
}

func storeError(err error, notFound *apperror.AppError) error {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, domain.ErrNotFound):
		return notFound.WithCause(err)
	case errors.Is(err, domain.ErrDuplicateReference):
		return apperror.ErrDuplicateReference.WithCause(err)
	case errors.Is(err, domain.ErrInsufficientFunds):
		return apperror.ErrInsufficientFunds.WithCause(err)
	default:
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка хранилища")
	}
}

func notFoundFor(kind models.RecordKind) *apperror.AppError {
	if kind == models.RecordKindWithdrawal {
		return apperror.ErrWithdrawalNotFound
	}
	return apperror.ErrRefundNotFound
}

func refundFields(rf *models.Refund) logrus.Fields {
	return logrus.Fields{
		"refund_id": rf.ID,
		"user_id":   rf.UserID,
		"reference": rf.Reference,
		"amount":    rf.Amount.String(),
		"status":    rf.Status,
	}
}

func withdrawalFields(w *models.Withdrawal) logrus.Fields {
	return logrus.Fields{
		"withdrawal_id": w.ID,
		"user_id":       w.UserID,
		"reference":     w.ID.String(),
		"amount":        w.Amount.String(),
		"status":        w.Status,
	}
}

func withdrawalData(w *models.Withdrawal) map[string]any {
	return map[string]any{
		"withdrawal_id": w.ID,
		"amount":        w.Amount.String(),
		"status":        w.Status,
		"account":       maskAccount(w.AccountNumber),
	}
}

func maskAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	return strings.Repeat("*", len(account)-4) + account[len(account)-4:]
}
