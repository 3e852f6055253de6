// Package reconcile сверяет незавершённые возвраты и выводы со шлюзом.
//
// Проход сверки можно запускать повторно и параллельно с самим собой:
// каждая запись занимается через ClaimAttempt, а финализация в Recorder
// идемпотентна, поэтому достаточно доставки at-least-once без общей блокировки.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/gateway"
	"github.com/solutionners/marketplace-backend/internal/logger"
	"github.com/solutionners/marketplace-backend/internal/metrics"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/service"
)

// Исходы обработки одной записи.
const (
	OutcomeFinalized   = "finalized"
	OutcomeResubmitted = "resubmitted"
	OutcomePending     = "pending"
	OutcomeError       = "error"
	OutcomeFlagged     = "flagged"
	OutcomeSkipped     = "skipped"
)

// Recorder операции леджера, которые вызывает сверка.
type Recorder interface {
	FinalizeRefund(ctx context.Context, id uuid.UUID, outcome service.Outcome) (*models.Refund, error)
	FinalizeWithdrawal(ctx context.Context, id uuid.UUID, outcome service.Outcome) (*models.Withdrawal, error)
	SubmitRefund(ctx context.Context, refund *models.Refund) (*models.Refund, error)
	SubmitTransfer(ctx context.Context, w *models.Withdrawal) (*models.Withdrawal, error)
	FlagForReview(ctx context.Context, kind models.RecordKind, id uuid.UUID, reason string) (bool, error)
}

// Config параметры прохода.
type Config struct {
	// Grace защищает от гонки с синхронной отправкой при создании записи.
	Grace time.Duration
	// Lease время, на которое запись занимается одним проходом.
	Lease       time.Duration
	MaxAge      time.Duration
	MaxAttempts int
	BatchSize   int
}

func (c Config) withDefaults() Config {
	if c.Grace <= 0 {
		c.Grace = 10 * time.Minute
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 48
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Report итог одного прохода.
type Report struct {
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Refunds     int            `json:"refunds"`
	Withdrawals int            `json:"withdrawals"`
	Outcomes    map[string]int `json:"outcomes"`
}

func (r *Report) add(outcome string) {
	r.Outcomes[outcome]++
}

// Sweeper один проход сверки.
type Sweeper struct {
	store    domain.LedgerStore
	gateway  service.SettlementGateway
	recorder Recorder
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

// NewSweeper создаёт проход сверки. m может быть nil.
func NewSweeper(store domain.LedgerStore, gw service.SettlementGateway, recorder Recorder, m *metrics.Metrics, cfg Config) *Sweeper {
	return &Sweeper{
		store:    store,
		gateway:  gw,
		recorder: recorder,
		metrics:  m,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// RunOnce обрабатывает все просроченные незавершённые записи пачками.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	started := s.now()
	report := &Report{StartedAt: started, Outcomes: make(map[string]int)}

	err := s.sweepRefunds(ctx, report)
	if err == nil {
		err = s.sweepWithdrawals(ctx, report)
	}
	report.Duration = s.now().Sub(started)
	s.metrics.ObserveSweep(started, err)

	entry := logger.Get().WithFields(logrus.Fields{
		"refunds":     report.Refunds,
		"withdrawals": report.Withdrawals,
		"outcomes":    report.Outcomes,
		"duration":    report.Duration.String(),
	})
	if err != nil {
		entry.WithError(err).Error("reconcile: sweep aborted")
		return report, err
	}
	entry.Info("reconcile: sweep finished")
	return report, nil
}

func (s *Sweeper) filter() domain.DueFilter {
	now := s.now()
	return domain.DueFilter{
		CreatedBefore: now.Add(-s.cfg.Grace),
		AttemptBefore: now.Add(-s.cfg.Lease),
		Limit:         s.cfg.BatchSize,
	}
}

func (s *Sweeper) sweepRefunds(ctx context.Context, report *Report) error {
	return sweepBatches(ctx, s, models.RecordKindRefund, s.store.ListDueRefunds,
		func(r *models.Refund) uuid.UUID { return r.ID },
		func(r *models.Refund) string {
			report.Refunds++
			return s.refund(ctx, r)
		}, report)
}

func (s *Sweeper) sweepWithdrawals(ctx context.Context, report *Report) error {
	return sweepBatches(ctx, s, models.RecordKindWithdrawal, s.store.ListDueWithdrawals,
		func(w *models.Withdrawal) uuid.UUID { return w.ID },
		func(w *models.Withdrawal) string {
			report.Withdrawals++
			return s.withdrawal(ctx, w)
		}, report)
}

// sweepBatches выбирает пачки, пока в них появляются новые записи.
// Запись, уже обработанная в этом проходе, повторно не трогается.
func sweepBatches[T any](
	ctx context.Context,
	s *Sweeper,
	kind models.RecordKind,
	list func(context.Context, domain.DueFilter) ([]T, error),
	idOf func(*T) uuid.UUID,
	handle func(*T) string,
	report *Report,
) error {
	seen := make(map[uuid.UUID]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := list(ctx, s.filter())
		if err != nil {
			return fmt.Errorf("list due %ss: %w", kind, err)
		}
		fresh := 0
		for i := range batch {
			id := idOf(&batch[i])
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh++
			outcome := handle(&batch[i])
			report.add(outcome)
			s.metrics.ObserveSweepRecord(string(kind), outcome)
		}
		if len(batch) < s.cfg.BatchSize || fresh == 0 {
			return nil
		}
	}
}

func (s *Sweeper) refund(ctx context.Context, r *models.Refund) string {
	kind := models.RecordKindRefund
	if ok, outcome := s.admit(ctx, kind, r.ID, r.CreatedAt, r.Attempts); !ok {
		return outcome
	}
	log := logger.Get().WithFields(logrus.Fields{"kind": kind, "id": r.ID, "reference": r.Reference})

	q, err := s.refundQuery(ctx, r)
	if err != nil {
		return s.attemptFailed(ctx, kind, r.ID, err)
	}
	status, err := s.gateway.QueryRefundStatus(ctx, q)
	if err != nil {
		return s.attemptFailed(ctx, kind, r.ID, err)
	}

	switch status {
	case gateway.RefundProcessed:
		return s.finalized(s.recorder.FinalizeRefund(ctx, r.ID, service.OutcomeSuccess))
	case gateway.RefundFailed:
		return s.finalized(s.recorder.FinalizeRefund(ctx, r.ID, service.OutcomeFailed))
	case gateway.RefundNotFound:
		if r.Initiated() {
			return s.attemptFailed(ctx, kind, r.ID, errors.New("refund not found at gateway"))
		}
		submitted, err := s.recorder.SubmitRefund(ctx, r)
		if err != nil {
			return s.attemptFailed(ctx, kind, r.ID, err)
		}
		log.WithField("status", submitted.Status).Info("reconcile: refund resubmitted")
		if submitted.IsFinal() {
			return OutcomeFinalized
		}
		return OutcomeResubmitted
	default:
		return OutcomePending
	}
}

// refundQuery строит запрос статуса. Без id провайдера возврат ищется по
// сумме среди тех, что не закреплены за другими возвратами платежа.
func (s *Sweeper) refundQuery(ctx context.Context, r *models.Refund) (gateway.RefundQuery, error) {
	q := gateway.RefundQuery{Reference: r.Reference, Amount: r.Amount}
	if r.GatewayRefundID != nil {
		q.RefundID = *r.GatewayRefundID
		return q, nil
	}
	siblings, err := s.store.ListPaymentRefunds(ctx, r.PaymentID)
	if err != nil {
		return q, fmt.Errorf("list payment refunds: %w", err)
	}
	for _, other := range siblings {
		if other.ID == r.ID {
			continue
		}
		switch {
		case other.GatewayRefundID != nil:
			q.Claimed = append(q.Claimed, *other.GatewayRefundID)
		case other.Status != models.RefundStatusFailed && other.Amount.Equal(r.Amount):
			q.Peers++
		}
	}
	return q, nil
}

func (s *Sweeper) withdrawal(ctx context.Context, w *models.Withdrawal) string {
	kind := models.RecordKindWithdrawal
	if ok, outcome := s.admit(ctx, kind, w.ID, w.CreatedAt, w.Attempts); !ok {
		return outcome
	}
	log := logger.Get().WithFields(logrus.Fields{"kind": kind, "id": w.ID})

	// Повторная отправка допустима, только если шлюз не знает перевод
	// с этим идентификатором корреляции.
	status, err := s.gateway.QueryTransferStatus(ctx, gateway.TransferQuery{
		CorrelationID: w.ID.String(),
		Since:         w.CreatedAt,
	})
	if err != nil {
		return s.attemptFailed(ctx, kind, w.ID, err)
	}

	switch status {
	case gateway.TransferSuccess:
		return s.finalized(s.recorder.FinalizeWithdrawal(ctx, w.ID, service.OutcomeSuccess))
	case gateway.TransferFailed:
		return s.finalized(s.recorder.FinalizeWithdrawal(ctx, w.ID, service.OutcomeFailed))
	case gateway.TransferNotFound:
		if w.Initiated() {
			return s.attemptFailed(ctx, kind, w.ID, errors.New("transfer not found at gateway"))
		}
		submitted, err := s.recorder.SubmitTransfer(ctx, w)
		if err != nil {
			return s.attemptFailed(ctx, kind, w.ID, err)
		}
		log.WithField("status", submitted.Status).Info("reconcile: transfer resubmitted")
		if submitted.IsFinal() {
			return OutcomeFinalized
		}
		return OutcomeResubmitted
	default:
		return OutcomePending
	}
}

// admit снимает со сверки просроченные записи и занимает остальные.
func (s *Sweeper) admit(ctx context.Context, kind models.RecordKind, id uuid.UUID, createdAt time.Time, attempts int) (bool, string) {
	now := s.now()
	switch {
	case now.Sub(createdAt) > s.cfg.MaxAge:
		return false, s.flag(ctx, kind, id, fmt.Sprintf("not settled within %s", s.cfg.MaxAge))
	case attempts >= s.cfg.MaxAttempts:
		return false, s.flag(ctx, kind, id, fmt.Sprintf("%d gateway attempts failed", attempts))
	}

	claimed, err := s.store.ClaimAttempt(ctx, kind, id, now.Add(-s.cfg.Lease))
	if err != nil {
		logger.Get().WithFields(logrus.Fields{"kind": kind, "id": id}).WithError(err).Error("reconcile: claim failed")
		return false, OutcomeError
	}
	if !claimed {
		return false, OutcomeSkipped
	}
	return true, ""
}

// attemptFailed учитывает ошибку шлюза и снимает запись со сверки,
// когда попытки исчерпаны.
func (s *Sweeper) attemptFailed(ctx context.Context, kind models.RecordKind, id uuid.UUID, cause error) string {
	log := logger.Get().WithFields(logrus.Fields{"kind": kind, "id": id})
	attempts, err := s.store.RecordError(ctx, kind, id, cause.Error())
	if err != nil {
		log.WithError(err).Error("reconcile: attempt not recorded")
		return OutcomeError
	}
	log.WithError(cause).WithField("attempts", attempts).Warn("reconcile: gateway attempt failed")
	if attempts >= s.cfg.MaxAttempts {
		return s.flag(ctx, kind, id, fmt.Sprintf("%d gateway attempts failed, last: %v", attempts, cause))
	}
	return OutcomeError
}

func (s *Sweeper) flag(ctx context.Context, kind models.RecordKind, id uuid.UUID, reason string) string {
	flagged, err := s.recorder.FlagForReview(ctx, kind, id, reason)
	if err != nil {
		logger.Get().WithFields(logrus.Fields{"kind": kind, "id": id}).WithError(err).Error("reconcile: flag failed")
		return OutcomeError
	}
	if !flagged {
		return OutcomeSkipped
	}
	return OutcomeFlagged
}

func (s *Sweeper) finalized(_ any, err error) string {
	if err != nil {
		logger.Get().WithError(err).Error("reconcile: finalize failed")
		return OutcomeError
	}
	return OutcomeFinalized
}
