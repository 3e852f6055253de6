// Package memory реализует хранилище леджера в памяти процесса.
// Единицы работы сериализуются мьютексом и применяются к копии состояния,
// поэтому ошибка внутри WithinTx не оставляет частичных изменений.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/models"
)

type state struct {
	users       map[uuid.UUID]models.User
	uploads     map[uuid.UUID]models.Upload
	payments    map[uuid.UUID]models.Payment
	references  map[string]uuid.UUID
	refunds     map[uuid.UUID]models.Refund
	withdrawals map[uuid.UUID]models.Withdrawal
	intents     map[string]models.PaymentIntent

	paymentOrder    []uuid.UUID
	refundOrder     []uuid.UUID
	withdrawalOrder []uuid.UUID
}

func newState() *state {
	return &state{
		users:       make(map[uuid.UUID]models.User),
		uploads:     make(map[uuid.UUID]models.Upload),
		payments:    make(map[uuid.UUID]models.Payment),
		references:  make(map[string]uuid.UUID),
		refunds:     make(map[uuid.UUID]models.Refund),
		withdrawals: make(map[uuid.UUID]models.Withdrawal),
		intents:     make(map[string]models.PaymentIntent),
	}
}

func (s *state) clone() *state {
	return &state{
		users:           maps.Clone(s.users),
		uploads:         maps.Clone(s.uploads),
		payments:        maps.Clone(s.payments),
		references:      maps.Clone(s.references),
		refunds:         maps.Clone(s.refunds),
		withdrawals:     maps.Clone(s.withdrawals),
		intents:         maps.Clone(s.intents),
		paymentOrder:    slices.Clone(s.paymentOrder),
		refundOrder:     slices.Clone(s.refundOrder),
		withdrawalOrder: slices.Clone(s.withdrawalOrder),
	}
}

// Store хранилище леджера в памяти.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore создаёт пустое хранилище.
func NewStore(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.LedgerStore = (*Store)(nil)

// PutUser добавляет или заменяет пользователя.
func (s *Store) PutUser(u models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.st.users[u.ID] = u
	return u
}

// PutUpload добавляет или заменяет задачу.
func (s *Store) PutUpload(up models.Upload) models.Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if up.ID == uuid.Nil {
		up.ID = uuid.New()
	}
	if up.Status == "" {
		up.Status = models.UploadStatusPending
	}
	now := s.now()
	if up.CreatedAt.IsZero() {
		up.CreatedAt = now
	}
	up.UpdatedAt = now
	s.st.uploads[up.ID] = up
	return up
}

// WithinTx выполняет fn над копией состояния и публикует её при успехе.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read() (*state, func()) {
	s.mu.Lock()
	return s.st, s.mu.Unlock
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	st, unlock := s.read()
	defer unlock()
	return lookup(st.users, id, "user")
}

func (s *Store) GetUpload(_ context.Context, id uuid.UUID) (*models.Upload, error) {
	st, unlock := s.read()
	defer unlock()
	return lookup(st.uploads, id, "upload")
}

func (s *Store) GetPayment(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	st, unlock := s.read()
	defer unlock()
	return lookup(st.payments, id, "payment")
}

func (s *Store) GetPaymentByReference(_ context.Context, reference string) (*models.Payment, error) {
	st, unlock := s.read()
	defer unlock()
	id, ok := st.references[reference]
	if !ok {
		return nil, fmt.Errorf("memory store: payment %q: %w", reference, domain.ErrNotFound)
	}
	return lookup(st.payments, id, "payment")
}

func (s *Store) GetRefund(_ context.Context, id uuid.UUID) (*models.Refund, error) {
	st, unlock := s.read()
	defer unlock()
	return lookup(st.refunds, id, "refund")
}

func (s *Store) GetWithdrawal(_ context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	st, unlock := s.read()
	defer unlock()
	return lookup(st.withdrawals, id, "withdrawal")
}

func (s *Store) ListPayments(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	st, unlock := s.read()
	defer unlock()
	return page(st.paymentOrder, st.payments, func(p models.Payment) bool { return p.UserID == userID }, limit, offset), nil
}

func (s *Store) ListRefunds(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Refund, error) {
	st, unlock := s.read()
	defer unlock()
	return page(st.refundOrder, st.refunds, func(r models.Refund) bool { return r.UserID == userID }, limit, offset), nil
}

func (s *Store) ListWithdrawals(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error) {
	st, unlock := s.read()
	defer unlock()
	return page(st.withdrawalOrder, st.withdrawals, func(w models.Withdrawal) bool { return w.UserID == userID }, limit, offset), nil
}

func (s *Store) ListPaymentRefunds(_ context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	st, unlock := s.read()
	defer unlock()
	out := make([]models.Refund, 0)
	for _, id := range st.refundOrder {
		if r := st.refunds[id]; r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) ListDueRefunds(_ context.Context, f domain.DueFilter) ([]models.Refund, error) {
	st, unlock := s.read()
	defer unlock()
	out := make([]models.Refund, 0)
	for _, id := range st.refundOrder {
		r := st.refunds[id]
		if r.Status == models.RefundStatusPending && isDue(r.Settlement, r.CreatedAt, f) {
			out = append(out, r)
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListDueWithdrawals(_ context.Context, f domain.DueFilter) ([]models.Withdrawal, error) {
	st, unlock := s.read()
	defer unlock()
	out := make([]models.Withdrawal, 0)
	for _, id := range st.withdrawalOrder {
		w := st.withdrawals[id]
		if w.Status == models.WithdrawalStatusQueued && isDue(w.Settlement, w.CreatedAt, f) {
			out = append(out, w)
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListFlagged(_ context.Context, limit int) (*domain.Flagged, error) {
	st, unlock := s.read()
	defer unlock()
	out := &domain.Flagged{Refunds: make([]models.Refund, 0), Withdrawals: make([]models.Withdrawal, 0)}
	for _, id := range st.refundOrder {
		r := st.refunds[id]
		if r.Status == models.RefundStatusPending && r.Flagged() && (limit <= 0 || len(out.Refunds) < limit) {
			out.Refunds = append(out.Refunds, r)
		}
	}
	for _, id := range st.withdrawalOrder {
		w := st.withdrawals[id]
		if w.Status == models.WithdrawalStatusQueued && w.Flagged() && (limit <= 0 || len(out.Withdrawals) < limit) {
			out.Withdrawals = append(out.Withdrawals, w)
		}
	}
	return out, nil
}

func (s *Store) SaveIntent(_ context.Context, intent *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.intents[intent.Reference]; ok {
		return domain.ErrDuplicateReference
	}
	intent.CreatedAt = s.now()
	s.st.intents[intent.Reference] = *intent
	return nil
}

func (s *Store) GetIntent(_ context.Context, reference string) (*models.PaymentIntent, error) {
	st, unlock := s.read()
	defer unlock()
	intent, ok := st.intents[reference]
	if !ok {
		return nil, fmt.Errorf("memory store: intent %q: %w", reference, domain.ErrNotFound)
	}
	return &intent, nil
}

func (s *Store) SetRecipient(_ context.Context, userID uuid.UUID, rc models.Recipient) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[userID]
	if !ok {
		return nil, fmt.Errorf("memory store: user %s: %w", userID, domain.ErrNotFound)
	}
	u.RecipientType = strPtr(rc.Type)
	u.RecipientName = strPtr(rc.Name)
	u.RecipientAccountNumber = strPtr(rc.AccountNumber)
	u.RecipientBankCode = strPtr(rc.BankCode)
	u.UpdatedAt = s.now()
	s.st.users[userID] = u
	return &u, nil
}

func (s *Store) MarkRefundInitiated(_ context.Context, id uuid.UUID, gatewayRefundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.refunds[id]
	if !ok {
		return fmt.Errorf("memory store: refund %s: %w", id, domain.ErrNotFound)
	}
	now := s.now()
	if r.InitiatedAt == nil {
		r.InitiatedAt = &now
	}
	if gatewayRefundID != "" {
		r.GatewayRefundID = strPtr(gatewayRefundID)
	}
	r.UpdatedAt = now
	s.st.refunds[id] = r
	return nil
}

func (s *Store) MarkWithdrawalInitiated(_ context.Context, id uuid.UUID, transferCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.st.withdrawals[id]
	if !ok {
		return fmt.Errorf("memory store: withdrawal %s: %w", id, domain.ErrNotFound)
	}
	now := s.now()
	if w.InitiatedAt == nil {
		w.InitiatedAt = &now
	}
	if transferCode != "" {
		w.TransferCode = strPtr(transferCode)
	}
	w.UpdatedAt = now
	s.st.withdrawals[id] = w
	return nil
}

func (s *Store) ClaimAttempt(_ context.Context, kind models.RecordKind, id uuid.UUID, attemptBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSettlement(kind, id, func(st *models.Settlement, open bool) bool {
		if !open || st.Flagged() || (st.LastAttemptAt != nil && !st.LastAttemptAt.Before(attemptBefore)) {
			return false
		}
		now := s.now()
		st.LastAttemptAt = &now
		return true
	})
}

func (s *Store) RecordError(_ context.Context, kind models.RecordKind, id uuid.UUID, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var attempts int
	found, err := s.updateSettlement(kind, id, func(st *models.Settlement, _ bool) bool {
		st.Attempts++
		st.LastError = strPtr(message)
		attempts = st.Attempts
		return true
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("memory store: %s %s: %w", kind, id, domain.ErrNotFound)
	}
	return attempts, nil
}

func (s *Store) FlagForReview(_ context.Context, kind models.RecordKind, id uuid.UUID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSettlement(kind, id, func(st *models.Settlement, open bool) bool {
		if !open || st.Flagged() {
			return false
		}
		now := s.now()
		st.ReviewFlaggedAt = &now
		st.ReviewReason = strPtr(reason)
		return true
	})
}

// updateSettlement применяет fn к служебным полям записи.
// Возвращает false, если запись не найдена или fn отказался от изменения.
func (s *Store) updateSettlement(kind models.RecordKind, id uuid.UUID, fn func(st *models.Settlement, open bool) bool) (bool, error) {
	switch kind {
	case models.RecordKindRefund:
		r, ok := s.st.refunds[id]
		if !ok || !fn(&r.Settlement, r.Status == models.RefundStatusPending) {
			return false, nil
		}
		r.UpdatedAt = s.now()
		s.st.refunds[id] = r
	case models.RecordKindWithdrawal:
		w, ok := s.st.withdrawals[id]
		if !ok || !fn(&w.Settlement, w.Status == models.WithdrawalStatusQueued) {
			return false, nil
		}
		w.UpdatedAt = s.now()
		s.st.withdrawals[id] = w
	default:
		return false, fmt.Errorf("memory store: unknown record kind %q", kind)
	}
	return true, nil
}

func (s *Store) SumFinalized(_ context.Context, userID uuid.UUID) (*models.LedgerTotals, error) {
	st, unlock := s.read()
	defer unlock()
	var t models.LedgerTotals
	for _, p := range st.payments {
		if p.UserID == userID {
			t.TotalPayments = t.TotalPayments.Add(p.Amount)
		}
		if up, ok := st.uploads[p.UploadID]; ok && up.CreatorID == userID {
			t.PaymentsReceived = t.PaymentsReceived.Add(p.Amount)
		}
	}
	for _, r := range st.refunds {
		if r.UserID == userID && r.Status == models.RefundStatusSuccess {
			t.TotalRefunded = t.TotalRefunded.Add(r.Amount)
		}
	}
	for _, w := range st.withdrawals {
		if w.UserID == userID && w.Status != models.WithdrawalStatusFailed {
			t.TotalWithdrawn = t.TotalWithdrawn.Add(w.Amount)
		}
	}
	return &t, nil
}

// tx единица работы над копией состояния.
type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	return lookup(t.st.users, id, "user")
}

func (t *tx) GetUpload(_ context.Context, id uuid.UUID) (*models.Upload, error) {
	return lookup(t.st.uploads, id, "upload")
}

func (t *tx) GetRefund(_ context.Context, id uuid.UUID) (*models.Refund, error) {
	return lookup(t.st.refunds, id, "refund")
}

func (t *tx) GetWithdrawal(_ context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	return lookup(t.st.withdrawals, id, "withdrawal")
}

func (t *tx) ApplyBalance(_ context.Context, userID uuid.UUID, d models.BalanceDelta) (*models.User, error) {
	u, ok := t.st.users[userID]
	if !ok {
		return nil, fmt.Errorf("memory store: user %s: %w", userID, domain.ErrNotFound)
	}
	next := u
	next.Wallet = u.Wallet.Add(d.Wallet)
	next.TotalPayments = u.TotalPayments.Add(d.TotalPayments)
	next.TotalRefunded = u.TotalRefunded.Add(d.TotalRefunded)
	next.TotalWithdrawn = u.TotalWithdrawn.Add(d.TotalWithdrawn)
	for _, v := range []decimal.Decimal{next.Wallet, next.TotalPayments, next.TotalRefunded, next.TotalWithdrawn} {
		if v.IsNegative() {
			return nil, domain.ErrInsufficientFunds
		}
	}
	next.UpdatedAt = t.now()
	t.st.users[userID] = next
	return &next, nil
}

func (t *tx) ApplyUploadPayment(_ context.Context, uploadID uuid.UUID, amount decimal.Decimal) (*models.Upload, error) {
	up, ok := t.st.uploads[uploadID]
	if !ok {
		return nil, fmt.Errorf("memory store: upload %s: %w", uploadID, domain.ErrNotFound)
	}
	up.AmountReceived = up.AmountReceived.Add(amount)
	up.FileAmount = amount
	up.UpdatedAt = t.now()
	t.st.uploads[uploadID] = up
	return &up, nil
}

func (t *tx) InsertPayment(_ context.Context, p *models.Payment) error {
	if _, ok := t.st.references[p.Reference]; ok {
		return domain.ErrDuplicateReference
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = t.now()
	t.st.payments[p.ID] = *p
	t.st.references[p.Reference] = p.ID
	t.st.paymentOrder = append(t.st.paymentOrder, p.ID)
	return nil
}

func (t *tx) LockPayment(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	return lookup(t.st.payments, id, "payment")
}

func (t *tx) SumOpenRefunds(_ context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, r := range t.st.refunds {
		if r.PaymentID == paymentID && r.Status != models.RefundStatusFailed {
			sum = sum.Add(r.Amount)
		}
	}
	return sum, nil
}

func (t *tx) InsertRefund(_ context.Context, r *models.Refund) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := t.now()
	r.CreatedAt, r.UpdatedAt = now, now
	t.st.refunds[r.ID] = *r
	t.st.refundOrder = append(t.st.refundOrder, r.ID)
	return nil
}

func (t *tx) TransitionRefund(_ context.Context, id uuid.UUID, from, to string) (*models.Refund, bool, error) {
	r, ok := t.st.refunds[id]
	if !ok {
		return nil, false, fmt.Errorf("memory store: refund %s: %w", id, domain.ErrNotFound)
	}
	if r.Status != from {
		return &r, false, nil
	}
	now := t.now()
	r.Status = to
	r.FinalizedAt = &now
	r.UpdatedAt = now
	t.st.refunds[id] = r
	return &r, true, nil
}

func (t *tx) InsertWithdrawal(_ context.Context, w *models.Withdrawal) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := t.now()
	w.CreatedAt, w.UpdatedAt = now, now
	t.st.withdrawals[w.ID] = *w
	t.st.withdrawalOrder = append(t.st.withdrawalOrder, w.ID)
	return nil
}

func (t *tx) TransitionWithdrawal(_ context.Context, id uuid.UUID, from, to string) (*models.Withdrawal, bool, error) {
	w, ok := t.st.withdrawals[id]
	if !ok {
		return nil, false, fmt.Errorf("memory store: withdrawal %s: %w", id, domain.ErrNotFound)
	}
	if w.Status != from {
		return &w, false, nil
	}
	now := t.now()
	w.Status = to
	w.FinalizedAt = &now
	w.UpdatedAt = now
	t.st.withdrawals[id] = w
	return &w, true, nil
}

func lookup[T any](m map[uuid.UUID]T, id uuid.UUID, what string) (*T, error) {
	v, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("memory store: %s %s: %w", what, id, domain.ErrNotFound)
	}
	return &v, nil
}

// page возвращает записи в порядке от новых к старым.
func page[T any](order []uuid.UUID, m map[uuid.UUID]T, keep func(T) bool, limit, offset int) []T {
	out := make([]T, 0)
	skipped := 0
	for i := len(order) - 1; i >= 0; i-- {
		v := m[order[i]]
		if !keep(v) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, v)
	}
	return out
}

func isDue(st models.Settlement, createdAt time.Time, f domain.DueFilter) bool {
	if st.Flagged() || !createdAt.Before(f.CreatedBefore) {
		return false
	}
	return st.LastAttemptAt == nil || st.LastAttemptAt.Before(f.AttemptBefore)
}

func strPtr(s string) *string {
	return &s
}
