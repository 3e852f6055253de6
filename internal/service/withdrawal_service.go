package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/pkg/apperror"
)

// RequestWithdrawalInput запрос на вывод. Recipient nil означает сохранённые реквизиты.
type RequestWithdrawalInput struct {
	Amount    decimal.Decimal   `json:"amount"`
	Recipient *models.Recipient `json:"recipient"`
}

// WithdrawalService выводы средств и реквизиты получателя.
type WithdrawalService struct {
	store     domain.LedgerStore
	recorder  *Recorder
	minAmount decimal.Decimal
}

func NewWithdrawalService(store domain.LedgerStore, recorder *Recorder, minAmount decimal.Decimal) *WithdrawalService {
	return &WithdrawalService{store: store, recorder: recorder, minAmount: minAmount}
}

// SetRecipient сохраняет реквизиты для будущих выводов.
func (s *WithdrawalService) SetRecipient(ctx context.Context, userID uuid.UUID, rc models.Recipient) (*models.Balance, error) {
	rc = rc.Normalize()
	if err := rc.Validate(); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	user, err := s.store.SetRecipient(ctx, userID, rc)
	if err != nil {
		return nil, storeError(err, apperror.ErrUserNotFound)
	}
	balance := models.BalanceOf(user)
	return &balance, nil
}

func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, userID uuid.UUID, in RequestWithdrawalInput) (*models.Withdrawal, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount
	}
	if in.Amount.LessThan(s.minAmount) {
		return nil, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("минимальная сумма вывода %s", s.minAmount.StringFixed(2)))
	}
	return s.recorder.QueueWithdrawal(ctx, WithdrawalRequest{
		UserID:      userID,
		Amount:      in.Amount,
		Destination: in.Recipient,
	})
}

// GetWithdrawal возвращает вывод, если он принадлежит пользователю.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, userID, id uuid.UUID) (*models.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, storeError(err, apperror.ErrWithdrawalNotFound)
	}
	if w.UserID != userID {
		return nil, apperror.ErrForbidden
	}
	return w, nil
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error) {
	limit, offset = normalizePage(limit, offset)
	items, err := s.store.ListWithdrawals(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeError(err, apperror.ErrWithdrawalNotFound)
	}
	return items, nil
}

// GetWallet возвращает баланс и накопительные суммы пользователя.
func (s *WithdrawalService) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Balance, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, apperror.ErrUserNotFound)
	}
	balance := models.BalanceOf(user)
	return &balance, nil
}
