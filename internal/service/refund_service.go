package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/pkg/apperror"
	"github.com/solutionners/marketplace-backend/internal/validation"
)

// RequestRefundInput запрос плательщика на возврат.
type RequestRefundInput struct {
	Reference string          `json:"reference" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" binding:"max=500"`
}

// RefundService возвраты по платежам.
type RefundService struct {
	store    domain.LedgerStore
	recorder *Recorder
}

func NewRefundService(store domain.LedgerStore, recorder *Recorder) *RefundService {
	return &RefundService{store: store, recorder: recorder}
}

// RequestRefund находит платёж по reference и создаёт возврат от имени плательщика.
func (s *RefundService) RequestRefund(ctx context.Context, userID uuid.UUID, in RequestRefundInput) (*models.Refund, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if err := validation.ValidateReference(in.Reference); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateReason(in.Reason); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	payment, err := s.store.GetPaymentByReference(ctx, in.Reference)
	if err != nil {
		return nil, storeError(err, apperror.ErrPaymentNotFound)
	}
	return s.recorder.RequestRefund(ctx, RefundRequest{
		PaymentID: payment.ID,
		ActorID:   userID,
		Amount:    in.Amount,
		Reason:    in.Reason,
	})
}

// GetRefund возвращает возврат, если он принадлежит пользователю.
func (s *RefundService) GetRefund(ctx context.Context, userID, id uuid.UUID) (*models.Refund, error) {
	refund, err := s.store.GetRefund(ctx, id)
	if err != nil {
		return nil, storeError(err, apperror.ErrRefundNotFound)
	}
	if refund.UserID != userID {
		return nil, apperror.ErrForbidden
	}
	return refund, nil
}

func (s *RefundService) ListRefunds(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Refund, error) {
	limit, offset = normalizePage(limit, offset)
	items, err := s.store.ListRefunds(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeError(err, apperror.ErrRefundNotFound)
	}
	return items, nil
}
