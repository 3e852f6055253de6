package service

import (
	"context"

	"github.com/google/uuid"

	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/pkg/apperror"
)

// ReviewService ручной разбор записей, снятых со сверки.
// Финализация идёт через те же идемпотентные операции Recorder, что и у сверки.
type ReviewService struct {
	store    domain.LedgerStore
	recorder *Recorder
}

func NewReviewService(store domain.LedgerStore, recorder *Recorder) *ReviewService {
	return &ReviewService{store: store, recorder: recorder}
}

func (s *ReviewService) ListFlagged(ctx context.Context, limit int) (*domain.Flagged, error) {
	limit, _ = normalizePage(limit, 0)
	flagged, err := s.store.ListFlagged(ctx, limit)
	if err != nil {
		return nil, storeError(err, apperror.ErrRefundNotFound)
	}
	return flagged, nil
}

func (s *ReviewService) FinalizeRefund(ctx context.Context, id uuid.UUID, outcome string) (*models.Refund, error) {
	o, err := ParseOutcome(outcome)
	if err != nil {
		return nil, err
	}
	return s.recorder.FinalizeRefund(ctx, id, o)
}

func (s *ReviewService) FinalizeWithdrawal(ctx context.Context, id uuid.UUID, outcome string) (*models.Withdrawal, error) {
	o, err := ParseOutcome(outcome)
	if err != nil {
		return nil, err
	}
	return s.recorder.FinalizeWithdrawal(ctx, id, o)
}

// Audit сверяет накопительные суммы пользователя с записями.
func (s *ReviewService) Audit(ctx context.Context, userID uuid.UUID) (*models.TotalsAudit, error) {
	return s.recorder.AuditUser(ctx, userID)
}
