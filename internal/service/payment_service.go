package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/gateway"
	"github.com/solutionners/marketplace-backend/internal/logger"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/pkg/apperror"
	"github.com/solutionners/marketplace-backend/internal/validation"
)

// CheckoutGateway операции шлюза для входящих платежей.
type CheckoutGateway interface {
	gateway.Checkouter
	gateway.Verifier
}

// InitiatePaymentInput данные для страницы оплаты задачи.
type InitiatePaymentInput struct {
	UploadID    uuid.UUID       `json:"upload_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Phone       string          `json:"phone"`
	Description string          `json:"description"`
}

// CreatePaymentInput подтверждение оплаты после возврата со страницы шлюза.
type CreatePaymentInput struct {
	UploadID  uuid.UUID       `json:"upload_id" binding:"required"`
	Reference string          `json:"reference" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// PaymentService входящие платежи за задачи.
type PaymentService struct {
	store       domain.LedgerStore
	gateway     CheckoutGateway
	recorder    *Recorder
	currency    string
	redirectURL string
	now         func() time.Time
}

// NewPaymentService создаёт сервис платежей.
func NewPaymentService(store domain.LedgerStore, gw CheckoutGateway, recorder *Recorder, currency, redirectURL string) *PaymentService {
	if currency == "" {
		currency = "NGN"
	}
	return &PaymentService{
		store:       store,
		gateway:     gw,
		recorder:    recorder,
		currency:    strings.ToUpper(currency),
		redirectURL: redirectURL,
		now:         time.Now,
	}
}

// InitiatePayment создаёт транзакцию у шлюза и возвращает ссылку на оплату.
// Reference генерируется здесь и потом используется как ключ идемпотентности.
func (s *PaymentService) InitiatePayment(ctx context.Context, userID uuid.UUID, in InitiatePaymentInput) (*gateway.Checkout, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount
	}
	if err := validation.ValidatePhone(in.Phone); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateDescription(in.Description); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, apperror.ErrPayerNotFound)
	}
	upload, err := s.store.GetUpload(ctx, in.UploadID)
	if err != nil {
		return nil, storeError(err, apperror.ErrTaskNotFound)
	}

	description := in.Description
	if description == "" {
		description = "Оплата задачи " + upload.Title
	}

	// Привязка сохраняется до вызова шлюза: транзакция может появиться у него
	// даже при таймауте ответа.
	intent := &models.PaymentIntent{
		Reference: s.newReference(),
		UserID:    user.ID,
		UploadID:  upload.ID,
		Amount:    in.Amount,
		Currency:  s.currency,
	}
	if err := s.store.SaveIntent(ctx, intent); err != nil {
		return nil, storeError(err, apperror.ErrPaymentNotFound)
	}

	checkout, err := s.gateway.InitiateTransaction(ctx, gateway.InitiateRequest{
		Payer: gateway.Payer{
			Name:  strings.TrimSpace(user.FirstName + " " + user.LastName),
			Email: user.Email,
			Phone: in.Phone,
		},
		Amount:      in.Amount,
		Currency:    s.currency,
		Reference:   intent.Reference,
		Description: description,
		RedirectURL: s.redirectURL,
	})
	if err != nil {
		return nil, gatewayError(err)
	}

	logger.Get().WithFields(logrus.Fields{
		"user_id":   userID,
		"upload_id": upload.ID,
		"reference": checkout.Reference,
		"amount":    in.Amount.String(),
	}).Info("payment: checkout initiated")
	return checkout, nil
}

// CreatePayment проверяет транзакцию у шлюза и проводит её через Recorder.
func (s *PaymentService) CreatePayment(ctx context.Context, userID uuid.UUID, in CreatePaymentInput) (*models.Payment, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if err := validation.ValidateReference(in.Reference); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount
	}
	switch _, err := s.store.GetPaymentByReference(ctx, in.Reference); {
	case err == nil:
		return nil, apperror.ErrDuplicateReference
	case !errors.Is(err, domain.ErrNotFound):
		return nil, storeError(err, apperror.ErrPaymentNotFound)
	}

	if err := s.checkIntent(ctx, userID, in); err != nil {
		return nil, err
	}

	v, err := s.VerifyReference(ctx, in.Reference)
	if err != nil {
		return nil, err
	}
	if !v.Verified {
		return nil, apperror.ErrNotVerified.WithCause(fmt.Errorf("gateway status %q", v.RawStatus))
	}
	if !v.Amount.Equal(in.Amount) {
		return nil, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("сумма не совпадает с подтверждённой шлюзом: %s", v.Amount.StringFixed(2)))
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = s.currency
	}
	if v.Currency != "" && !strings.EqualFold(v.Currency, currency) {
		return nil, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("валюта не совпадает с подтверждённой шлюзом: %s", v.Currency))
	}

	return s.recorder.RecordPayment(ctx, PaymentRecord{
		PayerID:   userID,
		UploadID:  in.UploadID,
		Reference: in.Reference,
		Amount:    v.Amount,
		Currency:  currency,
		Paycode:   v.Paycode,
	})
}

// checkIntent сверяет плательщика и задачу с привязкой, выданной при
// InitiatePayment. Reference без привязки пропускается: такие транзакции
// создаются на стороне шлюза.
func (s *PaymentService) checkIntent(ctx context.Context, userID uuid.UUID, in CreatePaymentInput) error {
	intent, err := s.store.GetIntent(ctx, in.Reference)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return storeError(err, apperror.ErrPaymentNotFound)
	}
	if intent.UserID != userID {
		return apperror.ErrNotPayer.WithCause(fmt.Errorf("reference %s issued to another user", in.Reference))
	}
	if intent.UploadID != in.UploadID {
		return apperror.New(apperror.ErrCodeValidation, "reference выдан для другой задачи")
	}
	return nil
}

// VerifyReference запрашивает у шлюза статус транзакции.
func (s *PaymentService) VerifyReference(ctx context.Context, reference string) (*gateway.Verification, error) {
	reference = strings.TrimSpace(reference)
	if err := validation.ValidateReference(reference); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	v, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, gatewayError(err)
	}
	return v, nil
}

// GetPayment возвращает платёж владельца.
func (s *PaymentService) GetPayment(ctx context.Context, userID, id uuid.UUID) (*models.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, storeError(err, apperror.ErrPaymentNotFound)
	}
	if p.UserID != userID {
		return nil, apperror.ErrForbidden
	}
	return p, nil
}

// ListPayments возвращает платежи пользователя.
func (s *PaymentService) ListPayments(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	limit, offset = normalizePage(limit, offset)
	items, err := s.store.ListPayments(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeError(err, apperror.ErrPaymentNotFound)
	}
	return items, nil
}

// newReference формирует merchant reference вида ref_<unix-ms>_<rand>.
func (s *PaymentService) newReference() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ref_%d_%s", s.now().UnixMilli(), suffix)
}

// gatewayError переводит ошибку шлюза в ошибку приложения.
func gatewayError(err error) error {
	if gateway.IsRejected(err) {
		return apperror.ErrGatewayRejected.WithCause(err)
	}
	return apperror.ErrGatewayUnavailable.WithCause(err)
}
