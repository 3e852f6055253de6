package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solutionners/marketplace-backend/internal/dto"
	"github.com/solutionners/marketplace-backend/internal/http/handlers/common"
	"github.com/solutionners/marketplace-backend/internal/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// InitiatePayment POST /payments/initiate
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req dto.InitiatePaymentRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	checkout, err := h.payments.InitiatePayment(c.Request.Context(), userID, service.InitiatePaymentInput{
		UploadID:    req.UploadID,
		Amount:      req.Amount,
		Phone:       req.Phone,
		Description: req.Description,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, checkout)
}

// CreatePayment POST /payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req dto.CreatePaymentRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	payment, err := h.payments.CreatePayment(c.Request.Context(), userID, service.CreatePaymentInput{
		UploadID:  req.UploadID,
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// VerifyPayment POST /payments/verify
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		common.Fail(c, err)
		return
	}

	var req dto.VerifyPaymentRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	verification, err := h.payments.VerifyReference(c.Request.Context(), req.Reference)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, verification)
}

// GetPayment GET /payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), userID, id)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// ListPayments GET /payments
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	limit, offset := common.GetPagination(c)
	payments, err := h.payments.ListPayments(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}

	common.RespondList(c, payments, limit, offset)
}
