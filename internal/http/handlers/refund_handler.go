package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solutionners/marketplace-backend/internal/dto"
	"github.com/solutionners/marketplace-backend/internal/http/handlers/common"
	"github.com/solutionners/marketplace-backend/internal/service"
)

type RefundHandler struct {
	refunds *service.RefundService
}

func NewRefundHandler(refunds *service.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

// CreateRefund POST /refunds
// Отвечает 202: возврат принят и завершится после ответа шлюза.
func (h *RefundHandler) CreateRefund(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req dto.CreateRefundRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	refund, err := h.refunds.RequestRefund(c.Request.Context(), userID, service.RequestRefundInput{
		Reference: req.Reference,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, refund)
}

// GetRefund GET /refunds/:id
func (h *RefundHandler) GetRefund(c *gin.Context) {
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

	refund, err := h.refunds.GetRefund(c.Request.Context(), userID, id)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, refund)
}

// ListRefunds GET /refunds
func (h *RefundHandler) ListRefunds(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	limit, offset := common.GetPagination(c)
	refunds, err := h.refunds.ListRefunds(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}

	common.RespondList(c, refunds, limit, offset)
}
