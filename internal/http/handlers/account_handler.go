package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/solutionners/marketplace-backend/internal/dto"
	"github.com/solutionners/marketplace-backend/internal/http/handlers/common"
	"github.com/solutionners/marketplace-backend/internal/models"
	"github.com/solutionners/marketplace-backend/internal/pkg/apperror"
	"github.com/solutionners/marketplace-backend/internal/service"
)

// AccountHandler кошелёк, реквизиты и выводы текущего пользователя.
type AccountHandler struct {
	withdrawals *service.WithdrawalService
	review      *service.ReviewService
}

func NewAccountHandler(withdrawals *service.WithdrawalService, review *service.ReviewService) *AccountHandler {
	return &AccountHandler{withdrawals: withdrawals, review: review}
}

// GetWallet GET /account/wallet
func (h *AccountHandler) GetWallet(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	balance, err := h.withdrawals.GetWallet(c.Request.Context(), userID)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

// SetRecipient PUT /account/recipient
func (h *AccountHandler) SetRecipient(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req dto.RecipientRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	balance, err := h.withdrawals.SetRecipient(c.Request.Context(), userID, recipientFrom(req))
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

// CreateWithdrawal POST /account/withdrawals
// Отвечает 202: сумма списана, перевод завершится после ответа шлюза.
func (h *AccountHandler) CreateWithdrawal(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req dto.CreateWithdrawalRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	in := service.RequestWithdrawalInput{Amount: req.Amount}
	if req.Recipient != nil {
		rc := recipientFrom(*req.Recipient)
		in.Recipient = &rc
	}

	w, err := h.withdrawals.RequestWithdrawal(c.Request.Context(), userID, in)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, w)
}

// GetWithdrawal GET /account/withdrawals/:id
func (h *AccountHandler) GetWithdrawal(c *gin.Context) {
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

	w, err := h.withdrawals.GetWithdrawal(c.Request.Context(), userID, id)
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

// ListWithdrawals GET /account/withdrawals
func (h *AccountHandler) ListWithdrawals(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	limit, offset := common.GetPagination(c)
	items, err := h.withdrawals.ListWithdrawals(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}

	common.RespondList(c, items, limit, offset)
}

// Audit GET /account/audit
func (h *AccountHandler) Audit(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}
	respondAudit(c, h.review, userID)
}

func recipientFrom(req dto.RecipientRequest) models.Recipient {
	return models.Recipient{
		Type:          req.Type,
		Name:          req.Name,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
	}
}

// respondAudit отдаёт результат сверки счётчиков. Расхождение не ошибка
// запроса: клиент получает 200 с перечнем mismatches.
func respondAudit(c *gin.Context, review *service.ReviewService, userID uuid.UUID) {
	audit, err := review.Audit(c.Request.Context(), userID)
	if err != nil && !(apperror.IsInvariantViolation(err) && audit != nil) {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"audit":      audit,
		"consistent": audit.Consistent(),
	})
}
