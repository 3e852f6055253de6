package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/solutionners/marketplace-backend/internal/dto"
	"github.com/solutionners/marketplace-backend/internal/http/handlers/common"
	"github.com/solutionners/marketplace-backend/internal/pkg/apperror"
	"github.com/solutionners/marketplace-backend/internal/reconcile"
	"github.com/solutionners/marketplace-backend/internal/service"
)

// ReconcileTrigger ставит внеочередной проход сверки в очередь.
type ReconcileTrigger interface {
	Trigger(ctx context.Context) error
}

// AdminHandler ручной разбор записей и запуск сверки. Маршруты только для роли admin.
type AdminHandler struct {
	review    *service.ReviewService
	reconcile reconcile.Job
	trigger   ReconcileTrigger
}

// NewAdminHandler создаёт обработчик. trigger может быть nil, тогда проход
// выполняется синхронно через job.
func NewAdminHandler(review *service.ReviewService, job reconcile.Job, trigger ReconcileTrigger) *AdminHandler {
	return &AdminHandler{review: review, reconcile: job, trigger: trigger}
}

// ListFlagged GET /admin/review
func (h *AdminHandler) ListFlagged(c *gin.Context) {
	flagged, err := h.review.ListFlagged(c.Request.Context(), common.ParseIntQuery(c, "limit", 50))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, flagged)
}

// FinalizeRefund POST /admin/refunds/:id/finalize
func (h *AdminHandler) FinalizeRefund(c *gin.Context) {
	id, outcome, ok := h.finalizeInput(c)
	if !ok {
		return
	}

	refund, err := h.review.FinalizeRefund(c.Request.Context(), id, outcome)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

// FinalizeWithdrawal POST /admin/withdrawals/:id/finalize
func (h *AdminHandler) FinalizeWithdrawal(c *gin.Context) {
	id, outcome, ok := h.finalizeInput(c)
	if !ok {
		return
	}

	w, err := h.review.FinalizeWithdrawal(c.Request.Context(), id, outcome)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// Reconcile POST /admin/reconcile
// С очередью проход ставится в неё (202), иначе выполняется в рамках запроса.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	if h.trigger != nil {
		if err := h.trigger.Trigger(c.Request.Context()); err != nil {
			common.Fail(c, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось поставить сверку в очередь"))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}
	if h.reconcile == nil {
		common.Fail(c, apperror.New(apperror.ErrCodeInternal, "сверка не настроена"))
		return
	}

	report, err := h.reconcile.RunOnce(c.Request.Context())
	if err != nil {
		common.Fail(c, apperror.Wrap(err, apperror.ErrCodeInternal, "проход сверки прерван"))
		return
	}
	c.JSON(http.StatusOK, report)
}

// AuditUser GET /admin/users/:id/audit
func (h *AdminHandler) AuditUser(c *gin.Context) {
	userID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return
	}
	respondAudit(c, h.review, userID)
}

func (h *AdminHandler) finalizeInput(c *gin.Context) (uuid.UUID, string, bool) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return uuid.Nil, "", false
	}

	var req dto.FinalizeRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.Fail(c, err)
		return uuid.Nil, "", false
	}
	return id, req.Outcome, true
}
