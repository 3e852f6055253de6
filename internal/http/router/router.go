package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/solutionners/marketplace-backend/internal/config"
	"github.com/solutionners/marketplace-backend/internal/http/handlers"
	"github.com/solutionners/marketplace-backend/internal/http/middleware"
	"github.com/solutionners/marketplace-backend/internal/models"
)

// Handlers набор хэндлеров API.
type Handlers struct {
	Payments      *handlers.PaymentHandler
	Refunds       *handlers.RefundHandler
	Account       *handlers.AccountHandler
	Notifications *handlers.NotificationHandler
	Admin         *handlers.AdminHandler
	WS            *handlers.WSHandler
	Health        *handlers.HealthHandler
}

func SetupRouter(
	cfg *config.Config,
	h Handlers,
	tokens middleware.TokenParser,
	limiterStore limiter.Store,
	metricsHandler http.Handler,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := r.Group("/api")
	api.GET("/ws", h.WS.Handle)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.Use(middleware.RateLimitMiddleware(limiterStore, "api", cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		// Платежи
		protected.GET("/payments", h.Payments.ListPayments)
		protected.POST("/payments", h.Payments.CreatePayment)
		protected.POST("/payments/initiate", h.Payments.InitiatePayment)
		protected.POST("/payments/verify", h.Payments.VerifyPayment)
		protected.GET("/payments/:id", middleware.UUIDValidator("id"), h.Payments.GetPayment)

		// Возвраты
		protected.GET("/refunds", h.Refunds.ListRefunds)
		protected.POST("/refunds", h.Refunds.CreateRefund)
		protected.GET("/refunds/:id", middleware.UUIDValidator("id"), h.Refunds.GetRefund)

		// Кошелёк и выводы
		protected.GET("/account/wallet", h.Account.GetWallet)
		protected.GET("/account/audit", h.Account.Audit)
		protected.PUT("/account/recipient", h.Account.SetRecipient)
		protected.POST("/account/withdrawals", h.Account.CreateWithdrawal)
		protected.GET("/account/withdrawals", h.Account.ListWithdrawals)
		protected.GET("/account/withdrawals/:id", middleware.UUIDValidator("id"), h.Account.GetWithdrawal)

		protected.GET("/notifications", h.Notifications.ListNotifications)
		protected.GET("/notifications/unread/count", h.Notifications.CountUnread)
		protected.PUT("/notifications/read-all", h.Notifications.MarkAllAsRead)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), h.Notifications.MarkAsRead)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(tokens), middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/review", h.Admin.ListFlagged)
		admin.POST("/refunds/:id/finalize", middleware.UUIDValidator("id"), h.Admin.FinalizeRefund)
		admin.POST("/withdrawals/:id/finalize", middleware.UUIDValidator("id"), h.Admin.FinalizeWithdrawal)
		admin.POST("/reconcile", h.Admin.Reconcile)
		admin.GET("/users/:id/audit", middleware.UUIDValidator("id"), h.Admin.AuditUser)
	}

	return r
}
