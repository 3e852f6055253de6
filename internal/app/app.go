// Package app собирает зависимости сервиса леджера по конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/solutionners/marketplace-backend/internal/config"
	"github.com/solutionners/marketplace-backend/internal/db"
	domain "github.com/solutionners/marketplace-backend/internal/domain/repository"
	"github.com/solutionners/marketplace-backend/internal/gateway"
	"github.com/solutionners/marketplace-backend/internal/goroutine"
	"github.com/solutionners/marketplace-backend/internal/http/handlers"
	"github.com/solutionners/marketplace-backend/internal/http/middleware"
	"github.com/solutionners/marketplace-backend/internal/http/router"
	"github.com/solutionners/marketplace-backend/internal/logger"
	"github.com/solutionners/marketplace-backend/internal/metrics"
	"github.com/solutionners/marketplace-backend/internal/notify"
	"github.com/solutionners/marketplace-backend/internal/reconcile"
	"github.com/solutionners/marketplace-backend/internal/repository"
	"github.com/solutionners/marketplace-backend/internal/repository/memory"
	"github.com/solutionners/marketplace-backend/internal/service"
	"github.com/solutionners/marketplace-backend/internal/ws"
)

// App готовые компоненты процесса.
type App struct {
	cfg *config.Config

	sql   *sqlx.DB
	pool  *pgxpool.Pool
	redis *redis.Client

	Store         domain.LedgerStore
	Metrics       *metrics.Metrics
	Hub           *ws.Hub
	Gateway       gateway.Client
	Tokens        *service.TokenManager
	Recorder      *service.Recorder
	Notifications *service.NotificationService
	Sweeper       *reconcile.Sweeper

	dispatcher *notify.Dispatcher
	runner     reconcile.Runner
	closers    []func() error
}

// New подключает хранилища и собирает сервисы. Фоновые циклы не запускаются.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		cfg:     cfg,
		Metrics: metrics.New(),
		Hub:     ws.NewHub(),
		Tokens:  service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL),
	}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	gw, err := buildGateway(cfg.Gateway, a.redis, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Gateway = gw

	var notifications service.NotificationRepository
	if a.sql != nil {
		a.Store = repository.NewLedgerRepository(a.sql)
		notifications = repository.NewNotificationRepository(a.sql)
	} else {
		a.Store = memory.NewStore()
		notifications = memory.NewNotificationStore()
	}
	a.Notifications = service.NewNotificationService(notifications)

	sinks, err := a.sinks()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = notify.NewDispatcher(cfg.Notify.Timeout, a.Metrics, sinks...)

	a.Recorder = service.NewRecorder(a.Store, a.Gateway, a.dispatcher, a.Metrics, service.RecorderConfig{
		Currency:    cfg.Currency,
		ReviewEmail: cfg.Notify.ReviewEmail,
	})
	a.Sweeper = reconcile.NewSweeper(a.Store, a.Gateway, a.Recorder, a.Metrics, reconcile.Config{
		Grace:       cfg.Reconcile.Grace,
		Lease:       cfg.Reconcile.Lease,
		MaxAge:      cfg.Reconcile.MaxAge,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		BatchSize:   cfg.Reconcile.BatchSize,
	})
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	if a.cfg.StoreDriver == "postgres" {
		conn, err := db.NewPostgres(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.sql = conn
		a.closers = append(a.closers, conn.Close)

		if err := db.RunMigrations(ctx, conn, a.cfg.MigrationsPath); err != nil {
			return fmt.Errorf("app: миграции: %w", err)
		}
	}

	if a.cfg.Reconcile.Driver == "river" {
		if a.sql == nil {
			return errors.New("app: RECONCILE_DRIVER=river требует STORE_DRIVER=postgres")
		}
		pool, err := db.NewPgxPool(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		if err := reconcile.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	if a.cfg.RedisURL != "" {
		client, err := db.NewRedis(ctx, a.cfg.RedisURL)
		if err != nil {
			return err
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
	}
	return nil
}

func (a *App) sinks() ([]notify.Sink, error) {
	n := a.cfg.Notify
	sinks := []notify.Sink{notify.NewHubSink(a.Hub), notify.NewStoreSink(a.Notifications)}
	if n.SMTPHost != "" {
		sinks = append(sinks, notify.NewEmailSender(notify.SMTPConfig{
			Host:     n.SMTPHost,
			Port:     n.SMTPPort,
			Username: n.SMTPUsername,
			Password: n.SMTPPassword,
			From:     n.SMTPFrom,
		}))
	}
	if len(n.KafkaBrokers) > 0 {
		kafkaSink, err := notify.NewKafkaSink(n.KafkaBrokers, n.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		sinks = append(sinks, kafkaSink)
		a.closers = append(a.closers, kafkaSink.Close)
	}
	return sinks, nil
}

// buildGateway собирает клиента шлюза: провайдеры по операциям, метрики
// вызовов и кэш подтверждённых проверок, если есть redis.
func buildGateway(cfg config.GatewayConfig, rdb *redis.Client, m *metrics.Metrics) (gateway.Client, error) {
	providers := gateway.Providers{
		"marasoftpay": gateway.NewMarasoftpay(gateway.MarasoftpayConfig{
			EncKey:      cfg.MarasoftpayEncKey,
			CheckoutURL: cfg.MarasoftpayCheckoutURL,
			APIURL:      cfg.MarasoftpayAPIURL,
			TransferURL: cfg.MarasoftpayTransferURL,
			RequestType: cfg.MarasoftpayRequestType,
			RedirectURL: cfg.RedirectURL,
			Timeout:     cfg.Timeout,
		}),
		"paystack": gateway.NewPaystack(gateway.PaystackConfig{
			SecretKey:  cfg.PaystackSecretKey,
			BaseURL:    cfg.PaystackBaseURL,
			MinorUnits: cfg.PaystackMinorUnits,
			Timeout:    cfg.Timeout,
		}),
	}
	routed, err := gateway.Route(providers, cfg.CheckoutProvider, cfg.VerifyProvider, cfg.RefundProvider, cfg.TransferProvider)
	if err != nil {
		return nil, fmt.Errorf("app: шлюз: %w", err)
	}

	instrumented := gateway.Instrument(routed, m)
	if rdb == nil {
		return instrumented, nil
	}
	return &gateway.Router{
		Checkout: instrumented,
		Verify:   gateway.NewCachedVerifier(instrumented, rdb, cfg.VerifyCacheTTL),
		Refund:   instrumented,
		Transfer: instrumented,
	}, nil
}

// StartHub запускает цикл websocket-хаба до отмены ctx.
func (a *App) StartHub(ctx context.Context) {
	goroutine.SafeGoWithContext(ctx, a.Hub.Run)
}

// NewRunner создаёт планировщик сверки по RECONCILE_DRIVER.
// Повторный вызов возвращает тот же планировщик.
func (a *App) NewRunner() (reconcile.Runner, error) {
	if a.runner != nil {
		return a.runner, nil
	}
	if a.cfg.Reconcile.Driver == "river" {
		runner, err := reconcile.NewRiverRunner(a.pool, a.Sweeper, a.cfg.Reconcile.Interval, 0)
		if err != nil {
			return nil, err
		}
		a.runner = runner
		return runner, nil
	}
	a.runner = reconcile.NewTickerRunner(a.Sweeper, a.cfg.Reconcile.Interval)
	return a.runner, nil
}

// reconcileTrigger возвращает очередь river для ручного запуска сверки,
// nil при других драйверах.
func (a *App) reconcileTrigger() (handlers.ReconcileTrigger, error) {
	if a.cfg.Reconcile.Driver != "river" {
		return nil, nil
	}
	runner, err := a.NewRunner()
	if err != nil {
		return nil, err
	}
	trigger, ok := runner.(*reconcile.RiverRunner)
	if !ok {
		return nil, fmt.Errorf("app: river driver built %T", runner)
	}
	return trigger, nil
}

// Router собирает HTTP API.
func (a *App) Router() (*gin.Engine, error) {
	limiterStore, err := middleware.NewLimiterStore(a.redis)
	if err != nil {
		return nil, err
	}

	trigger, err := a.reconcileTrigger()
	if err != nil {
		return nil, err
	}

	review := service.NewReviewService(a.Store, a.Recorder)
	h := router.Handlers{
		Payments:      handlers.NewPaymentHandler(service.NewPaymentService(a.Store, a.Gateway, a.Recorder, a.cfg.Currency, a.cfg.Gateway.RedirectURL)),
		Refunds:       handlers.NewRefundHandler(service.NewRefundService(a.Store, a.Recorder)),
		Account:       handlers.NewAccountHandler(service.NewWithdrawalService(a.Store, a.Recorder, a.cfg.WithdrawalMinAmount), review),
		Notifications: handlers.NewNotificationHandler(a.Notifications),
		Admin:         handlers.NewAdminHandler(review, a.Sweeper, trigger),
		WS:            handlers.NewWSHandler(a.Hub, a.Tokens, a.cfg.AllowedOrigins),
		Health:        handlers.NewHealthHandler(a.healthChecks()),
	}
	return router.SetupRouter(a.cfg, h, a.Tokens, limiterStore, a.Metrics.Handler()), nil
}

func (a *App) healthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if a.sql != nil {
		checks["database"] = a.sql.PingContext
	}
	if a.pool != nil {
		checks["queue"] = a.pool.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

// Close дожидается начатых уведомлений и закрывает подключения в обратном порядке.
func (a *App) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Get().WithError(err).Warn("app: ошибка закрытия ресурса")
		}
	}
	a.closers = nil
}
