// Команда worker выполняет только сверку леджера со шлюзом.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/solutionners/marketplace-backend/internal/app"
	"github.com/solutionners/marketplace-backend/internal/config"
	"github.com/solutionners/marketplace-backend/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("worker: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("worker: ошибка инициализации: %v", err)
	}
	defer application.Close()

	runner, err := application.NewRunner()
	if err != nil {
		log.Fatalf("worker: ошибка планировщика сверки: %v", err)
	}
	if err := runner.Start(ctx); err != nil {
		log.Fatalf("worker: не удалось запустить сверку: %v", err)
	}
	logger.Get().WithField("driver", cfg.Reconcile.Driver).Info("worker: сверка запущена")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		logger.Get().WithError(err).Warn("worker: сверка остановлена с ошибкой")
	}
}
