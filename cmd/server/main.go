package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/solutionners/marketplace-backend/internal/app"
	"github.com/solutionners/marketplace-backend/internal/config"
	"github.com/solutionners/marketplace-backend/internal/logger"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("main: ошибка инициализации: %v", err)
	}
	defer application.Close()

	application.StartHub(ctx)

	engine, err := application.Router()
	if err != nil {
		log.Fatalf("main: ошибка сборки роутера: %v", err)
	}

	// Сверка в том же процессе, если не вынесена в отдельный worker.
	if cfg.Reconcile.Embedded {
		runner, err := application.NewRunner()
		if err != nil {
			log.Fatalf("main: ошибка планировщика сверки: %v", err)
		}
		if err := runner.Start(ctx); err != nil {
			log.Fatalf("main: не удалось запустить сверку: %v", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := runner.Stop(stopCtx); err != nil {
				logger.Get().WithError(err).Warn("main: сверка остановлена с ошибкой")
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Get().WithError(err).Error("main: ошибка остановки http сервера")
		}
	}()

	logger.Get().WithField("port", cfg.HTTPPort).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Get().WithError(err).Error("main: сервер завершился с ошибкой")
	}
}
