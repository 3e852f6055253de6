package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/solutionners/marketplace-backend/internal/goroutine"
	"github.com/solutionners/marketplace-backend/internal/logger"
)

// Job один проход сверки.
type Job interface {
	RunOnce(ctx context.Context) (*Report, error)
}

// Runner запускает проходы по расписанию.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TickerRunner запускает проходы внутри процесса с фиксированным интервалом.
// Проходы одного раннера не пересекаются; паника в проходе не останавливает цикл.
type TickerRunner struct {
	job      Job
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTickerRunner(job Job, interval time.Duration) *TickerRunner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &TickerRunner{job: job, interval: interval}
}

// Start запускает первый проход сразу, следующие по тикеру.
func (r *TickerRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	goroutine.SafeGo(func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			r.runOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
	logger.Get().WithField("interval", r.interval.String()).Info("reconcile: ticker runner started")
	return nil
}

// Stop отменяет текущий проход и ждёт завершения цикла.
func (r *TickerRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *TickerRunner) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	goroutine.Recover(func() {
		// Ошибка уже залогирована проходом.
		_, _ = r.job.RunOnce(ctx)
	})
}
