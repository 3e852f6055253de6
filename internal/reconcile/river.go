package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/solutionners/marketplace-backend/internal/logger"
)

// QueueReconcile очередь river для проходов сверки.
const QueueReconcile = "reconcile"

// SweepArgs аргументы периодической задачи сверки.
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "ledger_reconcile_sweep" }

// SweepWorker выполняет проход сверки в задаче river.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	job     Job
	timeout time.Duration
}

func NewSweepWorker(job Job, timeout time.Duration) *SweepWorker {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SweepWorker{job: job, timeout: timeout}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	report, err := w.job.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reconcile sweep (attempt %d): %w", job.Attempt, err)
	}
	logger.Get().WithField("outcomes", report.Outcomes).Debug("reconcile: river sweep done")
	return nil
}

// Timeout проход может обрабатывать много записей, стандартной минуты не хватает.
func (w *SweepWorker) Timeout(*river.Job[SweepArgs]) time.Duration {
	return w.timeout
}

// RiverRunner запускает проходы как периодическую задачу river. Несколько
// процессов могут держать клиент одновременно; river выполняет задачу у лидера.
type RiverRunner struct {
	client *river.Client[pgx.Tx]
}

// NewRiverRunner создаёт клиент river с одной периодической задачей сверки.
func NewRiverRunner(pool *pgxpool.Pool, job Job, interval, timeout time.Duration) (*RiverRunner, error) {
	if interval <= 0 {
		interval = time.Hour
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, NewSweepWorker(job, timeout))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueReconcile: {MaxWorkers: 1},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(interval),
				func() (river.JobArgs, *river.InsertOpts) {
					return SweepArgs{}, &river.InsertOpts{Queue: QueueReconcile, MaxAttempts: 3}
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &RiverRunner{client: client}, nil
}

func (r *RiverRunner) Start(ctx context.Context) error {
	if err := r.client.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	logger.Get().Info("reconcile: river runner started")
	return nil
}

func (r *RiverRunner) Stop(ctx context.Context) error {
	return r.client.Stop(ctx)
}

// Trigger ставит внеочередной проход в очередь.
func (r *RiverRunner) Trigger(ctx context.Context) error {
	if _, err := r.client.Insert(ctx, SweepArgs{}, &river.InsertOpts{Queue: QueueReconcile}); err != nil {
		return fmt.Errorf("enqueue reconcile sweep: %w", err)
	}
	return nil
}

// Migrate применяет миграции схемы river.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}
	return nil
}
