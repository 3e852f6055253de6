package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	calls atomic.Int32
	panic bool
	err   error
}

func (j *countingJob) RunOnce(context.Context) (*Report, error) {
	j.calls.Add(1)
	if j.panic {
		panic("sweep exploded")
	}
	return &Report{Outcomes: map[string]int{OutcomeFinalized: 1}}, j.err
}

func TestTickerRunner_RunsOnStartAndOnTick(t *testing.T) {
	job := &countingJob{}
	r := NewTickerRunner(job, 10*time.Millisecond)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop(context.Background()))
	stopped := job.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, job.calls.Load())
}

func TestTickerRunner_SurvivesPanics(t *testing.T) {
	job := &countingJob{panic: true}
	r := NewTickerRunner(job, 5*time.Millisecond)

	require.NoError(t, r.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Stop(context.Background()))
}

func TestTickerRunner_StopWithoutStart(t *testing.T) {
	r := NewTickerRunner(&countingJob{}, time.Second)
	assert.NoError(t, r.Stop(context.Background()))
}

func TestSweepWorker_Work(t *testing.T) {
	job := &countingJob{}
	w := NewSweepWorker(job, 0)
	assert.Equal(t, 30*time.Minute, w.Timeout(nil))

	riverJob := &river.Job[SweepArgs]{JobRow: &rivertype.JobRow{Attempt: 2}}
	require.NoError(t, w.Work(context.Background(), riverJob))

	job.err = errors.New("list due refunds: connection refused")
	err := w.Work(context.Background(), riverJob)
	require.Error(t, err)
	assert.ErrorIs(t, err, job.err)
	assert.Contains(t, err.Error(), "attempt 2")
	assert.Equal(t, int32(2), job.calls.Load())
}

func TestSweepArgs_Kind(t *testing.T) {
	assert.Equal(t, "ledger_reconcile_sweep", SweepArgs{}.Kind())
}
