package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu         sync.Mutex
	jobs       []*domain.Job
	resetErr   error
	claimErr   error
	resets     int
	claims     int
	heartbeats []int64
}

func (q *fakeQueue) ResetStuck(ctx context.Context, threshold time.Duration) ([]domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resets++
	if q.resetErr != nil {
		return nil, q.resetErr
	}
	return nil, nil
}

func (q *fakeQueue) Claim(ctx context.Context) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claims++
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *fakeQueue) Heartbeat(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heartbeats = append(q.heartbeats, id)
	return nil
}

func (q *fakeQueue) snapshot() (resets, claims int, heartbeats []int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resets, q.claims, append([]int64(nil), q.heartbeats...)
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []int64
	run      func(ctx context.Context, job *domain.Job) error
}

func (e *fakeExecutor) Execute(ctx context.Context, job *domain.Job) error {
	e.mu.Lock()
	e.executed = append(e.executed, job.ID)
	e.mu.Unlock()
	if e.run != nil {
		return e.run(ctx, job)
	}
	return nil
}

func (e *fakeExecutor) ids() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.executed...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runFor(t *testing.T, a *Agent, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, a.Run(ctx))
}

func TestAgent_RunsJobsInClaimOrder(t *testing.T) {
	queue := &fakeQueue{jobs: []*domain.Job{
		{ID: 1, Type: domain.JobTypeReceipt},
		{ID: 2, Type: domain.JobTypeZReport},
	}}
	executor := &fakeExecutor{}
	a := New(Config{AgentID: "a1", PollInterval: 5 * time.Millisecond, ErrorBackoff: time.Second}, queue, executor, testLogger())

	runFor(t, a, 50*time.Millisecond)

	assert.Equal(t, []int64{1, 2}, executor.ids())
	resets, claims, _ := queue.snapshot()
	assert.GreaterOrEqual(t, claims, 3)
	assert.Equal(t, claims, resets, "every claim is preceded by a stuck reset")
}

func TestAgent_EmptyQueueSleepsPollInterval(t *testing.T) {
	queue := &fakeQueue{}
	executor := &fakeExecutor{}
	a := New(Config{PollInterval: time.Hour, ErrorBackoff: time.Hour}, queue, executor, testLogger())

	runFor(t, a, 30*time.Millisecond)

	_, claims, _ := queue.snapshot()
	assert.Equal(t, 1, claims)
	assert.Empty(t, executor.ids())
}

func TestAgent_QueueErrorsBackOff(t *testing.T) {
	tests := []struct {
		name       string
		queue      *fakeQueue
		wantClaims int
	}{
		{name: "reset fails", queue: &fakeQueue{resetErr: errors.New("connection refused")}, wantClaims: 0},
		{name: "claim fails", queue: &fakeQueue{claimErr: errors.New("connection refused")}, wantClaims: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(Config{PollInterval: time.Millisecond, ErrorBackoff: time.Hour}, tt.queue, &fakeExecutor{}, testLogger())

			runFor(t, a, 30*time.Millisecond)

			resets, claims, _ := tt.queue.snapshot()
			assert.Equal(t, 1, resets)
			assert.Equal(t, tt.wantClaims, claims)
		})
	}
}

func TestAgent_HeartbeatWhileExecuting(t *testing.T) {
	queue := &fakeQueue{jobs: []*domain.Job{{ID: 77, Type: domain.JobTypeReceipt}}}
	executor := &fakeExecutor{run: func(ctx context.Context, job *domain.Job) error {
		select {
		case <-time.After(60 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}}
	a := New(Config{
		PollInterval:      time.Hour,
		ErrorBackoff:      time.Hour,
		HeartbeatInterval: 5 * time.Millisecond,
	}, queue, executor, testLogger())

	runFor(t, a, 100*time.Millisecond)

	_, _, heartbeats := queue.snapshot()
	require.GreaterOrEqual(t, len(heartbeats), 2)
	for _, id := range heartbeats {
		assert.Equal(t, int64(77), id)
	}
}

func TestAgent_ExecutorErrorDoesNotStopLoop(t *testing.T) {
	queue := &fakeQueue{jobs: []*domain.Job{{ID: 1}, {ID: 2}}}
	executor := &fakeExecutor{run: func(ctx context.Context, job *domain.Job) error {
		if job.ID == 1 {
			return errors.New("interrupted")
		}
		return nil
	}}
	a := New(Config{PollInterval: 5 * time.Millisecond, ErrorBackoff: time.Hour}, queue, executor, testLogger())

	runFor(t, a, 40*time.Millisecond)

	assert.Equal(t, []int64{1, 2}, executor.ids())
}

func TestNew_Defaults(t *testing.T) {
	a := New(Config{}, &fakeQueue{}, &fakeExecutor{}, testLogger())
	assert.Equal(t, domain.DefaultStuckThreshold, a.cfg.StuckThreshold)
	assert.Equal(t, domain.DefaultStuckThreshold/3, a.cfg.HeartbeatInterval)
}
