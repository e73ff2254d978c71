package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/gatekeeper/internal/jobs"
)

type fakePurger struct {
	before  time.Time
	removed int64
	err     error
}

func (f *fakePurger) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.removed, f.err
}

func newPurgeJob(p *fakePurger, now time.Time) *SessionsPurgeJob {
	job := NewSessionsPurgeJob(p, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return now }
	return job
}

func TestSessionsPurgeAppliesGrace(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	purger := &fakePurger{removed: 4}
	task, err := NewSessionsPurgeTask(SessionsPurgePayload{GraceSeconds: 600})
	require.NoError(t, err)
	assert.Equal(t, TaskSessionsPurge, task.Type())

	require.NoError(t, newPurgeJob(purger, now).Handle(context.Background(), task))
	assert.Equal(t, now.Add(-10*time.Minute), purger.before)
}

func TestSessionsPurgeEmptyPayload(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	purger := &fakePurger{}
	require.NoError(t, newPurgeJob(purger, now).Handle(context.Background(), asynq.NewTask(TaskSessionsPurge, nil)))
	assert.Equal(t, now, purger.before)
}

func TestSessionsPurgeBadPayload(t *testing.T) {
	job := newPurgeJob(&fakePurger{}, time.Now())
	err := job.Handle(context.Background(), asynq.NewTask(TaskSessionsPurge, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskSessionsPurge, []byte(`{"grace_seconds":-1}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSessionsPurgePropagatesStoreError(t *testing.T) {
	boom := errors.New("db down")
	err := newPurgeJob(&fakePurger{err: boom}, time.Now()).Handle(context.Background(), asynq.NewTask(TaskSessionsPurge, nil))
	assert.ErrorIs(t, err, boom)
}

func TestSessionsPurgeNotConfigured(t *testing.T) {
	var job *SessionsPurgeJob
	assert.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskSessionsPurge, nil)))
}
