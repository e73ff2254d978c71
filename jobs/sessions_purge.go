package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/gatekeeper/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ExpiredSessionPurger deletes login-session rows that expired before a
// given instant.
type ExpiredSessionPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// SessionsPurgeJob removes expired login-session audit rows.
type SessionsPurgeJob struct {
	Sessions ExpiredSessionPurger
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewSessionsPurgeJob wires dependencies for the purge handler.
func NewSessionsPurgeJob(sessions ExpiredSessionPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionsPurgeJob {
	return &SessionsPurgeJob{
		Sessions: sessions,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskSessionsPurge tasks.
func (j *SessionsPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sessions == nil {
		return errors.New("sessions purge: handler not configured")
	}
	var payload SessionsPurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.GraceSeconds < 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskSessionsPurge)
	before := j.clock().Add(-time.Duration(payload.GraceSeconds) * time.Second)
	removed, err := j.Sessions.PurgeExpired(ctx, before)
	if err != nil {
		j.logger().Error("purge expired sessions", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddRemoved(TaskSessionsPurge, removed)
	j.logger().Info("purged expired sessions", slog.Int64("removed", removed), slog.Time("before", before))
	return tracker.End(nil)
}

func (j *SessionsPurgeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SessionsPurgeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
