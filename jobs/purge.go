package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/atelier-erp/atelier/internal/jobs"
)

// TaskIdempotencyPurge drops expired goods receipt idempotency keys.
const TaskIdempotencyPurge = "procurement:idempotency_purge"

// NewIdempotencyPurgeTask builds the purge task.
func NewIdempotencyPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyPurge, nil, asynq.Queue(QueueDefault))
}

// Purger is implemented by shared.IdempotencyStore.
type Purger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// PurgeJob removes idempotency keys older than Retention.
type PurgeJob struct {
	Store     Purger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle executes the purge.
func (j *PurgeJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency purge: handler not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := metrics.Track(TaskIdempotencyPurge)
	removed, err := j.Store.Purge(ctx, j.Retention)
	if err != nil {
		logger.Error("purge idempotency keys", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("purged idempotency keys", slog.Int64("removed", removed), slog.Duration("retention", j.Retention))
	return tracker.End(nil)
}
