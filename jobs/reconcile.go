package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/atelier-erp/atelier/internal/jobs"
	"github.com/atelier-erp/atelier/internal/procurement"
)

// TaskProcurementReconcile recomputes fulfillment for orders still being received.
const TaskProcurementReconcile = "procurement:reconcile"

// ReconcilePayload contains options for the sweep.
type ReconcilePayload struct {
	BatchSize int `json:"batch_size"`
}

// NewReconcileTask builds a sweep task.
func NewReconcileTask(batchSize int) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcurementReconcile, body, asynq.Queue(QueueDefault)), nil
}

// Reconciler is implemented by procurement.Service.
type Reconciler interface {
	ReconcileOpenOrders(ctx context.Context, batch int) (procurement.ReconcileSummary, error)
}

// ReconcileJob runs the fulfillment sweep.
type ReconcileJob struct {
	Service      Reconciler
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	DefaultBatch int
}

// NewReconcileJob initialises the sweep handler.
func NewReconcileJob(service Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics, batch int) *ReconcileJob {
	return &ReconcileJob{Service: service, Logger: logger, Metrics: metrics, DefaultBatch: batch}
}

// Handle executes the sweep.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("procurement reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("procurement reconcile: decode: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = j.DefaultBatch
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = 200
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskProcurementReconcile)
	logger := j.logger().With(slog.Int("batch_size", payload.BatchSize))

	summary, err := j.Service.ReconcileOpenOrders(ctx, payload.BatchSize)
	if err != nil {
		logger.Error("sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddReconciled("scanned", summary.Scanned)
	j.metrics().AddReconciled("advanced", summary.Advanced)
	j.metrics().AddReconciled("failed", summary.Failed)

	logger.Info("completed fulfillment sweep",
		slog.Int("scanned", summary.Scanned),
		slog.Int("advanced", summary.Advanced),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskProcurementReconcile))
	}
	return slog.Default().With(slog.String("job", TaskProcurementReconcile))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
