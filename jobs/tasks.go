package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/atelier-erp/atelier/internal/jobs"
	"github.com/atelier-erp/atelier/internal/procurement"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueEvents carries procurement notifications.
	QueueEvents = "events"
	// TaskProcurementEvent delivers a committed procurement event.
	TaskProcurementEvent = "procurement:event"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Enqueuer is the subset of asynq.Client used for publishing.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewProcurementEventTask wraps an event into an Asynq task.
func NewProcurementEventTask(evt procurement.Event) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcurementEvent, data), nil
}

// EventPublisher hands procurement events to the queue so that slow
// notification consumers never hold up a committed request.
type EventPublisher struct {
	enqueuer Enqueuer
	maxRetry int
}

// NewEventPublisher builds a publisher over the given enqueuer.
func NewEventPublisher(enqueuer Enqueuer) *EventPublisher {
	return &EventPublisher{enqueuer: enqueuer, maxRetry: 5}
}

// Publish implements procurement.Publisher.
func (p *EventPublisher) Publish(ctx context.Context, evt procurement.Event) error {
	if p == nil || p.enqueuer == nil {
		return errors.New("jobs: event publisher not configured")
	}
	task, err := NewProcurementEventTask(evt)
	if err != nil {
		return fmt.Errorf("jobs: encode event: %w", err)
	}
	_, err = p.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(QueueEvents),
		asynq.TaskID(evt.ID.String()),
		asynq.MaxRetry(p.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", evt.Name, err)
	}
	return nil
}

// Notifier receives delivered procurement events.
type Notifier interface {
	Notify(ctx context.Context, evt procurement.Event) error
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, evt procurement.Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("event", evt.Name),
		slog.String("tenant_id", evt.TenantID.String()),
		slog.String("po_id", evt.POID.String()),
		slog.String("po_number", evt.PONumber),
		slog.String("actor_id", evt.ActorID.String()),
	}
	if evt.FromStatus != "" || evt.ToStatus != "" {
		attrs = append(attrs, slog.String("from", string(evt.FromStatus)), slog.String("to", string(evt.ToStatus)))
	}
	if evt.GRNNumber != "" {
		attrs = append(attrs, slog.String("grn_number", evt.GRNNumber))
	}
	logger.Info("procurement event", attrs...)
	return nil
}

// EventJob processes TaskProcurementEvent tasks.
type EventJob struct {
	Notifier Notifier
	Metrics  *jobmetrics.Metrics
}

// Handle decodes the event and forwards it to the notifier.
func (j *EventJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Notifier == nil {
		return errors.New("procurement event: handler not configured")
	}
	var evt procurement.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("procurement event: decode: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.metrics().Track(TaskProcurementEvent)
	if err := j.Notifier.Notify(ctx, evt); err != nil {
		return tracker.End(err)
	}
	j.metrics().AddEvent(evt.Name)
	return tracker.End(nil)
}

func (j *EventJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
