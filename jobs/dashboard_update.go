package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-live/internal/jobs"
	"github.com/odyssey-erp/odyssey-live/internal/realtime"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DashboardUpdateJob hands queued update events to a realtime publisher,
// normally the Redis bridge that every hub instance listens on.
type DashboardUpdateJob struct {
	Publisher realtime.Publisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Timeout   time.Duration
}

// NewDashboardUpdateJob wires dependencies for the dashboard update handler.
func NewDashboardUpdateJob(publisher realtime.Publisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *DashboardUpdateJob {
	return &DashboardUpdateJob{
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
		Timeout:   5 * time.Second,
	}
}

// Handle processes TaskDashboardUpdate tasks. Malformed payloads are dropped
// without retry; publish failures are retried by Asynq.
func (j *DashboardUpdateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Publisher == nil {
		return errors.New("dashboard update: handler not configured")
	}
	var event realtime.UpdateEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		j.metrics().Dropped(TaskDashboardUpdate, "malformed")
		j.logger().Warn("discard malformed dashboard update", slog.Any("error", err))
		return fmt.Errorf("dashboard update: decode: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskDashboardUpdate)
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pubCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := j.Publisher.Publish(pubCtx, event)
	if err != nil {
		j.logger().Error("publish dashboard update", slog.String("kind", event.Kind.String()), slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *DashboardUpdateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDashboardUpdate))
	}
	return slog.Default().With(slog.String("job", TaskDashboardUpdate))
}

func (j *DashboardUpdateJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
