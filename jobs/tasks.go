package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-live/internal/realtime"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDashboardUpdate relays an update event to connected dashboards.
	TaskDashboardUpdate = "dashboard:update"
)

// NewDashboardUpdateTask constructs an Asynq task carrying event.
func NewDashboardUpdateTask(event realtime.UpdateEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode dashboard update: %w", err)
	}
	return asynq.NewTask(TaskDashboardUpdate, data, asynq.MaxRetry(3)), nil
}
