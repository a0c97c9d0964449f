package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-live/internal/realtime"
)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueDashboardUpdate queues event for delivery by the worker.
func (c *Client) EnqueueDashboardUpdate(ctx context.Context, event realtime.UpdateEvent) (*asynq.TaskInfo, error) {
	task, err := NewDashboardUpdateTask(event)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Publish enqueues event so that a worker relays it to every hub instance.
func (c *Client) Publish(ctx context.Context, event realtime.UpdateEvent) error {
	_, err := c.EnqueueDashboardUpdate(ctx, event)
	return err
}

var _ realtime.Publisher = (*Client)(nil)

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
