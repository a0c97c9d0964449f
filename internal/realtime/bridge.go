package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultBridgeChannel is the Redis pub/sub channel carrying update events
// between processes.
const DefaultBridgeChannel = "realtime:dashboard_updates"

// Publisher emits update events towards connected dashboards.
type Publisher interface {
	Publish(ctx context.Context, event UpdateEvent) error
}

// Bridge relays update events through Redis pub/sub so that workers and other
// hub instances can reach connections held by this process.
type Bridge struct {
	client  *redis.Client
	channel string
	router  *Router
	logger  *slog.Logger
}

// NewBridge constructs a Bridge. router may be nil for publish-only use.
func NewBridge(client *redis.Client, channel string, router *Router, logger *slog.Logger) *Bridge {
	if channel == "" {
		channel = DefaultBridgeChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, channel: channel, router: router, logger: logger}
}

// Publish sends event to every listening process.
func (b *Bridge) Publish(ctx context.Context, event UpdateEvent) error {
	if b == nil || b.client == nil {
		return errors.New("realtime bridge: not configured")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("realtime bridge: encode: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Listen subscribes to the bridge channel and routes every received event
// through the local router until ctx is cancelled. It returns once the
// subscription is confirmed.
func (b *Bridge) Listen(ctx context.Context) error {
	if b == nil || b.client == nil {
		return nil
	}
	if b.router == nil {
		return errors.New("realtime bridge: router required to listen")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("realtime bridge: subscribe %s: %w", b.channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handle(msg.Payload)
			}
		}
	}()
	return nil
}

func (b *Bridge) handle(payload string) {
	var event UpdateEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.logger.Warn("realtime bridge: discard malformed event", slog.Any("error", err))
		return
	}
	d := b.router.Route(event)
	b.logger.Debug("realtime bridge: routed",
		slog.String("kind", event.Kind.String()),
		slog.Int("attempted", d.Attempted),
		slog.Int("dropped", d.Dropped))
}

// LocalPublisher routes events in-process without Redis.
type LocalPublisher struct {
	Router *Router
}

// Publish routes event through the local router.
func (p LocalPublisher) Publish(_ context.Context, event UpdateEvent) error {
	p.Router.Route(event)
	return nil
}

var (
	_ Publisher = (*Bridge)(nil)
	_ Publisher = LocalPublisher{}
)
