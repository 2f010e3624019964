// ABOUTME: Redis pub/sub relay replicating room frames across switchboard instances
// ABOUTME: Each instance publishes its emits and delivers frames from peers to local members

package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRelayChannel is the Redis channel carrying room frames
const DefaultRelayChannel = "switchboard:rooms"

// RelayFrame is one room emit as seen by peer instances.
type RelayFrame struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Except string          `json:"except,omitempty"`
	Event  string          `json:"event"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisRelay publishes and receives RelayFrames on a Redis channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisRelay creates a relay on channel. An empty channel uses DefaultRelayChannel.
func NewRedisRelay(client *redis.Client, channel string, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "relay"),
	}
}

// Publish sends a frame to every instance, including this one.
func (r *RedisRelay) Publish(ctx context.Context, frame RelayFrame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding relay frame: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("publishing relay frame: %w", err)
	}
	return nil
}

// Run subscribes to the relay channel and hands peer frames to m until ctx is
// cancelled. The subscription is confirmed before ready is closed, if non-nil.
func (r *RedisRelay) Run(ctx context.Context, m *Manager, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ready != nil {
			close(ready)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("relay subscribed", "channel", r.channel, "instance_id", m.InstanceID())

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var frame RelayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				r.logger.Warn("discarding malformed relay frame", "error", err)
				continue
			}
			m.DeliverRemote(frame)
		}
	}
}
