// ABOUTME: Redis pub/sub transport for assistant events
// ABOUTME: Every instance subscribes to every channel; dedup claims pick one handler

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisSubscriber subscribes to bridge channels with Redis SUBSCRIBE.
type RedisSubscriber struct {
	client *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedisSubscriber wraps an existing client.
func NewRedisSubscriber(client *redis.Client, logger *slog.Logger) *RedisSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSubscriber{client: client, logger: logger.With("component", "redis_subscriber")}
}

// Subscribe opens a dedicated subscription for channel and waits for the
// server to confirm it.
func (s *RedisSubscriber) Subscribe(ctx context.Context, channel string) (<-chan Delivery, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("confirming subscription: %w", err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, ps)
	s.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- Delivery{Channel: msg.Channel, Body: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	s.logger.Debug("subscribed", "channel", channel)
	return out, nil
}

// Close ends every subscription opened by this subscriber.
func (s *RedisSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, ps := range s.subs {
		if err := ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	s.subs = nil
	return firstErr
}

// RedisPublisher publishes bridge events with Redis PUBLISH.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends body to channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, body []byte) error {
	if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (p *RedisPublisher) Close() error {
	return nil
}
