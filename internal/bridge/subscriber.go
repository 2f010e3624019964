// ABOUTME: Broker-agnostic subscription loop feeding the bridge
// ABOUTME: One goroutine per channel so a slow handler on one channel never stalls the others

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Delivery is one message received from the broker.
type Delivery struct {
	Channel string
	Body    []byte
}

// Subscriber opens a stream of deliveries for one channel. The returned
// channel is closed when ctx is cancelled or the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan Delivery, error)
	Close() error
}

// Publisher sends an encoded event to a channel. Used by tooling and tests.
type Publisher interface {
	Publish(ctx context.Context, channel string, body []byte) error
	Close() error
}

// ErrSubscriptionEnded is returned by Run when a channel stream closes while
// the bridge is still supposed to be consuming, e.g. after a broker disconnect.
var ErrSubscriptionEnded = errors.New("subscription ended")

// Run subscribes to every bridge channel and dispatches deliveries until ctx
// is cancelled. Subscriptions are established before Run starts consuming;
// a failure to subscribe any channel is returned. If any stream ends before
// ctx is cancelled, the remaining streams are stopped and Run returns
// ErrSubscriptionEnded.
func (b *Bridge) Run(ctx context.Context, sub Subscriber) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	streams := make(map[string]<-chan Delivery, len(Channels))
	for _, channel := range Channels {
		stream, err := sub.Subscribe(runCtx, channel)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", channel, err)
		}
		streams[channel] = stream
	}

	b.logger.Info("bridge subscribed", "channels", Channels)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for channel, stream := range streams {
		wg.Go(func() {
			for d := range stream {
				b.Dispatch(ctx, channel, d.Body)
			}
			if runCtx.Err() != nil {
				b.logger.Debug("channel stream ended", "channel", channel)
				return
			}
			b.logger.Error("channel stream ended unexpectedly", "channel", channel)
			errOnce.Do(func() {
				firstErr = fmt.Errorf("%s: %w", channel, ErrSubscriptionEnded)
			})
			cancel()
		})
	}
	wg.Wait()
	return firstErr
}

// Publish encodes ev and sends it on its channel.
func Publish(ctx context.Context, pub Publisher, ev Event) error {
	body, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Channel(), err)
	}
	return pub.Publish(ctx, ev.Channel(), body)
}
