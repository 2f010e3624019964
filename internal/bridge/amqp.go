// ABOUTME: RabbitMQ transport for assistant events over a topic exchange
// ABOUTME: Each instance binds its own exclusive queue per channel so every instance sees every event

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange assistant events are published to
const DefaultExchange = "switchboard.ai"

// AMQPSubscriber consumes bridge channels from a topic exchange. Routing keys
// equal channel names.
type AMQPSubscriber struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	mu       sync.Mutex
	channels []*amqp.Channel
}

// NewAMQPSubscriber dials url and declares the exchange.
func NewAMQPSubscriber(url, exchange string, logger *slog.Logger) (*AMQPSubscriber, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}

	return &AMQPSubscriber{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("component", "amqp_subscriber"),
	}, nil
}

// dialExchange connects and makes sure the durable topic exchange exists.
func dialExchange(url, exchange string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	return conn, nil
}

// Subscribe declares an exclusive, server-named queue bound to channel and
// streams its deliveries.
func (s *AMQPSubscriber) Subscribe(ctx context.Context, channel string) (<-chan Delivery, error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declaring queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, channel, s.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("binding %s: %w", channel, err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consuming %s: %w", q.Name, err)
	}

	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		if !forwardDeliveries(ctx, msgs, out) {
			s.logger.Warn("consumer closed by broker", "queue", q.Name, "routing_key", channel)
		}
	}()

	s.logger.Info("subscriber started", "exchange", s.exchange, "queue", q.Name, "routing_key", channel)
	return out, nil
}

// forwardDeliveries copies broker deliveries to out, keyed by routing key,
// until ctx ends or msgs closes. It reports false when msgs closed first.
func forwardDeliveries(ctx context.Context, msgs <-chan amqp.Delivery, out chan<- Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err() != nil
			}
			select {
			case out <- Delivery{Channel: msg.RoutingKey, Body: msg.Body}:
			case <-ctx.Done():
				return true
			}
		}
	}
}

// Close closes every consumer channel and the connection.
func (s *AMQPSubscriber) Close() error {
	s.mu.Lock()
	for _, ch := range s.channels {
		_ = ch.Close()
	}
	s.channels = nil
	s.mu.Unlock()
	return s.conn.Close()
}

// AMQPPublisher publishes bridge events to the topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
}

// NewAMQPPublisher dials url and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, exchange: exchange}, nil
}

// Publish sends body with routing key channel.
func (p *AMQPPublisher) Publish(ctx context.Context, channel string, body []byte) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening amqp channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Close closes the connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
