package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/zflow/zflow/shared/rabbitmq"
)

// Handler consumes events arriving on a bus
type Handler func(Event)

// LocalBus hands events straight to an in-process handler
type LocalBus struct {
	handler Handler
}

// NewLocalBus creates a bus delivering to handler, typically Hub.Deliver
func NewLocalBus(handler Handler) *LocalBus {
	return &LocalBus{handler: handler}
}

// Publish delivers event synchronously
func (b *LocalBus) Publish(_ context.Context, event Event) error {
	if b.handler != nil {
		b.handler(event)
	}
	return nil
}

// AMQPBus fans events out to every subscribed process through a RabbitMQ fanout exchange
type AMQPBus struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewAMQPBus connects to the fanout exchange named in base.ExchangeName and
// declares an exclusive, server-named queue for this process
func NewAMQPBus(base rabbitmq.Config, logger *slog.Logger) (*AMQPBus, error) {
	cfg := base
	cfg.ExchangeType = amqp.ExchangeFanout
	cfg.ExchangeDurable = true
	cfg.QueueName = ""
	cfg.QueueDurable = false
	cfg.QueueAutoDelete = true
	cfg.QueueExclusive = true
	cfg.RoutingKey = ""

	client, err := rabbitmq.NewClient(&cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect realtime bus: %w", err)
	}

	return &AMQPBus{client: client, logger: logger}, nil
}

// Publish sends event to every subscriber, this process included
func (b *AMQPBus) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode realtime event: %w", err)
	}
	return b.client.Publish(ctx, body, "application/json")
}

// Run delivers incoming events to handler until ctx is done or the channel closes
func (b *AMQPBus) Run(ctx context.Context, handler Handler) error {
	messages, err := b.client.Consume("")
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("realtime bus delivery channel closed")
			}

			var event Event
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				b.logger.Error("Dropping malformed realtime event", slog.Any("error", err))
				msg.Nack(false, false)
				continue
			}

			handler(event)
			if err := msg.Ack(false); err != nil {
				b.logger.Warn("Failed to ack realtime event", slog.Any("error", err))
			}
		}
	}
}

// Close releases the AMQP connection
func (b *AMQPBus) Close() error {
	return b.client.Close()
}
