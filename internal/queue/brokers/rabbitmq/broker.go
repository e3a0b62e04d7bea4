// Package rabbitmq is a queue broker backed by durable RabbitMQ queues bound
// on a direct exchange, one AMQP connection per queue.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/shared/rabbitmq"
)

const contentType = "application/json"

// Broker opens RabbitMQ-backed queues
type Broker struct {
	base   rabbitmq.Config
	prefix string
	logger *slog.Logger
}

// NewBroker creates a broker. base carries the connection and exchange settings;
// queue names are prefixed with prefix on the server.
func NewBroker(base rabbitmq.Config, prefix string, logger *slog.Logger) *Broker {
	return &Broker{base: base, prefix: prefix, logger: logger}
}

// Open connects and declares the durable queue bound under its own routing key
func (b *Broker) Open(_ context.Context, name string) (queue.Conn, error) {
	cfg := b.queueConfig(name)

	client, err := rabbitmq.NewClient(&cfg, b.logger.With(slog.String("queue", name)))
	if err != nil {
		return nil, err
	}

	return &conn{client: client, name: name, logger: b.logger}, nil
}

func (b *Broker) queueConfig(name string) rabbitmq.Config {
	cfg := b.base
	cfg.QueueName = b.prefix + name
	cfg.RoutingKey = name
	cfg.QueueDurable = true
	cfg.QueueAutoDelete = false
	cfg.QueueExclusive = false
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = amqp.ExchangeDirect
	}
	return cfg
}

type conn struct {
	client *rabbitmq.Client
	name   string
	logger *slog.Logger
}

func (c *conn) Push(ctx context.Context, job *queue.Job) error {
	body, err := queue.Encode(job)
	if err != nil {
		return err
	}
	return c.client.PublishWithRetry(ctx, body, contentType)
}

// Deliveries consumes with manual acknowledgement and QoS prefetch
func (c *conn) Deliveries(ctx context.Context, prefetch int) (<-chan queue.Delivery, error) {
	if err := c.client.SetPrefetch(prefetch); err != nil {
		return nil, err
	}

	consumerTag := fmt.Sprintf("%s-%s", c.name, uuid.NewString()[:8])
	messages, err := c.client.Consume(consumerTag)
	if err != nil {
		return nil, err
	}

	out := make(chan queue.Delivery)
	go c.forward(ctx, messages, out)
	return out, nil
}

func (c *conn) forward(ctx context.Context, messages <-chan amqp.Delivery, out chan<- queue.Delivery) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed", slog.String("queue", c.name))
				return
			}

			job, err := queue.Decode(msg.Body)
			if err != nil {
				c.logger.Error("Failed to parse job message",
					slog.String("queue", c.name),
					slog.Any("error", err),
					slog.String("body", string(msg.Body)),
				)
				if nackErr := msg.Nack(false, false); nackErr != nil {
					c.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
				}
				continue
			}

			d := queue.Delivery{
				Job: job,
				Ack: func() error { return msg.Ack(false) },
			}

			select {
			case out <- d:
			case <-ctx.Done():
				// return it to the queue for the next consumer
				if nackErr := msg.Nack(false, true); nackErr != nil {
					c.logger.Error("Failed to NACK message on shutdown", slog.Any("error", nackErr))
				}
				return
			}
		}
	}
}

func (c *conn) Close() error {
	return c.client.Close()
}
