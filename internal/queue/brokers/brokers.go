// Package brokers selects the queue broker named by configuration.
package brokers

import (
	"fmt"
	"log/slog"

	"github.com/zflow/zflow/internal/config"
	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/queue/brokers/memory"
	"github.com/zflow/zflow/internal/queue/brokers/rabbitmq"
	"github.com/zflow/zflow/internal/queue/brokers/redis"
)

// queuePrefix namespaces job queue names on RabbitMQ
const queuePrefix = "zflow."

// New builds the broker for cfg.Queue.Backend
func New(cfg *config.Config, logger *slog.Logger) (queue.Broker, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendRabbitMQ:
		return rabbitmq.NewBroker(cfg.RabbitMQ.ClientConfig(), queuePrefix, logger), nil
	case config.QueueBackendRedis:
		return redis.NewBroker(redis.Options{
			URI:            cfg.Redis.URI,
			Namespace:      cfg.Redis.Namespace,
			MaxConnections: cfg.Redis.MaxConnections,
			MaxIdle:        cfg.Redis.MaxIdle,
			IdleTimeout:    cfg.Redis.IdleTimeout,
			ConnectTimeout: cfg.Redis.ConnectTimeout,
			ReadTimeout:    cfg.Redis.ReadTimeout,
			WriteTimeout:   cfg.Redis.WriteTimeout,
		}, logger), nil
	case config.QueueBackendMemory:
		return memory.NewBroker(cfg.Queue.BufferSize), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Queue.Backend)
	}
}
