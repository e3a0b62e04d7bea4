// Package redis is a queue broker backed by Redis lists.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/zflow/zflow/internal/queue"
)

// ErrInvalidScheme is returned when the Redis URI scheme is invalid
var ErrInvalidScheme = errors.New("invalid Redis database URI scheme")

// popTimeout bounds each BLPOP so consumers notice cancellation
const popTimeout = 1

// Options holds Redis connection settings
type Options struct {
	URI            string
	Namespace      string
	MaxConnections int
	MaxIdle        int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Broker opens one redigo pool per queue
type Broker struct {
	options Options
	logger  *slog.Logger
}

// NewBroker creates a Redis broker
func NewBroker(options Options, logger *slog.Logger) *Broker {
	return &Broker{options: options, logger: logger}
}

// Open creates the queue's connection pool and checks it with PING
func (b *Broker) Open(ctx context.Context, name string) (queue.Conn, error) {
	pool := b.createPool()

	c, err := pool.GetContext(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer c.Close()

	if _, err := c.Do("PING"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	b.logger.Info("Redis queue opened",
		slog.String("queue", name),
		slog.String("key", b.queueKey(name)),
	)

	return &conn{
		pool:   pool,
		key:    b.queueKey(name),
		name:   name,
		logger: b.logger,
	}, nil
}

func (b *Broker) queueKey(name string) string {
	return b.options.Namespace + "queue:" + name
}

func (b *Broker) createPool() *redis.Pool {
	return &redis.Pool{
		MaxActive:   b.options.MaxConnections,
		MaxIdle:     b.options.MaxIdle,
		IdleTimeout: b.options.IdleTimeout,
		Dial: func() (redis.Conn, error) {
			return dial(b.options)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// dial establishes a Redis connection from a redis:// or unix:// URI
func dial(options Options) (redis.Conn, error) {
	uri, err := url.Parse(options.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URI: %w", err)
	}

	dialOptions := []redis.DialOption{
		redis.DialConnectTimeout(options.ConnectTimeout),
		redis.DialReadTimeout(options.ReadTimeout),
		redis.DialWriteTimeout(options.WriteTimeout),
	}

	var network, address string
	switch uri.Scheme {
	case "redis", "rediss":
		network = "tcp"
		address = uri.Host
		if uri.User != nil {
			if password, ok := uri.User.Password(); ok {
				dialOptions = append(dialOptions, redis.DialPassword(password))
			}
		}
		if len(uri.Path) > 1 {
			var db int
			if _, err := fmt.Sscanf(uri.Path[1:], "%d", &db); err != nil {
				return nil, fmt.Errorf("invalid redis database %q", uri.Path[1:])
			}
			dialOptions = append(dialOptions, redis.DialDatabase(db))
		}
		if uri.Scheme == "rediss" {
			dialOptions = append(dialOptions, redis.DialUseTLS(true))
		}
	case "unix":
		network = "unix"
		address = uri.Path
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScheme, uri.Scheme)
	}

	c, err := redis.Dial(network, address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial redis: %w", err)
	}
	return c, nil
}

type conn struct {
	pool   *redis.Pool
	key    string
	name   string
	logger *slog.Logger
}

func (c *conn) Push(ctx context.Context, job *queue.Job) error {
	data, err := queue.Encode(job)
	if err != nil {
		return err
	}

	rc, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection: %w", err)
	}
	defer rc.Close()

	if _, err := rc.Do("RPUSH", c.key, data); err != nil {
		return fmt.Errorf("failed to push job %s: %w", job.ID, err)
	}
	return nil
}

// Deliveries pops jobs with BLPOP. Redis has no acknowledgement, so a job is
// gone from the list as soon as it is popped.
func (c *conn) Deliveries(ctx context.Context, _ int) (<-chan queue.Delivery, error) {
	out := make(chan queue.Delivery)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}

			job, err := c.pop(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("Failed to pop job from redis",
					slog.String("queue", c.name),
					slog.Any("error", err),
				)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			if job == nil {
				continue
			}

			select {
			case out <- queue.Delivery{Job: job}:
			case <-ctx.Done():
				// put it back at the head so it is the next one served
				if err := c.unpop(job); err != nil {
					c.logger.Error("Failed to return job to redis",
						slog.String("job_id", job.ID),
						slog.Any("error", err),
					)
				}
				return
			}
		}
	}()

	return out, nil
}

func (c *conn) pop(ctx context.Context) (*queue.Job, error) {
	rc, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reply, err := redis.ByteSlices(rc.Do("BLPOP", c.key, popTimeout))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply length %d", len(reply))
	}

	job, err := queue.Decode(reply[1])
	if err != nil {
		c.logger.Error("Dropping malformed job",
			slog.String("queue", c.name),
			slog.Any("error", err),
		)
		return nil, nil
	}
	return job, nil
}

func (c *conn) unpop(job *queue.Job) error {
	data, err := queue.Encode(job)
	if err != nil {
		return err
	}

	rc := c.pool.Get()
	defer rc.Close()

	_, err = rc.Do("LPUSH", c.key, data)
	return err
}

func (c *conn) Close() error {
	return c.pool.Close()
}
