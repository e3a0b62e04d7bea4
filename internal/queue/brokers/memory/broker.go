// Package memory is an in-process queue broker backed by buffered channels.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/zflow/zflow/internal/queue"
)

// ErrClosed is returned by operations on a closed connection
var ErrClosed = errors.New("memory queue connection closed")

// Broker keeps one buffered channel per queue name. Every connection opened
// for the same name shares it, so producers and consumers in one process meet.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]chan *queue.Job
	queueSize int
}

// NewBroker creates an in-memory broker whose queues hold up to queueSize jobs
func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Broker{
		queues:    make(map[string]chan *queue.Job),
		queueSize: queueSize,
	}
}

// Open returns a connection to the named queue
func (b *Broker) Open(_ context.Context, name string) (queue.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.queues[name]
	if !ok {
		ch = make(chan *queue.Job, b.queueSize)
		b.queues[name] = ch
	}
	return &conn{jobs: ch, done: make(chan struct{})}, nil
}

// Len returns the number of jobs waiting in the named queue
func (b *Broker) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[name])
}

type conn struct {
	jobs      chan *queue.Job
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Push(ctx context.Context, job *queue.Job) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.jobs <- job:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) Deliveries(ctx context.Context, _ int) (<-chan queue.Delivery, error) {
	out := make(chan queue.Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case job := <-c.jobs:
				select {
				case out <- queue.Delivery{Job: job}:
				case <-ctx.Done():
					c.requeue(job)
					return
				case <-c.done:
					c.requeue(job)
					return
				}
			}
		}
	}()

	return out, nil
}

// requeue puts back a job taken off the channel but never handed out
func (c *conn) requeue(job *queue.Job) {
	select {
	case c.jobs <- job:
	default:
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
