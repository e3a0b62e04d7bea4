package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyProcessing is returned when a second processor is attached
	ErrAlreadyProcessing = errors.New("queue already has a processor")

	// ErrQueueClosed is returned by operations on a closed queue
	ErrQueueClosed = errors.New("queue is closed")
)

// Options is the retry policy applied by every queue of a manager
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	JobTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	return o
}

// Queue is one named queue bound to its own broker connection
type Queue struct {
	name   string
	conn   Conn
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	processor   Processor
	concurrency int
	onFailed    []FailedHandler
	onCompleted []CompletedHandler
	closed      bool

	ctx      context.Context
	cancel   context.CancelFunc
	jobsChan chan Delivery
	wg       sync.WaitGroup
}

func newQueue(name string, conn Conn, opts Options, logger *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		name:   name,
		conn:   conn,
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("queue", name)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Concurrency returns the attached processor's concurrency, 0 when producer-only
func (q *Queue) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency
}

// Processing reports whether a processor is attached
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processor != nil
}

// OnFailed registers a handler for failed attempts
func (q *Queue) OnFailed(fn FailedHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFailed = append(q.onFailed, fn)
}

// OnCompleted registers a handler for completed jobs
func (q *Queue) OnCompleted(fn CompletedHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onCompleted = append(q.onCompleted, fn)
}

// Add enqueues a job named name carrying data encoded as JSON
func (q *Queue) Add(ctx context.Context, name string, data any) (*Job, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}

	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode job data: %w", err)
		}
		raw = encoded
	}

	job := &Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Name:        name,
		Data:        raw,
		MaxAttempts: q.opts.MaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}

	if err := q.conn.Push(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job on %s: %w", q.name, err)
	}

	q.logger.Debug("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_name", job.Name),
	)

	return job, nil
}

// Process attaches processor and starts concurrency workers
func (q *Queue) Process(concurrency int, processor Processor) error {
	if concurrency < 1 {
		return fmt.Errorf("invalid concurrency %d for queue %s", concurrency, q.name)
	}
	if processor == nil {
		return fmt.Errorf("nil processor for queue %s", q.name)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.processor != nil {
		return fmt.Errorf("%s: %w", q.name, ErrAlreadyProcessing)
	}

	deliveries, err := q.conn.Deliveries(q.ctx, concurrency)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", q.name, err)
	}

	q.processor = processor
	q.concurrency = concurrency
	q.jobsChan = make(chan Delivery)

	q.wg.Add(1)
	go q.dispatch(deliveries)
	q.spawnWorkerPool()

	return nil
}

// Close stops the workers and releases the broker connection. Later calls are no-ops.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	if err := q.conn.Close(); err != nil {
		return fmt.Errorf("failed to close queue %s: %w", q.name, err)
	}

	q.logger.Info("Queue closed")
	return nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) handlers() ([]FailedHandler, []CompletedHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]FailedHandler(nil), q.onFailed...), append([]CompletedHandler(nil), q.onCompleted...)
}
