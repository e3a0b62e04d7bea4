package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zflow/zflow/shared/apperror"
)

// Manager owns the named queues of one process
type Manager struct {
	broker      Broker
	logger      *slog.Logger
	descriptors []Descriptor
	opts        Options
	consume     bool

	mu     sync.RWMutex
	queues map[string]*Queue
	opened []*Queue
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithoutWorkers makes the manager producer-only: queues are opened but never consumed
func WithoutWorkers() ManagerOption {
	return func(m *Manager) {
		m.consume = false
	}
}

// WithOptions sets the retry policy shared by every queue
func WithOptions(opts Options) ManagerOption {
	return func(m *Manager) {
		m.opts = opts
	}
}

// NewManager creates a manager for the given descriptors. No queue exists until InitQueues.
func NewManager(broker Broker, logger *slog.Logger, descriptors []Descriptor, opts ...ManagerOption) *Manager {
	m := &Manager{
		broker:      broker,
		logger:      logger,
		descriptors: descriptors,
		opts:        Options{MaxAttempts: 1},
		consume:     true,
		queues:      make(map[string]*Queue),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InitQueues opens every registered queue and, unless producer-only, attaches its processor.
// Calling it twice without CloseQueues opens duplicate queues.
func (m *Manager) InitQueues(ctx context.Context) error {
	for _, d := range m.descriptors {
		if err := m.initQueue(ctx, d); err != nil {
			return err
		}
	}

	m.logger.Info("Queues initialized",
		slog.Int("count", len(m.descriptors)),
		slog.Bool("workers", m.consume),
	)
	return nil
}

func (m *Manager) initQueue(ctx context.Context, d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("queue descriptor without a name")
	}
	if d.Concurrency < 1 {
		return fmt.Errorf("queue %q: concurrency must be at least 1", d.Name)
	}
	if m.consume && d.Processor == nil {
		return fmt.Errorf("queue %q: no processor registered", d.Name)
	}

	conn, err := m.broker.Open(ctx, d.Name)
	if err != nil {
		return fmt.Errorf("failed to open queue %q: %w", d.Name, err)
	}

	q := newQueue(d.Name, conn, m.opts, m.logger)

	q.OnFailed(func(job *Job, err error) {
		m.logger.Error("Job failed",
			slog.String("queue", d.Name),
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempts),
			slog.Any("error", err),
		)
	})
	q.OnCompleted(func(job *Job, _ any) {
		m.logger.Info("Job completed",
			slog.String("queue", d.Name),
			slog.String("job_id", job.ID),
		)
	})

	m.mu.Lock()
	m.queues[d.Name] = q
	m.opened = append(m.opened, q)
	m.mu.Unlock()

	if m.consume {
		if err := q.Process(d.Concurrency, d.Processor); err != nil {
			return err
		}
	}

	return nil
}

// GetQueue returns the queue registered under name
func (m *Manager) GetQueue(name string) (*Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.queues[name]
	if !ok {
		return nil, apperror.NotFoundf("Queue %q not found. Did you call initQueues()?", name)
	}
	return q, nil
}

// Add enqueues a job on the named queue
func (m *Manager) Add(ctx context.Context, queueName, jobName string, data any) (*Job, error) {
	q, err := m.GetQueue(queueName)
	if err != nil {
		return nil, err
	}
	return q.Add(ctx, jobName, data)
}

// GetAllQueues returns every registered queue in no particular order
func (m *Manager) GetAllQueues() []*Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queues := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	return queues
}

// CloseQueues closes every opened queue and clears the registry. Close errors are
// joined; a queue whose close failed is still dropped from the registry.
func (m *Manager) CloseQueues() error {
	m.mu.Lock()
	opened := m.opened
	m.opened = nil
	m.queues = make(map[string]*Queue)
	m.mu.Unlock()

	var errs []error
	for _, q := range opened {
		if err := q.Close(); err != nil {
			m.logger.Error("Failed to close queue",
				slog.String("queue", q.Name()),
				slog.Any("error", err),
			)
			errs = append(errs, err)
		}
	}

	m.logger.Info("Queues closed", slog.Int("count", len(opened)))
	return errors.Join(errs...)
}
