package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/realtime"
	"github.com/zflow/zflow/internal/whatsapp"
	"github.com/zflow/zflow/internal/worker/storage"
)

// Enqueuer adds follow-up jobs
type Enqueuer interface {
	Add(ctx context.Context, queueName, jobName string, data any) (*queue.Job, error)
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Storage      *storage.Storage
	Sender       whatsapp.Sender
	Events       realtime.Publisher
	Enqueuer     Enqueuer
	DispatchRate float64 // messages per second across bulk dispatch
	BatchSize    int
	StaleAfter   time.Duration
}

// Worker implements the processors of every registered queue
type Worker struct {
	logger     *slog.Logger
	storage    *storage.Storage
	sender     whatsapp.Sender
	events     realtime.Publisher
	enqueuer   Enqueuer
	limiter    *rate.Limiter
	batchSize  int
	staleAfter time.Duration
	now        func() time.Time
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	limit := rate.Inf
	if cfg.DispatchRate > 0 {
		limit = rate.Limit(cfg.DispatchRate)
	}

	return &Worker{
		logger:     cfg.Logger,
		storage:    cfg.Storage,
		sender:     cfg.Sender,
		events:     cfg.Events,
		enqueuer:   cfg.Enqueuer,
		limiter:    rate.NewLimiter(limit, 1),
		batchSize:  batchSize,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
}

// Processors binds the worker to the queue registry
func (w *Worker) Processors() queue.Processors {
	return queue.Processors{
		MessageSending:    w.sendMessage,
		BulkDispatch:      w.bulkDispatch,
		CampaignExecution: w.executeCampaign,
		TicketCleanup:     w.cleanupTickets,
	}
}

// emit publishes an event; delivery problems never fail the job
func (w *Worker) emit(ctx context.Context, event realtime.Event) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(ctx, event); err != nil {
		w.logger.Warn("Failed to publish realtime event",
			slog.String("event", event.Name),
			slog.String("tenant_id", event.TenantID),
			slog.Any("error", err),
		)
	}
}
