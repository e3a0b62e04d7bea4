package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/zflow/zflow/internal/queue"
)

// Scheduler enqueues ticket-cleanup runs on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewScheduler creates a scheduler. spec accepts an optional seconds field.
func NewScheduler(spec string, enqueuer Enqueuer, logger *slog.Logger) (*Scheduler, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	s := &Scheduler{
		cron:     cron.New(cron.WithParser(parser)),
		enqueuer: enqueuer,
		logger:   logger,
	}

	if _, err := s.cron.AddFunc(spec, s.enqueueCleanup); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) enqueueCleanup() {
	job, err := s.enqueuer.Add(context.Background(), queue.TicketCleanup, queue.JobCleanupTickets,
		queue.CleanupPayload{TriggeredBy: "cron"})
	if err != nil {
		s.logger.Error("Failed to enqueue ticket cleanup", slog.Any("error", err))
		return
	}
	s.logger.Info("Ticket cleanup enqueued", slog.String("job_id", job.ID))
}

// Start runs the schedule in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", slog.Int("entries", len(s.cron.Entries())))
}

// Stop halts the schedule and waits for a running enqueue to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}
