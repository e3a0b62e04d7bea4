package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// dispatch forwards broker deliveries to the worker pool
func (q *Queue) dispatch(deliveries <-chan Delivery) {
	defer q.wg.Done()
	defer close(q.jobsChan)

	for {
		select {
		case <-q.ctx.Done():
			return

		case d, ok := <-deliveries:
			if !ok {
				q.logger.Warn("Delivery channel closed")
				return
			}

			select {
			case q.jobsChan <- d:
			case <-q.ctx.Done():
				return
			}
		}
	}
}

// spawnWorkerPool starts one goroutine per unit of concurrency
func (q *Queue) spawnWorkerPool() {
	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop(i)
	}

	q.logger.Info("Worker pool spawned",
		slog.Int("concurrency", q.concurrency),
	)
}

func (q *Queue) workerLoop(workerNum int) {
	defer q.wg.Done()

	workerName := fmt.Sprintf("%s-%d", q.name, workerNum)

	for d := range q.jobsChan {
		q.logger.Debug("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", d.Job.ID),
		)
		q.processJob(d)
	}
}

// processJob runs the processor once and applies the retry policy
func (q *Queue) processJob(d Delivery) {
	job := d.Job
	job.Attempts++

	ctx := q.ctx
	if q.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(q.ctx, q.opts.JobTimeout)
		defer cancel()
	}

	result, err := q.run(ctx, job)
	failed, completed := q.handlers()

	if err == nil {
		for _, fn := range completed {
			fn(job, result)
		}
		q.ack(d)
		return
	}

	job.LastError = err.Error()
	for _, fn := range failed {
		fn(job, err)
	}

	if job.CanRetry() && !IsPermanent(err) {
		if !q.retry(job) {
			// shutting down or the requeue failed: leave the delivery
			// unacknowledged so the engine can redeliver it
			return
		}
	} else {
		q.logger.Warn("Job dropped",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
		)
	}

	q.ack(d)
}

// run shields the pool from panicking processors
func (q *Queue) run(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return q.processor(ctx, job)
}

// retry re-pushes job after the backoff. It returns false when the queue closed
// first or the push failed.
func (q *Queue) retry(job *Job) bool {
	if q.opts.Backoff > 0 {
		timer := time.NewTimer(q.opts.Backoff)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-q.ctx.Done():
			return false
		}
	}

	if err := q.conn.Push(q.ctx, job); err != nil {
		q.logger.Error("Failed to requeue job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return false
	}

	q.logger.Info("Job will be retried",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
	)
	return true
}

func (q *Queue) ack(d Delivery) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(); err != nil {
		q.logger.Error("Failed to ack job",
			slog.String("job_id", d.Job.ID),
			slog.Any("error", err),
		)
	}
}
