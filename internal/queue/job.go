// Package queue owns the named background job queues of a process: their
// broker connections, processors, concurrency limits and retry policy.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Processor handles one job. A returned error marks the attempt as failed.
type Processor func(ctx context.Context, job *Job) (any, error)

// FailedHandler is invoked after every failed attempt
type FailedHandler func(job *Job, err error)

// CompletedHandler is invoked after a successful attempt
type CompletedHandler func(job *Job, result any)

// Descriptor binds a queue name to its processor and concurrency limit
type Descriptor struct {
	Name        string
	Concurrency int
	Processor   Processor
}

// Job is the unit of work carried by a queue
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Data        json.RawMessage `json:"data,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Bind decodes the job payload into v
func (j *Job) Bind(v any) error {
	if len(j.Data) == 0 {
		return fmt.Errorf("job %s has no data", j.ID)
	}
	if err := json.Unmarshal(j.Data, v); err != nil {
		return fmt.Errorf("failed to decode job %s data: %w", j.ID, err)
	}
	return nil
}

// CanRetry reports whether another attempt is allowed after the current one
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the job is dropped instead of retried
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Encode serializes a job for brokers that carry raw bytes
func Encode(job *Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return data, nil
}

// Decode parses a job serialized with Encode
func Decode(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("failed to decode job: missing id")
	}
	return &job, nil
}
