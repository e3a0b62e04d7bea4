package queue

import "context"

// Broker opens per-queue connections to a job engine
type Broker interface {
	Open(ctx context.Context, queue string) (Conn, error)
}

// Conn is one queue's connection to the engine. Close releases it.
type Conn interface {
	Push(ctx context.Context, job *Job) error
	// Deliveries streams jobs until ctx is done; the channel is closed afterwards.
	Deliveries(ctx context.Context, prefetch int) (<-chan Delivery, error)
	Close() error
}

// Delivery is a job handed out by the engine. Ack removes it for good.
type Delivery struct {
	Job *Job
	Ack func() error
}
