package memory

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zflow/zflow/internal/queue"
)

func TestBroker_ProducerAndConsumerShareQueue(t *testing.T) {
	broker := NewBroker(10)
	ctx := context.Background()

	producer, err := broker.Open(ctx, "q")
	require.NoError(t, err)
	consumer, err := broker.Open(ctx, "q")
	require.NoError(t, err)

	require.NoError(t, producer.Push(ctx, &queue.Job{ID: "j1"}))
	assert.Equal(t, 1, broker.Len("q"))

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries, err := consumer.Deliveries(dctx, 1)
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		assert.Equal(t, "j1", d.Job.ID)
		assert.Nil(t, d.Ack)
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func TestConn_Close(t *testing.T) {
	broker := NewBroker(1)
	ctx := context.Background()

	c, err := broker.Open(ctx, "q")
	require.NoError(t, err)

	deliveries, err := c.Deliveries(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, open := <-deliveries
	assert.False(t, open)
	assert.ErrorIs(t, c.Push(ctx, &queue.Job{ID: "j1"}), ErrClosed)
}

func TestConn_PushRespectsContextWhenFull(t *testing.T) {
	broker := NewBroker(1)
	c, err := broker.Open(context.Background(), "q")
	require.NoError(t, err)

	require.NoError(t, c.Push(context.Background(), &queue.Job{ID: "j1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Push(ctx, &queue.Job{ID: "j2"}), context.DeadlineExceeded)
}

func TestBroker_WithManager(t *testing.T) {
	broker := NewBroker(10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var processed atomic.Int32
	count := func(context.Context, *queue.Job) (any, error) {
		processed.Add(1)
		return nil, nil
	}

	workers := queue.NewManager(broker, logger, queue.Registry(queue.Processors{
		MessageSending:    count,
		BulkDispatch:      count,
		CampaignExecution: count,
		TicketCleanup:     count,
	}))
	require.NoError(t, workers.InitQueues(context.Background()))
	defer workers.CloseQueues()

	producer := queue.NewManager(broker, logger, queue.Registry(queue.Processors{}), queue.WithoutWorkers())
	require.NoError(t, producer.InitQueues(context.Background()))
	defer producer.CloseQueues()

	for i := 0; i < 3; i++ {
		_, err := producer.Add(context.Background(), queue.MessageSending, "send", map[string]int{"n": i})
		require.NoError(t, err)
	}
	_, err := producer.Add(context.Background(), queue.TicketCleanup, "cleanup", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return processed.Load() == 4 }, time.Second, 5*time.Millisecond)
}
