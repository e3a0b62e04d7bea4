package brokers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zflow/zflow/internal/config"
	"github.com/zflow/zflow/internal/queue/brokers/memory"
	"github.com/zflow/zflow/internal/queue/brokers/rabbitmq"
	"github.com/zflow/zflow/internal/queue/brokers/redis"
	"github.com/zflow/zflow/shared/logger"
)

func TestNew(t *testing.T) {
	tests := []struct {
		backend string
		want    any
		wantErr string
	}{
		{backend: config.QueueBackendRabbitMQ, want: &rabbitmq.Broker{}},
		{backend: config.QueueBackendRedis, want: &redis.Broker{}},
		{backend: config.QueueBackendMemory, want: &memory.Broker{}},
		{backend: "kafka", wantErr: "unsupported queue backend: kafka"},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Queue.Backend = tt.backend

			broker, err := New(cfg, logger.NewDiscard().Logger)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, broker)
		})
	}
}
