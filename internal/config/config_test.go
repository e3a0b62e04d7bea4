package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "postgres", cfg.Database.Driver)
			assert.Equal(t, "zflow", cfg.Database.Database)
			assert.Equal(t, "zflow.jobs", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, 5, cfg.Queue.MaxAttempts)
			assert.Equal(t, 2*time.Second, cfg.Queue.Backoff)
			assert.Equal(t, 10*time.Minute, cfg.Auth.AccessTTL)
			assert.Equal(t, int64(1048576), cfg.Upload.MaxSize)
			assert.Equal(t, 25, cfg.Worker.DispatchBatchSize)
			assert.Equal(t, "zflow-api", cfg.App.Name)
		})
	}
}

func TestLoad_KeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := Load("testdata/invalid_port.yaml")
	require.NoError(t, err)

	assert.Equal(t, "zflow.events", cfg.Realtime.Exchange)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverlay(t *testing.T) {
	t.Setenv("ZFLOW_DATABASE_PASSWORD", "s3cret")
	t.Setenv("ZFLOW_DATABASE_PORT", "6543")
	t.Setenv("ZFLOW_QUEUE_BACKEND", "redis")
	t.Setenv("ZFLOW_REDIS_URI", "redis://cache:6379/1")
	t.Setenv("ZFLOW_WHATSAPP_ACCESS_TOKEN", "wa-token")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, QueueBackendRedis, cfg.Queue.Backend)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URI)
	assert.Equal(t, "wa-token", cfg.WhatsApp.AccessToken)
}

func TestFromEnv_IgnoresBadPort(t *testing.T) {
	t.Setenv("ZFLOW_DATABASE_PORT", "not-a-port")

	cfg := Default()
	cfg.Database.Port = 5432
	FromEnv(cfg)

	assert.Equal(t, 5432, cfg.Database.Port)
}

func validConfig() *Config {
	cfg := Default()
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Database = "zflow"
	cfg.RabbitMQ.Host = "localhost"
	cfg.RabbitMQ.Port = 5672
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			errString: "invalid database port",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name: "sqlite needs a path",
			mutate: func(c *Config) {
				c.Database.Driver = "sqlite"
				c.Database.Host = ""
			},
			errString: "database path is required for sqlite",
		},
		{
			name: "sqlite with path",
			mutate: func(c *Config) {
				c.Database.Driver = "sqlite"
				c.Database.Path = "zflow.db"
			},
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "oracle" },
			errString: "unsupported database driver: oracle",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 70000 },
			errString: "invalid rabbitmq port",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "memory backend skips rabbitmq",
			mutate: func(c *Config) {
				c.Queue.Backend = QueueBackendMemory
				c.RabbitMQ.Host = ""
			},
		},
		{
			name: "redis backend needs uri",
			mutate: func(c *Config) {
				c.Queue.Backend = QueueBackendRedis
				c.Redis.URI = ""
			},
			errString: "redis uri is required",
		},
		{
			name:      "unknown backend",
			mutate:    func(c *Config) { c.Queue.Backend = "kafka" },
			errString: "unsupported queue backend: kafka",
		},
		{
			name:      "max attempts below one",
			mutate:    func(c *Config) { c.Queue.MaxAttempts = 0 },
			errString: "queue max_attempts must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "zero access ttl",
			mutate:    func(c *Config) { c.Auth.AccessTTL = 0 },
			errString: "auth access_ttl must be greater than 0",
		},
		{
			name:      "refresh shorter than access",
			mutate:    func(c *Config) { c.Auth.RefreshTTL = time.Minute },
			errString: "auth refresh_ttl must be greater than access_ttl",
		},
		{
			name:      "empty upload dir",
			mutate:    func(c *Config) { c.Upload.Dir = "" },
			errString: "upload dir is required",
		},
		{
			name:      "zero upload size",
			mutate:    func(c *Config) { c.Upload.MaxSize = 0 },
			errString: "upload max_size must be greater than 0",
		},
		{
			name:      "shared validation runs first",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:      "zero job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = 0 },
			errString: "worker job_timeout must be greater than 0",
		},
		{
			name:      "empty cleanup cron",
			mutate:    func(c *Config) { c.Worker.CleanupCron = "" },
			errString: "worker cleanup_cron is required",
		},
		{
			name:      "zero stale after",
			mutate:    func(c *Config) { c.Worker.StaleAfter = 0 },
			errString: "worker stale_after must be greater than 0",
		},
		{
			name:      "zero dispatch rate",
			mutate:    func(c *Config) { c.Worker.DispatchRate = 0 },
			errString: "worker dispatch_rate must be greater than 0",
		},
		{
			name:      "zero batch size",
			mutate:    func(c *Config) { c.Worker.DispatchBatchSize = 0 },
			errString: "worker dispatch_batch_size must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			errString: "worker shutdown_timeout must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
