package config

import (
	"os"
	"strconv"
)

// FromEnv overlays ZFLOW_* environment variables onto cfg. Secrets are
// expected to arrive this way rather than through the YAML file.
func FromEnv(cfg *Config) {
	if v := os.Getenv("ZFLOW_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ZFLOW_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ZFLOW_DATABASE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("ZFLOW_DATABASE_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ZFLOW_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ZFLOW_DATABASE_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("ZFLOW_RABBITMQ_HOST"); v != "" {
		cfg.RabbitMQ.Host = v
	}
	if v := os.Getenv("ZFLOW_RABBITMQ_USER"); v != "" {
		cfg.RabbitMQ.User = v
	}
	if v := os.Getenv("ZFLOW_RABBITMQ_PASSWORD"); v != "" {
		cfg.RabbitMQ.Password = v
	}
	if v := os.Getenv("ZFLOW_REDIS_URI"); v != "" {
		cfg.Redis.URI = v
	}
	if v := os.Getenv("ZFLOW_QUEUE_BACKEND"); v != "" {
		cfg.Queue.Backend = v
	}
	if v := os.Getenv("ZFLOW_WHATSAPP_ACCESS_TOKEN"); v != "" {
		cfg.WhatsApp.AccessToken = v
	}
	if v := os.Getenv("ZFLOW_WHATSAPP_PHONE_NUMBER_ID"); v != "" {
		cfg.WhatsApp.PhoneNumberID = v
	}
	if v := os.Getenv("ZFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
