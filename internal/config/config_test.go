package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"HTTP_ADDR", "GRPC_ADDR", "STORE_DRIVER", "INVENTORY_DRIVER", "MYSQL_DSN",
	"POSTGRES_URL", "REDIS_ADDR", "IDEMPOTENCY_TTL", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"PUBLISH_WORKERS", "PUBLISH_QUEUE_SIZE", "OTEL_ENDPOINT", "LOG_LEVEL", "SEED_DEMO",
}

func clearEnv(t *testing.T) {
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Empty(t, cfg.InventoryDriver)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 4, cfg.PublishWorkers)
	assert.Equal(t, 1000, cfg.PublishQueueSize)
	assert.True(t, cfg.SeedDemo)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("INVENTORY_DRIVER", "redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("IDEMPOTENCY_TTL", "10m")
	t.Setenv("PUBLISH_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Minute, cfg.IdempotencyTTL)
	assert.Equal(t, 8, cfg.PublishWorkers)
	assert.False(t, cfg.SeedDemo)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown store", "STORE_DRIVER", "sqlite"},
		{"unknown inventory", "INVENTORY_DRIVER", "memcached"},
		{"bad workers", "PUBLISH_WORKERS", "many"},
		{"zero workers", "PUBLISH_WORKERS", "0"},
		{"negative queue", "PUBLISH_QUEUE_SIZE", "-1"},
		{"bad ttl", "IDEMPOTENCY_TTL", "forever"},
		{"bad seed flag", "SEED_DEMO", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
