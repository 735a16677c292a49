package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"GENLEDGER_POSTGRES_USER", "GENLEDGER_POSTGRES_PASSWORD", "GENLEDGER_POSTGRES_HOST",
	"GENLEDGER_POSTGRES_PORT", "GENLEDGER_POSTGRES_DB", "GENLEDGER_POSTGRES_SSLMODE",
	"GENLEDGER_REDIS_HOST", "GENLEDGER_REDIS_PORT", "GENLEDGER_NATS_HOST", "GENLEDGER_NATS_PORT",
	"GENLEDGER_GRPC_HOST", "GENLEDGER_GRPC_PORT", "GENLEDGER_GRPC_LISTEN_ADDR", "GENLEDGER_API_PORT", "GENLEDGER_API_ENABLED",
	"GENLEDGER_BUS_PROVIDER", "GENLEDGER_WORKER_PROVIDER", "GENLEDGER_BUS_BUFFER_SIZE",
	"GENLEDGER_STORE_PROVIDER", "GENLEDGER_PRICING_FILE", "GENLEDGER_MARKUP",
	"GENLEDGER_CREDIT_UNIT_VALUE", "GENLEDGER_STARTING_GRANT", "GENLEDGER_IDEMPOTENCY_TTL",
	"GENLEDGER_REPORT_RETRY_ATTEMPTS", "GENLEDGER_LOG_LEVEL", "GENLEDGER_LOG_FORMAT",
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestNew_Defaults(t *testing.T) {
	setEnv(t, map[string]string{
		"GENLEDGER_POSTGRES_USER": "ledger",
		"GENLEDGER_POSTGRES_HOST": "localhost",
		"GENLEDGER_POSTGRES_DB":   "ledger",
	})

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.StoreProvider)
	assert.Equal(t, ProviderNone, cfg.BusProvider)
	assert.Equal(t, ProviderNone, cfg.WorkerProvider)
	assert.Equal(t, "3", cfg.Markup.String())
	assert.Equal(t, "0.01", cfg.CreditUnitValue.String())
	assert.Equal(t, int64(20), cfg.StartingGrant)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 1024, cfg.BusBufferSize)
	assert.Equal(t, ":50051", cfg.GRPCListenAddr)
	assert.False(t, cfg.RedisEnabled())
	assert.Equal(t, "postgres://ledger:@localhost:5432/ledger?sslmode=disable", cfg.DSN())

	_, err = cfg.ApiAddr()
	assert.Error(t, err)
}

func TestNew_FullConfig(t *testing.T) {
	setEnv(t, map[string]string{
		"GENLEDGER_STORE_PROVIDER":    "memory",
		"GENLEDGER_BUS_PROVIDER":      "nats",
		"GENLEDGER_WORKER_PROVIDER":   "grpc",
		"GENLEDGER_NATS_HOST":         "nats",
		"GENLEDGER_GRPC_HOST":         "0.0.0.0",
		"GENLEDGER_GRPC_PORT":         "9090",
		"GENLEDGER_REDIS_HOST":        "redis",
		"GENLEDGER_API_ENABLED":       "true",
		"GENLEDGER_API_PORT":          "8080",
		"GENLEDGER_MARKUP":            "2.5",
		"GENLEDGER_STARTING_GRANT":    "100",
		"GENLEDGER_IDEMPOTENCY_TTL":   "1h",
		"GENLEDGER_CREDIT_UNIT_VALUE": "0.001",
	})

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "nats://nats:4222", cfg.NatsAddr())
	assert.Equal(t, "0.0.0.0:9090", cfg.GRPCAddr())
	assert.Equal(t, "redis:6379", cfg.RedisAddr())
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, "2.5", cfg.Markup.String())
	assert.Equal(t, int64(100), cfg.StartingGrant)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)

	addr, err := cfg.ApiAddr()
	require.NoError(t, err)
	assert.Equal(t, ":8080", addr)
}

func TestNew_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"missing database": {},
		"bad store":        {"GENLEDGER_STORE_PROVIDER": "sqlite"},
		"bad bus":          {"GENLEDGER_STORE_PROVIDER": "memory", "GENLEDGER_BUS_PROVIDER": "kafka"},
		"grpc without address": {
			"GENLEDGER_STORE_PROVIDER": "memory",
			"GENLEDGER_BUS_PROVIDER":   "grpc",
		},
		"nats without host": {
			"GENLEDGER_STORE_PROVIDER":  "memory",
			"GENLEDGER_WORKER_PROVIDER": "nats",
		},
		"zero markup":     {"GENLEDGER_STORE_PROVIDER": "memory", "GENLEDGER_MARKUP": "0"},
		"garbage markup":  {"GENLEDGER_STORE_PROVIDER": "memory", "GENLEDGER_MARKUP": "three"},
		"negative grant":  {"GENLEDGER_STORE_PROVIDER": "memory", "GENLEDGER_STARTING_GRANT": "-5"},
		"bad ttl":         {"GENLEDGER_STORE_PROVIDER": "memory", "GENLEDGER_IDEMPOTENCY_TTL": "forever"},
		"zero unit value": {"GENLEDGER_STORE_PROVIDER": "memory", "GENLEDGER_CREDIT_UNIT_VALUE": "0"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			setEnv(t, env)
			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestApiAddr_RequiresPort(t *testing.T) {
	cfg := &Config{ApiEnabled: "true"}
	_, err := cfg.ApiAddr()
	assert.Error(t, err)
}
