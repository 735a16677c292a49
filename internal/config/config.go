package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	ProviderNATS = "nats"
	ProviderGRPC = "grpc"
	ProviderNone = "none"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string
	NatsHost  string
	NatsPort  string
	GRPCHost  string
	GRPCPort  string

	// GRPCListenAddr is where this service serves the Ledger and Events gRPC services.
	GRPCListenAddr string

	ApiPort        string
	ApiEnabled     string
	BusProvider    string
	WorkerProvider string
	BusBufferSize  int
	StoreProvider  string

	PricingFile         string
	Markup              decimal.Decimal
	CreditUnitValue     decimal.Decimal
	StartingGrant       int64
	IdempotencyTTL      time.Duration
	ReportRetryAttempts int

	LogLevel  string
	LogFormat string
}

// New loads and validates configuration from environment variables.
// The HTTP API is optional: if GENLEDGER_API_ENABLED != "true", ApiAddr() returns an error
// and the HTTP server won't start. Redis is optional too; without it submissions are
// not deduplicated by idempotency key.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:         os.Getenv("GENLEDGER_POSTGRES_USER"),
		DBPass:         os.Getenv("GENLEDGER_POSTGRES_PASSWORD"),
		DBHost:         os.Getenv("GENLEDGER_POSTGRES_HOST"),
		DBPort:         getEnv("GENLEDGER_POSTGRES_PORT", "5432"),
		DBName:         os.Getenv("GENLEDGER_POSTGRES_DB"),
		SSLMode:        getEnv("GENLEDGER_POSTGRES_SSLMODE", "disable"),
		RedisHost:      os.Getenv("GENLEDGER_REDIS_HOST"),
		RedisPort:      getEnv("GENLEDGER_REDIS_PORT", "6379"),
		NatsHost:       os.Getenv("GENLEDGER_NATS_HOST"),
		NatsPort:       getEnv("GENLEDGER_NATS_PORT", "4222"),
		GRPCHost:       os.Getenv("GENLEDGER_GRPC_HOST"),
		GRPCPort:       os.Getenv("GENLEDGER_GRPC_PORT"),
		GRPCListenAddr: getEnv("GENLEDGER_GRPC_LISTEN_ADDR", ":50051"),
		ApiPort:        os.Getenv("GENLEDGER_API_PORT"),
		ApiEnabled:     os.Getenv("GENLEDGER_API_ENABLED"),
		BusProvider:    getEnv("GENLEDGER_BUS_PROVIDER", ProviderNone),
		WorkerProvider: os.Getenv("GENLEDGER_WORKER_PROVIDER"),
		BusBufferSize:  getEnvInt("GENLEDGER_BUS_BUFFER_SIZE", 1024),
		StoreProvider:  getEnv("GENLEDGER_STORE_PROVIDER", StorePostgres),
		PricingFile:    os.Getenv("GENLEDGER_PRICING_FILE"),
		LogLevel:       getEnv("GENLEDGER_LOG_LEVEL", "info"),
		LogFormat:      getEnv("GENLEDGER_LOG_FORMAT", "json"),

		StartingGrant:       getEnvInt64("GENLEDGER_STARTING_GRANT", 20),
		ReportRetryAttempts: getEnvInt("GENLEDGER_REPORT_RETRY_ATTEMPTS", 5),
	}

	var err error
	if cfg.Markup, err = getEnvDecimal("GENLEDGER_MARKUP", "3"); err != nil {
		return nil, err
	}
	if cfg.CreditUnitValue, err = getEnvDecimal("GENLEDGER_CREDIT_UNIT_VALUE", "0.01"); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = getEnvDuration("GENLEDGER_IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreProvider {
	case StorePostgres:
		if c.DBUser == "" || c.DBHost == "" || c.DBName == "" {
			return fmt.Errorf("missing required env for database: GENLEDGER_POSTGRES_USER/HOST/DB")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store provider %q, must be 'postgres' or 'memory'", c.StoreProvider)
	}

	if !validProvider(c.BusProvider) {
		return fmt.Errorf("invalid bus provider %q, must be 'nats', 'grpc' or 'none'", c.BusProvider)
	}
	// Worker provider defaults to the bus provider.
	if c.WorkerProvider == "" {
		c.WorkerProvider = c.BusProvider
	}
	if !validProvider(c.WorkerProvider) {
		return fmt.Errorf("invalid worker provider %q, must be 'nats', 'grpc' or 'none'", c.WorkerProvider)
	}
	if c.BusProvider == ProviderGRPC && (c.GRPCHost == "" || c.GRPCPort == "") {
		return fmt.Errorf("missing required env for grpc bus: GENLEDGER_GRPC_HOST/PORT")
	}
	if c.uses(ProviderNATS) && c.NatsHost == "" {
		return fmt.Errorf("missing required env for nats: GENLEDGER_NATS_HOST")
	}

	if !c.Markup.IsPositive() {
		return fmt.Errorf("GENLEDGER_MARKUP must be positive, got %s", c.Markup)
	}
	if !c.CreditUnitValue.IsPositive() {
		return fmt.Errorf("GENLEDGER_CREDIT_UNIT_VALUE must be positive, got %s", c.CreditUnitValue)
	}
	if c.StartingGrant < 0 {
		return fmt.Errorf("GENLEDGER_STARTING_GRANT must not be negative, got %d", c.StartingGrant)
	}
	if c.BusBufferSize <= 0 {
		return fmt.Errorf("GENLEDGER_BUS_BUFFER_SIZE must be positive, got %d", c.BusBufferSize)
	}
	if c.ReportRetryAttempts < 1 {
		c.ReportRetryAttempts = 1
	}
	return nil
}

func (c *Config) uses(provider string) bool {
	return c.BusProvider == provider || c.WorkerProvider == provider
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

// RedisEnabled reports whether submissions should be deduplicated through Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%s", c.GRPCHost, c.GRPCPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("GENLEDGER_API_PORT is required when GENLEDGER_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (GENLEDGER_API_ENABLED != true)")
}

func validProvider(p string) bool {
	return p == ProviderNATS || p == ProviderGRPC || p == ProviderNone
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvDecimal(key, defaultVal string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, defaultVal))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
