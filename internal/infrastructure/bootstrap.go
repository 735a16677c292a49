package infrastructure

import (
	"context"
	"fmt"
	"time"

	"genledger/internal/config"
	"genledger/internal/credit"
	"genledger/internal/logger"
	"genledger/internal/metrics"
	"genledger/internal/pricing"
	"genledger/internal/repository"
	"genledger/internal/service"
	transportGRPC "genledger/internal/transport/grpc"
	transportHTTP "genledger/internal/transport/http"
	transportNATS "genledger/internal/transport/nats"
	"genledger/internal/worker"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Bootstrap loads config from the environment and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	app, cleanup, err := Build(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return app, func() {
		cleanup()
		_ = log.Sync()
	}, nil
}

// Build wires the ledger and its transports from an already validated config.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, func(), error) {
	var cleanupFns []func()
	fail := func(err error) (*App, func(), error) {
		runCleanup(cleanupFns)()
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New("genledger", reg)

	resolver, err := newResolver(cfg, m, log)
	if err != nil {
		return fail(err)
	}
	converter, err := credit.NewConverter(cfg.Markup, cfg.CreditUnitValue)
	if err != nil {
		return fail(err)
	}

	// ── Storage ────────────────────────────────────────────────────────────────
	var store repository.Store
	switch cfg.StoreProvider {
	case config.StorePostgres:
		db, err := connectPostgres(ctx, cfg.DSN())
		if err != nil {
			return fail(err)
		}
		cleanupFns = append(cleanupFns, db.Close)
		store = repository.NewPostgresStore(db)
	default:
		log.Warn("Using in-memory store, balances are lost on restart")
		store = repository.NewMemoryStore()
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithStartingGrant(cfg.StartingGrant),
	}

	if cfg.RedisEnabled() {
		rdb, err := connectRedis(ctx, cfg.RedisAddr())
		if err != nil {
			return fail(err)
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
		opts = append(opts, service.WithIdempotencyGuard(repository.NewRedisGuard(rdb, cfg.IdempotencyTTL)))
	}

	// ── Messaging ──────────────────────────────────────────────────────────────
	var nc *nats.Conn
	if cfg.BusProvider == config.ProviderNATS || cfg.WorkerProvider == config.ProviderNATS {
		nc, err = connectNats(cfg.NatsAddr(), log)
		if err != nil {
			return fail(fmt.Errorf("connect nats: %w", err))
		}
		cleanupFns = append(cleanupFns, nc.Close)
	}

	switch cfg.BusProvider {
	case config.ProviderNATS:
		opts = append(opts, service.WithBus(transportNATS.NewBus(nc)))
	case config.ProviderGRPC:
		bus, cleanup, err := transportGRPC.NewBusFromAddr(cfg.GRPCAddr(), cfg.BusBufferSize, log)
		if err != nil {
			return fail(err)
		}
		cleanupFns = append(cleanupFns, cleanup)
		opts = append(opts, service.WithBus(bus))
	}

	svc := service.NewLedger(store, resolver, converter, opts...)

	// ── Servers ────────────────────────────────────────────────────────────────
	// The gRPC server always runs; its Events service is the report sink when
	// the worker provider is grpc.
	servers := []Server{transportGRPC.NewServer(cfg.GRPCListenAddr, svc, log)}

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc, m, reg, log))
	}
	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(svc, nc, log))
	}
	if cfg.WorkerProvider == config.ProviderNATS {
		servers = append(servers, worker.NewReportWorker(svc, nc, log,
			worker.WithRetry(cfg.ReportRetryAttempts, 100*time.Millisecond, 5*time.Second),
			worker.WithMetrics(m),
		))
	}

	log.Info("Application wired",
		zap.String("store", cfg.StoreProvider),
		zap.String("bus", cfg.BusProvider),
		zap.String("worker", cfg.WorkerProvider),
		zap.Bool("idempotency", cfg.RedisEnabled()),
		zap.Int("servers", len(servers)),
	)

	return NewApp(servers, log), runCleanup(cleanupFns), nil
}

func newResolver(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (*pricing.Resolver, error) {
	var (
		table *pricing.StaticTable
		err   error
	)
	if cfg.PricingFile != "" {
		table, err = pricing.LoadFile(cfg.PricingFile)
	} else {
		table, err = pricing.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load pricing table: %w", err)
	}

	return pricing.NewResolver(table,
		pricing.WithLogger(log),
		pricing.WithFallbackHook(func(res pricing.Resolution) {
			m.PricingFallbacks.WithLabelValues(res.Provider, res.Model).Inc()
		}),
	), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
