package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"genledger/internal/metrics"
	"genledger/internal/model"
	"genledger/internal/repository"
	"genledger/internal/service"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	queueGroup = "ledger_workers"

	// reportTimeout bounds one report, retries included.
	reportTimeout = 30 * time.Second
)

type Option func(*ReportWorker)

// WithRetry sets how often a report is tried when the store reports a transient failure.
func WithRetry(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(w *ReportWorker) {
		w.executor = newExecutor(attempts, baseDelay, maxDelay)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *ReportWorker) { w.metrics = m }
}

// ReportWorker listens on generation.reports.* and feeds executor outcomes
// into the ledger. QueueSubscribe ensures each report is handled by one
// worker in the group.
type ReportWorker struct {
	svc      service.LedgerService
	natsConn *nats.Conn
	executor failsafe.Executor[any]
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewReportWorker(svc service.LedgerService, nc *nats.Conn, logger *zap.Logger, opts ...Option) *ReportWorker {
	w := &ReportWorker{
		svc:      svc,
		natsConn: nc,
		executor: newExecutor(5, 100*time.Millisecond, 5*time.Second),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.NewNop()
	}
	return w
}

func newExecutor(attempts int, baseDelay, maxDelay time.Duration) failsafe.Executor[any] {
	if attempts < 1 {
		attempts = 1
	}
	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(baseDelay, maxDelay).
		WithMaxRetries(attempts - 1).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return model.IsRetryable(err)
		}).
		Build()
	return failsafe.With[any](retry)
}

// Run subscribes to executor reports and blocks until ctx is cancelled.
func (w *ReportWorker) Run(ctx context.Context) error {
	sub, err := w.natsConn.QueueSubscribe(repository.ReportSubjects, queueGroup, func(m *nats.Msg) {
		w.handle(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	w.logger.Info("Report worker is running", zap.String("subject", repository.ReportSubjects))

	<-ctx.Done()

	w.logger.Info("Worker received shutdown signal, draining subscription")
	return sub.Drain()
}

// handle applies a delivered message. Messages still buffered when Run drains
// arrive after ctx is cancelled, so each one gets its own bounded context.
func (w *ReportWorker) handle(ctx context.Context, m *nats.Msg) {
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := w.Process(msgCtx, m.Subject, m.Data); err != nil {
		w.logger.Error("worker: report dropped", zap.String("subject", m.Subject), zap.Error(err))
	}
}

// Process applies one report. The outcome comes from the payload, or from the
// subject suffix when the payload leaves it empty.
func (w *ReportWorker) Process(ctx context.Context, subject string, data []byte) error {
	var report model.JobReport
	if err := json.Unmarshal(data, &report); err != nil {
		w.metrics.ReportsTotal.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("decode report: %w", err)
	}
	if report.Outcome == "" {
		report.Outcome = model.ReportOutcome(strings.TrimPrefix(subject, repository.ReportTopicPrefix+"."))
	}

	attempt := 0
	_, err := w.executor.WithContext(ctx).Get(func() (any, error) {
		attempt++
		if attempt > 1 {
			w.logger.Warn("worker: retrying report",
				zap.String("job_id", report.JobID.String()),
				zap.Int("attempt", attempt),
			)
		}
		return nil, w.svc.ApplyReport(ctx, report)
	})

	outcome := string(report.Outcome)
	if err != nil {
		w.metrics.ReportsTotal.WithLabelValues(outcome, "rejected").Inc()
		return fmt.Errorf("apply %s report for job %s: %w", outcome, report.JobID, err)
	}
	w.metrics.ReportsTotal.WithLabelValues(outcome, "applied").Inc()
	w.logger.Debug("worker: report applied",
		zap.String("job_id", report.JobID.String()),
		zap.String("outcome", outcome),
	)
	return nil
}

// Start implements the infrastructure.Server interface.
func (w *ReportWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *ReportWorker) Stop(ctx context.Context) error {
	return nil
}
