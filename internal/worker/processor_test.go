package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"genledger/internal/credit"
	"genledger/internal/metrics"
	"genledger/internal/model"
	"genledger/internal/pricing"
	"genledger/internal/repository"
	"genledger/internal/service"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyService fails ApplyReport with err for the first failures calls.
type flakyService struct {
	service.LedgerService

	mu       sync.Mutex
	failures int
	err      error
	calls    int
	last     model.JobReport
	ctxErr   error
}

func (f *flakyService) ApplyReport(ctx context.Context, r model.JobReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = r
	f.ctxErr = ctx.Err()
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func fastRetry(attempts int) Option {
	return WithRetry(attempts, time.Millisecond, 5*time.Millisecond)
}

func reportJSON(t *testing.T, r model.JobReport) []byte {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return data
}

func TestProcess_RetriesTransientFailures(t *testing.T) {
	svc := &flakyService{failures: 2, err: model.NewStorageError("refund", errors.New("conn reset"), true)}
	m := metrics.New("test", prometheus.NewRegistry())
	w := NewReportWorker(svc, nil, zap.NewNop(), fastRetry(5), WithMetrics(m))

	id := uuid.New()
	err := w.Process(context.Background(), repository.ReportTopic(model.OutcomeFailed), reportJSON(t, model.JobReport{JobID: id}))
	require.NoError(t, err)
	assert.Equal(t, 3, svc.calls)
	assert.Equal(t, model.OutcomeFailed, svc.last.Outcome)
	assert.Equal(t, id, svc.last.JobID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsTotal.WithLabelValues("failed", "applied")))
}

func TestProcess_GivesUpAfterAttempts(t *testing.T) {
	svc := &flakyService{failures: 10, err: model.NewStorageError("refund", errors.New("conn reset"), true)}
	w := NewReportWorker(svc, nil, zap.NewNop(), fastRetry(3))

	err := w.Process(context.Background(), repository.ReportTopic(model.OutcomeCompleted),
		reportJSON(t, model.JobReport{JobID: uuid.New(), MediaID: "m"}))
	require.Error(t, err)
	assert.Equal(t, 3, svc.calls)
}

func TestProcess_DoesNotRetryBusinessErrors(t *testing.T) {
	svc := &flakyService{failures: 1, err: &model.TransitionError{Current: model.JobCompleted, To: model.JobRefunded}}
	w := NewReportWorker(svc, nil, zap.NewNop(), fastRetry(5))

	err := w.Process(context.Background(), repository.ReportTopic(model.OutcomeFailed), reportJSON(t, model.JobReport{JobID: uuid.New()}))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, 1, svc.calls)
}

func TestProcess_PayloadOutcomeWins(t *testing.T) {
	svc := &flakyService{}
	w := NewReportWorker(svc, nil, zap.NewNop())

	err := w.Process(context.Background(), repository.ReportTopic(model.OutcomeFailed),
		reportJSON(t, model.JobReport{JobID: uuid.New(), Outcome: model.OutcomeStarted}))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeStarted, svc.last.Outcome)
}

func TestProcess_Malformed(t *testing.T) {
	svc := &flakyService{}
	w := NewReportWorker(svc, nil, zap.NewNop())

	err := w.Process(context.Background(), repository.ReportTopic(model.OutcomeFailed), []byte("not json"))
	require.Error(t, err)
	assert.Equal(t, 0, svc.calls)
}

func TestProcess_DrivesLedger(t *testing.T) {
	ctx := context.Background()
	table, err := pricing.Default()
	require.NoError(t, err)
	ledger := service.NewLedger(repository.NewMemoryStore(), pricing.NewResolver(table), credit.DefaultConverter())

	grant := int64(100)
	_, err = ledger.CreateAccount(ctx, "u1", &grant)
	require.NoError(t, err)
	res, err := ledger.Submit(ctx, model.SubmitRequest{
		UserID: "u1", Provider: "OPENAI", Model: "gpt-image-1", Prompt: "p",
		Params: map[string]string{"quality": "high", "ratio": "1:1"},
	})
	require.NoError(t, err)

	w := NewReportWorker(ledger, nil, zap.NewNop(), fastRetry(2))
	for _, r := range []model.JobReport{
		{JobID: res.Job.ID, Outcome: model.OutcomeStarted},
		{JobID: res.Job.ID, Outcome: model.OutcomeFailed, ErrorMessage: "gpu oom"},
		{JobID: res.Job.ID, Outcome: model.OutcomeFailed, ErrorMessage: "gpu oom"},
	} {
		require.NoError(t, w.Process(ctx, repository.ReportTopic(r.Outcome), reportJSON(t, r)))
	}

	bal, err := ledger.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Credit)
}

func TestHandle_AppliesReportsDrainedAfterShutdown(t *testing.T) {
	svc := &flakyService{}
	m := metrics.New("test", prometheus.NewRegistry())
	w := NewReportWorker(svc, nil, zap.NewNop(), WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id := uuid.New()
	w.handle(ctx, &nats.Msg{
		Subject: repository.ReportTopic(model.OutcomeFailed),
		Data:    reportJSON(t, model.JobReport{JobID: id, ErrorMessage: "node drained"}),
	})

	require.Equal(t, 1, svc.calls)
	assert.NoError(t, svc.ctxErr)
	assert.Equal(t, id, svc.last.JobID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsTotal.WithLabelValues("failed", "applied")))
}
