package nats

import (
	"context"
	"encoding/json"
	"testing"

	"genledger/internal/credit"
	"genledger/internal/model"
	"genledger/internal/pricing"
	"genledger/internal/repository"
	"genledger/internal/service"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHandler(t *testing.T) (*Handler, *service.Ledger) {
	t.Helper()
	table, err := pricing.Default()
	require.NoError(t, err)
	svc := service.NewLedger(repository.NewMemoryStore(), pricing.NewResolver(table), credit.DefaultConverter())
	return NewHandler(svc, nil, zap.NewNop()), svc
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDispatch_SubmitAndCancel(t *testing.T) {
	ctx := context.Background()
	h, svc := newHandler(t)
	grant := int64(100)
	_, err := svc.CreateAccount(ctx, "u1", &grant)
	require.NoError(t, err)

	reply := h.Dispatch(ctx, SubjectSubmit, mustJSON(t, model.SubmitRequest{
		UserID:   "u1",
		Provider: "GOOGLE",
		Model:    "imagen-4.0-generate-001",
		Prompt:   "a fox",
	}))
	require.Nil(t, reply.Error)
	res, ok := reply.Result.(*model.SubmitResult)
	require.True(t, ok)
	assert.Equal(t, int64(12), res.Job.CreditsCharged)

	reply = h.Dispatch(ctx, SubjectCancel, mustJSON(t, CancelCommand{JobID: res.Job.ID, Reason: "changed my mind"}))
	require.Nil(t, reply.Error)
	job := reply.Result.(*model.GenerationJob)
	assert.Equal(t, model.JobRefunded, job.Status)
	assert.Equal(t, "cancelled: changed my mind", job.ErrorMessage)

	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Credit)
}

func TestDispatch_Errors(t *testing.T) {
	ctx := context.Background()
	h, svc := newHandler(t)
	grant := int64(5)
	_, err := svc.CreateAccount(ctx, "poor", &grant)
	require.NoError(t, err)

	tests := []struct {
		name    string
		subject string
		data    []byte
		code    string
	}{
		{"garbage", SubjectSubmit, []byte("{"), "invalid_request"},
		{"unknown subject", "commands.spend", []byte("{}"), "invalid_request"},
		{"insufficient credit", SubjectSubmit, mustJSON(t, model.SubmitRequest{
			UserID: "poor", Provider: "GOOGLE", Model: "imagen-4.0-generate-001", Prompt: "x",
		}), "insufficient_credit"},
		{"unknown model", SubjectSubmit, mustJSON(t, model.SubmitRequest{
			UserID: "poor", Provider: "GOOGLE", Model: "imagen-1", Prompt: "x",
		}), "unsupported_model"},
		{"unknown job", SubjectCancel, mustJSON(t, CancelCommand{JobID: uuid.New()}), "job_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := h.Dispatch(ctx, tt.subject, tt.data)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.code, reply.Error.Code)
			assert.False(t, reply.Error.Retryable)
			assert.Nil(t, reply.Result)
		})
	}
}

func TestReply_JSON(t *testing.T) {
	data, err := json.Marshal(Reply{Error: &ReplyError{Code: "temporarily_unavailable", Message: "x", Retryable: true}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"code":"temporarily_unavailable","message":"x","retryable":true}}`, string(data))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "invalid_transition", errorCode(&model.TransitionError{Current: model.JobProcessing}))
	assert.Equal(t, "temporarily_unavailable", errorCode(model.NewStorageError("debit", assert.AnError, true)))
	assert.Equal(t, "internal", errorCode(assert.AnError))
}

// ctxRecorder remembers the context error seen by Submit.
type ctxRecorder struct {
	service.LedgerService
	ctxErr error
}

func (r *ctxRecorder) Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	r.ctxErr = ctx.Err()
	return r.LedgerService.Submit(ctx, req)
}

func TestHandle_CommandAfterShutdown(t *testing.T) {
	_, svc := newHandler(t)
	grant := int64(100)
	_, err := svc.CreateAccount(context.Background(), "u1", &grant)
	require.NoError(t, err)

	rec := &ctxRecorder{LedgerService: svc}
	h := NewHandler(rec, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := h.handle(ctx, &nats.Msg{Subject: SubjectSubmit, Data: mustJSON(t, model.SubmitRequest{
		UserID: "u1", Provider: "GOOGLE", Model: "imagen-4.0-generate-001", Prompt: "a fox",
	})})
	require.Nil(t, reply.Error)
	assert.NoError(t, rec.ctxErr)
}
