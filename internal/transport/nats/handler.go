package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"genledger/internal/credit"
	"genledger/internal/model"
	"genledger/internal/pricing"
	"genledger/internal/service"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectSubmit = "commands.submit"
	SubjectCancel = "commands.cancel"

	queueGroup     = "ledger_group"
	commandTimeout = 30 * time.Second
)

// CancelCommand is the payload of commands.cancel.
type CancelCommand struct {
	JobID  uuid.UUID `json:"job_id"`
	Reason string    `json:"reason,omitempty"`
}

// Reply is sent back on request-reply commands.
type Reply struct {
	Result any         `json:"result,omitempty"`
	Error  *ReplyError `json:"error,omitempty"`
}

type ReplyError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Handler subscribes to NATS command subjects and delegates to the ledger service.
type Handler struct {
	svc    service.LedgerService
	nc     *nats.Conn
	logger *zap.Logger
	subs   []*nats.Subscription
}

func NewHandler(svc service.LedgerService, nc *nats.Conn, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, nc: nc, logger: logger}
}

// Start subscribes to command subjects and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	for _, subject := range []string{SubjectSubmit, SubjectCancel} {
		sub, err := h.nc.QueueSubscribe(subject, queueGroup, func(m *nats.Msg) {
			h.handle(ctx, m)
		})
		if err != nil {
			return fmt.Errorf("nats: subscribe %s: %w", subject, err)
		}
		h.subs = append(h.subs, sub)
	}

	h.logger.Info("NATS command handler is running")

	<-ctx.Done()
	h.logger.Info("NATS command handler shutting down, draining subscriptions")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

// handle runs one command under its own bounded context so that commands
// drained after shutdown still complete, then replies if a reply subject is set.
func (h *Handler) handle(ctx context.Context, m *nats.Msg) Reply {
	cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commandTimeout)
	defer cancel()

	reply := h.Dispatch(cmdCtx, m.Subject, m.Data)
	if m.Reply == "" {
		return reply
	}
	data, err := json.Marshal(reply)
	if err != nil {
		h.logger.Error("nats: failed to marshal reply", zap.String("subject", m.Subject), zap.Error(err))
		return reply
	}
	if err := m.Respond(data); err != nil {
		h.logger.Warn("nats: failed to respond", zap.String("subject", m.Subject), zap.Error(err))
	}
	return reply
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}

// Dispatch runs one command and builds its reply.
func (h *Handler) Dispatch(ctx context.Context, subject string, data []byte) Reply {
	var (
		result any
		err    error
	)
	switch subject {
	case SubjectSubmit:
		var req model.SubmitRequest
		if err = json.Unmarshal(data, &req); err != nil {
			err = fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
			break
		}
		result, err = h.svc.Submit(ctx, req)
		if err != nil {
			h.logger.Warn("nats: submit failed", zap.String("user_id", req.UserID), zap.Error(err))
		}
	case SubjectCancel:
		var cmd CancelCommand
		if err = json.Unmarshal(data, &cmd); err != nil {
			err = fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
			break
		}
		result, err = h.svc.Cancel(ctx, cmd.JobID, cmd.Reason)
		if err != nil {
			h.logger.Warn("nats: cancel failed", zap.String("job_id", cmd.JobID.String()), zap.Error(err))
		}
	default:
		err = fmt.Errorf("%w: unknown subject %q", model.ErrInvalidRequest, subject)
	}

	if err != nil {
		return Reply{Error: &ReplyError{Code: errorCode(err), Message: err.Error(), Retryable: model.IsRetryable(err)}}
	}
	return Reply{Result: result}
}

func errorCode(err error) string {
	var te *model.TransitionError
	switch {
	case errors.Is(err, model.ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.As(err, &te):
		return "invalid_transition"
	case errors.Is(err, model.ErrJobNotFound):
		return "job_not_found"
	case errors.Is(err, model.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, model.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, pricing.ErrUnsupportedProvider):
		return "unsupported_provider"
	case errors.Is(err, pricing.ErrUnsupportedModel):
		return "unsupported_model"
	case errors.Is(err, pricing.ErrNoPricingConfigured), errors.Is(err, credit.ErrInvalidPrice):
		return "no_pricing_configured"
	case model.IsRetryable(err):
		return "temporarily_unavailable"
	default:
		return "internal"
	}
}
