package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"genledger/internal/credit"
	"genledger/internal/metrics"
	"genledger/internal/model"
	"genledger/internal/pricing"
	"genledger/internal/repository"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultStartingGrant int64 = 20
	DefaultListLimit           = 50
	MaxListLimit               = 200
)

// LedgerService defines the business operations for the ledger.
// All transport layers (HTTP, gRPC, NATS) depend on this interface, not on the concrete store.
type LedgerService interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)
	MarkStarted(ctx context.Context, jobID uuid.UUID) (*model.GenerationJob, error)
	MarkCompleted(ctx context.Context, jobID uuid.UUID, mediaID string) (*model.GenerationJob, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, errorMessage string) (*model.GenerationJob, error)
	Cancel(ctx context.Context, jobID uuid.UUID, reason string) (*model.GenerationJob, error)
	ApplyReport(ctx context.Context, report model.JobReport) error

	Quote(ctx context.Context, req model.QuoteRequest) (*model.Quote, error)
	Models(ctx context.Context) map[string][]string
	GetJob(ctx context.Context, jobID uuid.UUID) (*model.GenerationJob, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]*model.GenerationJob, error)

	CreateAccount(ctx context.Context, userID string, grant *int64) (*model.CreditBalance, error)
	GetBalance(ctx context.Context, userID string) (*model.CreditBalance, error)
}

type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option {
	return func(s *Ledger) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Ledger) { s.metrics = m }
}

// WithIdempotencyGuard enables deduplication of submissions carrying an idempotency key.
func WithIdempotencyGuard(g repository.IdempotencyGuard) Option {
	return func(s *Ledger) { s.guard = g }
}

func WithBus(b repository.MessageBus) Option {
	return func(s *Ledger) { s.bus = b }
}

func WithStartingGrant(credits int64) Option {
	return func(s *Ledger) { s.startingGrant = credits }
}

func WithClock(now func() time.Time) Option {
	return func(s *Ledger) { s.now = now }
}

// Ledger admits generation jobs against user credit and drives them to a terminal state.
type Ledger struct {
	store     repository.Store
	resolver  *pricing.Resolver
	converter *credit.Converter

	guard         repository.IdempotencyGuard
	bindRetry     failsafe.Executor[any]
	bus           repository.MessageBus
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
	startingGrant int64
}

var _ LedgerService = (*Ledger)(nil)

func NewLedger(store repository.Store, resolver *pricing.Resolver, converter *credit.Converter, opts ...Option) *Ledger {
	l := &Ledger{
		store:         store,
		resolver:      resolver,
		converter:     converter,
		logger:        zap.NewNop(),
		now:           func() time.Time { return time.Now().UTC() },
		startingGrant: DefaultStartingGrant,
		bindRetry: failsafe.With[any](retrypolicy.NewBuilder[any]().
			WithMaxRetries(2).
			WithBackoff(10*time.Millisecond, 200*time.Millisecond).
			Build()),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = metrics.NewNop()
	}
	return l
}

// Submit prices the request, debits the user and records a pending job in one step.
func (l *Ledger) Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}
	provider := pricing.NormalizeProvider(req.Provider)

	quote, err := l.quote(req.Provider, req.Model, req.Params)
	if err != nil {
		l.metrics.SubmissionsTotal.WithLabelValues(provider, "pricing_error").Inc()
		return nil, err
	}

	var idemKey string
	if req.IdempotencyKey != "" && l.guard != nil {
		idemKey = req.UserID + ":" + req.IdempotencyKey
		claim, err := l.guard.Claim(ctx, idemKey)
		if err != nil {
			return nil, model.NewStorageError("claim idempotency key", err, true)
		}
		if !claim.Claimed {
			if claim.InFlight {
				return nil, model.ErrSubmissionInFlight
			}
			return l.replay(ctx, req, claim.JobID)
		}
	}

	now := l.now()
	job := &model.GenerationJob{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Provider:       quote.Provider,
		Model:          quote.Model,
		ResourceType:   quote.ResourceType,
		Prompt:         req.Prompt,
		Params:         req.Params,
		PricingKey:     quote.PricingKey,
		BasePriceUSD:   quote.BasePriceUSD,
		CreditsCharged: quote.Credits,
		Status:         model.JobPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	balance, err := l.store.DebitAndCreateJob(ctx, job)
	if err != nil {
		if idemKey != "" {
			if rerr := l.guard.Release(context.WithoutCancel(ctx), idemKey); rerr != nil {
				l.logger.Warn("failed to release idempotency key", zap.String("key", idemKey), zap.Error(rerr))
			}
		}
		l.metrics.SubmissionsTotal.WithLabelValues(provider, submitResult(err)).Inc()
		return nil, fmt.Errorf("submit for user %s: %w", req.UserID, err)
	}

	if idemKey != "" {
		l.bind(ctx, idemKey, job.ID)
	}

	l.metrics.SubmissionsTotal.WithLabelValues(provider, "admitted").Inc()
	l.metrics.CreditsCharged.Add(float64(job.CreditsCharged))
	l.logger.Info("generation job admitted",
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", job.UserID),
		zap.String("model", job.Model),
		zap.String("pricing_key", job.PricingKey),
		zap.Int64("credits", job.CreditsCharged),
		zap.Int64("balance", balance.Credit),
	)
	l.publish(repository.TopicJobSubmitted, job)

	return &model.SubmitResult{Job: job, Balance: balance}, nil
}

// bind records the admitted job under its idempotency key. The debit has already
// committed, so a caller that went away must not stop it. If every attempt fails
// the in-flight claim expires on its own and the key stops deduplicating.
func (l *Ledger) bind(ctx context.Context, key string, jobID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	err := l.bindRetry.WithContext(ctx).Run(func() error {
		return l.guard.Bind(ctx, key, jobID)
	})
	if err != nil {
		l.logger.Error("failed to bind idempotency key",
			zap.String("key", key),
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}

func (l *Ledger) replay(ctx context.Context, req model.SubmitRequest, jobID uuid.UUID) (*model.SubmitResult, error) {
	job, err := l.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("replay idempotency key %q: %w", req.IdempotencyKey, err)
	}
	balance, err := l.store.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	l.metrics.SubmissionsTotal.WithLabelValues(job.Provider, "replayed").Inc()
	l.logger.Info("submission replayed from idempotency key",
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", req.UserID),
	)
	return &model.SubmitResult{Job: job, Balance: balance, Replayed: true}, nil
}

// Quote returns the price and credit cost of a generation without charging anyone.
func (l *Ledger) Quote(_ context.Context, req model.QuoteRequest) (*model.Quote, error) {
	if strings.TrimSpace(req.Provider) == "" || strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("%w: provider and model are required", model.ErrInvalidRequest)
	}
	return l.quote(req.Provider, req.Model, req.Params)
}

// Models lists the priced models per provider.
func (l *Ledger) Models(_ context.Context) map[string][]string {
	return l.resolver.Catalog()
}

func (l *Ledger) quote(provider, modelName string, params map[string]string) (*model.Quote, error) {
	res, err := l.resolver.Resolve(pricing.Query{Provider: provider, Model: modelName, Params: params})
	if err != nil {
		return nil, err
	}
	credits, err := l.converter.ToCredits(res.Price)
	if err != nil {
		return nil, fmt.Errorf("price for %s/%s: %w", res.Provider, res.Model, err)
	}
	return &model.Quote{
		Provider:     res.Provider,
		Model:        res.Model,
		ResourceType: res.ResourceType,
		PricingKey:   res.Key,
		Fallback:     res.Fallback,
		BasePriceUSD: res.Price,
		Credits:      credits,
	}, nil
}

func (l *Ledger) GetJob(ctx context.Context, jobID uuid.UUID) (*model.GenerationJob, error) {
	return l.store.GetJob(ctx, jobID)
}

func (l *Ledger) ListJobs(ctx context.Context, userID string, limit int) ([]*model.GenerationJob, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return l.store.ListJobs(ctx, userID, limit)
}

// CreateAccount opens a balance for userID. A nil grant uses the configured starting grant.
func (l *Ledger) CreateAccount(ctx context.Context, userID string, grant *int64) (*model.CreditBalance, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrInvalidRequest)
	}
	amount := l.startingGrant
	if grant != nil {
		amount = *grant
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: grant must not be negative", model.ErrInvalidRequest)
	}

	b, err := l.store.CreateBalance(ctx, userID, amount, l.now())
	if err != nil {
		return nil, err
	}
	l.logger.Info("credit account created", zap.String("user_id", userID), zap.Int64("grant", amount))
	return b, nil
}

func (l *Ledger) GetBalance(ctx context.Context, userID string) (*model.CreditBalance, error) {
	return l.store.GetBalance(ctx, userID)
}

func (l *Ledger) publish(topic string, job *model.GenerationJob) {
	if l.bus == nil {
		return
	}
	data, err := json.Marshal(model.NewJobEvent(job, l.now()))
	if err != nil {
		l.logger.Error("failed to marshal job event", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if err := l.bus.Publish(topic, data); err != nil {
		l.logger.Warn("failed to publish job event",
			zap.String("topic", topic),
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
}

func validateSubmit(req model.SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return fmt.Errorf("%w: user_id is required", model.ErrInvalidRequest)
	case strings.TrimSpace(req.Provider) == "":
		return fmt.Errorf("%w: provider is required", model.ErrInvalidRequest)
	case strings.TrimSpace(req.Model) == "":
		return fmt.Errorf("%w: model is required", model.ErrInvalidRequest)
	case strings.TrimSpace(req.Prompt) == "":
		return fmt.Errorf("%w: prompt is required", model.ErrInvalidRequest)
	}
	return nil
}

func submitResult(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, model.ErrAccountNotFound):
		return "unknown_account"
	default:
		return "error"
	}
}
