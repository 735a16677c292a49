package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"genledger/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const jobColumns = `id, user_id, provider, model, resource_type, prompt, params, pricing_key,
	base_price_usd::text, credits_charged, status, media_id, error_message,
	created_at, started_at, completed_at, updated_at`

const balanceColumns = `user_id, credit, lifetime_earned, lifetime_spent, updated_at`

// PostgresStore keeps balances and jobs in Postgres. Balance changes are
// conditional UPDATEs, so the row lock taken by the first writer serialises
// concurrent debits and refunds on the same user.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateBalance(ctx context.Context, userID string, grant int64, at time.Time) (*model.CreditBalance, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classify("create balance", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := scanBalance(tx.QueryRow(ctx, `
		INSERT INTO user_credits (user_id, credit, lifetime_earned, lifetime_spent, updated_at)
		VALUES ($1, $2, $2, 0, $3)
		RETURNING `+balanceColumns, userID, grant, at))
	if err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return nil, model.ErrAccountExists
		}
		return nil, classify("create balance", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (user_id, kind, amount, created_at)
		VALUES ($1, $2, $3, $4)`, userID, string(model.TransactionGrant), grant, at); err != nil {
		return nil, classify("create balance", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyCommit("create balance", err)
	}
	return b, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (*model.CreditBalance, error) {
	b, err := scanBalance(s.db.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM user_credits WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrAccountNotFound
	}
	if err != nil {
		return nil, classify("get balance", err)
	}
	return b, nil
}

func (s *PostgresStore) DebitAndCreateJob(ctx context.Context, job *model.GenerationJob) (*model.CreditBalance, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classify("debit", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := scanBalance(tx.QueryRow(ctx, `
		UPDATE user_credits
		SET credit = credit - $2, lifetime_spent = lifetime_spent + $2, updated_at = $3
		WHERE user_id = $1 AND credit >= $2
		RETURNING `+balanceColumns, job.UserID, job.CreditsCharged, job.CreatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		var available int64
		err = tx.QueryRow(ctx, `SELECT credit FROM user_credits WHERE user_id = $1`, job.UserID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAccountNotFound
		}
		if err != nil {
			return nil, classify("debit", err)
		}
		return nil, &model.InsufficientCreditError{UserID: job.UserID, Required: job.CreditsCharged, Available: available}
	}
	if err != nil {
		return nil, classify("debit", err)
	}

	params, err := json.Marshal(paramsOrEmpty(job.Params))
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO generation_jobs (id, user_id, provider, model, resource_type, prompt, params,
			pricing_key, base_price_usd, credits_charged, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::text::numeric, $10, $11, $12, $12)`,
		job.ID, job.UserID, job.Provider, job.Model, job.ResourceType, job.Prompt, params,
		job.PricingKey, job.BasePriceUSD.String(), job.CreditsCharged, string(job.Status), job.CreatedAt,
	); err != nil {
		return nil, classify("debit", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (user_id, job_id, kind, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.UserID, job.ID, string(model.TransactionDebit), job.CreditsCharged, job.CreatedAt,
	); err != nil {
		return nil, classify("debit", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyCommit("debit", err)
	}
	return b, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*model.GenerationJob, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, classify("get job", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, userID string, limit int) ([]*model.GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, classify("list jobs", err)
	}
	defer rows.Close()

	var out []*model.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, classify("list jobs", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list jobs", err)
	}
	return out, nil
}

func (s *PostgresStore) TransitionJob(ctx context.Context, t model.Transition) (*model.GenerationJob, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $3,
			started_at = CASE WHEN $3 = 'processing' THEN $4 ELSE started_at END,
			completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END,
			media_id = COALESCE(NULLIF($5, ''), media_id),
			updated_at = $4
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+jobColumns,
		t.JobID, statusStrings(t.From), string(t.To), t.At, t.MediaID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionMiss(ctx, t.JobID, t.To)
	}
	if err != nil {
		return nil, classify("transition job", err)
	}
	return job, nil
}

func (s *PostgresStore) RefundJob(ctx context.Context, r model.Refund) (*model.GenerationJob, *model.CreditBalance, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, classify("refund", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	job, err := scanJob(tx.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = 'refunded',
			error_message = $3,
			completed_at = COALESCE(completed_at, $4),
			updated_at = $4
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+jobColumns,
		r.JobID, statusStrings(r.From), r.ErrorMessage, r.At))
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return nil, nil, s.transitionMiss(ctx, r.JobID, model.JobRefunded)
	}
	if err != nil {
		return nil, nil, classify("refund", err)
	}

	b, err := scanBalance(tx.QueryRow(ctx, `
		UPDATE user_credits
		SET credit = credit + $2, lifetime_spent = lifetime_spent - $2, updated_at = $3
		WHERE user_id = $1
		RETURNING `+balanceColumns, job.UserID, job.CreditsCharged, r.At))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, model.ErrAccountNotFound
	}
	if err != nil {
		return nil, nil, classify("refund", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (user_id, job_id, kind, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.UserID, job.ID, string(model.TransactionRefund), job.CreditsCharged, r.At,
	); err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return nil, nil, &model.TransitionError{JobID: r.JobID, Current: model.JobRefunded, To: model.JobRefunded}
		}
		return nil, nil, classify("refund", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, classifyCommit("refund", err)
	}
	return job, b, nil
}

// transitionMiss explains why a conditional update matched no row.
func (s *PostgresStore) transitionMiss(ctx context.Context, id uuid.UUID, to model.JobStatus) error {
	var current string
	err := s.db.QueryRow(ctx, `SELECT status FROM generation_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrJobNotFound
	}
	if err != nil {
		return classify("read job status", err)
	}
	return &model.TransitionError{JobID: id, Current: model.JobStatus(current), To: to}
}

func scanBalance(row pgx.Row) (*model.CreditBalance, error) {
	var b model.CreditBalance
	if err := row.Scan(&b.UserID, &b.Credit, &b.LifetimeEarned, &b.LifetimeSpent, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanJob(row pgx.Row) (*model.GenerationJob, error) {
	var (
		job       model.GenerationJob
		params    []byte
		basePrice string
		status    string
		mediaID   *string
		errMsg    *string
	)
	err := row.Scan(
		&job.ID, &job.UserID, &job.Provider, &job.Model, &job.ResourceType, &job.Prompt, &params,
		&job.PricingKey, &basePrice, &job.CreditsCharged, &status, &mediaID, &errMsg,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	if job.BasePriceUSD, err = decimal.NewFromString(basePrice); err != nil {
		return nil, fmt.Errorf("decode base price: %w", err)
	}
	job.Status = model.JobStatus(status)
	if !job.Status.Valid() {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	if mediaID != nil {
		job.MediaID = *mediaID
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return &job, nil
}

func statusStrings(in []model.JobStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func paramsOrEmpty(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// classify wraps err as a StorageError, flagging failures that left nothing
// committed and may be retried as a whole.
func classify(op string, err error) error {
	retryable := pgconn.SafeToRetry(err) ||
		pgconn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isPgCode(err, pgSerializationFailure) ||
		isPgCode(err, pgDeadlockDetected)

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		retryable = true
	}
	return model.NewStorageError(op, err, retryable)
}

// classifyCommit handles errors from COMMIT. Once COMMIT has been sent the
// transaction may have committed, so only failures where the server refused
// the commit, or the request never left the client, are retryable.
func classifyCommit(op string, err error) error {
	retryable := pgconn.SafeToRetry(err) ||
		isPgCode(err, pgSerializationFailure) ||
		isPgCode(err, pgDeadlockDetected)
	return model.NewStorageError(op+" commit", err, retryable)
}
