package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SubmitRequest struct {
	UserID         string            `json:"user_id"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	Prompt         string            `json:"prompt"`
	Params         map[string]string `json:"params,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// SubmitResult is what Submit hands back. Replayed is set when an idempotency key
// matched an earlier admission and nothing new was charged.
type SubmitResult struct {
	Job      *GenerationJob `json:"job"`
	Balance  *CreditBalance `json:"balance,omitempty"`
	Replayed bool           `json:"replayed,omitempty"`
}

type QuoteRequest struct {
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	Params   map[string]string `json:"params,omitempty"`
}

type Quote struct {
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	ResourceType string          `json:"resource_type,omitempty"`
	PricingKey   string          `json:"pricing_key"`
	Fallback     bool            `json:"fallback"`
	BasePriceUSD decimal.Decimal `json:"base_price_usd"`
	Credits      int64           `json:"credits"`
}

// ReportOutcome is what an executor tells the ledger about a job.
type ReportOutcome string

const (
	OutcomeStarted   ReportOutcome = "started"
	OutcomeCompleted ReportOutcome = "completed"
	OutcomeFailed    ReportOutcome = "failed"
	OutcomeCancelled ReportOutcome = "cancelled"
)

// JobReport is an executor callback delivered over a bus.
type JobReport struct {
	JobID        uuid.UUID     `json:"job_id"`
	Outcome      ReportOutcome `json:"outcome"`
	MediaID      string        `json:"media_id,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// JobEvent is published after a job changes state.
type JobEvent struct {
	JobID          uuid.UUID `json:"job_id"`
	UserID         string    `json:"user_id"`
	Model          string    `json:"model"`
	Status         JobStatus `json:"status"`
	CreditsCharged int64     `json:"credits_charged"`
	MediaID        string    `json:"media_id,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewJobEvent(job *GenerationJob, at time.Time) JobEvent {
	return JobEvent{
		JobID:          job.ID,
		UserID:         job.UserID,
		Model:          job.Model,
		Status:         job.Status,
		CreditsCharged: job.CreditsCharged,
		MediaID:        job.MediaID,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      at,
	}
}
