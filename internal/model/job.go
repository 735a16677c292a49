package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRefunded   JobStatus = "refunded"
)

var allStatuses = []JobStatus{JobPending, JobProcessing, JobCompleted, JobFailed, JobRefunded}

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing, JobFailed},
	JobProcessing: {JobCompleted, JobFailed},
	JobFailed:     {JobRefunded},
}

// CanTransitionTo checks the job state machine.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesOf lists, in lifecycle order, the statuses that may move directly to next.
func SourcesOf(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range allStatuses {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed, JobRefunded:
		return true
	}
	return false
}

// GenerationJob is one admitted generation attempt. CreditsCharged, PricingKey and
// BasePriceUSD are snapshots taken at submission and never change afterwards.
type GenerationJob struct {
	ID             uuid.UUID         `json:"id"`
	UserID         string            `json:"user_id"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	ResourceType   string            `json:"resource_type,omitempty"`
	Prompt         string            `json:"prompt"`
	Params         map[string]string `json:"params,omitempty"`
	PricingKey     string            `json:"pricing_key"`
	BasePriceUSD   decimal.Decimal   `json:"base_price_usd"`
	CreditsCharged int64             `json:"credits_charged"`
	Status         JobStatus         `json:"status"`
	MediaID        string            `json:"media_id,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so stores can hand out jobs without sharing state.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.Params != nil {
		c.Params = make(map[string]string, len(j.Params))
		for k, v := range j.Params {
			c.Params[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Transition describes a compare-and-set status change on a single job.
type Transition struct {
	JobID   uuid.UUID
	From    []JobStatus
	To      JobStatus
	MediaID string
	At      time.Time
}

// Refund describes the compound failed -> refunded transition.
type Refund struct {
	JobID        uuid.UUID
	From         []JobStatus
	ErrorMessage string
	At           time.Time
}
