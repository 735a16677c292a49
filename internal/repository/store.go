package repository

import (
	"context"
	"time"

	"genledger/internal/model"

	"github.com/google/uuid"
)

// Store persists balances and jobs. Every method is a single bounded unit of work;
// implementations must make DebitAndCreateJob, TransitionJob and RefundJob atomic
// with respect to concurrent calls on the same user or job.
type Store interface {
	CreateBalance(ctx context.Context, userID string, grant int64, at time.Time) (*model.CreditBalance, error)
	GetBalance(ctx context.Context, userID string) (*model.CreditBalance, error)

	// DebitAndCreateJob charges job.CreditsCharged against the owner's balance and
	// inserts the job, or does neither.
	DebitAndCreateJob(ctx context.Context, job *model.GenerationJob) (*model.CreditBalance, error)

	GetJob(ctx context.Context, id uuid.UUID) (*model.GenerationJob, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]*model.GenerationJob, error)

	// TransitionJob applies t only if the job's status is still one of t.From.
	TransitionJob(ctx context.Context, t model.Transition) (*model.GenerationJob, error)

	// RefundJob moves the job to refunded and returns its credits in one step,
	// only if the job's status is still one of r.From.
	RefundJob(ctx context.Context, r model.Refund) (*model.GenerationJob, *model.CreditBalance, error)
}

func containsStatus(set []model.JobStatus, s model.JobStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
