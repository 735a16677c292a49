package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"genledger/internal/model"

	"github.com/google/uuid"
)

type memoryTransaction struct {
	UserID    string
	JobID     uuid.UUID
	Kind      model.TransactionKind
	Amount    int64
	CreatedAt time.Time
}

// MemoryStore keeps everything in process behind one mutex. It backs tests and
// the "memory" store provider.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]*model.CreditBalance
	jobs     map[uuid.UUID]*model.GenerationJob
	txns     []memoryTransaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*model.CreditBalance),
		jobs:     make(map[uuid.UUID]*model.GenerationJob),
	}
}

func (s *MemoryStore) CreateBalance(_ context.Context, userID string, grant int64, at time.Time) (*model.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[userID]; ok {
		return nil, model.ErrAccountExists
	}
	b := &model.CreditBalance{
		UserID:         userID,
		Credit:         grant,
		LifetimeEarned: grant,
		UpdatedAt:      at,
	}
	s.balances[userID] = b
	s.txns = append(s.txns, memoryTransaction{UserID: userID, Kind: model.TransactionGrant, Amount: grant, CreatedAt: at})
	c := *b
	return &c, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (*model.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	c := *b
	return &c, nil
}

func (s *MemoryStore) DebitAndCreateJob(_ context.Context, job *model.GenerationJob) (*model.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[job.UserID]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	if _, dup := s.jobs[job.ID]; dup {
		return nil, model.NewStorageError("debit", fmt.Errorf("job %s already exists", job.ID), false)
	}
	if b.Credit < job.CreditsCharged {
		return nil, &model.InsufficientCreditError{UserID: job.UserID, Required: job.CreditsCharged, Available: b.Credit}
	}

	b.Credit -= job.CreditsCharged
	b.LifetimeSpent += job.CreditsCharged
	b.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = job.Clone()
	s.txns = append(s.txns, memoryTransaction{
		UserID: job.UserID, JobID: job.ID, Kind: model.TransactionDebit, Amount: job.CreditsCharged, CreatedAt: job.CreatedAt,
	})

	c := *b
	return &c, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, userID string, limit int) ([]*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.GenerationJob
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, t model.Transition) (*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[t.JobID]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	if !containsStatus(t.From, job.Status) {
		return nil, &model.TransitionError{JobID: t.JobID, Current: job.Status, To: t.To}
	}

	at := t.At
	job.Status = t.To
	job.UpdatedAt = at
	switch t.To {
	case model.JobProcessing:
		job.StartedAt = &at
	case model.JobCompleted:
		job.CompletedAt = &at
		job.MediaID = t.MediaID
	}
	return job.Clone(), nil
}

func (s *MemoryStore) RefundJob(_ context.Context, r model.Refund) (*model.GenerationJob, *model.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[r.JobID]
	if !ok {
		return nil, nil, model.ErrJobNotFound
	}
	if !containsStatus(r.From, job.Status) {
		return nil, nil, &model.TransitionError{JobID: r.JobID, Current: job.Status, To: model.JobRefunded}
	}
	b, ok := s.balances[job.UserID]
	if !ok {
		return nil, nil, model.ErrAccountNotFound
	}

	at := r.At
	job.ErrorMessage = r.ErrorMessage
	job.Status = model.JobRefunded
	if job.CompletedAt == nil {
		job.CompletedAt = &at
	}
	job.UpdatedAt = at

	b.Credit += job.CreditsCharged
	b.LifetimeSpent -= job.CreditsCharged
	b.UpdatedAt = at
	s.txns = append(s.txns, memoryTransaction{
		UserID: job.UserID, JobID: job.ID, Kind: model.TransactionRefund, Amount: job.CreditsCharged, CreatedAt: at,
	})

	c := *b
	return job.Clone(), &c, nil
}

// TransactionCount returns how many log rows of kind exist for a job.
func (s *MemoryStore) TransactionCount(jobID uuid.UUID, kind model.TransactionKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.txns {
		if t.JobID == jobID && t.Kind == kind {
			n++
		}
	}
	return n
}
