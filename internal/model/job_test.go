package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSourcesOf(t *testing.T) {
	assert.Equal(t, []JobStatus{JobPending}, SourcesOf(JobProcessing))
	assert.Equal(t, []JobStatus{JobProcessing}, SourcesOf(JobCompleted))
	assert.Equal(t, []JobStatus{JobPending, JobProcessing}, SourcesOf(JobFailed))
	assert.Equal(t, []JobStatus{JobFailed}, SourcesOf(JobRefunded))
	assert.Empty(t, SourcesOf(JobPending))
}

func TestJobStatus_Valid(t *testing.T) {
	for _, s := range allStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, JobStatus("cancelled").Valid())
	assert.False(t, JobStatus("").Valid())
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobPending, JobProcessing, true},
		{JobPending, JobFailed, true},
		{JobPending, JobCompleted, false},
		{JobProcessing, JobCompleted, true},
		{JobProcessing, JobFailed, true},
		{JobProcessing, JobPending, false},
		{JobFailed, JobRefunded, true},
		{JobFailed, JobCompleted, false},
		{JobCompleted, JobFailed, false},
		{JobRefunded, JobFailed, false},
		{JobRefunded, JobCompleted, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestGenerationJob_Clone(t *testing.T) {
	now := time.Now()
	job := &GenerationJob{
		ID:        uuid.New(),
		Params:    map[string]string{"quality": "high"},
		StartedAt: &now,
	}
	c := job.Clone()
	c.Params["quality"] = "low"
	*c.StartedAt = now.Add(time.Hour)

	assert.Equal(t, "high", job.Params["quality"])
	assert.Equal(t, now, *job.StartedAt)
	assert.Nil(t, (*GenerationJob)(nil).Clone())
}

func TestCreditBalance_Consistent(t *testing.T) {
	assert.True(t, (&CreditBalance{Credit: 10, LifetimeEarned: 20, LifetimeSpent: 10}).Consistent())
	assert.False(t, (&CreditBalance{Credit: 11, LifetimeEarned: 20, LifetimeSpent: 10}).Consistent())
	assert.False(t, (&CreditBalance{Credit: -1, LifetimeEarned: 0, LifetimeSpent: 1}).Consistent())
}

func TestErrors(t *testing.T) {
	t.Run("insufficient credit carries shortfall", func(t *testing.T) {
		var err error = &InsufficientCreditError{UserID: "u1", Required: 51, Available: 10}
		assert.ErrorIs(t, err, ErrInsufficientCredit)
		var ice *InsufficientCreditError
		assert.True(t, errors.As(fmt.Errorf("submit: %w", err), &ice))
		assert.Equal(t, int64(41), ice.Shortfall())
	})

	t.Run("transition error unwraps", func(t *testing.T) {
		err := &TransitionError{JobID: uuid.New(), Current: JobRefunded, To: JobCompleted}
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Contains(t, err.Error(), "refunded")
	})

	t.Run("retryable classification", func(t *testing.T) {
		assert.True(t, IsRetryable(NewStorageError("debit", errors.New("conn reset"), true)))
		assert.False(t, IsRetryable(NewStorageError("debit", errors.New("syntax"), false)))
		assert.True(t, IsRetryable(fmt.Errorf("x: %w", ErrSubmissionInFlight)))
		assert.True(t, IsRetryable(context.DeadlineExceeded))
		assert.False(t, IsRetryable(NewStorageError("debit commit", context.DeadlineExceeded, false)))
		assert.False(t, IsRetryable(ErrInsufficientCredit))
		assert.False(t, IsRetryable(nil))
	})
}
