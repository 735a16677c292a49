package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"genledger/internal/model"
	"genledger/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	startableStatuses   = model.SourcesOf(model.JobProcessing)
	completableStatuses = model.SourcesOf(model.JobCompleted)

	// A refund passes through failed, so it may start anywhere failed is
	// reachable from, or at failed itself.
	refundableStatuses = append(model.SourcesOf(model.JobFailed), model.SourcesOf(model.JobRefunded)...)

	// Cancellation is the refund path limited to jobs no executor has started.
	cancellableStatuses = []model.JobStatus{model.JobPending}
)

// MarkStarted moves a pending job to processing.
func (l *Ledger) MarkStarted(ctx context.Context, jobID uuid.UUID) (*model.GenerationJob, error) {
	job, err := l.store.TransitionJob(ctx, model.Transition{
		JobID: jobID,
		From:  startableStatuses,
		To:    model.JobProcessing,
		At:    l.now(),
	})
	if err != nil {
		l.countTransition(model.JobProcessing, err)
		return nil, err
	}
	l.countTransition(model.JobProcessing, nil)
	l.logger.Info("generation job started", zap.String("job_id", jobID.String()))
	return job, nil
}

// MarkCompleted records a successful generation. Completing an already completed
// job returns it unchanged.
func (l *Ledger) MarkCompleted(ctx context.Context, jobID uuid.UUID, mediaID string) (*model.GenerationJob, error) {
	if strings.TrimSpace(mediaID) == "" {
		return nil, fmt.Errorf("%w: media_id is required", model.ErrInvalidRequest)
	}

	job, err := l.store.TransitionJob(ctx, model.Transition{
		JobID:   jobID,
		From:    completableStatuses,
		To:      model.JobCompleted,
		MediaID: mediaID,
		At:      l.now(),
	})
	if err != nil {
		if current, ok := transitionState(err); ok && current == model.JobCompleted {
			return l.duplicate(ctx, jobID, model.JobCompleted)
		}
		l.countTransition(model.JobCompleted, err)
		return nil, err
	}

	l.countTransition(model.JobCompleted, nil)
	l.logger.Info("generation job completed",
		zap.String("job_id", jobID.String()),
		zap.String("media_id", mediaID),
	)
	l.publish(repository.TopicJobCompleted, job)
	return job, nil
}

// MarkFailed records a failed generation and returns the job's credits to its owner.
// A job that was already refunded is returned unchanged; a completed job is never refunded.
func (l *Ledger) MarkFailed(ctx context.Context, jobID uuid.UUID, errorMessage string) (*model.GenerationJob, error) {
	return l.refund(ctx, jobID, refundableStatuses, errorMessage)
}

// Cancel refunds a job the executor has not picked up yet.
func (l *Ledger) Cancel(ctx context.Context, jobID uuid.UUID, reason string) (*model.GenerationJob, error) {
	msg := "cancelled"
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += ": " + reason
	}
	return l.refund(ctx, jobID, cancellableStatuses, msg)
}

func (l *Ledger) refund(ctx context.Context, jobID uuid.UUID, from []model.JobStatus, msg string) (*model.GenerationJob, error) {
	job, balance, err := l.store.RefundJob(ctx, model.Refund{
		JobID:        jobID,
		From:         from,
		ErrorMessage: msg,
		At:           l.now(),
	})
	if err != nil {
		if current, ok := transitionState(err); ok && current == model.JobRefunded {
			return l.duplicate(ctx, jobID, model.JobRefunded)
		}
		l.countTransition(model.JobRefunded, err)
		return nil, err
	}

	l.countTransition(model.JobRefunded, nil)
	l.metrics.RefundsTotal.Inc()
	l.metrics.CreditsRefunded.Add(float64(job.CreditsCharged))
	l.logger.Info("generation job refunded",
		zap.String("job_id", jobID.String()),
		zap.String("user_id", job.UserID),
		zap.Int64("credits", job.CreditsCharged),
		zap.Int64("balance", balance.Credit),
		zap.String("reason", msg),
	)
	l.publish(repository.TopicJobRefunded, job)
	return job, nil
}

// duplicate handles a callback for a transition that already happened.
func (l *Ledger) duplicate(ctx context.Context, jobID uuid.UUID, to model.JobStatus) (*model.GenerationJob, error) {
	l.metrics.TransitionsTotal.WithLabelValues(string(to), "duplicate").Inc()
	l.logger.Warn("duplicate job callback ignored",
		zap.String("job_id", jobID.String()),
		zap.String("status", string(to)),
	)
	return l.store.GetJob(ctx, jobID)
}

// ApplyReport feeds an executor outcome into the state machine. Reports that
// repeat or arrive after the job has moved on are absorbed.
func (l *Ledger) ApplyReport(ctx context.Context, r model.JobReport) error {
	var err error
	switch r.Outcome {
	case model.OutcomeStarted:
		_, err = l.MarkStarted(ctx, r.JobID)
		if current, ok := transitionState(err); ok && current != model.JobPending {
			l.logger.Warn("stale start report ignored",
				zap.String("job_id", r.JobID.String()),
				zap.String("status", string(current)),
			)
			err = nil
		}
	case model.OutcomeCompleted:
		_, err = l.MarkCompleted(ctx, r.JobID, r.MediaID)
	case model.OutcomeFailed:
		_, err = l.MarkFailed(ctx, r.JobID, r.ErrorMessage)
	case model.OutcomeCancelled:
		_, err = l.Cancel(ctx, r.JobID, r.ErrorMessage)
	default:
		err = fmt.Errorf("%w: unknown report outcome %q", model.ErrInvalidRequest, r.Outcome)
	}
	return err
}

func (l *Ledger) countTransition(to model.JobStatus, err error) {
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	l.metrics.TransitionsTotal.WithLabelValues(string(to), result).Inc()
}

func transitionState(err error) (model.JobStatus, bool) {
	var te *model.TransitionError
	if errors.As(err, &te) {
		return te.Current, true
	}
	return "", false
}
