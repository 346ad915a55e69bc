package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/jobs"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/pipeline"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/queue"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/retry"
	"go.uber.org/zap"
)

// Scheduler moves jobs through their lifecycle. Every step updates the queue
// entry and the job record inside one transaction.
type Scheduler struct {
	repo   *jobs.Repository
	queue  queue.Queue
	policy retry.Policy
	clock  func() time.Time
	log    *zap.SugaredLogger
}

type Option func(*Scheduler)

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func NewScheduler(repo *jobs.Repository, q queue.Queue, policy retry.Policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:   repo,
		queue:  q,
		policy: policy,
		clock:  func() time.Time { return time.Now().UTC() },
		log:    zap.S().Named("scheduler"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Claim takes the oldest visible QUEUED job and moves it to RUNNING. It
// returns nil when nothing is queued or another poller won the job. The
// lookup and the claim share one transaction so a locked row stays locked
// until the job is RUNNING.
func (s *Scheduler) Claim(ctx context.Context) (*queue.Record, error) {
	var rec *queue.Record
	err := s.repo.Transactor().WithinTransaction(ctx, func(ctx context.Context) error {
		next, err := s.queue.GetNextQueued(ctx, s.clock())
		if err != nil || next == nil {
			return err
		}
		rec, err = s.start(ctx, next.JobID)
		return err
	})
	if errors.Is(err, queue.ErrNotClaimable) {
		s.log.Debugw("job claimed by another poller")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec != nil {
		s.log.Infow("job started", "job_id", rec.JobID, "attempt", rec.Attempt)
	}
	return rec, nil
}

// Start claims the given job. A job that is not QUEUED yields
// queue.ErrNotClaimable.
func (s *Scheduler) Start(ctx context.Context, jobID string) (*queue.Record, error) {
	var rec *queue.Record
	err := s.repo.Transactor().WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.start(ctx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("job started", "job_id", jobID, "attempt", rec.Attempt)
	return rec, nil
}

func (s *Scheduler) start(ctx context.Context, jobID string) (*queue.Record, error) {
	rec, err := s.queue.MarkRunning(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.UpdateJobState(ctx, jobID, lifecycle.StateRunning, nil); err != nil {
		return nil, err
	}
	return rec, nil
}

// Complete stores the result of a succeeded attempt. Completing a job that
// already reached a terminal state changes nothing.
func (s *Scheduler) Complete(ctx context.Context, jobID string, result *pipeline.Result) error {
	if result == nil {
		return fmt.Errorf("completing job %s: missing result", jobID)
	}

	return s.repo.Transactor().WithinTransaction(ctx, func(ctx context.Context) error {
		job, err := s.repo.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.State.IsTerminal() {
			s.log.Infow("ignoring completion of finished job", "job_id", jobID, "state", job.State)
			return nil
		}

		// output fields belong to succeeded jobs only
		if err := lifecycle.AssertTransition(job.State, lifecycle.StateSucceeded); err != nil {
			return err
		}

		output := jobs.OutputFromResult(result)
		if _, err := s.queue.MarkSucceeded(ctx, jobID, queue.SuccessResult{
			OCRArtifactID:    output.OCRArtifactID,
			SchemaArtifactID: output.SchemaArtifactID,
			QualityScore:     output.QualityScore,
		}); err != nil {
			return err
		}
		if _, err := s.repo.SetJobOutput(ctx, jobID, output); err != nil {
			return err
		}
		if _, err := s.repo.UpdateJobState(ctx, jobID, lifecycle.StateSucceeded, nil); err != nil {
			return err
		}
		s.log.Infow("job succeeded", "job_id", jobID, "quality_score", output.QualityScore)
		return nil
	})
}

// Fail records a failed attempt. Retryable failures with retries left move
// the job to RETRYING, everything else to FAILED. Failing a job that already
// reached a terminal state changes nothing.
func (s *Scheduler) Fail(ctx context.Context, jobID string, cause error) (retry.Decision, error) {
	if cause == nil {
		cause = errors.New("failure without cause")
	}

	var decision retry.Decision
	err := s.repo.Transactor().WithinTransaction(ctx, func(ctx context.Context) error {
		job, err := s.repo.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.State.IsTerminal() {
			s.log.Infow("ignoring failure of finished job", "job_id", jobID, "state", job.State)
			decision = retry.Decision{Terminal: true, Attempt: job.Attempt, Reason: "job already finished"}
			return nil
		}

		rec, err := s.queue.Get(ctx, jobID)
		if err != nil {
			return err
		}

		decision = s.policy.Decide(rec.Attempt, cause)
		details := errorDetails(cause)
		failure := queue.Failure{ErrorCode: details.Code, Retryable: details.Retryable}

		if decision.ShouldRetry {
			if _, err := s.queue.ScheduleRetry(ctx, jobID, failure, decision.Delay); err != nil {
				return err
			}
			retryAt := s.clock().Add(decision.Delay)
			details.RetryAt = &retryAt
			if _, err := s.repo.UpdateJobState(ctx, jobID, lifecycle.StateRetrying, details); err != nil {
				return err
			}
			s.log.Infow("job will be retried", "job_id", jobID, "attempt", rec.Attempt, "delay", decision.Delay, "reason", decision.Reason)
			return nil
		}

		if _, err := s.queue.MarkFailed(ctx, jobID, failure); err != nil {
			return err
		}
		if _, err := s.repo.UpdateJobState(ctx, jobID, lifecycle.StateFailed, details); err != nil {
			return err
		}
		s.log.Infow("job failed", "job_id", jobID, "attempt", rec.Attempt, "reason", decision.Reason)
		return nil
	})
	return decision, err
}

// PromoteDue puts RETRYING jobs whose delay elapsed back in the queue. It
// returns how many jobs were requeued.
func (s *Scheduler) PromoteDue(ctx context.Context, limit int) (int, error) {
	due, err := s.queue.DueRetries(ctx, s.clock(), limit)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, rec := range due {
		err := s.repo.Transactor().WithinTransaction(ctx, func(ctx context.Context) error {
			if _, err := s.queue.Requeue(ctx, rec.JobID); err != nil {
				return err
			}
			_, err := s.repo.UpdateJobState(ctx, rec.JobID, lifecycle.StateQueued, nil)
			return err
		})
		if err != nil {
			// another poller may have requeued it already
			var transitionErr *lifecycle.InvalidTransitionError
			if errors.As(err, &transitionErr) {
				continue
			}
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Retryable is the classification of the failure, not the retry decision.
func errorDetails(err error) *jobs.ErrorDetails {
	retryable := retry.Classify(err).Retryable
	if pe, ok := pipeline.AsProcessingError(err); ok {
		return &jobs.ErrorDetails{Code: pe.Code, Stage: string(pe.Stage), Message: pe.Message, Retryable: retryable}
	}
	return &jobs.ErrorDetails{Code: pipeline.CodeInternal, Message: err.Error(), Retryable: retryable}
}
