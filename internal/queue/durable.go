package queue

import (
	"context"
	"errors"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxStaleRetries bounds how often a transition is re-evaluated after losing
// a race on the stored state.
const maxStaleRetries = 3

// Durable keeps the queue in the job_queue table.
type Durable struct {
	store store.Store
	opts  options
	log   *zap.SugaredLogger
}

var _ Queue = (*Durable)(nil)

func NewDurable(s store.Store, opts ...Option) *Durable {
	return &Durable{store: s, opts: newOptions(opts...), log: zap.S().Named("queue")}
}

func (d *Durable) Enqueue(ctx context.Context, req EnqueueRequest) (*Record, error) {
	now := d.opts.clock()
	rec, err := d.store.Queue().Insert(ctx, Record{
		JobID:         req.JobID,
		UserID:        req.UserID,
		BlobID:        req.BlobID,
		SchemaID:      req.SchemaID,
		SchemaVersion: req.SchemaVersion,
		State:         lifecycle.StateQueued,
		Attempt:       0,
		MaxAttempts:   req.MaxAttempts,
		NextVisibleAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, newOperationError("enqueue", req.JobID, errDuplicateEntry)
		}
		return nil, newOperationError("enqueue", req.JobID, err)
	}
	return rec, nil
}

func (d *Durable) GetNextQueued(ctx context.Context, now time.Time) (*Record, error) {
	rec, err := d.store.Queue().First(ctx, store.NewQueueQueryFilter().ByState(lifecycle.StateQueued).VisibleAt(now).ForClaim())
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, newOperationError("poll", "", err)
	}
	return rec, nil
}

func (d *Durable) Get(ctx context.Context, jobID string) (*Record, error) {
	rec, err := d.store.Queue().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, newOperationError("get", jobID, err)
	}
	return rec, nil
}

// MarkRunning claims the record with a single conditional update so the
// attempt counter moves exactly once per claim.
func (d *Durable) MarkRunning(ctx context.Context, jobID string) (*Record, error) {
	updates := transitionUpdates(lifecycle.StateRunning, d.opts.clock())
	updates["attempt"] = gorm.Expr("attempt + 1")

	rec, err := d.store.Queue().Transition(ctx, jobID, lifecycle.StateQueued, updates)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, store.ErrRecordNotFound):
		return nil, ErrEntryNotFound
	case errors.Is(err, store.ErrStaleState):
		return nil, ErrNotClaimable
	default:
		return nil, newOperationError("mark running", jobID, err)
	}
}

func (d *Durable) MarkSucceeded(ctx context.Context, jobID string, result SuccessResult) (*Record, error) {
	updates := transitionUpdates(lifecycle.StateSucceeded, d.opts.clock())
	updates["ocr_artifact_id"] = result.OCRArtifactID
	updates["schema_artifact_id"] = result.SchemaArtifactID
	updates["quality_score"] = result.QualityScore
	return d.transition(ctx, "mark succeeded", jobID, lifecycle.StateSucceeded, updates)
}

func (d *Durable) MarkFailed(ctx context.Context, jobID string, failure Failure) (*Record, error) {
	updates := failureUpdates(lifecycle.StateFailed, failure, d.opts.clock())
	return d.transition(ctx, "mark failed", jobID, lifecycle.StateFailed, updates)
}

func (d *Durable) ScheduleRetry(ctx context.Context, jobID string, failure Failure, delay time.Duration) (*Record, error) {
	now := d.opts.clock()
	updates := failureUpdates(lifecycle.StateRetrying, failure, now)
	updates["next_visible_at"] = now.Add(delay)
	return d.transition(ctx, "schedule retry", jobID, lifecycle.StateRetrying, updates)
}

func (d *Durable) DueRetries(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	recs, err := d.store.Queue().List(ctx, store.NewQueueQueryFilter().ByState(lifecycle.StateRetrying).VisibleAt(now), limit)
	if err != nil {
		return nil, newOperationError("list retries", "", err)
	}
	return recs, nil
}

func (d *Durable) Requeue(ctx context.Context, jobID string) (*Record, error) {
	updates := transitionUpdates(lifecycle.StateQueued, d.opts.clock())
	return d.transition(ctx, "requeue", jobID, lifecycle.StateQueued, updates)
}

func (d *Durable) Remove(ctx context.Context, jobID string) error {
	if err := d.store.Queue().Delete(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrEntryNotFound
		}
		return newOperationError("remove", jobID, err)
	}
	return nil
}

func (d *Durable) transition(ctx context.Context, op, jobID string, to lifecycle.State, updates map[string]any) (*Record, error) {
	for i := 0; i < maxStaleRetries; i++ {
		current, err := d.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}

		noop, err := lifecycle.Check(current.State, to)
		if err != nil {
			return nil, err
		}
		if noop {
			return current, nil
		}

		rec, err := d.store.Queue().Transition(ctx, jobID, current.State, updates)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrStaleState) {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, ErrEntryNotFound
			}
			return nil, newOperationError(op, jobID, err)
		}
		d.log.Debugw("queue entry changed concurrently, re-evaluating", "job_id", jobID, "to", to)
	}
	return nil, newOperationError(op, jobID, store.ErrStaleState)
}
