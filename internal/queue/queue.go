package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
)

var (
	ErrEntryNotFound = errors.New("queue entry not found")
	// ErrNotClaimable is returned by MarkRunning when the entry is no longer
	// QUEUED, usually because another poller claimed it first.
	ErrNotClaimable = errors.New("queue entry is not claimable")

	errDuplicateEntry = errors.New("job is already enqueued")
)

// Record is the scheduling view of a job.
type Record = model.QueueEntry

type EnqueueRequest struct {
	JobID         string
	UserID        string
	BlobID        string
	SchemaID      string
	SchemaVersion string
	MaxAttempts   int
}

type SuccessResult struct {
	OCRArtifactID    string
	SchemaArtifactID string
	QualityScore     float64
}

type Failure struct {
	ErrorCode string
	Retryable bool
}

// Queue keeps jobs waiting for execution. Implementations must make
// MarkRunning atomic: two concurrent callers never both succeed.
type Queue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*Record, error)
	// GetNextQueued returns the oldest QUEUED record visible at now, or nil.
	GetNextQueued(ctx context.Context, now time.Time) (*Record, error)
	Get(ctx context.Context, jobID string) (*Record, error)
	MarkRunning(ctx context.Context, jobID string) (*Record, error)
	MarkSucceeded(ctx context.Context, jobID string, result SuccessResult) (*Record, error)
	MarkFailed(ctx context.Context, jobID string, failure Failure) (*Record, error)
	ScheduleRetry(ctx context.Context, jobID string, failure Failure, delay time.Duration) (*Record, error)
	// DueRetries lists RETRYING records whose delay has elapsed at now.
	DueRetries(ctx context.Context, now time.Time, limit int) ([]Record, error)
	// Requeue moves a RETRYING record back to QUEUED.
	Requeue(ctx context.Context, jobID string) (*Record, error)
	Remove(ctx context.Context, jobID string) error
}

// OperationError wraps a persistence failure of the queue.
type OperationError struct {
	Op    string
	JobID string
	Err   error
}

func (e *OperationError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("queue %s for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func newOperationError(op, jobID string, err error) error {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &OperationError{Op: op, JobID: jobID, Err: err}
}

type Clock func() time.Time

type Option func(*options)

type options struct {
	clock Clock
}

func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func newOptions(opts ...Option) options {
	o := options{clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// transitionUpdates builds the column changes for moving a record to state.
// Error columns are only set for FAILED and RETRYING.
func transitionUpdates(state lifecycle.State, now time.Time) map[string]any {
	updates := map[string]any{
		"state":      state.String(),
		"updated_at": now,
	}
	if !state.HasError() {
		updates["error_code"] = nil
		updates["retryable"] = nil
	}
	return updates
}

func failureUpdates(state lifecycle.State, failure Failure, now time.Time) map[string]any {
	updates := transitionUpdates(state, now)
	updates["error_code"] = failure.ErrorCode
	updates["retryable"] = failure.Retryable
	return updates
}
