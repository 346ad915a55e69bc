package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/artifact"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/pipeline"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/queue"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/retry"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxStaleRetries bounds how often a state change is re-evaluated after a
// concurrent writer moved the job first.
const maxStaleRetries = 3

type CreateJobRequest struct {
	BlobID          string
	UserID          string
	ClientRequestID string
	SchemaID        string
	SchemaVersion   string
}

func (r CreateJobRequest) validate() error {
	fields := []struct{ name, value string }{
		{"blob_id", r.BlobID},
		{"user_id", r.UserID},
		{"client_request_id", r.ClientRequestID},
		{"schema_id", r.SchemaID},
		{"schema_version", r.SchemaVersion},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return NewErrInvalidJobRequest(f.name)
		}
	}
	return nil
}

type CreateJobResult struct {
	JobID    string
	IsNewJob bool
}

// Output is the result of a succeeded job.
type Output struct {
	OCRArtifactID    string             `json:"ocr_artifact_id"`
	SchemaArtifactID string             `json:"schema_artifact_id"`
	SchemaOutput     map[string]any     `json:"schema_output"`
	Confidence       map[string]float64 `json:"confidence"`
	QualityScore     float64            `json:"quality_score"`
}

func OutputFromResult(r *pipeline.Result) Output {
	return Output{
		OCRArtifactID:    r.OCRArtifactID,
		SchemaArtifactID: r.SchemaArtifactID,
		SchemaOutput:     r.SchemaOutput,
		Confidence:       r.Confidence,
		QualityScore:     r.QualityScore,
	}
}

type Option func(*Repository)

func WithClock(clock func() time.Time) Option {
	return func(r *Repository) {
		r.clock = clock
	}
}

func WithMaxAttempts(n int) Option {
	return func(r *Repository) {
		r.maxAttempts = n
	}
}

func WithTransactor(t Transactor) Option {
	return func(r *Repository) {
		r.tx = t
	}
}

// Repository owns job records. The storage backend is picked once at startup
// and injected.
type Repository struct {
	storage     Storage
	queue       queue.Queue
	artifacts   artifact.Store
	notifier    Notifier
	tx          Transactor
	clock       func() time.Time
	maxAttempts int
	log         *zap.SugaredLogger
}

func NewRepository(storage Storage, q queue.Queue, artifacts artifact.Store, notifier Notifier, opts ...Option) *Repository {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	r := &Repository{
		storage:     storage,
		queue:       q,
		artifacts:   artifacts,
		notifier:    notifier,
		tx:          NewLocalTransactor(),
		clock:       func() time.Time { return time.Now().UTC() },
		maxAttempts: retry.DefaultPolicy().MaxAttempts(),
		log:         zap.S().Named("job_repository"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Transactor exposes the transaction boundary shared with the queue.
func (r *Repository) Transactor() Transactor {
	return r.tx
}

// CreateJob creates and enqueues a job unless the same user already submitted
// the same client request, in which case the existing job id is returned.
func (r *Repository) CreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	existing, err := r.storage.FindByRequest(ctx, req.UserID, req.ClientRequestID)
	if err == nil {
		r.log.Debugw("duplicate job request", "job_id", existing.ID, "user_id", req.UserID)
		return &CreateJobResult{JobID: existing.ID, IsNewJob: false}, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up idempotency key: %w", err)
	}

	var (
		created    model.Job
		transition Transition
		duplicate  string
	)
	err = r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		now := r.clock()
		job := model.Job{
			ID:              uuid.NewString(),
			UserID:          req.UserID,
			BlobID:          req.BlobID,
			ClientRequestID: req.ClientRequestID,
			SchemaID:        req.SchemaID,
			SchemaVersion:   req.SchemaVersion,
			State:           lifecycle.StateCreated,
			MaxAttempts:     r.maxAttempts,
			Metadata:        map[string]any{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := r.storage.Insert(ctx, job); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				winner, ferr := r.storage.FindByRequest(ctx, req.UserID, req.ClientRequestID)
				if ferr != nil {
					return fmt.Errorf("resolving concurrent job request: %w", ferr)
				}
				duplicate = winner.ID
				return nil
			}
			return fmt.Errorf("persisting job: %w", err)
		}

		if _, err := r.queue.Enqueue(ctx, queue.EnqueueRequest{
			JobID:         job.ID,
			UserID:        job.UserID,
			BlobID:        job.BlobID,
			SchemaID:      job.SchemaID,
			SchemaVersion: job.SchemaVersion,
			MaxAttempts:   job.MaxAttempts,
		}); err != nil {
			r.rollbackCreate(ctx, job.ID, false)
			return asOperationError("enqueue", job.ID, err)
		}

		queued, t, _, err := r.changeState(ctx, job.ID, lifecycle.StateQueued, nil)
		if err != nil {
			r.rollbackCreate(ctx, job.ID, true)
			return asOperationError("enqueue", job.ID, err)
		}

		created = *queued
		transition = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if duplicate != "" {
		return &CreateJobResult{JobID: duplicate, IsNewJob: false}, nil
	}

	r.notifyCreated(ctx, created)
	r.notifyTransition(ctx, transition)
	r.log.Infow("job created", "job_id", created.ID, "user_id", created.UserID)

	return &CreateJobResult{JobID: created.ID, IsNewJob: true}, nil
}

func (r *Repository) rollbackCreate(ctx context.Context, jobID string, enqueued bool) {
	if enqueued {
		if err := r.queue.Remove(ctx, jobID); err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
			r.log.Warnw("failed to remove queue entry during rollback", "job_id", jobID, "error", err)
		}
	}
	if err := r.storage.Delete(ctx, jobID); err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		r.log.Warnw("failed to delete job during rollback", "job_id", jobID, "error", err)
	}
}

// GetJobForUser returns nil when the job does not exist or belongs to another
// user. The two cases are indistinguishable to the caller.
func (r *Repository) GetJobForUser(ctx context.Context, jobID, userID string) (*model.Job, error) {
	job, err := r.storage.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	if job.UserID != userID {
		return nil, nil
	}
	return job, nil
}

func (r *Repository) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := r.storage.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

func (r *Repository) GetJobsByUserID(ctx context.Context, userID string) (model.JobList, error) {
	jobs, err := r.storage.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobState moves the job to newState after validating the edge against
// the stored state. Requesting the current state is a no-op. details is
// required for FAILED and RETRYING.
func (r *Repository) UpdateJobState(ctx context.Context, jobID string, newState lifecycle.State, details *ErrorDetails) (*model.Job, error) {
	job, t, changed, err := r.changeState(ctx, jobID, newState, details)
	if err != nil {
		return nil, err
	}
	if changed {
		r.notifyTransition(ctx, t)
	}
	return job, nil
}

func (r *Repository) changeState(ctx context.Context, jobID string, to lifecycle.State, details *ErrorDetails) (*model.Job, Transition, bool, error) {
	for i := 0; i < maxStaleRetries; i++ {
		current, err := r.GetJob(ctx, jobID)
		if err != nil {
			return nil, Transition{}, false, err
		}

		noop, err := lifecycle.Check(current.State, to)
		if err != nil {
			return nil, Transition{}, false, err
		}
		if noop {
			return current, Transition{}, false, nil
		}

		from := current.State
		updated, err := r.storage.Apply(ctx, jobID, &from, r.statePatch(to, details))
		if err != nil {
			if errors.Is(err, store.ErrStaleState) {
				r.log.Debugw("job changed concurrently, re-evaluating", "job_id", jobID, "to", to)
				continue
			}
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, Transition{}, false, NewErrJobNotFound(jobID)
			}
			return nil, Transition{}, false, fmt.Errorf("updating job state: %w", err)
		}

		t := Transition{
			JobID:   updated.ID,
			UserID:  updated.UserID,
			From:    from,
			To:      to,
			Attempt: updated.Attempt,
			At:      updated.UpdatedAt,
		}
		if updated.ErrorCode != nil {
			t.ErrorCode = *updated.ErrorCode
			t.Retryable = updated.Retryable
		}
		return updated, t, true, nil
	}
	return nil, Transition{}, false, fmt.Errorf("updating job %s: %w", jobID, store.ErrStaleState)
}

func (r *Repository) statePatch(to lifecycle.State, details *ErrorDetails) Patch {
	p := Patch{State: &to, UpdatedAt: r.clock()}
	switch to {
	case lifecycle.StateRunning:
		p.IncrementAttempt = true
		p.ClearError = true
	case lifecycle.StateFailed, lifecycle.StateRetrying:
		if details == nil {
			details = &ErrorDetails{Code: pipeline.CodeInternal, Message: "no error details recorded"}
		}
		p.Error = details
		if to == lifecycle.StateRetrying && details.RetryAt != nil {
			p.NextVisibleAt = details.RetryAt
		}
	default:
		p.ClearError = true
	}
	return p
}

// SetJobOutput stores the structured output in the artifact store and keeps
// the references and quality score on the job record.
func (r *Repository) SetJobOutput(ctx context.Context, jobID string, output Output) (*model.Job, error) {
	if _, err := r.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("encoding job output: %w", err)
	}
	key := artifact.OutputKey(jobID)
	if err := r.artifacts.Put(ctx, key, data, "application/json"); err != nil {
		return nil, fmt.Errorf("storing job output: %w", err)
	}

	job, err := r.storage.Apply(ctx, jobID, nil, Patch{
		Output: &OutputRefs{
			OCRArtifactID:    output.OCRArtifactID,
			SchemaArtifactID: output.SchemaArtifactID,
			OutputArtifactID: key,
			QualityScore:     output.QualityScore,
		},
		UpdatedAt: r.clock(),
	})
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		return nil, fmt.Errorf("attaching job output: %w", err)
	}
	return job, nil
}

// GetJobOutput returns the output of a succeeded job owned by userID.
func (r *Repository) GetJobOutput(ctx context.Context, jobID, userID string) (*Output, error) {
	job, err := r.GetJobForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, NewErrJobNotFound(jobID)
	}
	if job.State != lifecycle.StateSucceeded || job.OutputArtifactID == nil {
		return nil, NewErrJobNotComplete(jobID, job.State)
	}

	data, err := r.artifacts.Get(ctx, *job.OutputArtifactID)
	if err != nil {
		return nil, fmt.Errorf("reading job output: %w", err)
	}
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding job output: %w", err)
	}
	return &out, nil
}

// AnnotateJob records execution metadata such as the remote run id.
func (r *Repository) AnnotateJob(ctx context.Context, jobID string, values map[string]any) error {
	_, err := r.storage.Apply(ctx, jobID, nil, Patch{Metadata: values, UpdatedAt: r.clock()})
	if errors.Is(err, store.ErrRecordNotFound) {
		return NewErrJobNotFound(jobID)
	}
	return err
}

func (r *Repository) notifyCreated(ctx context.Context, job model.Job) {
	defer r.recoverNotifier(job.ID)
	r.notifier.JobCreated(ctx, job)
}

func (r *Repository) notifyTransition(ctx context.Context, t Transition) {
	defer r.recoverNotifier(t.JobID)
	r.notifier.JobTransitioned(ctx, t)
}

func (r *Repository) recoverNotifier(jobID string) {
	if p := recover(); p != nil {
		r.log.Errorw("job notifier panicked", "job_id", jobID, "panic", p)
	}
}

func asOperationError(op, jobID string, err error) error {
	var opErr *queue.OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &queue.OperationError{Op: op, JobID: jobID, Err: err}
}
