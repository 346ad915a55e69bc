package worker

import (
	"context"
	"errors"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/pipeline"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/retry"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/worker"

// JobGetter loads the job to execute.
type JobGetter interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
}

// Reporter records the outcome of an attempt.
type Reporter interface {
	Complete(ctx context.Context, jobID string, result *pipeline.Result) error
	Fail(ctx context.Context, jobID string, cause error) (retry.Decision, error)
}

type Option func(*Worker)

func WithTimeout(d time.Duration) Option {
	return func(w *Worker) {
		w.timeout = d
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(w *Worker) {
		w.tracer = t
	}
}

// Worker runs the processing pipeline in-process.
type Worker struct {
	jobs     JobGetter
	pipeline pipeline.Pipeline
	reporter Reporter
	timeout  time.Duration
	tracer   trace.Tracer
	log      *zap.SugaredLogger
}

func NewWorker(jobs JobGetter, p pipeline.Pipeline, reporter Reporter, opts ...Option) *Worker {
	w := &Worker{
		jobs:     jobs,
		pipeline: p,
		reporter: reporter,
		timeout:  5 * time.Minute,
		tracer:   otel.Tracer(tracerName),
		log:      zap.S().Named("worker"),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Execute runs one attempt of a RUNNING job and records the outcome. Pipeline
// failures are recorded, not returned. The returned error means the outcome
// could not be recorded.
func (w *Worker) Execute(ctx context.Context, jobID string) error {
	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	ctx, span := w.tracer.Start(ctx, "rythmiq.job.execute",
		trace.WithAttributes(
			attribute.String("rythmiq.job.id", job.ID),
			attribute.String("rythmiq.job.schema_id", job.SchemaID),
			attribute.String("rythmiq.job.schema_version", job.SchemaVersion),
			attribute.Int("rythmiq.job.attempt", job.Attempt),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	result, procErr := w.process(ctx, job)
	if procErr == nil {
		span.SetAttributes(attribute.Float64("rythmiq.job.quality_score", result.QualityScore))
		span.SetStatus(codes.Ok, "")
		return w.reporter.Complete(ctx, jobID, result)
	}

	span.RecordError(procErr)
	span.SetStatus(codes.Error, procErr.Error())

	decision, err := w.reporter.Fail(ctx, jobID, procErr)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Bool("rythmiq.job.retry", decision.ShouldRetry))
	w.log.Infow("job attempt failed", "job_id", jobID, "attempt", job.Attempt, "retry", decision.ShouldRetry, "error", procErr)
	return nil
}

func (w *Worker) process(ctx context.Context, job *model.Job) (*pipeline.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	result, err := w.pipeline.Process(ctx, pipeline.Payload{
		JobID:         job.ID,
		UserID:        job.UserID,
		BlobID:        job.BlobID,
		SchemaID:      job.SchemaID,
		SchemaVersion: job.SchemaVersion,
		Attempt:       job.Attempt,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if _, ok := pipeline.AsProcessingError(err); !ok {
				return nil, &pipeline.ProcessingError{
					Kind:      pipeline.KindTimeout,
					Code:      pipeline.CodeWorkerTimeout,
					Stage:     pipeline.StageOCR,
					Retryable: true,
					Message:   "job exceeded its time budget",
				}
			}
		}
		return nil, err
	}
	if result == nil {
		return nil, pipeline.NewProcessingError(pipeline.CodeInternal, pipeline.StageTransform, false, "pipeline returned no result")
	}
	return result, nil
}
