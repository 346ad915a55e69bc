package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/pipeline"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/metrics"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const promoteBatch = 32

// Runner executes a claimed job. It either records the outcome itself or
// hands the job to a platform that reports back later. An error means the
// job was not handed over.
type Runner interface {
	Name() string
	RunJob(ctx context.Context, jobID string) error
}

type DispatcherOption func(*Dispatcher)

func WithPollInterval(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.interval = d
	}
}

func WithWorkers(n int) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.workers = n
	}
}

// Dispatcher polls the queue and runs claimed jobs. Retry delays are only
// evaluated when polling, there are no timers per job.
type Dispatcher struct {
	scheduler *Scheduler
	runner    Runner
	interval  time.Duration
	workers   int
	log       *zap.SugaredLogger
}

func NewDispatcher(s *Scheduler, r Runner, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		scheduler: s,
		runner:    r,
		interval:  time.Second,
		workers:   1,
		log:       zap.S().Named("dispatcher"),
	}
	for _, o := range opts {
		o(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	return d
}

// Run starts the poll loops and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Infow("starting dispatcher", "backend", d.runner.Name(), "workers", d.workers, "interval", d.interval)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		worker := i
		g.Go(func() error {
			d.loop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, worker int) {
	ticker := jitterbug.New(d.interval, &jitterbug.Norm{Stdev: d.interval / 10, Mean: 0})
	defer ticker.Stop()

	log := d.log.With("worker", worker)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// drain the queue before waiting for the next tick
		for {
			ran, err := d.Tick(ctx)
			if err != nil {
				log.Errorw("dispatch cycle failed", "error", err)
				break
			}
			if !ran || ctx.Err() != nil {
				break
			}
		}
	}
}

// Tick promotes due retries and runs at most one job. It reports whether a
// job was claimed.
func (d *Dispatcher) Tick(ctx context.Context) (bool, error) {
	if _, err := d.scheduler.PromoteDue(ctx, promoteBatch); err != nil {
		return false, err
	}

	rec, err := d.scheduler.Claim(ctx)
	if err != nil {
		return false, err
	}
	if rec == nil {
		metrics.IncreaseQueuePollEmptyMetric()
		return false, nil
	}

	start := time.Now()
	runErr := d.runner.RunJob(ctx, rec.JobID)
	if runErr == nil {
		metrics.ObserveJobRunDuration(d.runner.Name(), "handled", time.Since(start))
		return true, nil
	}

	metrics.IncreaseDispatchErrorsMetric(d.runner.Name())
	metrics.ObserveJobRunDuration(d.runner.Name(), "dispatch_failed", time.Since(start))
	d.log.Warnw("failed to run job", "job_id", rec.JobID, "backend", d.runner.Name(), "error", runErr)

	cause := runErr
	if _, ok := pipeline.AsProcessingError(runErr); !ok {
		cause = pipeline.NewDispatchError(runErr)
	}
	// the outcome is recorded even if the dispatcher is shutting down
	if _, err := d.scheduler.Fail(context.WithoutCancel(ctx), rec.JobID, cause); err != nil && !errors.Is(err, context.Canceled) {
		return true, err
	}
	return true, nil
}
