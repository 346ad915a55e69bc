package metrics

import (
	"context"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/jobs"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	rythmiqSubsystem = "rythmiq"

	// Job metrics
	jobsCreatedTotal    = "jobs_created_total"
	jobTransitionsTotal = "job_transitions_total"
	jobRunDuration      = "job_run_duration_seconds"
	dispatchErrorsTotal = "dispatch_errors_total"
	queuePollEmptyTotal = "queue_poll_empty_total"

	// Labels
	stateLabel     = "state"
	errorCodeLabel = "error_code"
	backendLabel   = "backend"
)

/**
* Metrics definition
**/
var jobsCreatedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: rythmiqSubsystem,
		Name:      jobsCreatedTotal,
		Help:      "number of jobs created",
	},
)

var jobTransitionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: rythmiqSubsystem,
		Name:      jobTransitionsTotal,
		Help:      "number of job state changes partitioned by target state and error code",
	},
	[]string{stateLabel, errorCodeLabel},
)

var jobRunDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: rythmiqSubsystem,
		Name:      jobRunDuration,
		Help:      "time spent executing a job attempt",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	},
	[]string{backendLabel, stateLabel},
)

var dispatchErrorsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: rythmiqSubsystem,
		Name:      dispatchErrorsTotal,
		Help:      "number of failed attempts to hand a job to the execution backend",
	},
	[]string{backendLabel},
)

var queuePollEmptyTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: rythmiqSubsystem,
		Name:      queuePollEmptyTotal,
		Help:      "number of dispatcher polls that found no queued job",
	},
)

func IncreaseJobsCreatedMetric() {
	jobsCreatedTotalMetric.Inc()
}

func IncreaseJobTransitionMetric(state, errorCode string) {
	labels := prometheus.Labels{
		stateLabel:     state,
		errorCodeLabel: errorCode,
	}
	jobTransitionsTotalMetric.With(labels).Inc()
}

func ObserveJobRunDuration(backend, state string, d time.Duration) {
	jobRunDurationMetric.WithLabelValues(backend, state).Observe(d.Seconds())
}

func IncreaseDispatchErrorsMetric(backend string) {
	dispatchErrorsTotalMetric.WithLabelValues(backend).Inc()
}

func IncreaseQueuePollEmptyMetric() {
	queuePollEmptyTotalMetric.Inc()
}

// JobNotifier counts job creations and state changes.
type JobNotifier struct{}

var _ jobs.Notifier = JobNotifier{}

func (JobNotifier) JobCreated(context.Context, model.Job) {
	IncreaseJobsCreatedMetric()
}

func (JobNotifier) JobTransitioned(_ context.Context, t jobs.Transition) {
	IncreaseJobTransitionMetric(t.To.String(), t.ErrorCode)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsCreatedTotalMetric)
	prometheus.MustRegister(jobTransitionsTotalMetric)
	prometheus.MustRegister(jobRunDurationMetric)
	prometheus.MustRegister(dispatchErrorsTotalMetric)
	prometheus.MustRegister(queuePollEmptyTotalMetric)
}
