package events

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/jobs"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"go.uber.org/zap"
)

// JobEvent is the data of every job event.
type JobEvent struct {
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	State         string    `json:"state"`
	PreviousState string    `json:"previous_state,omitempty"`
	Attempt       int       `json:"attempt"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Retryable     *bool     `json:"retryable,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// JobNotifier turns job changes into events.
type JobNotifier struct {
	producer *EventProducer
}

var _ jobs.Notifier = (*JobNotifier)(nil)

func NewJobNotifier(p *EventProducer) *JobNotifier {
	return &JobNotifier{producer: p}
}

func (n *JobNotifier) JobCreated(ctx context.Context, job model.Job) {
	n.emit(ctx, KindJobCreated, JobEvent{
		JobID:      job.ID,
		UserID:     job.UserID,
		State:      job.State.String(),
		Attempt:    job.Attempt,
		OccurredAt: job.CreatedAt,
	})
}

func (n *JobNotifier) JobTransitioned(ctx context.Context, t jobs.Transition) {
	kind := KindForTransition(t.From, t.To)
	if kind == "" {
		return
	}
	n.emit(ctx, kind, JobEvent{
		JobID:         t.JobID,
		UserID:        t.UserID,
		State:         t.To.String(),
		PreviousState: t.From.String(),
		Attempt:       t.Attempt,
		ErrorCode:     t.ErrorCode,
		Retryable:     t.Retryable,
		OccurredAt:    t.At,
	})
}

func (n *JobNotifier) emit(ctx context.Context, kind string, ev JobEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		zap.S().Named("job_notifier").Errorw("failed to encode job event", "error", err, "job_id", ev.JobID)
		return
	}
	if err := n.producer.Write(ctx, kind, ev.JobID, bytes.NewReader(data)); err != nil {
		zap.S().Named("job_notifier").Warnw("dropping job event", "error", err, "type", kind, "job_id", ev.JobID)
	}
}

// KindForTransition returns the event kind of a state change, or "" when the
// change is not announced. Queueing a fresh job is covered by job_created.
func KindForTransition(from, to lifecycle.State) string {
	switch to {
	case lifecycle.StateRunning:
		return KindJobStarted
	case lifecycle.StateSucceeded:
		return KindJobSucceeded
	case lifecycle.StateFailed:
		return KindJobFailed
	case lifecycle.StateRetrying:
		return KindJobRetrying
	case lifecycle.StateQueued:
		if from == lifecycle.StateRetrying {
			return KindJobRequeued
		}
	}
	return ""
}
