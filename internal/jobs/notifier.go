package jobs

import (
	"context"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
)

type Transition struct {
	JobID     string
	UserID    string
	From      lifecycle.State
	To        lifecycle.State
	Attempt   int
	ErrorCode string
	Retryable *bool
	At        time.Time
}

// Notifier observes job creations and state changes. Implementations must
// not block; they are called synchronously after the change is stored.
type Notifier interface {
	JobCreated(ctx context.Context, job model.Job)
	JobTransitioned(ctx context.Context, t Transition)
}

type NopNotifier struct{}

func (NopNotifier) JobCreated(context.Context, model.Job)       {}
func (NopNotifier) JobTransitioned(context.Context, Transition) {}

// Notifiers fans out to every notifier in order.
type Notifiers []Notifier

func (n Notifiers) JobCreated(ctx context.Context, job model.Job) {
	for _, notifier := range n {
		notifier.JobCreated(ctx, job)
	}
}

func (n Notifiers) JobTransitioned(ctx context.Context, t Transition) {
	for _, notifier := range n {
		notifier.JobTransitioned(ctx, t)
	}
}
