package jobs

import (
	"context"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
)

// Storage persists job records. Implementations report missing records with
// store.ErrRecordNotFound, a taken idempotency key with store.ErrDuplicateKey
// and a failed compare-and-set with store.ErrStaleState.
type Storage interface {
	Insert(ctx context.Context, job model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	FindByRequest(ctx context.Context, userID, clientRequestID string) (*model.Job, error)
	// ListByUser returns the user's jobs, most recent first.
	ListByUser(ctx context.Context, userID string) (model.JobList, error)
	// Apply writes patch. When expected is set the write only happens if the
	// stored state still equals it.
	Apply(ctx context.Context, id string, expected *lifecycle.State, patch Patch) (*model.Job, error)
	Delete(ctx context.Context, id string) error
}

type ErrorDetails struct {
	Code      string
	Stage     string
	Message   string
	Retryable bool
	// RetryAt is when a RETRYING job becomes visible again.
	RetryAt *time.Time
}

type OutputRefs struct {
	OCRArtifactID    string
	SchemaArtifactID string
	OutputArtifactID string
	QualityScore     float64
}

type Patch struct {
	State            *lifecycle.State
	IncrementAttempt bool
	ClearError       bool
	Error            *ErrorDetails
	NextVisibleAt    *time.Time
	Output           *OutputRefs
	Metadata         map[string]any
	UpdatedAt        time.Time
}

func (p Patch) apply(j *model.Job) {
	if p.State != nil {
		j.State = *p.State
	}
	if p.IncrementAttempt {
		j.Attempt++
	}
	if p.ClearError {
		j.ErrorCode = nil
		j.ErrorStage = nil
		j.ErrorMessage = nil
		j.Retryable = nil
	}
	if p.Error != nil {
		code, stage, msg, retryable := p.Error.Code, p.Error.Stage, p.Error.Message, p.Error.Retryable
		j.ErrorCode = &code
		j.ErrorStage = &stage
		j.ErrorMessage = &msg
		j.Retryable = &retryable
	}
	if p.NextVisibleAt != nil {
		t := *p.NextVisibleAt
		j.NextVisibleAt = &t
	}
	if p.Output != nil {
		ocr, schema, out, score := p.Output.OCRArtifactID, p.Output.SchemaArtifactID, p.Output.OutputArtifactID, p.Output.QualityScore
		j.OCRArtifactID = &ocr
		j.SchemaArtifactID = &schema
		j.OutputArtifactID = &out
		j.QualityScore = &score
	}
	if len(p.Metadata) > 0 {
		if j.Metadata == nil {
			j.Metadata = make(map[string]any, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			j.Metadata[k] = v
		}
	}
	if !p.UpdatedAt.IsZero() {
		j.UpdatedAt = p.UpdatedAt
	}
}
