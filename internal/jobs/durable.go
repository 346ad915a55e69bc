package jobs

import (
	"context"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DurableStorage keeps jobs in the database behind store.Store.
type DurableStorage struct {
	store store.Store
}

var _ Storage = (*DurableStorage)(nil)

func NewDurableStorage(s store.Store) *DurableStorage {
	return &DurableStorage{store: s}
}

func (d *DurableStorage) Insert(ctx context.Context, job model.Job) error {
	if job.Metadata == nil {
		job.Metadata = datatypes.JSONMap{}
	}
	_, err := d.store.Job().Create(ctx, job)
	return err
}

func (d *DurableStorage) Get(ctx context.Context, id string) (*model.Job, error) {
	return d.store.Job().Get(ctx, id)
}

func (d *DurableStorage) FindByRequest(ctx context.Context, userID, clientRequestID string) (*model.Job, error) {
	return d.store.Job().GetByIdempotencyKey(ctx, userID, clientRequestID)
}

func (d *DurableStorage) ListByUser(ctx context.Context, userID string) (model.JobList, error) {
	return d.store.Job().List(ctx,
		store.NewJobQueryFilter().ByUserID(userID),
		store.NewJobQueryOptions().WithSortOrder(store.SortByCreatedTimeDesc),
	)
}

func (d *DurableStorage) Apply(ctx context.Context, id string, expected *lifecycle.State, patch Patch) (*model.Job, error) {
	var updated *model.Job
	err := d.store.WithinTransaction(ctx, func(ctx context.Context) error {
		updates, err := d.columns(ctx, id, patch)
		if err != nil {
			return err
		}
		if expected != nil {
			updated, err = d.store.Job().UpdateState(ctx, id, *expected, updates)
		} else {
			updated, err = d.store.Job().Update(ctx, id, updates)
		}
		return err
	})
	return updated, err
}

func (d *DurableStorage) Delete(ctx context.Context, id string) error {
	return d.store.Job().Delete(ctx, id)
}

func (d *DurableStorage) columns(ctx context.Context, id string, p Patch) (map[string]any, error) {
	updates := map[string]any{}
	if p.State != nil {
		updates["state"] = p.State.String()
	}
	if p.IncrementAttempt {
		updates["attempt"] = gorm.Expr("attempt + 1")
	}
	if p.ClearError {
		updates["error_code"] = nil
		updates["error_stage"] = nil
		updates["error_message"] = nil
		updates["retryable"] = nil
	}
	if p.Error != nil {
		updates["error_code"] = p.Error.Code
		updates["error_stage"] = p.Error.Stage
		updates["error_message"] = p.Error.Message
		updates["retryable"] = p.Error.Retryable
	}
	if p.NextVisibleAt != nil {
		updates["next_visible_at"] = p.NextVisibleAt.UTC()
	}
	if p.Output != nil {
		updates["ocr_artifact_id"] = p.Output.OCRArtifactID
		updates["schema_artifact_id"] = p.Output.SchemaArtifactID
		updates["output_artifact_id"] = p.Output.OutputArtifactID
		updates["quality_score"] = p.Output.QualityScore
	}
	if len(p.Metadata) > 0 {
		current, err := d.store.Job().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		merged := datatypes.JSONMap{}
		for k, v := range current.Metadata {
			merged[k] = v
		}
		for k, v := range p.Metadata {
			merged[k] = v
		}
		updates["metadata"] = merged
	}
	if !p.UpdatedAt.IsZero() {
		updates["updated_at"] = p.UpdatedAt.UTC()
	}
	return updates, nil
}
