package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"gorm.io/gorm"
)

type Job interface {
	// Create persists the job together with its idempotency key.
	// ErrDuplicateKey is returned when the key is already taken.
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	GetByIdempotencyKey(ctx context.Context, userID, clientRequestID string) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	// UpdateState applies updates only if the job is still in state from.
	UpdateState(ctx context.Context, id string, from lifecycle.State, updates map[string]any) (*model.Job, error)
	Update(ctx context.Context, id string, updates map[string]any) (*model.Job, error)
	Delete(ctx context.Context, id string) error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	key := model.NewIdempotencyKey(job.UserID, job.ClientRequestID, job.ID, job.CreatedAt)

	err := s.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&key).Error; err != nil {
			return err
		}
		return tx.Create(&job).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}

	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := s.getDB(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) GetByIdempotencyKey(ctx context.Context, userID, clientRequestID string) (*model.Job, error) {
	var key model.IdempotencyKey
	err := s.getDB(ctx).
		Where("user_id = ? AND client_request_id = ?", userID, clientRequestID).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying idempotency key: %w", err)
	}
	return s.Get(ctx, key.JobID)
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&jobs)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) UpdateState(ctx context.Context, id string, from lifecycle.State, updates map[string]any) (*model.Job, error) {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND state = ?", id, from.String()).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("updating job state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStaleState
	}
	return s.Get(ctx, id)
}

func (s *JobStore) Update(ctx context.Context, id string, updates map[string]any) (*model.Job, error) {
	result := s.getDB(ctx).Model(&model.Job{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("updating job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes the job and the idempotency key pointing at it.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	return s.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&model.IdempotencyKey{}).Error; err != nil {
			return fmt.Errorf("deleting idempotency key: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&model.Job{})
		if result.Error != nil {
			return fmt.Errorf("deleting job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
