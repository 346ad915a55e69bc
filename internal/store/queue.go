package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"gorm.io/gorm"
)

type Queue interface {
	Insert(ctx context.Context, entry model.QueueEntry) (*model.QueueEntry, error)
	Get(ctx context.Context, jobID string) (*model.QueueEntry, error)
	// First returns the oldest entry matching filter.
	First(ctx context.Context, filter *QueueQueryFilter) (*model.QueueEntry, error)
	List(ctx context.Context, filter *QueueQueryFilter, limit int) (model.QueueEntryList, error)
	// Transition applies updates only if the entry is still in state from.
	Transition(ctx context.Context, jobID string, from lifecycle.State, updates map[string]any) (*model.QueueEntry, error)
	Delete(ctx context.Context, jobID string) error
}

type QueueStore struct {
	db *gorm.DB
}

// Make sure we conform to Queue interface
var _ Queue = (*QueueStore)(nil)

func NewQueueStore(db *gorm.DB) Queue {
	return &QueueStore{db: db}
}

func (s *QueueStore) Insert(ctx context.Context, entry model.QueueEntry) (*model.QueueEntry, error) {
	if err := s.getDB(ctx).Create(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("inserting queue entry: %w", err)
	}
	return &entry, nil
}

func (s *QueueStore) Get(ctx context.Context, jobID string) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	if err := s.getDB(ctx).First(&entry, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying queue entry: %w", err)
	}
	return &entry, nil
}

func (s *QueueStore) First(ctx context.Context, filter *QueueQueryFilter) (*model.QueueEntry, error) {
	entries, err := s.List(ctx, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrRecordNotFound
	}
	return &entries[0], nil
}

func (s *QueueStore) List(ctx context.Context, filter *QueueQueryFilter, limit int) (model.QueueEntryList, error) {
	var entries model.QueueEntryList
	tx := s.getDB(ctx).Model(&entries)
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	tx = tx.Order("created_at ASC").Order("job_id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing queue entries: %w", err)
	}
	return entries, nil
}

func (s *QueueStore) Transition(ctx context.Context, jobID string, from lifecycle.State, updates map[string]any) (*model.QueueEntry, error) {
	result := s.getDB(ctx).Model(&model.QueueEntry{}).
		Where("job_id = ? AND state = ?", jobID, from.String()).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("updating queue entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, ErrStaleState
	}
	return s.Get(ctx, jobID)
}

func (s *QueueStore) Delete(ctx context.Context, jobID string) error {
	result := s.getDB(ctx).Where("job_id = ?", jobID).Delete(&model.QueueEntry{})
	if result.Error != nil {
		return fmt.Errorf("deleting queue entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *QueueStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
