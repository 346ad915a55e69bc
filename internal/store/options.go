package store

import (
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type SortOrder int

const (
	SortByCreatedTimeAsc SortOrder = iota
	SortByCreatedTimeDesc
)

type JobQueryFilter BaseQuerier

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (f *JobQueryFilter) ByUserID(userID string) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ?", userID)
	})
	return f
}

func (f *JobQueryFilter) ByState(states ...lifecycle.State) *JobQueryFilter {
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, s.String())
	}
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state IN ?", names)
	})
	return f
}

type JobQueryOptions BaseQuerier

func NewJobQueryOptions() *JobQueryOptions {
	return &JobQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *JobQueryOptions) WithSortOrder(sort SortOrder) *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByCreatedTimeDesc:
			return tx.Order("created_at DESC").Order("id DESC")
		default:
			return tx.Order("created_at ASC").Order("id ASC")
		}
	})
	return o
}

func (o *JobQueryOptions) WithLimit(limit int) *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

type QueueQueryFilter BaseQuerier

func NewQueueQueryFilter() *QueueQueryFilter {
	return &QueueQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (f *QueueQueryFilter) ByState(state lifecycle.State) *QueueQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state = ?", state.String())
	})
	return f
}

// VisibleAt keeps entries whose visibility timestamp is not after now.
func (f *QueueQueryFilter) VisibleAt(now time.Time) *QueueQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("next_visible_at <= ?", now.UTC())
	})
	return f
}

// ForClaim locks the selected rows on postgres and skips rows locked by
// another claimer. Other dialects read without locking.
func (f *QueueQueryFilter) ForClaim() *QueueQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		if tx.Dialector.Name() != "postgres" {
			return tx
		}
		return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	})
	return f
}
