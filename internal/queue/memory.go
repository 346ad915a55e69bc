package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
)

type memoryEntry struct {
	seq    int64
	record Record
}

// Memory is a process local Queue. Records handed out are copies.
type Memory struct {
	mu      sync.Mutex
	seq     int64
	entries map[string]*memoryEntry
	opts    options
}

var _ Queue = (*Memory)(nil)

func NewMemory(opts ...Option) *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		opts:    newOptions(opts...),
	}
}

func (m *Memory) Enqueue(_ context.Context, req EnqueueRequest) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.entries[req.JobID]; found {
		return nil, newOperationError("enqueue", req.JobID, errDuplicateEntry)
	}

	now := m.opts.clock()
	m.seq++
	e := &memoryEntry{
		seq: m.seq,
		record: Record{
			JobID:         req.JobID,
			UserID:        req.UserID,
			BlobID:        req.BlobID,
			SchemaID:      req.SchemaID,
			SchemaVersion: req.SchemaVersion,
			State:         lifecycle.StateQueued,
			Attempt:       0,
			MaxAttempts:   req.MaxAttempts,
			NextVisibleAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	m.entries[req.JobID] = e

	r := e.record.Clone()
	return &r, nil
}

func (m *Memory) GetNextQueued(_ context.Context, now time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *memoryEntry
	for _, e := range m.entries {
		if e.record.State != lifecycle.StateQueued || e.record.NextVisibleAt.After(now) {
			continue
		}
		if next == nil || e.seq < next.seq {
			next = e
		}
	}
	if next == nil {
		return nil, nil
	}
	r := next.record.Clone()
	return &r, nil
}

func (m *Memory) Get(_ context.Context, jobID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.entries[jobID]
	if !found {
		return nil, ErrEntryNotFound
	}
	r := e.record.Clone()
	return &r, nil
}

func (m *Memory) MarkRunning(_ context.Context, jobID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.entries[jobID]
	if !found {
		return nil, ErrEntryNotFound
	}
	if e.record.State != lifecycle.StateQueued {
		return nil, ErrNotClaimable
	}

	e.record.State = lifecycle.StateRunning
	e.record.Attempt++
	e.record.ErrorCode = nil
	e.record.Retryable = nil
	e.record.UpdatedAt = m.opts.clock()

	r := e.record.Clone()
	return &r, nil
}

func (m *Memory) MarkSucceeded(_ context.Context, jobID string, result SuccessResult) (*Record, error) {
	return m.transition(jobID, lifecycle.StateSucceeded, func(r *Record) {
		r.OCRArtifactID = &result.OCRArtifactID
		r.SchemaArtifactID = &result.SchemaArtifactID
		r.QualityScore = &result.QualityScore
		r.ErrorCode = nil
		r.Retryable = nil
	})
}

func (m *Memory) MarkFailed(_ context.Context, jobID string, failure Failure) (*Record, error) {
	return m.transition(jobID, lifecycle.StateFailed, func(r *Record) {
		r.ErrorCode = &failure.ErrorCode
		r.Retryable = &failure.Retryable
	})
}

func (m *Memory) ScheduleRetry(_ context.Context, jobID string, failure Failure, delay time.Duration) (*Record, error) {
	visibleAt := m.opts.clock().Add(delay)
	return m.transition(jobID, lifecycle.StateRetrying, func(r *Record) {
		r.ErrorCode = &failure.ErrorCode
		r.Retryable = &failure.Retryable
		r.NextVisibleAt = visibleAt
	})
}

func (m *Memory) DueRetries(_ context.Context, now time.Time, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*memoryEntry, 0)
	for _, e := range m.entries {
		if e.record.State == lifecycle.StateRetrying && !e.record.NextVisibleAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	records := make([]Record, 0, len(due))
	for _, e := range due {
		records = append(records, e.record.Clone())
	}
	return records, nil
}

func (m *Memory) Requeue(_ context.Context, jobID string) (*Record, error) {
	return m.transition(jobID, lifecycle.StateQueued, func(r *Record) {
		r.ErrorCode = nil
		r.Retryable = nil
	})
}

func (m *Memory) Remove(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.entries[jobID]; !found {
		return ErrEntryNotFound
	}
	delete(m.entries, jobID)
	return nil
}

func (m *Memory) transition(jobID string, to lifecycle.State, mutate func(r *Record)) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.entries[jobID]
	if !found {
		return nil, ErrEntryNotFound
	}

	noop, err := lifecycle.Check(e.record.State, to)
	if err != nil {
		return nil, err
	}
	if !noop {
		e.record.State = to
		mutate(&e.record)
		e.record.UpdatedAt = m.opts.clock()
	}

	r := e.record.Clone()
	return &r, nil
}
