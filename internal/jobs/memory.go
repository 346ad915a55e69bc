package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
)

type requestKey struct {
	userID          string
	clientRequestID string
}

// MemoryStorage keeps jobs in process memory. Records handed out are copies.
type MemoryStorage struct {
	mu       sync.RWMutex
	jobs     map[string]*model.Job
	requests map[requestKey]string
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:     make(map[string]*model.Job),
		requests: make(map[requestKey]string),
	}
}

func (m *MemoryStorage) Insert(_ context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := requestKey{userID: job.UserID, clientRequestID: job.ClientRequestID}
	if _, found := m.requests[key]; found {
		return store.ErrDuplicateKey
	}
	if _, found := m.jobs[job.ID]; found {
		return store.ErrDuplicateKey
	}

	j := job.Clone()
	m.jobs[job.ID] = &j
	m.requests[key] = job.ID
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, found := m.jobs[id]
	if !found {
		return nil, store.ErrRecordNotFound
	}
	c := j.Clone()
	return &c, nil
}

func (m *MemoryStorage) FindByRequest(ctx context.Context, userID, clientRequestID string) (*model.Job, error) {
	m.mu.RLock()
	id, found := m.requests[requestKey{userID: userID, clientRequestID: clientRequestID}]
	m.mu.RUnlock()
	if !found {
		return nil, store.ErrRecordNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStorage) ListByUser(_ context.Context, userID string) (model.JobList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make(model.JobList, 0)
	for _, j := range m.jobs {
		if j.UserID == userID {
			jobs = append(jobs, j.Clone())
		}
	}
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs, nil
}

func (m *MemoryStorage) Apply(_ context.Context, id string, expected *lifecycle.State, patch Patch) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, found := m.jobs[id]
	if !found {
		return nil, store.ErrRecordNotFound
	}
	if expected != nil && j.State != *expected {
		return nil, store.ErrStaleState
	}

	patch.apply(j)
	c := j.Clone()
	return &c, nil
}

func (m *MemoryStorage) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, found := m.jobs[id]
	if !found {
		return store.ErrRecordNotFound
	}
	delete(m.requests, requestKey{userID: j.UserID, clientRequestID: j.ClientRequestID})
	delete(m.jobs, id)
	return nil
}
