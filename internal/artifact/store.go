package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("artifact not found")

// Store keeps job artifacts by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Type() string
}

// OutputKey is where the structured output of a job is written.
func OutputKey(jobID string) string {
	return fmt.Sprintf("outputs/%s/result.json", jobID)
}

type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, found := m.objects[key]
	if !found {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (m *Memory) Type() string {
	return "memory"
}
