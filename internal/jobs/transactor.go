package jobs

import (
	"context"
	"sync"
)

// Transactor groups several storage and queue writes so that they become
// visible together.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type localTxKey struct{}

// LocalTransactor serializes compound operations of the in-memory backends.
// Nested calls on the same context do not lock again.
type LocalTransactor struct {
	mu sync.Mutex
}

func NewLocalTransactor() *LocalTransactor {
	return &LocalTransactor{}
}

func (t *LocalTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(localTxKey{}).(*LocalTransactor); ok && owner == t {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(context.WithValue(ctx, localTxKey{}, t))
}
