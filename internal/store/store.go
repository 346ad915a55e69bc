package store

import (
	"context"
	"fmt"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/migrations"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	// WithinTransaction runs fn in a transaction carried by the context it
	// receives. It joins a transaction already present on ctx.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Job() Job
	Queue() Queue
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db    *gorm.DB
	job   Job
	queue Queue
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:    db,
		job:   NewJobStore(db),
		queue: NewQueueStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	txCtx, err := s.NewTransactionContext(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_, _ = Rollback(txCtx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if _, rerr := Rollback(txCtx); rerr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		return err
	}

	_, err = Commit(txCtx)
	return err
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Queue() Queue {
	return s.queue
}

func (s *DataStore) Migrate(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return migrations.MigrateStore(ctx, sqlDB, s.db.Dialector.Name())
}

func (s *DataStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
