package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	st "github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newJob(userID, clientRequestID string, createdAt time.Time) model.Job {
	return model.Job{
		ID:              uuid.NewString(),
		UserID:          userID,
		BlobID:          "blob-" + clientRequestID,
		ClientRequestID: clientRequestID,
		SchemaID:        "invoice",
		SchemaVersion:   "1",
		State:           lifecycle.StateCreated,
		MaxAttempts:     4,
		Metadata:        datatypes.JSONMap{},
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

var _ = Describe("Store", Ordered, func() {
	var (
		store   st.Store
		gormDB  *gorm.DB
		cleanup func()
		now     time.Time
	)

	BeforeAll(func() {
		store, gormDB, cleanup = newTestStore()
		now = time.Now().UTC().Truncate(time.Millisecond)
	})

	AfterAll(func() {
		cleanup()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE FROM jobs;")
		gormDB.Exec("DELETE FROM idempotency_keys;")
		gormDB.Exec("DELETE FROM job_queue;")
	})

	Context("transaction", func() {
		It("commits a job", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			job, err := store.Job().Create(ctx, newJob("u1", "r1", now))
			Expect(err).To(BeNil())
			Expect(job).ToNot(BeNil())

			_, err = st.Commit(ctx)
			Expect(err).To(BeNil())

			count := 0
			Expect(gormDB.Raw("SELECT COUNT(*) FROM jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rolls back a job", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			_, err = store.Job().Create(ctx, newJob("u1", "r1", now))
			Expect(err).To(BeNil())

			jobs, err := store.Job().List(ctx, st.NewJobQueryFilter().ByUserID("u1"), nil)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))

			_, err = st.Rollback(ctx)
			Expect(err).To(BeNil())

			count := 0
			Expect(gormDB.Raw("SELECT COUNT(*) FROM jobs;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
			Expect(gormDB.Raw("SELECT COUNT(*) FROM idempotency_keys;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
		})

		It("rolls back when the function fails", func() {
			boom := errors.New("boom")
			err := store.WithinTransaction(context.TODO(), func(ctx context.Context) error {
				if _, err := store.Job().Create(ctx, newJob("u1", "r1", now)); err != nil {
					return err
				}
				return boom
			})
			Expect(errors.Is(err, boom)).To(BeTrue())

			_, err = store.Job().GetByIdempotencyKey(context.TODO(), "u1", "r1")
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})
	})

	Context("job", func() {
		It("enforces one job per idempotency key", func() {
			first, err := store.Job().Create(context.TODO(), newJob("u1", "r1", now))
			Expect(err).To(BeNil())

			_, err = store.Job().Create(context.TODO(), newJob("u1", "r1", now))
			Expect(err).To(MatchError(st.ErrDuplicateKey))

			found, err := store.Job().GetByIdempotencyKey(context.TODO(), "u1", "r1")
			Expect(err).To(BeNil())
			Expect(found.ID).To(Equal(first.ID))

			// same request id from another user is a different key
			_, err = store.Job().Create(context.TODO(), newJob("u2", "r1", now))
			Expect(err).To(BeNil())
		})

		It("lists jobs most recent first", func() {
			for i, id := range []string{"a", "b", "c"} {
				_, err := store.Job().Create(context.TODO(), newJob("u1", id, now.Add(time.Duration(i)*time.Second)))
				Expect(err).To(BeNil())
			}
			_, err := store.Job().Create(context.TODO(), newJob("other", "z", now))
			Expect(err).To(BeNil())

			jobs, err := store.Job().List(context.TODO(),
				st.NewJobQueryFilter().ByUserID("u1"),
				st.NewJobQueryOptions().WithSortOrder(st.SortByCreatedTimeDesc))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(3))
			Expect(jobs[0].ClientRequestID).To(Equal("c"))
			Expect(jobs[2].ClientRequestID).To(Equal("a"))
		})

		It("updates the state only from the expected state", func() {
			job, err := store.Job().Create(context.TODO(), newJob("u1", "r1", now))
			Expect(err).To(BeNil())

			updated, err := store.Job().UpdateState(context.TODO(), job.ID, lifecycle.StateCreated, map[string]any{"state": lifecycle.StateQueued.String()})
			Expect(err).To(BeNil())
			Expect(updated.State).To(Equal(lifecycle.StateQueued))

			_, err = store.Job().UpdateState(context.TODO(), job.ID, lifecycle.StateCreated, map[string]any{"state": lifecycle.StateQueued.String()})
			Expect(err).To(MatchError(st.ErrStaleState))

			_, err = store.Job().UpdateState(context.TODO(), "missing", lifecycle.StateCreated, map[string]any{"state": lifecycle.StateQueued.String()})
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})

		It("stores metadata", func() {
			job, err := store.Job().Create(context.TODO(), newJob("u1", "r1", now))
			Expect(err).To(BeNil())

			meta := datatypes.JSONMap{model.MetadataBackend: "camber", model.MetadataRemoteID: "run-7"}
			_, err = store.Job().Update(context.TODO(), job.ID, map[string]any{"metadata": meta})
			Expect(err).To(BeNil())

			found, err := store.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(found.Metadata).To(HaveKeyWithValue(model.MetadataRemoteID, "run-7"))
		})

		It("deletes the job and its key", func() {
			job, err := store.Job().Create(context.TODO(), newJob("u1", "r1", now))
			Expect(err).To(BeNil())

			Expect(store.Job().Delete(context.TODO(), job.ID)).To(Succeed())
			_, err = store.Job().Get(context.TODO(), job.ID)
			Expect(err).To(MatchError(st.ErrRecordNotFound))

			_, err = store.Job().Create(context.TODO(), newJob("u1", "r1", now))
			Expect(err).To(BeNil())
		})
	})

	Context("queue", func() {
		entry := func(jobID string, createdAt, visibleAt time.Time) model.QueueEntry {
			return model.QueueEntry{
				JobID:         jobID,
				UserID:        "u1",
				BlobID:        "b",
				SchemaID:      "s",
				SchemaVersion: "1",
				State:         lifecycle.StateQueued,
				MaxAttempts:   4,
				NextVisibleAt: visibleAt,
				CreatedAt:     createdAt,
				UpdatedAt:     createdAt,
			}
		}

		It("returns the oldest visible entry", func() {
			_, err := store.Queue().Insert(context.TODO(), entry("late", now.Add(-time.Minute), now.Add(time.Hour)))
			Expect(err).To(BeNil())
			_, err = store.Queue().Insert(context.TODO(), entry("second", now.Add(-time.Second), now))
			Expect(err).To(BeNil())
			_, err = store.Queue().Insert(context.TODO(), entry("first", now.Add(-2*time.Second), now.Add(-time.Second)))
			Expect(err).To(BeNil())

			next, err := store.Queue().First(context.TODO(), st.NewQueueQueryFilter().ByState(lifecycle.StateQueued).VisibleAt(now))
			Expect(err).To(BeNil())
			Expect(next.JobID).To(Equal("first"))

			visible, err := store.Queue().List(context.TODO(), st.NewQueueQueryFilter().ByState(lifecycle.StateQueued).VisibleAt(now), 0)
			Expect(err).To(BeNil())
			Expect(visible).To(HaveLen(2))
		})

		It("claims an entry once", func() {
			_, err := store.Queue().Insert(context.TODO(), entry("job", now, now))
			Expect(err).To(BeNil())

			claim := map[string]any{"state": lifecycle.StateRunning.String(), "attempt": gorm.Expr("attempt + 1")}
			claimed, err := store.Queue().Transition(context.TODO(), "job", lifecycle.StateQueued, claim)
			Expect(err).To(BeNil())
			Expect(claimed.Attempt).To(Equal(1))
			Expect(claimed.State).To(Equal(lifecycle.StateRunning))

			_, err = store.Queue().Transition(context.TODO(), "job", lifecycle.StateQueued, claim)
			Expect(err).To(MatchError(st.ErrStaleState))
		})

		It("returns the oldest visible entry when claiming inside a transaction", func() {
			_, err := store.Queue().Insert(context.TODO(), entry("second", now.Add(-time.Second), now))
			Expect(err).To(BeNil())
			_, err = store.Queue().Insert(context.TODO(), entry("first", now.Add(-2*time.Second), now))
			Expect(err).To(BeNil())

			err = store.WithinTransaction(context.TODO(), func(ctx context.Context) error {
				next, err := store.Queue().First(ctx, st.NewQueueQueryFilter().ByState(lifecycle.StateQueued).VisibleAt(now).ForClaim())
				if err != nil {
					return err
				}
				Expect(next.JobID).To(Equal("first"))
				_, err = store.Queue().Transition(ctx, next.JobID, lifecycle.StateQueued, map[string]any{"state": lifecycle.StateRunning.String()})
				return err
			})
			Expect(err).To(BeNil())

			next, err := store.Queue().First(context.TODO(), st.NewQueueQueryFilter().ByState(lifecycle.StateQueued).VisibleAt(now).ForClaim())
			Expect(err).To(BeNil())
			Expect(next.JobID).To(Equal("second"))
		})

		It("finds nothing when the queue is empty", func() {
			_, err := store.Queue().First(context.TODO(), st.NewQueueQueryFilter().ByState(lifecycle.StateQueued).VisibleAt(now))
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})
	})
})
