package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/queue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func enqueueRequest(jobID string) queue.EnqueueRequest {
	return queue.EnqueueRequest{
		JobID:         jobID,
		UserID:        "u1",
		BlobID:        "blob-" + jobID,
		SchemaID:      "invoice",
		SchemaVersion: "1",
		MaxAttempts:   4,
	}
}

type queueFactory func(clock *fakeClock) (queue.Queue, func())

func describeQueue(name string, factory queueFactory) {
	Describe(name, func() {
		var (
			q       queue.Queue
			clock   *fakeClock
			cleanup func()
			ctx     context.Context
		)

		BeforeEach(func() {
			ctx = context.TODO()
			clock = newFakeClock()
			q, cleanup = factory(clock)
		})

		AfterEach(func() {
			cleanup()
		})

		It("enqueues a visible record with attempt zero", func() {
			rec, err := q.Enqueue(ctx, enqueueRequest("a"))
			Expect(err).To(BeNil())
			Expect(rec.State).To(Equal(lifecycle.StateQueued))
			Expect(rec.Attempt).To(Equal(0))
			Expect(rec.NextVisibleAt).To(BeTemporally("==", clock.Now()))

			next, err := q.GetNextQueued(ctx, clock.Now())
			Expect(err).To(BeNil())
			Expect(next).ToNot(BeNil())
			Expect(next.JobID).To(Equal("a"))
		})

		It("rejects enqueueing the same job twice", func() {
			_, err := q.Enqueue(ctx, enqueueRequest("a"))
			Expect(err).To(BeNil())

			_, err = q.Enqueue(ctx, enqueueRequest("a"))
			var opErr *queue.OperationError
			Expect(errors.As(err, &opErr)).To(BeTrue())
		})

		It("returns nothing for an empty queue", func() {
			next, err := q.GetNextQueued(ctx, clock.Now())
			Expect(err).To(BeNil())
			Expect(next).To(BeNil())
		})

		It("dequeues in FIFO order", func() {
			for _, id := range []string{"first", "second", "third"} {
				_, err := q.Enqueue(ctx, enqueueRequest(id))
				Expect(err).To(BeNil())
				clock.Advance(time.Millisecond)
			}

			for _, id := range []string{"first", "second", "third"} {
				next, err := q.GetNextQueued(ctx, clock.Now())
				Expect(err).To(BeNil())
				Expect(next.JobID).To(Equal(id))
				_, err = q.MarkRunning(ctx, next.JobID)
				Expect(err).To(BeNil())
			}
		})

		It("claims a record once and counts the attempt", func() {
			_, err := q.Enqueue(ctx, enqueueRequest("a"))
			Expect(err).To(BeNil())

			rec, err := q.MarkRunning(ctx, "a")
			Expect(err).To(BeNil())
			Expect(rec.State).To(Equal(lifecycle.StateRunning))
			Expect(rec.Attempt).To(Equal(1))

			_, err = q.MarkRunning(ctx, "a")
			Expect(err).To(MatchError(queue.ErrNotClaimable))

			_, err = q.MarkRunning(ctx, "missing")
			Expect(err).To(MatchError(queue.ErrEntryNotFound))
		})

		It("records a success", func() {
			_, err := q.Enqueue(ctx, enqueueRequest("a"))
			Expect(err).To(BeNil())
			_, err = q.MarkRunning(ctx, "a")
			Expect(err).To(BeNil())

			rec, err := q.MarkSucceeded(ctx, "a", queue.SuccessResult{OCRArtifactID: "ocr", SchemaArtifactID: "schema", QualityScore: 0.75})
			Expect(err).To(BeNil())
			Expect(rec.State).To(Equal(lifecycle.StateSucceeded))
			Expect(*rec.OCRArtifactID).To(Equal("ocr"))
			Expect(*rec.QualityScore).To(BeNumerically("~", 0.75))
			Expect(rec.ErrorCode).To(BeNil())
			Expect(rec.Retryable).To(BeNil())
		})

		It("schedules a retry that becomes visible after the delay", func() {
			_, err := q.Enqueue(ctx, enqueueRequest("a"))
			Expect(err).To(BeNil())
			_, err = q.MarkRunning(ctx, "a")
			Expect(err).To(BeNil())

			rec, err := q.ScheduleRetry(ctx, "a", queue.Failure{ErrorCode: "OCR_TIMEOUT", Retryable: true}, 500*time.Millisecond)
			Expect(err).To(BeNil())
			Expect(rec.State).To(Equal(lifecycle.StateRetrying))
			Expect(*rec.ErrorCode).To(Equal("OCR_TIMEOUT"))
			Expect(*rec.Retryable).To(BeTrue())
			Expect(rec.NextVisibleAt).To(BeTemporally("==", clock.Now().Add(500*time.Millisecond)))

			due, err := q.DueRetries(ctx, clock.Now(), 10)
			Expect(err).To(BeNil())
			Expect(due).To(BeEmpty())

			clock.Advance(500 * time.Millisecond)
			due, err = q.DueRetries(ctx, clock.Now(), 10)
			Expect(err).To(BeNil())
			Expect(due).To(HaveLen(1))

			rec, err = q.Requeue(ctx, "a")
			Expect(err).To(BeNil())
			Expect(rec.State).To(Equal(lifecycle.StateQueued))
			Expect(rec.ErrorCode).To(BeNil())

			next, err := q.GetNextQueued(ctx, clock.Now())
			Expect(err).To(BeNil())
			Expect(next.JobID).To(Equal("a"))

			rec, err = q.MarkRunning(ctx, "a")
			Expect(err).To(BeNil())
			Expect(rec.Attempt).To(Equal(2))
		})

		It("never hands out a record before it is visible", func() {
			_, err := q.Enqueue(ctx, enqueueRequest("a"))
			Expect(err).To(BeNil())

			next, err := q.GetNextQueued(ctx, clock.Now().Add(-time.Second))
			Expect(err).To(BeNil())
			Expect(next).To(BeNil())
		})

		It("records a terminal failure", func() {
			_, err := q.Enqueue(ctx, enqueueRequest("a"))
			Expect(err).To(BeNil())
			_, err = q.MarkRunning(ctx, "a")
			Expect(err).To(BeNil())

			rec, err := q.MarkFailed(ctx, "a", queue.Failure{ErrorCode: "OCR_NO_TEXT", Retryable: false})
			Expect(err).To(BeNil())
			Expect(rec.State).To(Equal(lifecycle.StateFailed))
			Expect(*rec.Retryable).To(BeFalse())

			_, err = q.Requeue(ctx, "a")
			var transitionErr *lifecycle.InvalidTransitionError
			Expect(errors.As(err, &transitionErr)).To(BeTrue())
		})

		It("rejects completing a record that never ran", func() {
			_, err := q.Enqueue(ctx, enqueueRequest("a"))
			Expect(err).To(BeNil())

			_, err = q.MarkSucceeded(ctx, "a", queue.SuccessResult{})
			var transitionErr *lifecycle.InvalidTransitionError
			Expect(errors.As(err, &transitionErr)).To(BeTrue())
		})

		It("removes a record", func() {
			_, err := q.Enqueue(ctx, enqueueRequest("a"))
			Expect(err).To(BeNil())
			Expect(q.Remove(ctx, "a")).To(Succeed())

			_, err = q.Get(ctx, "a")
			Expect(err).To(MatchError(queue.ErrEntryNotFound))
		})

		It("lets exactly one concurrent poller claim a record", func() {
			const jobs = 20
			const pollers = 8
			for i := 0; i < jobs; i++ {
				_, err := q.Enqueue(ctx, enqueueRequest(fmt.Sprintf("job-%02d", i)))
				Expect(err).To(BeNil())
			}

			var (
				wg      sync.WaitGroup
				claimed sync.Map
				wins    atomic.Int32
			)
			for p := 0; p < pollers; p++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					for i := 0; i < jobs; i++ {
						id := fmt.Sprintf("job-%02d", i)
						if _, err := q.MarkRunning(ctx, id); err == nil {
							_, dup := claimed.LoadOrStore(id, true)
							Expect(dup).To(BeFalse())
							wins.Add(1)
						} else {
							Expect(err).To(MatchError(queue.ErrNotClaimable))
						}
					}
				}()
			}
			wg.Wait()

			Expect(wins.Load()).To(BeNumerically("==", jobs))
			for i := 0; i < jobs; i++ {
				rec, err := q.Get(ctx, fmt.Sprintf("job-%02d", i))
				Expect(err).To(BeNil())
				Expect(rec.Attempt).To(Equal(1))
			}
		})
	})
}

var _ = Describe("queue backends", func() {
	describeQueue("memory", func(clock *fakeClock) (queue.Queue, func()) {
		return queue.NewMemory(queue.WithClock(clock.Now)), func() {}
	})

	describeQueue("durable", func(clock *fakeClock) (queue.Queue, func()) {
		s, cleanup := newSqliteStore()
		return queue.NewDurable(s, queue.WithClock(clock.Now)), cleanup
	})
})

var _ = Describe("operation error", func() {
	It("unwraps the cause", func() {
		cause := errors.New("connection refused")
		err := &queue.OperationError{Op: "enqueue", JobID: "a", Err: cause}
		Expect(errors.Is(err, cause)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("enqueue"))
	})
})
