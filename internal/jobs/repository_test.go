package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/artifact"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/jobs"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/queue"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func createRequest(userID, clientRequestID string) jobs.CreateJobRequest {
	return jobs.CreateJobRequest{
		BlobID:          "blob-" + clientRequestID,
		UserID:          userID,
		ClientRequestID: clientRequestID,
		SchemaID:        "invoice",
		SchemaVersion:   "2",
	}
}

func describeRepository(name string, newBackend func(*fakeClock) backend) {
	Describe(name, func() {
		var (
			ctx       context.Context
			clock     *fakeClock
			b         backend
			notes     *recorder
			artifacts *artifact.Memory
			repo      *jobs.Repository
		)

		BeforeEach(func() {
			ctx = context.TODO()
			clock = newFakeClock()
			b = newBackend(clock)
			notes = &recorder{}
			artifacts = artifact.NewMemory()
			repo = jobs.NewRepository(b.storage, b.queue, artifacts, notes,
				jobs.WithClock(clock.Now),
				jobs.WithTransactor(b.transactor),
			)
		})

		AfterEach(func() {
			b.cleanup()
		})

		Context("CreateJob", func() {
			It("creates and enqueues a new job", func() {
				res, err := repo.CreateJob(ctx, createRequest("u1", "r1"))
				Expect(err).To(BeNil())
				Expect(res.IsNewJob).To(BeTrue())
				Expect(res.JobID).ToNot(BeEmpty())

				job, err := repo.GetJobForUser(ctx, res.JobID, "u1")
				Expect(err).To(BeNil())
				Expect(job.State).To(Equal(lifecycle.StateQueued))
				Expect(job.Attempt).To(Equal(0))
				Expect(job.MaxAttempts).To(Equal(4))
				Expect(job.ErrorCode).To(BeNil())

				rec, err := b.queue.Get(ctx, res.JobID)
				Expect(err).To(BeNil())
				Expect(rec.State).To(Equal(lifecycle.StateQueued))

				Expect(notes.Created()).To(HaveLen(1))
				Expect(notes.Transitions()).To(HaveLen(1))
				Expect(notes.Transitions()[0].From).To(Equal(lifecycle.StateCreated))
				Expect(notes.Transitions()[0].To).To(Equal(lifecycle.StateQueued))
			})

			It("returns the existing job for a repeated request", func() {
				first, err := repo.CreateJob(ctx, createRequest("u1", "r1"))
				Expect(err).To(BeNil())

				second, err := repo.CreateJob(ctx, createRequest("u1", "r1"))
				Expect(err).To(BeNil())
				Expect(second.IsNewJob).To(BeFalse())
				Expect(second.JobID).To(Equal(first.JobID))

				list, err := repo.GetJobsByUserID(ctx, "u1")
				Expect(err).To(BeNil())
				Expect(list).To(HaveLen(1))
				Expect(notes.Created()).To(HaveLen(1))
			})

			It("scopes idempotency keys per user", func() {
				a, err := repo.CreateJob(ctx, createRequest("u1", "r1"))
				Expect(err).To(BeNil())
				c, err := repo.CreateJob(ctx, createRequest("u2", "r1"))
				Expect(err).To(BeNil())
				Expect(c.IsNewJob).To(BeTrue())
				Expect(c.JobID).ToNot(Equal(a.JobID))
			})

			It("creates one job for concurrent identical requests", func() {
				const callers = 10
				var (
					wg  sync.WaitGroup
					mu  sync.Mutex
					ids = map[string]int{}
					nw  int
				)
				for i := 0; i < callers; i++ {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						res, err := repo.CreateJob(ctx, createRequest("u1", "same"))
						Expect(err).To(BeNil())
						mu.Lock()
						defer mu.Unlock()
						ids[res.JobID]++
						if res.IsNewJob {
							nw++
						}
					}()
				}
				wg.Wait()

				Expect(ids).To(HaveLen(1))
				Expect(nw).To(Equal(1))
			})

			It("rejects incomplete requests", func() {
				req := createRequest("u1", "r1")
				req.BlobID = " "
				_, err := repo.CreateJob(ctx, req)
				var invalid *jobs.ErrInvalidJobRequest
				Expect(errors.As(err, &invalid)).To(BeTrue())
			})

			It("rolls back when enqueueing fails", func() {
				failing := jobs.NewRepository(b.storage, failingQueue{Queue: b.queue}, artifacts, notes,
					jobs.WithClock(clock.Now),
					jobs.WithTransactor(b.transactor),
				)

				_, err := failing.CreateJob(ctx, createRequest("u1", "r1"))
				var opErr *queue.OperationError
				Expect(errors.As(err, &opErr)).To(BeTrue())

				list, err := repo.GetJobsByUserID(ctx, "u1")
				Expect(err).To(BeNil())
				Expect(list).To(BeEmpty())
				Expect(notes.Created()).To(BeEmpty())

				// the key was released, so a retry creates the job
				res, err := repo.CreateJob(ctx, createRequest("u1", "r1"))
				Expect(err).To(BeNil())
				Expect(res.IsNewJob).To(BeTrue())
			})

			It("survives a panicking notifier", func() {
				loud := jobs.NewRepository(b.storage, b.queue, artifacts, panickingNotifier{},
					jobs.WithClock(clock.Now),
					jobs.WithTransactor(b.transactor),
				)
				res, err := loud.CreateJob(ctx, createRequest("u1", "r1"))
				Expect(err).To(BeNil())
				Expect(res.IsNewJob).To(BeTrue())
			})
		})

		Context("reads", func() {
			It("hides jobs of other users", func() {
				res, err := repo.CreateJob(ctx, createRequest("u1", "r1"))
				Expect(err).To(BeNil())

				job, err := repo.GetJobForUser(ctx, res.JobID, "u2")
				Expect(err).To(BeNil())
				Expect(job).To(BeNil())

				job, err = repo.GetJobForUser(ctx, "does-not-exist", "u1")
				Expect(err).To(BeNil())
				Expect(job).To(BeNil())
			})

			It("lists the most recent job first", func() {
				for _, id := range []string{"r1", "r2", "r3"} {
					_, err := repo.CreateJob(ctx, createRequest("u1", id))
					Expect(err).To(BeNil())
					clock.Advance(time.Second)
				}
				_, err := repo.CreateJob(ctx, createRequest("u2", "other"))
				Expect(err).To(BeNil())

				list, err := repo.GetJobsByUserID(ctx, "u1")
				Expect(err).To(BeNil())
				Expect(list).To(HaveLen(3))
				Expect(list[0].ClientRequestID).To(Equal("r3"))
				Expect(list[2].ClientRequestID).To(Equal("r1"))
			})
		})

		Context("UpdateJobState", func() {
			var jobID string

			BeforeEach(func() {
				res, err := repo.CreateJob(ctx, createRequest("u1", "r1"))
				Expect(err).To(BeNil())
				jobID = res.JobID
			})

			It("fails for an unknown job", func() {
				_, err := repo.UpdateJobState(ctx, "missing", lifecycle.StateRunning, nil)
				var notFound *jobs.ErrJobNotFound
				Expect(errors.As(err, &notFound)).To(BeTrue())
			})

			It("rejects an illegal edge", func() {
				_, err := repo.UpdateJobState(ctx, jobID, lifecycle.StateSucceeded, nil)
				var transitionErr *lifecycle.InvalidTransitionError
				Expect(errors.As(err, &transitionErr)).To(BeTrue())
				Expect(transitionErr.From).To(Equal(lifecycle.StateQueued))
			})

			It("tolerates setting the current state", func() {
				before := len(notes.Transitions())
				job, err := repo.UpdateJobState(ctx, jobID, lifecycle.StateQueued, nil)
				Expect(err).To(BeNil())
				Expect(job.State).To(Equal(lifecycle.StateQueued))
				Expect(notes.Transitions()).To(HaveLen(before))
			})

			It("counts attempts and records retry errors", func() {
				job, err := repo.UpdateJobState(ctx, jobID, lifecycle.StateRunning, nil)
				Expect(err).To(BeNil())
				Expect(job.Attempt).To(Equal(1))

				retryAt := clock.Now().Add(500 * time.Millisecond)
				job, err = repo.UpdateJobState(ctx, jobID, lifecycle.StateRetrying, &jobs.ErrorDetails{
					Code: "OCR_TIMEOUT", Stage: "OCR", Retryable: true, RetryAt: &retryAt,
				})
				Expect(err).To(BeNil())
				Expect(*job.ErrorCode).To(Equal("OCR_TIMEOUT"))
				Expect(*job.Retryable).To(BeTrue())
				Expect(*job.NextVisibleAt).To(BeTemporally("==", retryAt))

				job, err = repo.UpdateJobState(ctx, jobID, lifecycle.StateQueued, nil)
				Expect(err).To(BeNil())
				Expect(job.ErrorCode).To(BeNil())
				Expect(job.Retryable).To(BeNil())

				job, err = repo.UpdateJobState(ctx, jobID, lifecycle.StateRunning, nil)
				Expect(err).To(BeNil())
				Expect(job.Attempt).To(Equal(2))

				last := notes.Transitions()[len(notes.Transitions())-1]
				Expect(last.From).To(Equal(lifecycle.StateQueued))
				Expect(last.To).To(Equal(lifecycle.StateRunning))
				Expect(last.Attempt).To(Equal(2))
			})

			It("fills in error details for a bare failure", func() {
				_, err := repo.UpdateJobState(ctx, jobID, lifecycle.StateRunning, nil)
				Expect(err).To(BeNil())
				job, err := repo.UpdateJobState(ctx, jobID, lifecycle.StateFailed, nil)
				Expect(err).To(BeNil())
				Expect(job.ErrorCode).ToNot(BeNil())
				Expect(*job.Retryable).To(BeFalse())
			})

			It("keeps a terminal job terminal", func() {
				_, err := repo.UpdateJobState(ctx, jobID, lifecycle.StateRunning, nil)
				Expect(err).To(BeNil())
				_, err = repo.UpdateJobState(ctx, jobID, lifecycle.StateSucceeded, nil)
				Expect(err).To(BeNil())

				for _, s := range []lifecycle.State{lifecycle.StateQueued, lifecycle.StateRunning, lifecycle.StateFailed, lifecycle.StateRetrying} {
					_, err = repo.UpdateJobState(ctx, jobID, s, nil)
					Expect(err).To(HaveOccurred(), fmt.Sprintf("moving to %s", s))
				}
			})
		})

		Context("output", func() {
			var jobID string

			BeforeEach(func() {
				res, err := repo.CreateJob(ctx, createRequest("u1", "r1"))
				Expect(err).To(BeNil())
				jobID = res.JobID
				_, err = repo.UpdateJobState(ctx, jobID, lifecycle.StateRunning, nil)
				Expect(err).To(BeNil())
			})

			It("is unavailable before the job succeeded", func() {
				_, err := repo.GetJobOutput(ctx, jobID, "u1")
				var notComplete *jobs.ErrJobNotComplete
				Expect(errors.As(err, &notComplete)).To(BeTrue())
			})

			It("stores references on the job and the document in the artifact store", func() {
				job, err := repo.SetJobOutput(ctx, jobID, jobs.Output{
					OCRArtifactID:    "ocr-1",
					SchemaArtifactID: "schema-1",
					SchemaOutput:     map[string]any{"total": "42.00"},
					Confidence:       map[string]float64{"total": 0.93},
					QualityScore:     0.88,
				})
				Expect(err).To(BeNil())
				Expect(*job.OCRArtifactID).To(Equal("ocr-1"))
				Expect(*job.QualityScore).To(BeNumerically("~", 0.88))
				Expect(*job.OutputArtifactID).To(Equal(artifact.OutputKey(jobID)))

				_, err = repo.UpdateJobState(ctx, jobID, lifecycle.StateSucceeded, nil)
				Expect(err).To(BeNil())

				out, err := repo.GetJobOutput(ctx, jobID, "u1")
				Expect(err).To(BeNil())
				Expect(out.SchemaOutput).To(HaveKeyWithValue("total", "42.00"))
				Expect(out.Confidence).To(HaveKeyWithValue("total", 0.93))

				_, err = repo.GetJobOutput(ctx, jobID, "u2")
				var notFound *jobs.ErrJobNotFound
				Expect(errors.As(err, &notFound)).To(BeTrue())
			})
		})

		It("annotates a job", func() {
			res, err := repo.CreateJob(ctx, createRequest("u1", "r1"))
			Expect(err).To(BeNil())

			Expect(repo.AnnotateJob(ctx, res.JobID, map[string]any{model.MetadataBackend: "camber"})).To(Succeed())
			Expect(repo.AnnotateJob(ctx, res.JobID, map[string]any{model.MetadataRemoteID: "run-1"})).To(Succeed())

			job, err := repo.GetJob(ctx, res.JobID)
			Expect(err).To(BeNil())
			Expect(job.Metadata).To(HaveKeyWithValue(model.MetadataBackend, "camber"))
			Expect(job.Metadata).To(HaveKeyWithValue(model.MetadataRemoteID, "run-1"))

			err = repo.AnnotateJob(ctx, "missing", map[string]any{"a": "b"})
			var notFound *jobs.ErrJobNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})
	})
}

var _ = Describe("job repository", func() {
	describeRepository("memory", memoryBackend)
	describeRepository("durable", durableBackend)
})
