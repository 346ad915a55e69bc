package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/jobs"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("job notifier", func() {
	var (
		w *testwriter
		p *EventProducer
		n *JobNotifier
	)

	BeforeEach(func() {
		w = newTestWriter()
		p = NewEventProducer(w)
		n = NewJobNotifier(p)
	})

	AfterEach(func() {
		Expect(p.Close()).To(Succeed())
	})

	It("announces created jobs", func() {
		n.JobCreated(context.TODO(), model.Job{ID: "job-1", UserID: "u1", State: lifecycle.StateQueued, CreatedAt: time.Now()})

		Eventually(w.Events).Should(HaveLen(1))
		e := w.Events()[0]
		Expect(e.Type()).To(Equal(KindJobCreated))

		var data JobEvent
		Expect(json.Unmarshal(e.Data(), &data)).To(Succeed())
		Expect(data.JobID).To(Equal("job-1"))
		Expect(data.UserID).To(Equal("u1"))
		Expect(data.State).To(Equal("QUEUED"))
	})

	It("carries failure details", func() {
		retryable := true
		n.JobTransitioned(context.TODO(), jobs.Transition{
			JobID: "job-1", UserID: "u1",
			From: lifecycle.StateRunning, To: lifecycle.StateRetrying,
			Attempt: 1, ErrorCode: "OCR_TIMEOUT", Retryable: &retryable,
		})

		Eventually(w.Events).Should(HaveLen(1))
		var data JobEvent
		Expect(json.Unmarshal(w.Events()[0].Data(), &data)).To(Succeed())
		Expect(data.PreviousState).To(Equal("RUNNING"))
		Expect(data.ErrorCode).To(Equal("OCR_TIMEOUT"))
		Expect(*data.Retryable).To(BeTrue())
	})

	It("does not announce the initial queueing", func() {
		n.JobTransitioned(context.TODO(), jobs.Transition{JobID: "job-1", From: lifecycle.StateCreated, To: lifecycle.StateQueued})
		Consistently(w.Events, 200*time.Millisecond).Should(BeEmpty())
	})

	DescribeTable("event kinds",
		func(from, to lifecycle.State, kind string) {
			Expect(KindForTransition(from, to)).To(Equal(kind))
		},
		Entry("start", lifecycle.StateQueued, lifecycle.StateRunning, KindJobStarted),
		Entry("success", lifecycle.StateRunning, lifecycle.StateSucceeded, KindJobSucceeded),
		Entry("failure", lifecycle.StateRunning, lifecycle.StateFailed, KindJobFailed),
		Entry("retry", lifecycle.StateRunning, lifecycle.StateRetrying, KindJobRetrying),
		Entry("requeue", lifecycle.StateRetrying, lifecycle.StateQueued, KindJobRequeued),
		Entry("initial queueing", lifecycle.StateCreated, lifecycle.StateQueued, ""),
	)
})

var _ = Describe("http writer", func() {
	It("delivers events to the sink", func() {
		var (
			mu    sync.Mutex
			types []string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			mu.Lock()
			types = append(types, r.Header.Get("Ce-Type"))
			mu.Unlock()
			rw.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		hw, err := NewHTTPWriter(srv.URL)
		Expect(err).To(BeNil())
		p := NewEventProducer(hw)
		n := NewJobNotifier(p)

		n.JobTransitioned(context.TODO(), jobs.Transition{JobID: "job-1", From: lifecycle.StateQueued, To: lifecycle.StateRunning, Attempt: 1})
		Expect(p.Close()).To(Succeed())

		mu.Lock()
		defer mu.Unlock()
		Expect(types).To(ConsistOf(KindJobStarted))
	})
})
