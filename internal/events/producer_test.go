package events

import (
	"bytes"
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", func() {
	It("writes events in order", func() {
		w := newTestWriter()
		p := NewEventProducer(w, WithSource("test"))

		Expect(p.Write(context.TODO(), KindJobCreated, "job-1", bytes.NewReader([]byte(`{"n":1}`)))).To(Succeed())
		Expect(p.Write(context.TODO(), KindJobStarted, "job-1", bytes.NewReader([]byte(`{"n":2}`)))).To(Succeed())

		Eventually(w.Events).Should(HaveLen(2))
		events := w.Events()
		Expect(events[0].Type()).To(Equal(KindJobCreated))
		Expect(events[0].Source()).To(Equal("test"))
		Expect(events[0].Subject()).To(Equal("job-1"))
		Expect(string(events[1].Data())).To(Equal(`{"n":2}`))

		Expect(p.Close()).To(Succeed())
		Expect(w.closed).To(BeTrue())
	})

	It("does not wait for a slow writer", func() {
		w := newTestWriter()
		w.block = make(chan struct{})
		p := NewEventProducer(w, WithBufferSize(2))

		// the first event is taken by the writer, two more fit the buffer
		Expect(p.Write(context.TODO(), KindJobCreated, "a", bytes.NewReader(nil))).To(Succeed())
		Eventually(w.Started).Should(BeTrue())
		Expect(p.Write(context.TODO(), KindJobCreated, "b", bytes.NewReader(nil))).To(Succeed())
		Expect(p.Write(context.TODO(), KindJobCreated, "c", bytes.NewReader(nil))).To(Succeed())
		Expect(p.Write(context.TODO(), KindJobCreated, "d", bytes.NewReader(nil))).To(MatchError(errBufferFull))

		close(w.block)
		Eventually(w.Events).Should(HaveLen(3))
		Expect(p.Close()).To(Succeed())
	})

	It("flushes pending events on close", func() {
		w := newTestWriter()
		p := NewEventProducer(w)
		for i := 0; i < 10; i++ {
			Expect(p.Write(context.TODO(), KindJobFailed, "job", bytes.NewReader([]byte("{}")))).To(Succeed())
		}
		Expect(p.Close()).To(Succeed())
		Expect(w.Events()).To(HaveLen(10))
	})
})

type testwriter struct {
	mu      sync.Mutex
	events  []cloudevents.Event
	block   chan struct{}
	started bool
	closed  bool
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(_ context.Context, e cloudevents.Event) error {
	t.mu.Lock()
	t.started = true
	block := t.block
	t.mu.Unlock()

	if block != nil {
		<-block
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return nil
}

func (t *testwriter) Events() []cloudevents.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]cloudevents.Event(nil), t.events...)
}

func (t *testwriter) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *testwriter) Close(_ context.Context) error {
	t.closed = true
	return nil
}
