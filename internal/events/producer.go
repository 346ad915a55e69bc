package events

import (
	"context"
	"io"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	KindJobCreated   string = "job_created"
	KindJobStarted   string = "job_started"
	KindJobSucceeded string = "job_succeeded"
	KindJobFailed    string = "job_failed"
	KindJobRetrying  string = "job_retrying"
	KindJobRequeued  string = "job_requeued"
)

const (
	defaultSource    = "rythmiq.io/jobs"
	defaultBufferCap = 100
	closeTimeout     = 5 * time.Second
)

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, e cloudevents.Event) error
	Close(ctx context.Context) error
}

type ProducerOptions func(e *EventProducer)

func WithSource(source string) ProducerOptions {
	return func(e *EventProducer) {
		e.source = source
	}
}

// WithBufferSize bounds the number of pending events. Events written while
// the buffer is full are dropped.
func WithBufferSize(size int) ProducerOptions {
	return func(e *EventProducer) {
		e.buffer = newBuffer(size)
	}
}

// EventProducer is a wrapper around a Writer with a buffer, so callers never
// wait for the writer.
type EventProducer struct {
	buffer    *buffer
	wakeCh    chan struct{}
	doneCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	writer    Writer
	source    string
	log       *zap.SugaredLogger
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer:    newBuffer(defaultBufferCap),
		wakeCh:    make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		writer:    w,
		source:    defaultSource,
		log:       zap.S().Named("event_producer"),
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

// Write queues an event of the given kind. It never blocks on the writer.
func (ep *EventProducer) Write(ctx context.Context, kind, subject string, body io.Reader) error {
	d, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	if err := ep.buffer.PushBack(&message{
		Kind:    kind,
		Subject: subject,
		Data:    d,
	}); err != nil {
		return err
	}

	select {
	case ep.wakeCh <- struct{}{}:
	default:
	}

	return nil
}

// Close sends what is still buffered and closes the writer.
func (ep *EventProducer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		ep.closeOnce.Do(func() { close(ep.doneCh) })
		select {
		case <-ep.stoppedCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		return ep.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		ep.log.Errorf("event producer closed with error: %s", err)
		return err
	}

	ep.log.Info("event producer closed")

	return nil
}

func (ep *EventProducer) run() {
	defer close(ep.stoppedCh)
	for {
		ep.flush()

		select {
		case <-ep.wakeCh:
		case <-ep.doneCh:
			ep.flush()
			return
		}
	}
}

func (ep *EventProducer) flush() {
	for msg := ep.buffer.Pop(); msg != nil; msg = ep.buffer.Pop() {
		e := cloudevents.NewEvent()
		e.SetID(uuid.NewString())
		e.SetSource(ep.source)
		e.SetType(msg.Kind)
		e.SetTime(time.Now().UTC())
		if msg.Subject != "" {
			e.SetSubject(msg.Subject)
		}
		_ = e.SetData(*cloudevents.StringOfApplicationJSON(), msg.Data)

		if err := ep.writer.Write(context.TODO(), e); err != nil {
			ep.log.Errorw("failed to send event", "error", err, "type", e.Type(), "subject", e.Subject())
		}
	}
}
