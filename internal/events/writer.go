package events

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LogWriter logs events instead of delivering them. Used when no sink is
// configured.
type LogWriter struct{}

func (LogWriter) Write(_ context.Context, e cloudevents.Event) error {
	zap.S().Named("event_log_writer").Infow("event", "type", e.Type(), "subject", e.Subject(), "data", string(e.Data()))
	return nil
}

func (LogWriter) Close(_ context.Context) error {
	return nil
}

// HTTPWriter delivers events to a CloudEvents HTTP sink.
type HTTPWriter struct {
	client cloudevents.Client
}

func NewHTTPWriter(target string) (*HTTPWriter, error) {
	c, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, errors.Wrapf(err, "creating cloudevents client for %s", target)
	}
	return &HTTPWriter{client: c}, nil
}

func (w *HTTPWriter) Write(ctx context.Context, e cloudevents.Event) error {
	if result := w.client.Send(ctx, e); cloudevents.IsUndelivered(result) {
		return errors.Wrapf(result, "delivering event %s", e.ID())
	}
	return nil
}

func (w *HTTPWriter) Close(_ context.Context) error {
	return nil
}
