package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	RequestsCollectorName = "http_requests_total"
	LatencyCollectorName  = "http_request_duration_milliseconds"
)

var defaultLatencyBuckets = []float64{25, 100, 300, 1000, 5000}

// Middleware records the number of requests and their latency partitioned by
// status code, method and chi route pattern.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMiddleware returns a middleware labelled with the service name. Without
// buckets the default latency buckets are used.
func NewMiddleware(name string, buckets ...float64) *Middleware {
	if len(buckets) == 0 {
		buckets = defaultLatencyBuckets
	}

	return &Middleware{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        RequestsCollectorName,
			Help:        "Number of HTTP requests partitioned by status code, method and route.",
			ConstLabels: prometheus.Labels{"service": name},
		}, []string{"code", "method", "path"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        LatencyCollectorName,
			Help:        "Time spent on the request partitioned by status code, method and route.",
			ConstLabels: prometheus.Labels{"service": name},
			Buckets:     buckets,
		}, []string{"code", "method", "path"}),
	}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// unmatched routes carry no pattern and would explode the label set
		rctx := chi.RouteContext(r.Context())
		if rctx == nil || rctx.RoutePattern() == "" {
			return
		}
		code := strconv.Itoa(ww.Status())
		m.requests.WithLabelValues(code, r.Method, rctx.RoutePattern()).Inc()
		m.latency.WithLabelValues(code, r.Method, rctx.RoutePattern()).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// Register adds the collectors to reg.
func (m *Middleware) Register(reg prometheus.Registerer) error {
	if err := reg.Register(m.requests); err != nil {
		return err
	}
	return reg.Register(m.latency)
}
