package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/config"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/metrics"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

// Routes mounts a group of handlers on a router.
type Routes interface {
	Routes(r chi.Router)
}

// Pinger reports whether the job store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerOption func(*Server)

// WithRegisterer sets where the http metrics are registered.
func WithRegisterer(reg prometheus.Registerer) ServerOption {
	return func(s *Server) {
		s.registerer = reg
	}
}

type Server struct {
	cfg        *config.Config
	listener   net.Listener
	api        Routes
	internal   Routes
	pinger     Pinger
	registerer prometheus.Registerer
}

// New returns the job API server. api is mounted under /api/v1 and internal
// under /internal.
func New(cfg *config.Config, listener net.Listener, api Routes, internal Routes, pinger Pinger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:        cfg,
		listener:   listener,
		api:        api,
		internal:   internal,
		pinger:     pinger,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Handler() (http.Handler, error) {
	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	if err := metricMiddleware.Register(s.registerer); err != nil {
		return nil, err
	}

	router.Use(
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
		metricMiddleware.Handler,
	)

	router.Get("/healthz", s.health)
	router.Route("/api/v1", s.api.Routes)
	router.Route("/internal", s.internal.Routes)

	return router, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			zap.S().Named("api_server").Warnw("health check failed", "error", err)
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": "unavailable"})
			return
		}
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	handler, err := s.Handler()
	if err != nil {
		return err
	}
	srv := http.Server{Addr: s.cfg.Service.Address, Handler: handler}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
