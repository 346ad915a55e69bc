package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	apiserver "github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/api_server"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/artifact"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/backend"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/config"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/events"
	handlers "github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/handlers/v1"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/jobs"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/pipeline"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/queue"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/retry"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/scheduler"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/worker"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/log"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job api and dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalw("reading configuration", "error", err)
		}
		if backendName != "" {
			cfg.Service.ExecutionBackend = backendName
		}
		if err := cfg.Validate(); err != nil {
			zap.S().Fatalw("invalid configuration", "error", err)
		}

		logger := log.InitLog(cfg.Service.LogLevel)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting rythmiq")
		defer zap.S().Info("rythmiq stopped")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		var (
			storage    jobs.Storage
			q          queue.Queue
			transactor jobs.Transactor
			pinger     apiserver.Pinger
		)
		if cfg.Durable() {
			zap.S().Info("Initializing data store")
			db, err := store.InitDB(cfg)
			if err != nil {
				zap.S().Fatalw("initializing data store", "error", err)
			}
			s := store.NewStore(db)
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				zap.S().Fatalw("running migrations", "error", err)
			}
			storage, q, transactor, pinger = jobs.NewDurableStorage(s), queue.NewDurable(s), s, s
		} else {
			zap.S().Warn("using the in-memory job store, jobs are lost on restart")
			storage, q, transactor = jobs.NewMemoryStorage(), queue.NewMemory(), jobs.NewLocalTransactor()
		}

		artifacts, err := newArtifactStore(cfg)
		if err != nil {
			zap.S().Fatalw("initializing artifact store", "error", err)
		}

		notifiers := jobs.Notifiers{metrics.JobNotifier{}}
		if !cfg.Events.Disabled {
			producer, err := newEventProducer(cfg)
			if err != nil {
				zap.S().Fatalw("initializing event producer", "error", err)
			}
			defer func() { _ = producer.Close() }()
			notifiers = append(notifiers, events.NewJobNotifier(producer))
		}

		policy := retry.NewPolicy(
			retry.WithMaxRetries(cfg.Retry.MaxRetries),
			retry.WithBaseDelay(cfg.Retry.BaseDelay),
			retry.WithMaxDelay(cfg.Retry.MaxDelay),
		)
		repo := jobs.NewRepository(storage, q, artifacts, notifiers,
			jobs.WithTransactor(transactor),
			jobs.WithMaxAttempts(policy.MaxAttempts()),
		)
		sched := scheduler.NewScheduler(repo, q, policy)

		var w *worker.Worker
		if cfg.Service.ExecutionBackend == backend.NameLocal {
			cmdPipeline, err := pipeline.NewCommand(cfg.Pipeline.Command, cfg.Pipeline.WorkDir)
			if err != nil {
				zap.S().Fatalw("initializing pipeline", "error", err)
			}
			w = worker.NewWorker(repo, cmdPipeline, sched, worker.WithTimeout(cfg.Service.JobTimeout))
		}

		runner, err := backend.Select(cfg.Service.ExecutionBackend, backend.Deps{Jobs: repo, Worker: w, Config: cfg})
		if err != nil {
			zap.S().Fatalw("selecting execution backend", "error", err)
		}
		zap.S().Infow("execution backend selected", "backend", runner.Name())

		dispatcher := scheduler.NewDispatcher(sched, runner,
			scheduler.WithPollInterval(cfg.Service.PollInterval),
			scheduler.WithWorkers(cfg.Service.Dispatchers),
		)

		listener, err := newListener(cfg.Service.Address)
		if err != nil {
			zap.S().Fatalw("creating listener", "error", err)
		}
		metricsListener, err := newListener(cfg.Service.MetricsAddress)
		if err != nil {
			zap.S().Fatalw("creating metrics listener", "error", err)
		}

		server := apiserver.New(cfg, listener,
			handlers.NewJobHandler(repo),
			handlers.NewWebhookHandler(repo, sched, cfg.Service.WebhookSecret),
			pinger,
		)
		metricServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, metricsListener)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return server.Run(gctx) })
		g.Go(func() error { return metricServer.Run(gctx) })
		g.Go(func() error { return dispatcher.Run(gctx) })

		if err := g.Wait(); err != nil {
			zap.S().Errorw("rythmiq terminated", "error", err)
			return err
		}
		return nil
	},
}

func newArtifactStore(cfg *config.Config) (artifact.Store, error) {
	if cfg.Storage.Endpoint == "" {
		zap.S().Warn("no object storage configured, keeping job outputs in memory")
		return artifact.NewMemory(), nil
	}
	return artifact.NewMinioStore(
		artifact.WithEndpoint(cfg.Storage.Endpoint),
		artifact.WithRegion(cfg.Storage.Region),
		artifact.WithBucket(cfg.Storage.Bucket),
		artifact.WithAccessKey(cfg.Storage.AccessKey),
		artifact.WithSecretKey(cfg.Storage.SecretKey),
		artifact.WithSSL(cfg.Storage.UseSSL),
	)
}

func newEventProducer(cfg *config.Config) (*events.EventProducer, error) {
	var writer events.Writer = events.LogWriter{}
	if cfg.Events.Sink != "" {
		httpWriter, err := events.NewHTTPWriter(cfg.Events.Sink)
		if err != nil {
			return nil, fmt.Errorf("creating event sink writer: %w", err)
		}
		writer = httpWriter
	}
	return events.NewEventProducer(writer,
		events.WithSource(cfg.Events.Source),
		events.WithBufferSize(cfg.Events.BufferSize),
	), nil
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
