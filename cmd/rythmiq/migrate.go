package main

import (
	"context"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/config"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalw("reading configuration", "error", err)
		}

		logger := log.InitLog(cfg.Service.LogLevel)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		if !cfg.Durable() {
			zap.S().Info("in-memory store configured, nothing to migrate")
			return nil
		}

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if err := s.Migrate(context.Background()); err != nil {
			zap.S().Fatalw("running migrations", "error", err)
		}
		zap.S().Info("Db migrated")

		return nil
	},
}
