package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ngrok/sqlmw"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	applicationName   = "rythmiq"
	metricsDriverName = "pgx-metrics"
)

var registerMetricsDriver sync.Once

func InitDB(cfg *config.Config) (*gorm.DB, error) {
	var (
		dia   gorm.Dialector
		sqlDB *sql.DB
	)

	switch cfg.Database.Type {
	case config.DBTypePgsql:
		dsn := fmt.Sprintf("host=%s user=%s password=%s port=%s",
			cfg.Database.Hostname,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Port,
		)
		if cfg.Database.Name != "" {
			dsn = fmt.Sprintf("%s dbname=%s", dsn, cfg.Database.Name)
		}
		connCfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing database config: %w", err)
		}
		connCfg.RuntimeParams["application_name"] = applicationName
		registerMetricsDriver.Do(func() {
			sql.Register(metricsDriverName, sqlmw.Driver(stdlib.GetDefaultDriver(), &metricInterceptor{}))
		})
		sqlDB, err = sql.Open(metricsDriverName, stdlib.RegisterConnConfig(connCfg))
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		dia = postgres.New(postgres.Config{Conn: sqlDB})
	case config.DBTypeSqlite:
		dia = sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", cfg.Database.Name))
	default:
		return nil, fmt.Errorf("database type %q has no sql backend", cfg.Database.Type)
	}

	newLogger := logger.New(
		logrus.New(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	newDB, err := gorm.Open(dia, &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		zap.S().Named("gorm").Errorf("failed to connect database: %v", err)
		return nil, err
	}

	if sqlDB == nil {
		sqlDB, err = newDB.DB()
		if err != nil {
			zap.S().Named("gorm").Errorf("failed to configure connections: %v", err)
			return nil, err
		}
	}

	if cfg.Database.Type == config.DBTypeSqlite {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(int(cfg.Database.MaxConns))

		var version string
		if result := newDB.Raw("SELECT version()").Scan(&version); result.Error != nil {
			zap.S().Named("gorm").Infoln(result.Error.Error())
			return nil, result.Error
		}
		zap.S().Named("gorm").Infof("PostgreSQL information: '%s'", version)
	}

	return newDB, nil
}
