package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DBTypeMemory = "memory"
	DBTypeSqlite = "sqlite"
	DBTypePgsql  = "pgsql"
)

var singleConfig *Config = nil

type Config struct {
	Database  *dbConfig
	Service   *svcConfig
	Retry     *retryConfig
	Pipeline  *pipelineConfig
	Storage   *storageConfig
	Events    *eventsConfig
	Camber    *RemoteConfig `envconfig:"CAMBER"`
	Container *RemoteConfig `envconfig:"CONTAINER"`
	PaaS      *RemoteConfig `envconfig:"PAAS"`
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"rythmiq"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"20"`
}

type svcConfig struct {
	Address          string        `envconfig:"RYTHMIQ_ADDRESS" default:":8080"`
	MetricsAddress   string        `envconfig:"RYTHMIQ_METRICS_ADDRESS" default:":8081"`
	LogLevel         string        `envconfig:"RYTHMIQ_LOG_LEVEL" default:"info"`
	ExecutionBackend string        `envconfig:"EXECUTION_BACKEND" default:"camber"`
	PollInterval     time.Duration `envconfig:"RYTHMIQ_POLL_INTERVAL" default:"1s"`
	Dispatchers      int           `envconfig:"RYTHMIQ_DISPATCHERS" default:"1"`
	JobTimeout       time.Duration `envconfig:"RYTHMIQ_JOB_TIMEOUT" default:"5m"`
	WebhookSecret    string        `envconfig:"WEBHOOK_SECRET" default:""`
	WebhookBaseURL   string        `envconfig:"WEBHOOK_BASE_URL" default:"http://localhost:8080"`
}

type retryConfig struct {
	MaxRetries int           `envconfig:"RETRY_MAX_RETRIES" default:"3"`
	BaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	MaxDelay   time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
}

type pipelineConfig struct {
	Command []string `envconfig:"WORKER_COMMAND" default:"python3,-m,worker.entrypoint"`
	WorkDir string   `envconfig:"WORKER_WORKDIR" default:""`
}

type storageConfig struct {
	Endpoint  string `envconfig:"DO_SPACES_ENDPOINT" default:""`
	Region    string `envconfig:"DO_SPACES_REGION" default:"us-east-1"`
	Bucket    string `envconfig:"DO_SPACES_BUCKET" default:"rythmiq-artifacts"`
	AccessKey string `envconfig:"DO_SPACES_KEY" default:""`
	SecretKey string `envconfig:"DO_SPACES_SECRET" default:""`
	UseSSL    bool   `envconfig:"DO_SPACES_USE_SSL" default:"true"`
}

type eventsConfig struct {
	Source     string `envconfig:"RYTHMIQ_EVENTS_SOURCE" default:"rythmiq.io/jobs"`
	BufferSize int    `envconfig:"RYTHMIQ_EVENTS_BUFFER_SIZE" default:"100"`
	Disabled   bool   `envconfig:"RYTHMIQ_EVENTS_DISABLED" default:"false"`
	Sink       string `envconfig:"RYTHMIQ_EVENTS_SINK" default:""`
}

// RemoteConfig holds the settings shared by the remote execution platforms.
type RemoteConfig struct {
	URL     string        `envconfig:"API_URL" default:"" validate:"required,url"`
	APIKey  string        `envconfig:"API_KEY" default:"" validate:"required"`
	App     string        `envconfig:"APP_NAME" default:"rythmiq-worker" validate:"required"`
	Image   string        `envconfig:"IMAGE" default:""`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"30s" validate:"gt=0"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a configuration populated with defaults only. The
// environment is ignored which makes it handy for tests.
func NewDefault() *Config {
	cfg := &Config{
		Database: &dbConfig{
			Type:     DBTypeSqlite,
			Name:     "rythmiq.db",
			MaxConns: 1,
		},
		Service: &svcConfig{
			Address:          ":8080",
			MetricsAddress:   ":8081",
			LogLevel:         "info",
			ExecutionBackend: "local",
			PollInterval:     time.Second,
			Dispatchers:      1,
			JobTimeout:       5 * time.Minute,
			WebhookBaseURL:   "http://localhost:8080",
		},
		Retry: &retryConfig{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   30 * time.Second,
		},
		Pipeline:  &pipelineConfig{},
		Storage:   &storageConfig{Region: "us-east-1", Bucket: "rythmiq-artifacts", UseSSL: true},
		Events:    &eventsConfig{Source: "rythmiq.io/jobs", BufferSize: 100},
		Camber:    &RemoteConfig{App: "rythmiq-worker", Timeout: 30 * time.Second},
		Container: &RemoteConfig{App: "rythmiq-worker", Timeout: 30 * time.Second},
		PaaS:      &RemoteConfig{App: "rythmiq-worker", Timeout: 30 * time.Second},
	}
	return cfg
}

// Durable reports whether jobs and the queue are kept in a database.
func (c *Config) Durable() bool {
	return c.Database.Type != DBTypeMemory
}

func (c *Config) Validate() error {
	switch c.Database.Type {
	case DBTypeMemory, DBTypeSqlite, DBTypePgsql:
	default:
		return fmt.Errorf("unknown database type %q", c.Database.Type)
	}
	if c.Service.Dispatchers < 1 {
		return fmt.Errorf("at least one dispatcher is required, got %d", c.Service.Dispatchers)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max retries must not be negative")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("invalid retry delays: base %s, max %s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	return nil
}
