package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/config"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/worker"
	"github.com/go-playground/validator/v10"
	"github.com/thoas/go-funk"
)

const (
	NameLocal     = "local"
	NameCamber    = "camber"
	NameContainer = "container"
	NamePaaS      = "paas"
)

var Names = []string{NameLocal, NameCamber, NameContainer, NamePaaS}

// Backend executes claimed jobs. RunJob returns an error only when the job
// could not be handed over; outcomes are recorded by the worker or reported
// later through a webhook.
type Backend interface {
	Name() string
	RunJob(ctx context.Context, jobID string) error
}

// JobSource gives backends access to job records.
type JobSource interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	AnnotateJob(ctx context.Context, jobID string, values map[string]any) error
}

type Deps struct {
	Jobs   JobSource
	Worker *worker.Worker
	Config *config.Config
}

// Select builds the backend registered under name. Unknown names and missing
// dependencies are reported here so nothing half configured gets wired.
func Select(name string, deps Deps) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !funk.ContainsString(Names, name) {
		return nil, fmt.Errorf("unknown execution backend %q, expected one of %s", name, strings.Join(Names, ", "))
	}
	if deps.Jobs == nil {
		return nil, fmt.Errorf("execution backend %q requires a job source", name)
	}

	if name == NameLocal {
		if deps.Worker == nil {
			return nil, fmt.Errorf("execution backend %q requires a worker", name)
		}
		return NewLocal(deps.Worker, deps.Jobs), nil
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("execution backend %q requires configuration", name)
	}
	remoteCfg := remoteConfig(name, deps.Config)
	if remoteCfg == nil {
		return nil, fmt.Errorf("execution backend %q is not configured", name)
	}
	if err := validator.New().Struct(remoteCfg); err != nil {
		return nil, fmt.Errorf("invalid configuration for execution backend %q: %w", name, err)
	}
	if deps.Config.Service.WebhookSecret == "" {
		return nil, fmt.Errorf("execution backend %q requires WEBHOOK_SECRET", name)
	}

	return NewRemote(name, remoteCfg, deps.Jobs,
		WithWebhook(webhookURL(deps.Config.Service.WebhookBaseURL, name), deps.Config.Service.WebhookSecret),
	), nil
}

func remoteConfig(name string, cfg *config.Config) *config.RemoteConfig {
	switch name {
	case NameCamber:
		return cfg.Camber
	case NameContainer:
		return cfg.Container
	case NamePaaS:
		return cfg.PaaS
	}
	return nil
}

// webhookURL is where the platform named name reports completions.
func webhookURL(base, name string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/internal/webhooks/" + name
}

// Local runs jobs in-process through the worker.
type Local struct {
	worker *worker.Worker
	jobs   JobSource
}

func NewLocal(w *worker.Worker, jobs JobSource) *Local {
	return &Local{worker: w, jobs: jobs}
}

func (l *Local) Name() string {
	return NameLocal
}

func (l *Local) RunJob(ctx context.Context, jobID string) error {
	if err := l.jobs.AnnotateJob(ctx, jobID, map[string]any{model.MetadataBackend: NameLocal}); err != nil {
		return err
	}
	return l.worker.Execute(ctx, jobID)
}
