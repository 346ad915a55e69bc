package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/config"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/pipeline"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	WebhookSecretHeader = "X-Webhook-Secret"
	maxErrorBody        = 512
)

type submitRequest struct {
	App      string           `json:"app"`
	Image    string           `json:"image,omitempty"`
	Input    pipeline.Payload `json:"input"`
	Metadata submitMetadata   `json:"metadata"`
	Webhook  *submitWebhook   `json:"webhook,omitempty"`
}

type submitMetadata struct {
	JobID string `json:"job_id"`
}

type submitWebhook struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type submitResponse struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`
}

type RemoteOption func(*Remote)

func WithWebhook(url, secret string) RemoteOption {
	return func(r *Remote) {
		r.webhookURL = url
		r.webhookSecret = secret
	}
}

func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		r.client = c
	}
}

// Remote hands jobs to an execution platform over HTTP. The platform calls
// the webhook once the job finished.
type Remote struct {
	name          string
	cfg           *config.RemoteConfig
	client        *http.Client
	jobs          JobSource
	webhookURL    string
	webhookSecret string
	log           *zap.SugaredLogger
}

func NewRemote(name string, cfg *config.RemoteConfig, jobs JobSource, opts ...RemoteOption) *Remote {
	r := &Remote{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		jobs:   jobs,
		log:    zap.S().Named("backend_" + name),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Remote) Name() string {
	return r.name
}

func (r *Remote) RunJob(ctx context.Context, jobID string) error {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	remoteID, err := r.submit(ctx, job)
	if err != nil {
		return pipeline.NewDispatchError(err)
	}

	r.log.Infow("job submitted", "job_id", jobID, "remote_id", remoteID)
	// the job runs remotely now, failing here would submit it twice
	if err := r.jobs.AnnotateJob(ctx, jobID, map[string]any{
		model.MetadataBackend:  r.name,
		model.MetadataRemoteID: remoteID,
	}); err != nil {
		r.log.Warnw("failed to record remote job id", "job_id", jobID, "remote_id", remoteID, "error", err)
	}
	return nil
}

func (r *Remote) submit(ctx context.Context, job *model.Job) (string, error) {
	req := submitRequest{
		App:   r.cfg.App,
		Image: r.cfg.Image,
		Input: pipeline.Payload{
			JobID:         job.ID,
			UserID:        job.UserID,
			BlobID:        job.BlobID,
			SchemaID:      job.SchemaID,
			SchemaVersion: job.SchemaVersion,
			Attempt:       job.Attempt,
		},
		Metadata: submitMetadata{JobID: job.ID},
	}
	if r.webhookURL != "" {
		req.Webhook = &submitWebhook{
			URL:     r.webhookURL,
			Headers: map[string]string{WebhookSecretHeader: r.webhookSecret},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "encoding submit request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.cfg.URL, "/")+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "building submit request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", errors.Wrapf(err, "submitting job to %s", r.name)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", errors.Errorf("%s rejected job with status %d: %s", r.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrapf(err, "decoding %s response", r.name)
	}
	remoteID := out.ID
	if remoteID == "" {
		remoteID = out.JobID
	}
	if remoteID == "" {
		return "", errors.Errorf("%s response carries no job id", r.name)
	}
	return remoteID, nil
}
