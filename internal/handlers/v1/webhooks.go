package v1

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/backend"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/handlers/validator"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/jobs"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/pipeline"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/scheduler"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/requestid"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// WebhookForm is the completion callback sent by a remote execution platform.
type WebhookForm struct {
	RemoteJobID string          `json:"remote_job_id"`
	CamberJobID string          `json:"camber_job_id"`
	JobID       string          `json:"job_id" validate:"required"`
	Status      string          `json:"status" validate:"required,webhook_status"`
	Result      json.RawMessage `json:"result"`
}

func (f *WebhookForm) Bind(_ *http.Request) error {
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	if f.RemoteJobID == "" {
		f.RemoteJobID = f.CamberJobID
	}
	return nil
}

type WebhookHandler struct {
	repo      *jobs.Repository
	scheduler *scheduler.Scheduler
	secret    string
	validator *validator.Validator
	log       *zap.SugaredLogger
}

func NewWebhookHandler(repo *jobs.Repository, s *scheduler.Scheduler, secret string) *WebhookHandler {
	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules()...)
	return &WebhookHandler{
		repo:      repo,
		scheduler: s,
		secret:    secret,
		validator: v,
		log:       zap.S().Named("webhook_handler"),
	}
}

func (h *WebhookHandler) Routes(r chi.Router) {
	r.Post("/webhooks/{backend}", h.Receive)
}

// (POST /internal/webhooks/{backend})
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "backend")
	if name == backend.NameLocal || !funk.ContainsString(backend.Names, name) {
		_ = render.Render(w, r, newErrorReply(http.StatusNotFound, CodeNotFound, "unknown execution backend"))
		return
	}
	if !h.authorized(r) {
		h.log.Warnw("webhook rejected", "backend", name, "reason", "invalid secret")
		_ = render.Render(w, r, newErrorReply(http.StatusUnauthorized, CodeUnauthorized, "invalid webhook secret"))
		return
	}

	form := &WebhookForm{}
	if err := render.Bind(r, form); err != nil {
		_ = render.Render(w, r, newErrorReply(http.StatusBadRequest, CodeInvalidInput, "request body is not valid json"))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		_ = render.Render(w, r, newErrorReply(http.StatusBadRequest, CodeInvalidInput, err.Error()))
		return
	}

	log := h.log.With("backend", name, "job_id", form.JobID, "remote_job_id", form.RemoteJobID,
		"status", form.Status, "correlation_id", requestid.FromContext(r.Context()))
	log.Info("webhook received")

	ctx := r.Context()
	job, err := h.repo.GetJob(ctx, form.JobID)
	if err != nil {
		var notFound *jobs.ErrJobNotFound
		if errors.As(err, &notFound) {
			_ = render.Render(w, r, newErrorReply(http.StatusNotFound, CodeNotFound, "job not found"))
			return
		}
		log.Errorw("failed to load job", "error", err)
		_ = render.Render(w, r, newErrorReply(http.StatusInternalServerError, CodeInternal, "internal error"))
		return
	}

	if job.State.IsTerminal() {
		log.Infow("webhook for finished job acknowledged", "state", job.State)
		_ = render.Render(w, r, WebhookAck{Acknowledged: true})
		return
	}

	if err := h.apply(r, form); err != nil {
		var invalid *lifecycle.InvalidTransitionError
		if errors.As(err, &invalid) {
			log.Warnw("state transition rejected", "error", err)
			_ = render.Render(w, r, WebhookAck{Acknowledged: true})
			return
		}
		log.Errorw("failed to apply webhook", "error", err)
		_ = render.Render(w, r, newErrorReply(http.StatusInternalServerError, CodeInternal, "internal error"))
		return
	}

	_ = render.Render(w, r, WebhookAck{Acknowledged: true})
}

func (h *WebhookHandler) apply(r *http.Request, form *WebhookForm) error {
	ctx := r.Context()
	if form.Status == statusSuccess {
		result, err := pipeline.ParseOutput(form.JobID, form.Result)
		if err == nil {
			return h.scheduler.Complete(ctx, form.JobID, result)
		}
		_, err = h.scheduler.Fail(ctx, form.JobID, err)
		return err
	}

	_, err := h.scheduler.Fail(ctx, form.JobID, failureFromResult(form.JobID, form.Result))
	return err
}

// failureFromResult extracts the worker error from a failed callback. A
// missing or unreadable result yields an internal error.
func failureFromResult(jobID string, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return pipeline.NewProcessingError(pipeline.CodeInternal, pipeline.StageOCR, false, "remote run failed without a result")
	}
	_, err := pipeline.ParseOutput(jobID, raw)
	if err == nil {
		return pipeline.NewProcessingError(pipeline.CodeInternal, pipeline.StageOCR, false, "remote run reported failure with a successful result")
	}
	return err
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	got := r.Header.Get(backend.WebhookSecretHeader)
	if got == "" || h.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}
