package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/handlers/validator"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/jobs"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

// UserHeader carries the authenticated user id set by the gateway.
const UserHeader = "X-User-ID"

type JobHandler struct {
	repo      *jobs.Repository
	validator *validator.Validator
	log       *zap.SugaredLogger
}

func NewJobHandler(repo *jobs.Repository) *JobHandler {
	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules()...)
	return &JobHandler{repo: repo, validator: v, log: zap.S().Named("job_handler")}
}

func (h *JobHandler) Routes(r chi.Router) {
	r.With(requireUser).Route("/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/", h.ListJobs)
		r.Get("/{id}", h.GetJob)
		r.Get("/{id}/output", h.GetJobOutput)
	})
}

// (POST /api/v1/jobs)
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	form := &CreateJobForm{}
	if err := render.Bind(r, form); err != nil {
		_ = render.Render(w, r, newErrorReply(http.StatusBadRequest, CodeInvalidInput, "request body is not valid json"))
		return
	}
	if err := h.validator.Struct(form); err != nil {
		_ = render.Render(w, r, newErrorReply(http.StatusBadRequest, CodeInvalidInput, err.Error()))
		return
	}

	res, err := h.repo.CreateJob(r.Context(), jobs.CreateJobRequest{
		BlobID:          form.BlobID,
		UserID:          userFromRequest(r),
		ClientRequestID: form.ClientRequestID,
		SchemaID:        form.SchemaID,
		SchemaVersion:   form.SchemaVersion,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !res.IsNewJob {
		status = http.StatusOK
	}
	_ = render.Render(w, r, CreateJobReply{JobID: res.JobID, IsNewJob: res.IsNewJob, status: status})
}

// (GET /api/v1/jobs)
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.GetJobsByUserID(r.Context(), userFromRequest(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	_ = render.RenderList(w, r, NewJobListReply(list))
}

// (GET /api/v1/jobs/{id})
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.repo.GetJobForUser(r.Context(), id, userFromRequest(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if job == nil {
		h.renderError(w, r, jobs.NewErrJobNotFound(id))
		return
	}
	_ = render.Render(w, r, NewJobReply(*job))
}

// (GET /api/v1/jobs/{id}/output)
func (h *JobHandler) GetJobOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := h.repo.GetJobOutput(r.Context(), id, userFromRequest(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	_ = render.Render(w, r, JobOutputReply{JobID: id, Output: *out})
}

func (h *JobHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound    *jobs.ErrJobNotFound
		notComplete *jobs.ErrJobNotComplete
		invalid     *jobs.ErrInvalidJobRequest
		queueErr    *queue.OperationError
	)
	switch {
	case errors.As(err, &notFound):
		_ = render.Render(w, r, newErrorReply(http.StatusNotFound, CodeNotFound, "job not found"))
	case errors.As(err, &notComplete):
		_ = render.Render(w, r, newErrorReply(http.StatusConflict, CodeJobNotComplete, err.Error()))
	case errors.As(err, &invalid):
		_ = render.Render(w, r, newErrorReply(http.StatusBadRequest, CodeInvalidInput, err.Error()))
	case errors.As(err, &queueErr):
		h.log.Errorw("failed to enqueue job", "error", err)
		reply := newErrorReply(http.StatusServiceUnavailable, CodeQueueError, "job could not be queued")
		reply.Retryable = true
		_ = render.Render(w, r, reply)
	default:
		h.log.Errorw("request failed", "path", r.URL.Path, "error", err)
		_ = render.Render(w, r, newErrorReply(http.StatusInternalServerError, CodeInternal, "internal error"))
	}
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userFromRequest(r) == "" {
			_ = render.Render(w, r, newErrorReply(http.StatusUnauthorized, CodeUnauthorized, "missing "+UserHeader+" header"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}
