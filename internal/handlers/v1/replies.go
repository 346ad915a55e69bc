package v1

import (
	"net/http"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/jobs"
	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/store/model"
	"github.com/go-chi/render"
)

// Error codes returned in error replies.
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeNotFound       = "NOT_FOUND"
	CodeJobNotComplete = "JOB_NOT_COMPLETE"
	CodeQueueError     = "QUEUE_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
)

type CreateJobForm struct {
	BlobID          string `json:"blob_id" validate:"required,max=256"`
	ClientRequestID string `json:"client_request_id" validate:"required,request_id"`
	SchemaID        string `json:"schema_id" validate:"required,max=128"`
	SchemaVersion   string `json:"schema_version" validate:"required,schema_version"`
}

func (f *CreateJobForm) Bind(_ *http.Request) error {
	return nil
}

type CreateJobReply struct {
	JobID    string `json:"job_id"`
	IsNewJob bool   `json:"is_new_job"`
	status   int
}

func (c CreateJobReply) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, c.status)
	return nil
}

type JobError struct {
	Code      string `json:"code"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

type JobReply struct {
	JobID           string     `json:"job_id"`
	State           string     `json:"state"`
	BlobID          string     `json:"blob_id"`
	ClientRequestID string     `json:"client_request_id"`
	SchemaID        string     `json:"schema_id"`
	SchemaVersion   string     `json:"schema_version"`
	Attempt         int        `json:"attempt"`
	MaxAttempts     int        `json:"max_attempts"`
	QualityScore    *float64   `json:"quality_score,omitempty"`
	Error           *JobError  `json:"error,omitempty"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (JobReply) Render(http.ResponseWriter, *http.Request) error {
	return nil
}

func NewJobReply(j model.Job) JobReply {
	reply := JobReply{
		JobID:           j.ID,
		State:           j.State.String(),
		BlobID:          j.BlobID,
		ClientRequestID: j.ClientRequestID,
		SchemaID:        j.SchemaID,
		SchemaVersion:   j.SchemaVersion,
		Attempt:         j.Attempt,
		MaxAttempts:     j.MaxAttempts,
		QualityScore:    j.QualityScore,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if j.State.HasError() && j.ErrorCode != nil {
		reply.Error = &JobError{Code: *j.ErrorCode}
		if j.ErrorStage != nil {
			reply.Error.Stage = *j.ErrorStage
		}
		if j.ErrorMessage != nil {
			reply.Error.Message = *j.ErrorMessage
		}
		if j.Retryable != nil {
			reply.Error.Retryable = *j.Retryable
		}
		reply.NextRetryAt = j.NextVisibleAt
	}
	return reply
}

func NewJobListReply(list model.JobList) []render.Renderer {
	replies := make([]render.Renderer, 0, len(list))
	for _, j := range list {
		replies = append(replies, NewJobReply(j))
	}
	return replies
}

type JobOutputReply struct {
	JobID string `json:"job_id"`
	jobs.Output
}

func (JobOutputReply) Render(http.ResponseWriter, *http.Request) error {
	return nil
}

// ErrorReply is the body of every error response.
type ErrorReply struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	status    int
}

func (e ErrorReply) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.status)
	return nil
}

func newErrorReply(status int, code, msg string) ErrorReply {
	return ErrorReply{ErrorCode: code, Message: msg, status: status}
}

type WebhookAck struct {
	Acknowledged bool `json:"acknowledged"`
}

func (WebhookAck) Render(http.ResponseWriter, *http.Request) error {
	return nil
}
