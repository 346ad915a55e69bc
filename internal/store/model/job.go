package model

import (
	"encoding/json"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
	"gorm.io/datatypes"
)

// Metadata keys recorded on a job.
const (
	MetadataBackend  = "execution_backend"
	MetadataRemoteID = "remote_id"
)

type Job struct {
	ID               string            `gorm:"primaryKey;column:id;type:VARCHAR(64)"`
	UserID           string            `gorm:"column:user_id;not null;index:jobs_user_id_created_at"`
	BlobID           string            `gorm:"column:blob_id;not null"`
	ClientRequestID  string            `gorm:"column:client_request_id;not null"`
	SchemaID         string            `gorm:"column:schema_id;not null"`
	SchemaVersion    string            `gorm:"column:schema_version;not null"`
	State            lifecycle.State   `gorm:"column:state;type:VARCHAR(16);not null"`
	Attempt          int               `gorm:"column:attempt;not null;default:0"`
	MaxAttempts      int               `gorm:"column:max_attempts;not null"`
	NextVisibleAt    *time.Time        `gorm:"column:next_visible_at"`
	ErrorCode        *string           `gorm:"column:error_code"`
	ErrorStage       *string           `gorm:"column:error_stage"`
	ErrorMessage     *string           `gorm:"column:error_message"`
	Retryable        *bool             `gorm:"column:retryable"`
	OCRArtifactID    *string           `gorm:"column:ocr_artifact_id"`
	SchemaArtifactID *string           `gorm:"column:schema_artifact_id"`
	OutputArtifactID *string           `gorm:"column:output_artifact_id"`
	QualityScore     *float64          `gorm:"column:quality_score"`
	Metadata         datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt        time.Time         `gorm:"column:created_at;index:jobs_user_id_created_at"`
	UpdatedAt        time.Time         `gorm:"column:updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// Clone returns a copy that shares no pointers with j.
func (j Job) Clone() Job {
	c := j
	c.NextVisibleAt = cloneTime(j.NextVisibleAt)
	c.ErrorCode = cloneString(j.ErrorCode)
	c.ErrorStage = cloneString(j.ErrorStage)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.Retryable = cloneBool(j.Retryable)
	c.OCRArtifactID = cloneString(j.OCRArtifactID)
	c.SchemaArtifactID = cloneString(j.SchemaArtifactID)
	c.OutputArtifactID = cloneString(j.OutputArtifactID)
	c.QualityScore = cloneFloat(j.QualityScore)
	if j.Metadata != nil {
		c.Metadata = make(datatypes.JSONMap, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// IdempotencyKey maps a client request to the job it created.
type IdempotencyKey struct {
	UserID          string    `gorm:"primaryKey;column:user_id"`
	ClientRequestID string    `gorm:"primaryKey;column:client_request_id"`
	JobID           string    `gorm:"column:job_id;not null"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}

func NewIdempotencyKey(userID, clientRequestID, jobID string, createdAt time.Time) IdempotencyKey {
	return IdempotencyKey{UserID: userID, ClientRequestID: clientRequestID, JobID: jobID, CreatedAt: createdAt}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
