package model

import (
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
)

// QueueEntry is the scheduling view of a job.
type QueueEntry struct {
	JobID            string          `gorm:"primaryKey;column:job_id;type:VARCHAR(64)"`
	UserID           string          `gorm:"column:user_id;not null"`
	BlobID           string          `gorm:"column:blob_id;not null"`
	SchemaID         string          `gorm:"column:schema_id;not null"`
	SchemaVersion    string          `gorm:"column:schema_version;not null"`
	State            lifecycle.State `gorm:"column:state;type:VARCHAR(16);not null;index:job_queue_state_visible"`
	Attempt          int             `gorm:"column:attempt;not null;default:0"`
	MaxAttempts      int             `gorm:"column:max_attempts;not null"`
	NextVisibleAt    time.Time       `gorm:"column:next_visible_at;not null;index:job_queue_state_visible"`
	ErrorCode        *string         `gorm:"column:error_code"`
	Retryable        *bool           `gorm:"column:retryable"`
	OCRArtifactID    *string         `gorm:"column:ocr_artifact_id"`
	SchemaArtifactID *string         `gorm:"column:schema_artifact_id"`
	QualityScore     *float64        `gorm:"column:quality_score"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
}

func (QueueEntry) TableName() string {
	return "job_queue"
}

type QueueEntryList []QueueEntry

func (e QueueEntry) Clone() QueueEntry {
	c := e
	c.ErrorCode = cloneString(e.ErrorCode)
	c.Retryable = cloneBool(e.Retryable)
	c.OCRArtifactID = cloneString(e.OCRArtifactID)
	c.SchemaArtifactID = cloneString(e.SchemaArtifactID)
	c.QualityScore = cloneFloat(e.QualityScore)
	return c
}
