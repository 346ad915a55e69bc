package pipeline

import "context"

// Payload is what a pipeline run needs to know about a job.
type Payload struct {
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id"`
	BlobID        string `json:"blob_id"`
	SchemaID      string `json:"schema_id"`
	SchemaVersion string `json:"schema_version"`
	Attempt       int    `json:"attempt"`
}

type Result struct {
	OCRArtifactID    string             `json:"ocr_artifact_id"`
	SchemaArtifactID string             `json:"schema_artifact_id"`
	SchemaOutput     map[string]any     `json:"structured,omitempty"`
	Confidence       map[string]float64 `json:"confidence,omitempty"`
	QualityScore     float64            `json:"quality_score"`
	PageCount        int                `json:"page_count,omitempty"`
}

// Pipeline runs OCR, normalization and transformation for one job. Failures
// are reported as *ProcessingError; anything else is treated as non retryable.
type Pipeline interface {
	Process(ctx context.Context, payload Payload) (*Result, error)
}

type PipelineFunc func(ctx context.Context, payload Payload) (*Result, error)

func (f PipelineFunc) Process(ctx context.Context, payload Payload) (*Result, error) {
	return f(ctx, payload)
}
