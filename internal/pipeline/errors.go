package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

type Stage string

const (
	StageOCR       Stage = "OCR"
	StageNormalize Stage = "NORMALIZE"
	StageTransform Stage = "TRANSFORM"
	// StageDispatch marks failures handing the job to an execution platform.
	StageDispatch Stage = "DISPATCH"
)

type Kind string

const (
	KindPipeline Kind = "pipeline"
	KindDispatch Kind = "dispatch"
	KindTimeout  Kind = "timeout"
	KindInternal Kind = "internal"
)

// Worker error codes.
const (
	CodePayloadInvalid       = "PAYLOAD_INVALID"
	CodeArtifactNotFound     = "ARTIFACT_NOT_FOUND"
	CodeArtifactAccessDenied = "ARTIFACT_ACCESS_DENIED"
	CodeFetchFailed          = "FETCH_FAILED"
	CodeFetchTimeout         = "FETCH_TIMEOUT"
	CodeDecodeFailed         = "DECODE_FAILED"
	CodeUnsupportedFormat    = "UNSUPPORTED_FORMAT"
	CodeOCRFailed            = "OCR_FAILED"
	CodeOCRTimeout           = "OCR_TIMEOUT"
	CodeOCRNoText            = "OCR_NO_TEXT"
	CodeQualityFailed        = "QUALITY_FAILED"
	CodeEnhanceFailed        = "ENHANCE_FAILED"
	CodeSchemaFailed         = "SCHEMA_FAILED"
	CodeSizeExceeded         = "SIZE_EXCEEDED"
	CodeUploadFailed         = "UPLOAD_FAILED"
	CodeUploadTimeout        = "UPLOAD_TIMEOUT"
	CodeDispatchFailed       = "DISPATCH_FAILED"
	CodeWorkerTimeout        = "WORKER_TIMEOUT"
	CodeInternal             = "INTERNAL_ERROR"
)

var retryableCodes = map[string]struct{}{
	CodeFetchTimeout:  {},
	CodeOCRTimeout:    {},
	CodeUploadTimeout: {},
	CodeUploadFailed:  {},
}

// IsRetryableCode reports whether the worker considers code transient.
func IsRetryableCode(code string) bool {
	_, ok := retryableCodes[code]
	return ok
}

// ProcessingError is the only failure shape a pipeline reports. Retryable is
// never inferred from the message.
type ProcessingError struct {
	Kind      Kind
	Code      string
	Stage     Stage
	Retryable bool
	Message   string
}

func (e *ProcessingError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s at %s", e.Code, e.Stage)
	}
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Stage, e.Message)
}

func NewProcessingError(code string, stage Stage, retryable bool, message string) *ProcessingError {
	return &ProcessingError{Kind: KindPipeline, Code: code, Stage: stage, Retryable: retryable, Message: message}
}

// NewWorkerError builds a ProcessingError from a code reported by the worker,
// deriving retryability from the code.
func NewWorkerError(code string, stage Stage, message string) *ProcessingError {
	return NewProcessingError(code, stage, IsRetryableCode(code), message)
}

func NewDispatchError(err error) *ProcessingError {
	return &ProcessingError{
		Kind:      KindDispatch,
		Code:      CodeDispatchFailed,
		Stage:     StageDispatch,
		Retryable: true,
		Message:   err.Error(),
	}
}

func AsProcessingError(err error) (*ProcessingError, bool) {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// StageFromWorker maps the fine grained worker stage names onto the three
// pipeline stages.
func StageFromWorker(stage string) Stage {
	switch strings.ToLower(stage) {
	case "init", "fetch", "decode", "ocr":
		return StageOCR
	case "quality", "enhance", "normalize":
		return StageNormalize
	case "schema", "upload", "transform":
		return StageTransform
	case "dispatch":
		return StageDispatch
	default:
		return StageOCR
	}
}
