package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const waitDelay = 2 * time.Second

const (
	statusSuccess = "SUCCESS"
	statusFailed  = "FAILED"
)

type workerOutput struct {
	Status string       `json:"status"`
	JobID  string       `json:"job_id"`
	Result *Result      `json:"result,omitempty"`
	Error  *workerError `json:"error,omitempty"`
}

type workerError struct {
	Code      string `json:"code"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// Command runs the worker entrypoint as a subprocess. The payload is written
// on stdin and a single JSON document is expected on stdout.
type Command struct {
	name    string
	args    []string
	workDir string
}

func NewCommand(argv []string, workDir string) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("worker command is empty")
	}
	return &Command{name: argv[0], args: argv[1:], workDir: workDir}, nil
}

func (c *Command) Process(ctx context.Context, payload Payload) (*Result, error) {
	in, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProcessingError{Kind: KindInternal, Code: CodePayloadInvalid, Stage: StageOCR, Message: err.Error()}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Dir = c.workDir
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, &ProcessingError{
			Kind:      KindTimeout,
			Code:      CodeWorkerTimeout,
			Stage:     StageOCR,
			Retryable: true,
			Message:   ctx.Err().Error(),
		}
	}

	if stderr.Len() > 0 {
		zap.S().Named("pipeline").Debugw("worker stderr", "job_id", payload.JobID, "stderr", strings.TrimSpace(stderr.String()))
	}

	return parseOutput(payload.JobID, stdout.Bytes(), runErr)
}

func parseOutput(jobID string, raw []byte, runErr error) (*Result, error) {
	var out workerOutput
	if err := json.Unmarshal(bytes.TrimSpace(raw), &out); err != nil {
		msg := fmt.Sprintf("worker produced invalid output: %v", err)
		if runErr != nil {
			msg = fmt.Sprintf("%s (%v)", msg, runErr)
		}
		return nil, &ProcessingError{Kind: KindInternal, Code: CodeInternal, Stage: StageOCR, Message: msg}
	}

	if out.JobID != "" && out.JobID != jobID {
		return nil, &ProcessingError{
			Kind:    KindInternal,
			Code:    CodeInternal,
			Stage:   StageOCR,
			Message: fmt.Sprintf("worker answered for job %s instead of %s", out.JobID, jobID),
		}
	}

	switch out.Status {
	case statusSuccess:
		if out.Result == nil {
			return nil, &ProcessingError{Kind: KindInternal, Code: CodeInternal, Stage: StageTransform, Message: "worker reported success without a result"}
		}
		return out.Result, nil
	case statusFailed:
		if out.Error == nil {
			return nil, &ProcessingError{Kind: KindInternal, Code: CodeInternal, Stage: StageOCR, Message: "worker reported failure without an error"}
		}
		pe := NewWorkerError(out.Error.Code, StageFromWorker(out.Error.Stage), out.Error.Message)
		if out.Error.Retryable != nil {
			pe.Retryable = *out.Error.Retryable
		}
		return nil, pe
	default:
		return nil, &ProcessingError{Kind: KindInternal, Code: CodeInternal, Stage: StageOCR, Message: fmt.Sprintf("unknown worker status %q", out.Status)}
	}
}

// ParseOutput decodes a worker result document as forwarded by a remote
// execution platform.
func ParseOutput(jobID string, raw []byte) (*Result, error) {
	return parseOutput(jobID, raw, nil)
}
