package retry

import (
	"fmt"
	"math"
	"time"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/pipeline"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second

	codeUnclassified = "UNCLASSIFIED"
)

type Classification struct {
	Retryable bool
	Reason    string
	Code      string
}

type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
	Reason      string
	Terminal    bool
	Attempt     int
}

// Policy decides whether a failed attempt is retried and after how long.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type Option func(*Policy)

func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		p.MaxRetries = n
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.BaseDelay = d
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.MaxDelay = d
	}
}

func NewPolicy(opts ...Option) Policy {
	p := DefaultPolicy()
	for _, o := range opts {
		o(&p)
	}
	return p
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

// MaxAttempts is the total number of runs a job may get.
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Classify only trusts an explicit retryable flag on a *pipeline.ProcessingError.
// Everything else is terminal.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Retryable: false, Reason: "no error", Code: codeUnclassified}
	}
	pe, ok := pipeline.AsProcessingError(err)
	if !ok {
		return Classification{Retryable: false, Reason: fmt.Sprintf("unclassified error: %v", err), Code: codeUnclassified}
	}
	if pe.Retryable {
		return Classification{Retryable: true, Reason: fmt.Sprintf("retryable %s failure at %s", pe.Code, pe.Stage), Code: pe.Code}
	}
	return Classification{Retryable: false, Reason: fmt.Sprintf("non-retryable %s failure at %s", pe.Code, pe.Stage), Code: pe.Code}
}

// Delay returns min(BaseDelay * 2^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Decide evaluates the failure of the given attempt (1-based).
func (p Policy) Decide(attempt int, err error) Decision {
	c := Classify(err)
	if !c.Retryable {
		return Decision{ShouldRetry: false, Delay: 0, Reason: c.Reason, Terminal: true, Attempt: attempt}
	}

	remaining := p.MaxRetries - (attempt - 1)
	if remaining <= 0 {
		return Decision{
			ShouldRetry: false,
			Delay:       0,
			Reason:      fmt.Sprintf("retries exhausted after %d attempts: %s", attempt, c.Reason),
			Terminal:    true,
			Attempt:     attempt,
		}
	}

	return Decision{
		ShouldRetry: true,
		Delay:       p.Delay(attempt),
		Reason:      fmt.Sprintf("%s, %d retries left", c.Reason, remaining),
		Terminal:    false,
		Attempt:     attempt,
	}
}
