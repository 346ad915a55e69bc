package jobs

import (
	"fmt"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/lifecycle"
)

type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(id string) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("job %s not found", id)}
}

type ErrJobNotComplete struct {
	error
}

func NewErrJobNotComplete(id string, state lifecycle.State) *ErrJobNotComplete {
	return &ErrJobNotComplete{fmt.Errorf("job %s is %s, output is only available once it succeeded", id, state)}
}

type ErrInvalidJobRequest struct {
	error
}

func NewErrInvalidJobRequest(field string) *ErrInvalidJobRequest {
	return &ErrInvalidJobRequest{fmt.Errorf("invalid job request: %s is required", field)}
}
