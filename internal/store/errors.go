package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
	// ErrStaleState is returned when a conditional update finds the row in
	// another state than the caller expected.
	ErrStaleState = errors.New("record state changed concurrently")
)
