package chunkvalidate

import "errors"

var (
	// ErrValidationTimeout is returned when a chunk's validator exceeds its
	// timeout. The subprocess is killed.
	ErrValidationTimeout = errors.New("validation timed out")

	// ErrValidationSubprocess is returned when the validator cannot be
	// started or exits non-zero.
	ErrValidationSubprocess = errors.New("validation subprocess failed")
)
