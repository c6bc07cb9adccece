package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSubmission marks input that cannot enter the pipeline at all.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrNotFound is returned by read-side lookups.
	ErrNotFound = errors.New("not found")
)

// SubmissionError describes why a submission was refused before scoring.
type SubmissionError struct {
	Field  string
	Reason string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("invalid submission: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is match ErrInvalidSubmission.
func (e *SubmissionError) Is(target error) bool {
	return target == ErrInvalidSubmission
}
