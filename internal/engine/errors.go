package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every local validation error. These never change
	// the lifecycle state of a session.
	ErrValidation = errors.New("validation error")

	ErrUnknownQuestion error = &validationError{"unknown question"}
	ErrUnknownOption   error = &validationError{"unknown option"}

	// ErrNotInProgress is returned for actions that need an in-progress session.
	ErrNotInProgress = errors.New("session is not in progress")
	// ErrNotGraded is returned when a result is requested before grading finished.
	ErrNotGraded = errors.New("session is not graded")
)

type validationError struct{ msg string }

func (e *validationError) Error() string        { return e.msg }
func (e *validationError) Is(target error) bool { return target == ErrValidation }

// GradingError reports a failed submission. The session keeps its answers and
// may be submitted again.
type GradingError struct {
	SessionID string
	Err       error
}

func (e *GradingError) Error() string {
	return fmt.Sprintf("grade session %s: %v", e.SessionID, e.Err)
}

func (e *GradingError) Unwrap() error { return e.Err }
