package models

import "fmt"

// ValidationError reports caller-supplied input that fails a precondition.
// Always recoverable locally; surfaced as an inline message, never fatal.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// InvalidStateError reports an operation attempted from an incompatible
// request state. Surfaced to the user; never retried automatically.
type InvalidStateError struct {
	Op     string
	Status CSRStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a request in state %s", e.Op, e.Status)
}
