package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHandler means classification produced an intent nothing is
	// registered for.
	ErrNoHandler = errors.New("no handler for intent")
	// ErrDuplicateHandler means two handlers declared the same intent.
	ErrDuplicateHandler = errors.New("duplicate handler for intent")
)

// ValidationError marks handler failures caused by bad user input. The
// dispatcher turns it into a corrective reply instead of a generic apology.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf builds a ValidationError with fmt-style formatting.
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
