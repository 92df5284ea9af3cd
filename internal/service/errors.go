package service

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped by the API layer onto HTTP statuses. NotFound is
// deliberately the same for "unknown job" and "exists but not yours" so
// ownership cannot be probed.
var (
	ErrNotFound     = errors.New("job not found")
	ErrNotCompleted = errors.New("job is not completed yet")
	ErrQuotaReached = errors.New("slot limit reached")
	ErrAuthRequired = errors.New("authentication required")
	ErrGuestJob     = errors.New("guest jobs cannot be modified through this path")
	ErrUpstream     = errors.New("upstream datastore failure")
)

// ValidationError reports user input that fails validation, with a reason
// safe to surface to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
