package mutation

import (
	"errors"
	"fmt"
)

// ErrInvalid is matched by every ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid mutation")

// ValidationError reports a malformed record or payload. Records that fail
// validation are rejected before they reach the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid mutation: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalid) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
