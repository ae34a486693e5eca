package remote

import (
	"errors"
	"fmt"
)

// ErrorCategory tells the sync processor how to treat a failed dispatch.
type ErrorCategory int

const (
	// CategoryTransient is a recoverable failure (network, timeout, 5xx,
	// throttling). The record is retried with backoff.
	CategoryTransient ErrorCategory = iota

	// CategoryPermanent is a failure that retrying cannot fix (validation
	// rejected by the server, missing entity). The record fails at once.
	CategoryPermanent
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

var (
	// ErrNotFound is returned when the server has no entity with the given id.
	ErrNotFound = errors.New("entity not found")

	// ErrUnavailable is returned by Ping when the server cannot be reached.
	ErrUnavailable = errors.New("server unavailable")
)

// CategorizedError wraps a dispatch error with its category.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
}

// Error returns the original error message.
func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// NewTransientError wraps err as CategoryTransient.
func NewTransientError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryTransient}
}

// NewPermanentError wraps err as CategoryPermanent.
func NewPermanentError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// CategorizeError ensures every error is at least transient if it is not
// already categorized.
func CategorizeError(err error) error {
	if err == nil {
		return nil
	}
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return err
	}
	return NewTransientError(err)
}

// IsTransient reports whether err should be retried. Uncategorized errors are
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category == CategoryTransient
	}
	return true
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var ce *CategorizedError
	return errors.As(err, &ce) && ce.Category == CategoryPermanent
}

// classifyStatus maps an HTTP status code to a category: 408, 425, 429 and
// every 5xx are transient, any other 4xx is permanent.
func classifyStatus(code int) ErrorCategory {
	switch {
	case code == 408, code == 425, code == 429:
		return CategoryTransient
	case code >= 500:
		return CategoryTransient
	default:
		return CategoryPermanent
	}
}
