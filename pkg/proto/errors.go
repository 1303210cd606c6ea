package proto

import (
	"errors"
	"fmt"
)

// Error taxonomy for the core. Agent- and tick-level failures are contained
// and reflected in liveness state; only ConfigurationError at boot is fatal.
var (
	// ErrValidation marks a malformed record or event. Rejected, never
	// persisted.
	ErrValidation = errors.New("validation error")

	// ErrTimeout marks an agent or tick deadline that was exceeded. The
	// offender is excluded or the tick abandoned; no retry within the tick.
	ErrTimeout = errors.New("timeout")

	// ErrDegraded marks a partially unavailable dependency (embedder backend
	// or memory store). Callers fall back to reduced-quality operation.
	ErrDegraded = errors.New("dependency degraded")

	// ErrNotFound marks a lookup for a record or decision that does not
	// exist.
	ErrNotFound = errors.New("not found")
)

// ConfigurationError is fatal at boot only: it prevents the coordinator from
// entering its collecting phase.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: field %q: %s", e.Field, e.Reason)
}

// NewConfigError creates a ConfigurationError for the named field.
func NewConfigError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
