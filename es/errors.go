package es

import (
	"errors"
	"fmt"
)

// Sentinel errors for the command and projection pipelines. Callers branch
// with errors.Is; adapters wrap backend failures under ErrBackend so the
// taxonomy survives the trip through a driver.
var (
	// ErrValidation is when a command is malformed independent of state.
	ErrValidation = errors.New("validation failed")

	// ErrInvariant is when a command is well formed but the aggregate's
	// current state forbids it.
	ErrInvariant = errors.New("invariant violated")

	// ErrConflict is when an append loses an optimistic concurrency race.
	// The dispatcher never retries these itself.
	ErrConflict = errors.New("concurrency conflict")

	// ErrTenantIsolation is when data from one tenant would leak into an
	// operation scoped to another.
	ErrTenantIsolation = errors.New("tenant isolation violated")

	// ErrBackend is when a store, bus or driver fails.
	ErrBackend = errors.New("backend failure")

	// ErrProjectionDeserialize is when a projection cannot decode an event
	// payload. The event is dead-lettered and the cursor does not advance.
	ErrProjectionDeserialize = errors.New("projection deserialize failed")

	// ErrUnknownEvent is when an event type has no registered payload type.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrSubscriptionClosed is when a receive races a closed subscription.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrSequenceGap is when a strict projection runner sees an event ahead
	// of its cursor with no backfill source.
	ErrSequenceGap = errors.New("sequence gap")
)

// Validationf builds an ErrValidation with a formatted cause.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Invariantf builds an ErrInvariant with a formatted cause.
func Invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// Conflictf builds an ErrConflict with a formatted cause.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// TenantIsolationf builds an ErrTenantIsolation with a formatted cause.
func TenantIsolationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTenantIsolation, fmt.Sprintf(format, args...))
}

// BackendError wraps a driver error under ErrBackend, keeping the original
// chain intact for errors.Is / errors.As.
func BackendError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBackend, err)
}

// Backendf builds an ErrBackend with a formatted cause.
func Backendf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBackend, fmt.Sprintf(format, args...))
}
