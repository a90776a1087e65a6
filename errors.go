package atlas

import (
	"errors"
	"fmt"
)

// Sentinel errors for the atlas package.
var (
	// ErrClosed is returned when operating on a closed coordinator.
	ErrClosed = errors.New("atlas: coordinator is closed")

	// ErrNotStarted is returned when submitting work before Start has
	// built the persistent base atlas.
	ErrNotStarted = errors.New("atlas: coordinator has not been started")

	// ErrLoaderUnavailable is returned by a level task when the photo
	// loader failed for every member of the level, leaving nothing to
	// assemble.
	ErrLoaderUnavailable = errors.New("atlas: photo loader unavailable")

	// ErrSubscriberExists is returned when Subscribe is called with a
	// duplicate subscriber id.
	ErrSubscriberExists = errors.New("atlas: subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with an
	// unknown subscriber id.
	ErrSubscriberNotFound = errors.New("atlas: subscriber id not found")
)

// ConfigError reports an invalid coordinator configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "atlas: invalid config." + e.Field + ": " + e.Reason
}

// DecodeError reports a failure to decode a single photo. Decode errors
// are per-photo and non-fatal: the photo is skipped and recorded in the
// failed id list of its level. Retryable failures are retried once before
// being recorded.
type DecodeError struct {
	ID        string
	Reason    string
	Retryable bool
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("atlas: decode %q: %s", e.ID, e.Reason)
}
