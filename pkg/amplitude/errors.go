package amplitude

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/amplitude/pkg/amplitude/event"
)

// Sentinel errors for initialization.
var (
	// ErrInvalidAPIKey indicates an empty or placeholder API key.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrRegionRequired indicates Initialize was called without a region.
	ErrRegionRequired = errors.New("region required")
)

// Sentinel errors for usage mistakes. They are returned only under
// UsageStrict; UsageLenient logs and drops instead.
var (
	// ErrNotIdentified indicates Track was called before any Identify.
	ErrNotIdentified = errors.New("must call Identify before Track")

	// ErrEmptyEventType indicates Track was called with an empty name.
	ErrEmptyEventType = event.ErrEmptyEventType

	// ErrClosed indicates the service was already uninitialized.
	ErrClosed = errors.New("service closed")
)

// ConfigError reports an invalid Initialize argument or setting.
type ConfigError struct {
	// Field is the offending setting ("api_key", "region", "store", ...).
	Field string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("amplitude config %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
