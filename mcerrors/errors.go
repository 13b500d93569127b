package mcerrors

import (
	"errors"
	"fmt"
)

var (
	ErrWouldBlock             = errors.New("operation would block")
	ErrTimeout                = errors.New("operation timed out")
	ErrTerminated             = errors.New("session terminated")
	ErrNoBufferSpaceAvailable = errors.New("no buffer space available")
	ErrIncomplete             = errors.New("message only partially sent")
	ErrMessageTooLarge        = errors.New("message too large for transport")
)

// ConfigError is returned when a tool is configured with values the core cannot
// run with. It is always fatal and surfaces before any worker starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration field=%s: %s", e.Field, e.Reason)
}

func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsTerminated reports whether err signals that the session was closed while an
// operation was in flight. This is the normal way a worker learns it must stop.
func IsTerminated(err error) bool {
	return errors.Is(err, ErrTerminated)
}

// IsTimeout reports an idle receive poll.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsTransient reports a send that did not go out but does not compromise the
// session. Callers count it as a miss and move on.
func IsTransient(err error) bool {
	return errors.Is(err, ErrWouldBlock) ||
		errors.Is(err, ErrNoBufferSpaceAvailable) ||
		errors.Is(err, ErrIncomplete)
}

func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
