package fdcan

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var u unrecoverableError
	return !errors.As(err, &u)
}

var (
	ErrWouldBlock       = errors.New("operation would block")
	ErrIdentityMismatch = errors.New("endianness marker mismatch, not an FDCAN register block")
	ErrWrongMode        = errors.New("operation not allowed in current mode")
	ErrReleased         = errors.New("handle has been released")
	ErrInvalidConfig    = errors.New("invalid configuration value")
	ErrInvalidFrame     = errors.New("invalid frame")
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrUnsupported      = errors.New("not supported by this peripheral")
	ErrTimeout          = errors.New("timeout waiting for peripheral")
)

// ModeError is returned when an operation is called in a mode that does not
// allow it.
type ModeError struct {
	Op   string
	Mode Mode
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("%s: not allowed in %s mode", e.Op, e.Mode)
}

func (e *ModeError) Unwrap() error {
	return ErrWrongMode
}

// ConfigError reports a configuration field value outside its register
// range.
type ConfigError struct {
	Field string
	Value uint32
	Max   uint32
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: value %d out of range (max %d)", e.Field, e.Value, e.Max)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// FrameError reports a transmit header that cannot be sent.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "invalid frame: " + e.Reason
}

func (e *FrameError) Unwrap() error {
	return ErrInvalidFrame
}

// TimeoutError is returned by a bounded WaitPolicy when the peripheral did
// not reach the expected state.
type TimeoutError struct {
	What     string
	Attempts uint
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %d attempts", e.What, e.Attempts)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
