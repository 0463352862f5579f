package keystore

import (
	"errors"
	"fmt"
)

// Resolution errors. They abort session creation.
var (
	ErrMalformedDSN     = errors.New("keystore: malformed DSN")
	ErrDriverNotFound   = errors.New("keystore: driver not found")
	ErrMissingHost      = errors.New("keystore: DSN has no host")
	ErrConnectionFailed = errors.New("keystore: connection failed")
)

// Operation errors. The session stays usable after them.
var (
	ErrCommandFailed         = errors.New("keystore: command failed")
	ErrCapabilityUnsupported = errors.New("keystore: capability not supported")
	ErrSessionClosed         = errors.New("keystore: session is closed")
)

// Registry errors.
var (
	ErrInvalidDriver  = errors.New("keystore: invalid driver")
	ErrRegistryFrozen = errors.New("keystore: registry is frozen")
)

// ConfigError reports why a DSN could not be turned into a session.
// Kind is one of the resolution sentinels above.
type ConfigError struct {
	Kind    error
	DSN     string
	Segment string
	Detail  string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Kind.Error()
	if e.Segment != "" {
		msg += fmt.Sprintf(" (segment %q)", e.Segment)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause, if any.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is matches the error kind.
func (e *ConfigError) Is(target error) bool {
	return target == e.Kind
}

// CommandError is a failed uniform operation. Message carries the backend's
// error text for diagnostics.
type CommandError struct {
	Driver  string
	Op      string
	Key     string
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Driver, e.Op)
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is reports ErrCommandFailed for every CommandError.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// CommandFailed builds a CommandError from a driver-level failure.
func CommandFailed(driver, op, key string, err error) *CommandError {
	ce := &CommandError{Driver: driver, Op: op, Key: key, Err: err}
	if err != nil {
		ce.Message = err.Error()
	}
	return ce
}

// UnsupportedError is returned for an optional operation a driver lacks.
type UnsupportedError struct {
	Driver string
	Op     string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("keystore: driver %s does not support %s", e.Driver, e.Op)
}

// Is reports ErrCapabilityUnsupported.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrCapabilityUnsupported
}

// Unsupported builds an UnsupportedError.
func Unsupported(driver, op string) *UnsupportedError {
	return &UnsupportedError{Driver: driver, Op: op}
}
