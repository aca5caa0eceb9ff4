// Package faults holds the transport-level error taxonomy shared by the
// command client, the streaming reader and the action driver.
//
// Protocol decode failures live in internal/protocol (ProtocolError) and chain
// failures in internal/action (ActionFailedError); both wrap these where the
// root cause is a transport or timeout condition.
package faults

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionRefused = errors.New("connection refused or unreachable")
	ErrNotConnected      = errors.New("not connected")
	ErrTimeout           = errors.New("timeout")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// ConnectionError reports a refused, unreachable or lost transport.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a poll or wait limit that elapsed. It is distinct from a
// hard failure: the operation may still complete on the instrument.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ConfigError reports an invalid or missing setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func Connection(op, addr string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnectionError{Op: op, Addr: addr, Err: err}
}

func Timeout(op string, after time.Duration) error {
	return &TimeoutError{Op: op, After: after}
}

func Config(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}

func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
