package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCommand    = errors.New("protocol: invalid command name")
	ErrUnknownTag        = errors.New("protocol: unknown type tag")
	ErrValueTagMismatch  = errors.New("protocol: value does not match type tag")
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrTrailingBytes     = errors.New("protocol: trailing bytes after values")
	ErrBodyTooLarge      = errors.New("protocol: body too large")
	ErrInvalidLength     = errors.New("protocol: invalid length")
	ErrMissingCount      = errors.New("protocol: fixed-count array has no preceding count")
	ErrReplyMismatch     = errors.New("protocol: reply command mismatch")
	ErrRemote            = errors.New("protocol: instrument reported error")
	ErrFieldTypeMismatch = errors.New("protocol: field type mismatch")
	ErrMissingValue      = errors.New("protocol: missing return value")
)

// ProtocolError is a malformed frame, an unexpected tag or a non-zero error code
// in the reply envelope. The call that produced it applied nothing.
type ProtocolError struct {
	Command string
	Code    uint32
	Detail  string
	Err     error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("protocol: %s: error code %d: %s", e.Command, e.Code, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("protocol: %s: %v (%s)", e.Command, e.Err, e.Detail)
	default:
		return fmt.Sprintf("protocol: %s: %v", e.Command, e.Err)
	}
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func wrapProtocol(command string, err error, detail string) error {
	if err == nil {
		return nil
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	return &ProtocolError{Command: command, Err: err, Detail: detail}
}

// IsProtocol reports whether err carries a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
