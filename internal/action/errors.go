package action

import (
	"errors"
	"fmt"
)

var ErrUnknownAction = errors.New("action: unknown action")

// ActionFailedError reports the first failing action of a chain. The
// underlying cause is kept for errors.Is/As.
type ActionFailedError struct {
	Action string
	Index  int
	Err    error
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("action %d (%s) failed: %v", e.Index, e.Action, e.Err)
}

func (e *ActionFailedError) Unwrap() error {
	return e.Err
}
