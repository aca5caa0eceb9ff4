package tipprep

import (
	"strconv"
	"time"

	"github.com/danmuck/tipctl/internal/stability"
)

type State int

const (
	StateIdle State = iota
	StateApproaching
	StateMeasuring
	StatePulsing
	StateWithdrawing
	StateRecovering
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApproaching:
		return "approaching"
	case StateMeasuring:
		return "measuring"
	case StatePulsing:
		return "pulsing"
	case StateWithdrawing:
		return "withdrawing"
	case StateRecovering:
		return "recovering"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reason qualifies a terminal state.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonStable        Reason = "stable"
	ReasonLimitExceeded Reason = "limit_exceeded"
	ReasonError         Reason = "error"
	ReasonCanceled      Reason = "canceled"
)

type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Cycle int       `json:"cycle"`
	At    time.Time `json:"at"`
}

// CycleRecord describes one approach/measure/pulse pass.
type CycleRecord struct {
	Cycle     int               `json:"cycle"`
	Verdict   stability.Verdict `json:"verdict"`
	Pulsed    bool              `json:"pulsed"`
	Voltage   float64           `json:"voltage"`
	Polarity  string            `json:"polarity,omitempty"`
	Relocated bool              `json:"relocated"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// Snapshot is an immutable view of a controller.
type Snapshot struct {
	State       State             `json:"state"`
	Reason      Reason            `json:"reason,omitempty"`
	Error       string            `json:"error,omitempty"`
	Cycle       int               `json:"cycle"`
	Pulses      int               `json:"pulses"`
	LastVerdict stability.Verdict `json:"last_verdict"`
	StartedAt   time.Time         `json:"started_at"`
	Elapsed     time.Duration     `json:"elapsed"`
}

// Outcome is what Run returns. A limit-exceeded session ends Failed with
// ReasonLimitExceeded and a nil error from Run.
type Outcome struct {
	State   State
	Reason  Reason
	Err     error
	Cycles  []CycleRecord
	Pulses  int
	Elapsed time.Duration
}
