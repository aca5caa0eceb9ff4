package action

import (
	"time"

	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/signals"
)

// Action is one atomic instrument operation. The set of variants is closed;
// Params returns the loggable parameters.
type Action interface {
	Name() string
	Params() map[string]any
	action()
}

// Chain runs in order with no rollback.
type Chain []Action

// Approach starts the auto-approach. With Wait set the driver polls the
// approach status until it stops or Timeout elapses.
type Approach struct {
	Wait    bool
	Timeout time.Duration
}

// Withdraw retracts the tip. With Wait set the driver polls the Z controller
// until it reports off.
type Withdraw struct {
	Wait    bool
	Timeout time.Duration
}

type SetBias struct {
	Voltage float32
}

type BiasPulse struct {
	Voltage float32
	Width   time.Duration
	Wait    bool
	ZHold   instrument.ZHold
	Mode    instrument.PulseMode
}

// MovePiezoRelative shifts the tip laterally by DX, DY metres from its current
// position.
type MovePiezoRelative struct {
	DX   float64
	DY   float64
	Wait bool
}

type MoveMotor struct {
	Direction instrument.MotorDirection
	Steps     uint16
	Group     uint32
	Wait      bool
	Timeout   time.Duration
}

type ReadSignal struct {
	Index      signals.Index
	WaitNewest bool
}

type ReadSignals struct {
	Indexes    []signals.Index
	WaitNewest bool
}

// Wait sleeps without touching the instrument.
type Wait struct {
	Duration time.Duration
}

// StartStream configures and starts the TCP logger on the streaming port.
type StartStream struct {
	Channels     []int
	Oversampling int
}

type StopStream struct{}

type SetZController struct {
	On bool
}

func (Approach) Name() string          { return "approach" }
func (Withdraw) Name() string          { return "withdraw" }
func (SetBias) Name() string           { return "set_bias" }
func (BiasPulse) Name() string         { return "bias_pulse" }
func (MovePiezoRelative) Name() string { return "move_piezo_relative" }
func (MoveMotor) Name() string         { return "move_motor" }
func (ReadSignal) Name() string        { return "read_signal" }
func (ReadSignals) Name() string       { return "read_signals" }
func (Wait) Name() string              { return "wait" }
func (StartStream) Name() string       { return "start_stream" }
func (StopStream) Name() string        { return "stop_stream" }
func (SetZController) Name() string    { return "set_z_controller" }

func (a Approach) Params() map[string]any {
	return map[string]any{"wait": a.Wait, "timeout_ms": a.Timeout.Milliseconds()}
}

func (a Withdraw) Params() map[string]any {
	return map[string]any{"wait": a.Wait, "timeout_ms": a.Timeout.Milliseconds()}
}

func (a SetBias) Params() map[string]any {
	return map[string]any{"voltage": a.Voltage}
}

func (a BiasPulse) Params() map[string]any {
	return map[string]any{
		"voltage":  a.Voltage,
		"width_ms": a.Width.Milliseconds(),
		"wait":     a.Wait,
		"z_hold":   uint16(a.ZHold),
		"mode":     uint16(a.Mode),
	}
}

func (a MovePiezoRelative) Params() map[string]any {
	return map[string]any{"dx": a.DX, "dy": a.DY, "wait": a.Wait}
}

func (a MoveMotor) Params() map[string]any {
	return map[string]any{
		"direction":  a.Direction.String(),
		"steps":      a.Steps,
		"group":      a.Group,
		"wait":       a.Wait,
		"timeout_ms": a.Timeout.Milliseconds(),
	}
}

func (a ReadSignal) Params() map[string]any {
	return map[string]any{"index": a.Index.Int(), "wait_newest": a.WaitNewest}
}

func (a ReadSignals) Params() map[string]any {
	return map[string]any{"indexes": signals.Ints(a.Indexes), "wait_newest": a.WaitNewest}
}

func (a Wait) Params() map[string]any {
	return map[string]any{"duration_ms": a.Duration.Milliseconds()}
}

func (a StartStream) Params() map[string]any {
	return map[string]any{"channels": a.Channels, "oversampling": a.Oversampling}
}

func (StopStream) Params() map[string]any {
	return map[string]any{}
}

func (a SetZController) Params() map[string]any {
	return map[string]any{"on": a.On}
}

func (Approach) action()          {}
func (Withdraw) action()          {}
func (SetBias) action()           {}
func (BiasPulse) action()         {}
func (MovePiezoRelative) action() {}
func (MoveMotor) action()         {}
func (ReadSignal) action()        {}
func (ReadSignals) action()       {}
func (Wait) action()              {}
func (StartStream) action()       {}
func (StopStream) action()        {}
func (SetZController) action()    {}
