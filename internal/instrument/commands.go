package instrument

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/tipctl/internal/protocol"
	"github.com/danmuck/tipctl/internal/protocol/schema"
)

// Call sends command over c using the catalog's return tags.
func Call(ctx context.Context, c Caller, command string, args ...protocol.Arg) (protocol.Reply, error) {
	cmd, ok := schema.Lookup(command)
	if !ok {
		return protocol.Reply{}, schema.ValidationError{Command: command, ArgIndex: -1, Reason: "unknown command"}
	}
	return c.Send(ctx, command, args, cmd.Returns)
}

// ZHold selects what the Z controller does during a bias pulse.
type ZHold uint16

const (
	ZHoldUnchanged ZHold = iota
	ZHoldOn
	ZHoldOff
)

// PulseMode selects whether the pulse bias is relative to the current bias.
type PulseMode uint16

const (
	PulseModeUnchanged PulseMode = iota
	PulseModeRelative
	PulseModeAbsolute
)

type Pulse struct {
	Bias  float32
	Width time.Duration
	Wait  bool
	ZHold ZHold
	Mode  PulseMode
}

// MotorDirection follows the instrument's coarse motor axis numbering.
type MotorDirection uint32

const (
	MotorXPlus MotorDirection = iota
	MotorXMinus
	MotorYPlus
	MotorYMinus
	MotorZPlus
	MotorZMinus
)

func (d MotorDirection) String() string {
	switch d {
	case MotorXPlus:
		return "X+"
	case MotorXMinus:
		return "X-"
	case MotorYPlus:
		return "Y+"
	case MotorYMinus:
		return "Y-"
	case MotorZPlus:
		return "Z+"
	case MotorZMinus:
		return "Z-"
	default:
		return fmt.Sprintf("direction(%d)", uint32(d))
	}
}

type MotorMove struct {
	Direction MotorDirection
	Steps     uint16
	Group     uint32
	Wait      bool
}

func SetBias(ctx context.Context, c Caller, volts float32) error {
	_, err := Call(ctx, c, schema.BiasSet, protocol.Float32(volts))
	return err
}

func GetBias(ctx context.Context, c Caller) (float32, error) {
	reply, err := Call(ctx, c, schema.BiasGet)
	if err != nil {
		return 0, err
	}
	return reply.Float32(0)
}

func BiasPulse(ctx context.Context, c Caller, p Pulse) error {
	_, err := Call(ctx, c, schema.BiasPulse,
		protocol.Bool(p.Wait),
		protocol.Float32(float32(p.Width.Seconds())),
		protocol.Float32(p.Bias),
		protocol.Uint16(uint16(p.ZHold)),
		protocol.Uint16(uint16(p.Mode)),
	)
	return err
}

func OpenAutoApproach(ctx context.Context, c Caller) error {
	_, err := Call(ctx, c, schema.AutoApproachOpen)
	return err
}

func SetAutoApproach(ctx context.Context, c Caller, on bool) error {
	var flag uint16
	if on {
		flag = 1
	}
	_, err := Call(ctx, c, schema.AutoApproachOnOffSet, protocol.Uint16(flag))
	return err
}

// AutoApproachRunning reports whether the auto-approach is still moving.
func AutoApproachRunning(ctx context.Context, c Caller) (bool, error) {
	reply, err := Call(ctx, c, schema.AutoApproachOnOffGet)
	if err != nil {
		return false, err
	}
	return reply.Bool(0)
}

func SetZController(ctx context.Context, c Caller, on bool) error {
	_, err := Call(ctx, c, schema.ZCtrlOnOffSet, protocol.Bool(on))
	return err
}

func ZControllerOn(ctx context.Context, c Caller) (bool, error) {
	reply, err := Call(ctx, c, schema.ZCtrlOnOffGet)
	if err != nil {
		return false, err
	}
	return reply.Bool(0)
}

// Withdraw retracts the tip. With wait set the instrument acknowledges only
// after the withdraw completes or timeout elapses on its side.
func Withdraw(ctx context.Context, c Caller, wait bool, timeout time.Duration) error {
	_, err := Call(ctx, c, schema.ZCtrlWithdraw, protocol.Bool(wait), protocol.Int32(int32(timeout.Milliseconds())))
	return err
}

func ZPosition(ctx context.Context, c Caller) (float32, error) {
	reply, err := Call(ctx, c, schema.ZCtrlZPosGet)
	if err != nil {
		return 0, err
	}
	return reply.Float32(0)
}

// SignalNames returns the instrument's signal table; position is index.
func SignalNames(ctx context.Context, c Caller) ([]string, error) {
	reply, err := Call(ctx, c, schema.SignalsNamesGet)
	if err != nil {
		return nil, err
	}
	return reply.Strings(1)
}

func SignalValue(ctx context.Context, c Caller, index int, waitNewest bool) (float32, error) {
	reply, err := Call(ctx, c, schema.SignalsValGet, protocol.Int32(int32(index)), protocol.Bool(waitNewest))
	if err != nil {
		return 0, err
	}
	return reply.Float32(0)
}

// SignalValues reads several signals in one round trip, in the order given.
func SignalValues(ctx context.Context, c Caller, indexes []int, waitNewest bool) ([]float32, error) {
	idx := make([]int32, len(indexes))
	for i, v := range indexes {
		idx[i] = int32(v)
	}
	reply, err := Call(ctx, c, schema.SignalsValsGet,
		protocol.Int32(int32(len(idx))),
		protocol.Int32s(idx),
		protocol.Bool(waitNewest),
	)
	if err != nil {
		return nil, err
	}
	vals, err := reply.Float32s(1)
	if err != nil {
		return nil, err
	}
	if len(vals) != len(indexes) {
		return nil, &protocol.ProtocolError{
			Command: schema.SignalsValsGet,
			Err:     protocol.ErrInvalidLength,
			Detail:  fmt.Sprintf("got %d values want %d", len(vals), len(indexes)),
		}
	}
	return vals, nil
}

func XYPosition(ctx context.Context, c Caller, waitNewest bool) (x, y float64, err error) {
	reply, err := Call(ctx, c, schema.FolMeXYPosGet, protocol.Bool(waitNewest))
	if err != nil {
		return 0, 0, err
	}
	if x, err = reply.Float64(0); err != nil {
		return 0, 0, err
	}
	if y, err = reply.Float64(1); err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func SetXYPosition(ctx context.Context, c Caller, x, y float64, wait bool) error {
	_, err := Call(ctx, c, schema.FolMeXYPosSet, protocol.Float64(x), protocol.Float64(y), protocol.Bool(wait))
	return err
}

func StartMotorMove(ctx context.Context, c Caller, m MotorMove) error {
	_, err := Call(ctx, c, schema.MotorStartMove,
		protocol.Uint32(uint32(m.Direction)),
		protocol.Uint16(m.Steps),
		protocol.Uint32(m.Group),
		protocol.Bool(m.Wait),
	)
	return err
}

func MotorMoving(ctx context.Context, c Caller) (bool, error) {
	reply, err := Call(ctx, c, schema.MotorMoveStatusGet)
	if err != nil {
		return false, err
	}
	return reply.Bool(0)
}

// SetLogChannels selects which signal slots the TCP logger streams.
func SetLogChannels(ctx context.Context, c Caller, channels []int) error {
	chs := make([]int32, len(channels))
	for i, v := range channels {
		chs[i] = int32(v)
	}
	_, err := Call(ctx, c, schema.TCPLogChsSet, protocol.Int32(int32(len(chs))), protocol.Int32s(chs))
	return err
}

func SetLogOversampling(ctx context.Context, c Caller, n int) error {
	_, err := Call(ctx, c, schema.TCPLogOversamplSet, protocol.Int32(int32(n)))
	return err
}

func StartLog(ctx context.Context, c Caller) error {
	_, err := Call(ctx, c, schema.TCPLogStart)
	return err
}

func StopLog(ctx context.Context, c Caller) error {
	_, err := Call(ctx, c, schema.TCPLogStop)
	return err
}

func LogRunning(ctx context.Context, c Caller) (bool, error) {
	reply, err := Call(ctx, c, schema.TCPLogStatusGet)
	if err != nil {
		return false, err
	}
	return reply.Bool(0)
}

func RunOscilloscope(ctx context.Context, c Caller) error {
	_, err := Call(ctx, c, schema.OsciRun)
	return err
}
