package fakeinstrument

import (
	"fmt"
	"sync"
	"testing"

	"github.com/danmuck/tipctl/internal/protocol"
	"github.com/danmuck/tipctl/internal/protocol/schema"
)

// Instrument is a Server with a small simulated state machine behind the
// catalog commands. Approach and motor moves report busy for a configurable
// number of status polls before completing.
type Instrument struct {
	*Server

	mu            sync.Mutex
	names         []string
	values        []float32
	bias          float32
	zOn           bool
	zPos          float32
	x, y          float64
	approachPolls int
	approachLeft  int
	motorPolls    int
	motorLeft     int
	logChannels   []int64
	logging       bool
}

func NewInstrument(t testing.TB, names []string) *Instrument {
	in := &Instrument{
		Server: Start(t),
		names:  append([]string(nil), names...),
		values: make([]float32, len(names)),
		zPos:   1e-6,
	}
	in.install()
	return in
}

func (in *Instrument) SetValue(index int, v float32) {
	in.mu.Lock()
	in.values[index] = v
	in.mu.Unlock()
}

// SetApproachPolls sets how many AutoApproach.OnOffGet polls report running.
func (in *Instrument) SetApproachPolls(n int) {
	in.mu.Lock()
	in.approachPolls = n
	in.mu.Unlock()
}

func (in *Instrument) SetMotorPolls(n int) {
	in.mu.Lock()
	in.motorPolls = n
	in.mu.Unlock()
}

func (in *Instrument) Bias() float32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.bias
}

func (in *Instrument) ZControllerOn() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.zOn
}

func (in *Instrument) Position() (float64, float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.x, in.y
}

func (in *Instrument) LogChannels() []int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]int64(nil), in.logChannels...)
}

func (in *Instrument) Logging() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.logging
}

// PulseVoltages returns the bias of every Bias.Pulse call in order.
func (in *Instrument) PulseVoltages() []float64 {
	var out []float64
	for _, c := range in.CallsTo(schema.BiasPulse) {
		v, _ := c.Args[2].Float64()
		out = append(out, v)
	}
	return out
}

func (in *Instrument) install() {
	in.Handle(schema.BiasSet, in.locked(func(args []protocol.Value) ([]protocol.Arg, error) {
		v, err := args[0].Float32()
		in.bias = v
		return nil, err
	}))
	in.Handle(schema.BiasGet, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		return []protocol.Arg{protocol.Float32(in.bias)}, nil
	}))
	in.Handle(schema.BiasPulse, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		return nil, nil
	}))
	in.Handle(schema.AutoApproachOnOffSet, in.locked(func(args []protocol.Value) ([]protocol.Arg, error) {
		on, err := args[0].Bool()
		if on {
			in.approachLeft = in.approachPolls
			in.zOn = true
		} else {
			in.approachLeft = 0
		}
		return nil, err
	}))
	in.Handle(schema.AutoApproachOnOffGet, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		if in.approachLeft > 0 {
			in.approachLeft--
			return []protocol.Arg{protocol.Uint16(1)}, nil
		}
		return []protocol.Arg{protocol.Uint16(0)}, nil
	}))
	in.Handle(schema.ZCtrlOnOffSet, in.locked(func(args []protocol.Value) ([]protocol.Arg, error) {
		on, err := args[0].Bool()
		in.zOn = on
		return nil, err
	}))
	in.Handle(schema.ZCtrlOnOffGet, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		return []protocol.Arg{protocol.Bool(in.zOn)}, nil
	}))
	in.Handle(schema.ZCtrlWithdraw, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		in.zOn = false
		in.zPos = 1e-6
		return nil, nil
	}))
	in.Handle(schema.ZCtrlZPosGet, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		return []protocol.Arg{protocol.Float32(in.zPos)}, nil
	}))
	in.Handle(schema.SignalsNamesGet, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		size := 0
		for _, n := range in.names {
			size += 4 + len(n)
		}
		return []protocol.Arg{protocol.Int32(int32(size)), protocol.StringList(in.names)}, nil
	}))
	in.Handle(schema.SignalsValGet, in.locked(func(args []protocol.Value) ([]protocol.Arg, error) {
		idx, err := args[0].Int()
		if err != nil {
			return nil, err
		}
		if idx < 0 || int(idx) >= len(in.values) {
			return nil, RemoteError{Code: 3, Message: fmt.Sprintf("signal index %d out of range", idx)}
		}
		return []protocol.Arg{protocol.Float32(in.values[idx])}, nil
	}))
	in.Handle(schema.SignalsValsGet, in.locked(func(args []protocol.Value) ([]protocol.Arg, error) {
		idxs, err := args[1].Ints()
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(idxs))
		for i, idx := range idxs {
			if idx < 0 || int(idx) >= len(in.values) {
				return nil, RemoteError{Code: 3, Message: fmt.Sprintf("signal index %d out of range", idx)}
			}
			out[i] = in.values[idx]
		}
		return []protocol.Arg{protocol.Int32(int32(len(out))), protocol.Float32s(out)}, nil
	}))
	in.Handle(schema.FolMeXYPosGet, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		return []protocol.Arg{protocol.Float64(in.x), protocol.Float64(in.y)}, nil
	}))
	in.Handle(schema.FolMeXYPosSet, in.locked(func(args []protocol.Value) ([]protocol.Arg, error) {
		x, err := args[0].Float64()
		if err != nil {
			return nil, err
		}
		y, err := args[1].Float64()
		in.x, in.y = x, y
		return nil, err
	}))
	in.Handle(schema.MotorStartMove, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		in.motorLeft = in.motorPolls
		return nil, nil
	}))
	in.Handle(schema.MotorMoveStatusGet, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		if in.motorLeft > 0 {
			in.motorLeft--
			return []protocol.Arg{protocol.Uint32(1)}, nil
		}
		return []protocol.Arg{protocol.Uint32(0)}, nil
	}))
	in.Handle(schema.TCPLogChsSet, in.locked(func(args []protocol.Value) ([]protocol.Arg, error) {
		chs, err := args[1].Ints()
		in.logChannels = chs
		return nil, err
	}))
	in.Handle(schema.TCPLogStart, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		in.logging = true
		return nil, nil
	}))
	in.Handle(schema.TCPLogStop, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		in.logging = false
		return nil, nil
	}))
	in.Handle(schema.TCPLogStatusGet, in.locked(func([]protocol.Value) ([]protocol.Arg, error) {
		if in.logging {
			return []protocol.Arg{protocol.Int32(1)}, nil
		}
		return []protocol.Arg{protocol.Int32(0)}, nil
	}))
}

func (in *Instrument) locked(h Handler) Handler {
	return func(args []protocol.Value) ([]protocol.Arg, error) {
		in.mu.Lock()
		defer in.mu.Unlock()
		return h(args)
	}
}
