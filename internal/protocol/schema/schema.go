// Package schema is the static catalog of command signatures understood by the
// instrument server. Requests are validated against it before any byte is
// written to the command socket.
package schema

import (
	"fmt"
	"sort"

	"github.com/danmuck/tipctl/internal/logging"
	"github.com/danmuck/tipctl/internal/protocol"
)

// Command names.
const (
	BiasSet              = "Bias.Set"
	BiasGet              = "Bias.Get"
	BiasPulse            = "Bias.Pulse"
	AutoApproachOpen     = "AutoApproach.Open"
	AutoApproachOnOffSet = "AutoApproach.OnOffSet"
	AutoApproachOnOffGet = "AutoApproach.OnOffGet"
	ZCtrlOnOffSet        = "ZCtrl.OnOffSet"
	ZCtrlOnOffGet        = "ZCtrl.OnOffGet"
	ZCtrlWithdraw        = "ZCtrl.Withdraw"
	ZCtrlZPosGet         = "ZCtrl.ZPosGet"
	SignalsNamesGet      = "Signals.NamesGet"
	SignalsValGet        = "Signals.ValGet"
	SignalsValsGet       = "Signals.ValsGet"
	FolMeXYPosGet        = "FolMe.XYPosGet"
	FolMeXYPosSet        = "FolMe.XYPosSet"
	MotorStartMove       = "Motor.StartMove"
	MotorMoveStatusGet   = "Motor.MoveStatusGet"
	TCPLogChsSet         = "TCPLog.ChsSet"
	TCPLogOversamplSet   = "TCPLog.OversamplSet"
	TCPLogStart          = "TCPLog.Start"
	TCPLogStop           = "TCPLog.Stop"
	TCPLogStatusGet      = "TCPLog.StatusGet"
	OsciRun              = "Osci1T.Run"
)

// Command is one catalog entry.
type Command struct {
	Name    string
	Args    []protocol.Tag
	Returns []protocol.Tag
}

type ValidationError struct {
	Command  string
	ArgIndex int
	Reason   string
}

func (e ValidationError) Error() string {
	if e.ArgIndex < 0 {
		return fmt.Sprintf("schema: command=%s: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("schema: command=%s arg=%d: %s", e.Command, e.ArgIndex, e.Reason)
}

type tags = []protocol.Tag

const (
	f   = protocol.TagFloat32
	d   = protocol.TagFloat64
	i32 = protocol.TagInt32
	u32 = protocol.TagUint32
	u16 = protocol.TagUint16
)

var catalog = map[string]Command{
	BiasSet:              {BiasSet, tags{f}, nil},
	BiasGet:              {BiasGet, nil, tags{f}},
	BiasPulse:            {BiasPulse, tags{u32, f, f, u16, u16}, nil},
	AutoApproachOpen:     {AutoApproachOpen, nil, nil},
	AutoApproachOnOffSet: {AutoApproachOnOffSet, tags{u16}, nil},
	AutoApproachOnOffGet: {AutoApproachOnOffGet, nil, tags{u16}},
	ZCtrlOnOffSet:        {ZCtrlOnOffSet, tags{u32}, nil},
	ZCtrlOnOffGet:        {ZCtrlOnOffGet, nil, tags{u32}},
	ZCtrlWithdraw:        {ZCtrlWithdraw, tags{u32, i32}, nil},
	ZCtrlZPosGet:         {ZCtrlZPosGet, nil, tags{f}},
	SignalsNamesGet:      {SignalsNamesGet, nil, tags{i32, protocol.TagStringList}},
	SignalsValGet:        {SignalsValGet, tags{i32, u32}, tags{f}},
	SignalsValsGet:       {SignalsValsGet, tags{i32, protocol.TagInt32Array, u32}, tags{i32, protocol.TagFloat32Array}},
	FolMeXYPosGet:        {FolMeXYPosGet, tags{u32}, tags{d, d}},
	FolMeXYPosSet:        {FolMeXYPosSet, tags{d, d, u32}, nil},
	MotorStartMove:       {MotorStartMove, tags{u32, u16, u32, u32}, nil},
	MotorMoveStatusGet:   {MotorMoveStatusGet, nil, tags{u32}},
	TCPLogChsSet:         {TCPLogChsSet, tags{i32, protocol.TagInt32Array}, nil},
	TCPLogOversamplSet:   {TCPLogOversamplSet, tags{i32}, nil},
	TCPLogStart:          {TCPLogStart, nil, nil},
	TCPLogStop:           {TCPLogStop, nil, nil},
	TCPLogStatusGet:      {TCPLogStatusGet, nil, tags{i32}},
	OsciRun:              {OsciRun, nil, nil},
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Command, bool) {
	c, ok := catalog[name]
	return c, ok
}

// Names returns every catalog command in sorted order.
func Names() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks that args match the declared argument tags of command.
func Validate(command string, args []protocol.Arg) error {
	logging.Tracef("schema.Validate command=%s args=%d", command, len(args))
	c, ok := catalog[command]
	if !ok {
		return ValidationError{Command: command, ArgIndex: -1, Reason: "unknown command"}
	}
	if len(args) != len(c.Args) {
		return ValidationError{
			Command:  command,
			ArgIndex: -1,
			Reason:   fmt.Sprintf("got %d args want %d", len(args), len(c.Args)),
		}
	}
	for idx, arg := range args {
		if arg.Tag != c.Args[idx] {
			return ValidationError{
				Command:  command,
				ArgIndex: idx,
				Reason:   fmt.Sprintf("tag %q want %q", arg.Tag, c.Args[idx]),
			}
		}
	}
	return nil
}
