// Package action turns atomic instrument operations into timeout-bounded,
// loggable units and runs them as fail-fast chains.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/logging"
	"github.com/danmuck/tipctl/internal/observability"
	"github.com/danmuck/tipctl/internal/signals"
)

const DefaultPollInterval = 100 * time.Millisecond

// Result is the outcome of one executed action.
type Result struct {
	Action   string
	Params   map[string]any
	Value    any
	Err      error
	Started  time.Time
	Duration time.Duration
}

func (r Result) OK() bool {
	return r.Err == nil
}

type ChainResult struct {
	RunID   string
	Results []Result
}

// EntrySink receives one log entry per completed action.
type EntrySink interface {
	Write(Entry) error
}

type Driver struct {
	caller       instrument.Caller
	pollInterval time.Duration
	sink         EntrySink
}

type Option func(*Driver)

func WithPollInterval(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.pollInterval = d
		}
	}
}

// WithLog persists every completed action to sink.
func WithLog(sink EntrySink) Option {
	return func(dr *Driver) {
		dr.sink = sink
	}
}

func NewDriver(caller instrument.Caller, opts ...Option) *Driver {
	d := &Driver{caller: caller, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Caller() instrument.Caller {
	return d.caller
}

// Execute runs a single action under a fresh run id.
func (d *Driver) Execute(ctx context.Context, a Action) Result {
	return d.execute(ctx, uuid.NewString(), 0, a)
}

// ExecuteChain runs chain in order and stops at the first failure. The
// returned results hold one entry per attempted action; the error is an
// *ActionFailedError for the failing one.
func (d *Driver) ExecuteChain(ctx context.Context, chain Chain) (ChainResult, error) {
	out := ChainResult{RunID: uuid.NewString(), Results: make([]Result, 0, len(chain))}
	logging.Debugf("action.Driver.ExecuteChain run_id=%s actions=%d", out.RunID, len(chain))
	for i, a := range chain {
		res := d.execute(ctx, out.RunID, i, a)
		out.Results = append(out.Results, res)
		if res.Err != nil {
			return out, &ActionFailedError{Action: res.Action, Index: i, Err: res.Err}
		}
	}
	return out, nil
}

func (d *Driver) execute(ctx context.Context, runID string, seq int, a Action) Result {
	res := Result{Started: time.Now()}
	if a == nil {
		res.Action = "nil"
		res.Err = ErrUnknownAction
	} else {
		res.Action = a.Name()
		res.Params = a.Params()
		res.Value, res.Err = d.run(ctx, a)
	}
	res.Duration = time.Since(res.Started)
	observability.RecordAction(res.Action, res.Err == nil)

	if res.Err != nil {
		logging.Warnf("action.Driver.Execute run_id=%s seq=%d action=%s err=%v", runID, seq, res.Action, res.Err)
	} else {
		logging.Debugf("action.Driver.Execute run_id=%s seq=%d action=%s duration=%s", runID, seq, res.Action, res.Duration)
	}
	if d.sink != nil {
		if err := d.sink.Write(NewEntry(runID, seq, res)); err != nil {
			logging.Errorf("action.Driver log write run_id=%s seq=%d err=%v", runID, seq, err)
		}
	}
	return res
}

func (d *Driver) run(ctx context.Context, a Action) (any, error) {
	c := d.caller
	switch a := a.(type) {
	case Approach:
		if err := instrument.SetAutoApproach(ctx, c, true); err != nil {
			return nil, err
		}
		if !a.Wait {
			return nil, nil
		}
		return nil, d.poll(ctx, "approach", a.Timeout, func(ctx context.Context) (bool, error) {
			running, err := instrument.AutoApproachRunning(ctx, c)
			return !running, err
		})
	case Withdraw:
		if err := instrument.Withdraw(ctx, c, false, a.Timeout); err != nil {
			return nil, err
		}
		if !a.Wait {
			return nil, nil
		}
		return nil, d.poll(ctx, "withdraw", a.Timeout, func(ctx context.Context) (bool, error) {
			on, err := instrument.ZControllerOn(ctx, c)
			return !on, err
		})
	case SetBias:
		return nil, instrument.SetBias(ctx, c, a.Voltage)
	case BiasPulse:
		return nil, instrument.BiasPulse(ctx, c, instrument.Pulse{
			Bias:  a.Voltage,
			Width: a.Width,
			Wait:  a.Wait,
			ZHold: a.ZHold,
			Mode:  a.Mode,
		})
	case MovePiezoRelative:
		x, y, err := instrument.XYPosition(ctx, c, true)
		if err != nil {
			return nil, err
		}
		tx, ty := x+a.DX, y+a.DY
		if err := instrument.SetXYPosition(ctx, c, tx, ty, a.Wait); err != nil {
			return nil, err
		}
		return []float64{tx, ty}, nil
	case MoveMotor:
		if err := instrument.StartMotorMove(ctx, c, instrument.MotorMove{
			Direction: a.Direction,
			Steps:     a.Steps,
			Group:     a.Group,
		}); err != nil {
			return nil, err
		}
		if !a.Wait {
			return nil, nil
		}
		return nil, d.poll(ctx, "move_motor", a.Timeout, func(ctx context.Context) (bool, error) {
			moving, err := instrument.MotorMoving(ctx, c)
			return !moving, err
		})
	case ReadSignal:
		return instrument.SignalValue(ctx, c, a.Index.Int(), a.WaitNewest)
	case ReadSignals:
		return instrument.SignalValues(ctx, c, signals.Ints(a.Indexes), a.WaitNewest)
	case Wait:
		return nil, sleep(ctx, a.Duration)
	case StartStream:
		if err := instrument.SetLogChannels(ctx, c, a.Channels); err != nil {
			return nil, err
		}
		if a.Oversampling > 0 {
			if err := instrument.SetLogOversampling(ctx, c, a.Oversampling); err != nil {
				return nil, err
			}
		}
		return nil, instrument.StartLog(ctx, c)
	case StopStream:
		return nil, instrument.StopLog(ctx, c)
	case SetZController:
		return nil, instrument.SetZController(ctx, c, a.On)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}
}

// poll checks done immediately and then every pollInterval until it reports
// true, fails, or timeout elapses. Only the status query repeats; the action's
// own request is never re-sent.
func (d *Driver) poll(ctx context.Context, op string, timeout time.Duration, done func(context.Context) (bool, error)) error {
	if timeout <= 0 {
		return faults.Config(op+".timeout", "required when waiting for completion")
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for polls := 1; ; polls++ {
		ok, err := done(ctx)
		if err != nil {
			return err
		}
		if ok {
			logging.Tracef("action.Driver.poll op=%s polls=%d", op, polls)
			return nil
		}
		if !time.Now().Before(deadline) {
			return faults.Timeout(op, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
