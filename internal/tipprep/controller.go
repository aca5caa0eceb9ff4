// Package tipprep runs the tip preparation loop: approach, measure stability,
// pulse, withdraw, repeated until the tip is stable or a limit is reached.
//
// A Controller runs one session. Done and Failed are terminal; Reset re-arms
// the instance for a new session.
package tipprep

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/tipctl/internal/action"
	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/logging"
	"github.com/danmuck/tipctl/internal/observability"
	"github.com/danmuck/tipctl/internal/stability"
	"github.com/danmuck/tipctl/internal/stream"
)

var (
	ErrAlreadyRan = errors.New("tipprep: controller already ran; reset first")
	ErrRunning    = errors.New("tipprep: controller is running")
)

const transitionBuffer = 64

// Executor runs one action; *action.Driver implements it.
type Executor interface {
	Execute(ctx context.Context, a action.Action) action.Result
}

// Acquirer hands back a stability-policy read; *stream.Reader implements it.
type Acquirer interface {
	Acquire(ctx context.Context, want stream.DataToGet) (stream.OsciData, error)
}

type Controller struct {
	cfg  Config
	exec Executor
	acq  Acquirer
	now  func() time.Time

	mu          sync.Mutex
	snap        Snapshot
	ran         bool
	running     bool
	transitions chan Transition
	dropped     int
}

func New(cfg Config, exec Executor, acq Acquirer) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil || acq == nil {
		return nil, faults.Config("tipprep.collaborators", "executor and acquirer are required")
	}
	return &Controller{
		cfg:         cfg,
		exec:        exec,
		acq:         acq,
		now:         time.Now,
		transitions: make(chan Transition, transitionBuffer),
	}, nil
}

// Transitions publishes every state change of the current session. Sends
// never block; when the buffer is full the change is dropped from the channel
// but still visible through Snapshot. The channel closes when Run returns.
func (c *Controller) Transitions() <-chan Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitions
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	if c.running {
		s.Elapsed = c.now().Sub(s.StartedAt)
	}
	return s
}

// Reset re-arms a finished controller for a new session.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunning
	}
	c.ran = false
	c.snap = Snapshot{}
	c.dropped = 0
	c.transitions = make(chan Transition, transitionBuffer)
	return nil
}

type session struct {
	c        *Controller
	started  time.Time
	picker   *polarityPicker
	cycles   []CycleRecord
	current  CycleRecord
	pulses   int
	state    State
	classify func([]float64) bool
}

// Run drives one session to a terminal state. It returns a nil error for Done
// and for a limit-exceeded Failed; any hardware, protocol or context failure
// is returned alongside the Failed outcome.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return Outcome{}, ErrAlreadyRan
	}
	c.ran = true
	c.running = true
	started := c.now()
	c.snap = Snapshot{State: StateIdle, StartedAt: started}
	transitions := c.transitions
	c.mu.Unlock()

	seed := c.cfg.Polarity.Random.Seed
	if seed == 0 {
		seed = started.UnixNano()
	}
	s := &session{
		c:       c,
		started: started,
		picker:  newPolarityPicker(c.cfg.Polarity, rand.New(rand.NewSource(seed))),
		state:   StateIdle,
	}
	s.classify = func(w []float64) bool { return c.cfg.Classifier.Classify(w).Stable }

	out := s.loop(ctx)

	c.mu.Lock()
	c.running = false
	c.snap.Elapsed = out.Elapsed
	if out.Err != nil {
		c.snap.Error = out.Err.Error()
	}
	close(transitions)
	c.mu.Unlock()

	observability.RecordControllerOutcome(out.State.String(), string(out.Reason))
	logging.Infof("tipprep.Controller.Run state=%s reason=%s pulses=%d cycles=%d elapsed=%s",
		out.State, out.Reason, out.Pulses, len(out.Cycles), out.Elapsed)
	if out.Reason == ReasonLimitExceeded || out.State == StateDone {
		return out, nil
	}
	return out, out.Err
}

func (s *session) loop(ctx context.Context) Outcome {
	s.move(StateApproaching)
	for {
		var err error
		switch s.state {
		case StateApproaching:
			err = s.approach(ctx)
		case StateMeasuring:
			err = s.measure(ctx)
		case StatePulsing:
			err = s.pulse(ctx)
		case StateWithdrawing:
			err = s.withdraw(ctx)
		case StateRecovering:
			err = s.relocate(ctx)
		case StateDone:
			return s.finish(ReasonStable, nil)
		case StateFailed:
			return s.finish(ReasonLimitExceeded, nil)
		}
		if err != nil {
			reason := ReasonError
			if ctx.Err() != nil {
				reason = ReasonCanceled
			}
			s.move(StateFailed)
			return s.finish(reason, err)
		}
	}
}

func (s *session) approach(ctx context.Context) error {
	s.current = CycleRecord{Cycle: len(s.cycles) + 1, StartedAt: s.c.now()}
	if err := s.do(ctx, action.Approach{Wait: true, Timeout: s.c.cfg.ApproachTimeout}); err != nil {
		return err
	}
	if s.c.cfg.SettleTime > 0 {
		if err := s.do(ctx, action.Wait{Duration: s.c.cfg.SettleTime}); err != nil {
			return err
		}
	}
	s.move(StateMeasuring)
	return nil
}

func (s *session) measure(ctx context.Context) error {
	m := s.c.cfg.Measure
	data, err := s.c.acq.Acquire(ctx, stream.Stable{
		Channel:     m.Channel,
		Window:      m.Window,
		Consecutive: m.Consecutive,
		Predicate:   s.classify,
		Timeout:     m.Timeout,
		Fresh:       true,
	})
	stableTimeout := faults.IsTimeout(err) && !faults.IsConnection(err)
	if err != nil && !stableTimeout {
		return err
	}
	// Only a completed streak counts as stable; the classifier fills in the
	// statistics of the last window.
	verdict := s.c.cfg.Classifier.Classify(data.Samples)
	verdict.Stable = err == nil && data.Stable
	if stableTimeout && verdict.Reason == "" {
		verdict.Reason = "stability streak not reached before timeout"
	}
	s.current.Verdict = verdict
	s.c.mu.Lock()
	s.c.snap.LastVerdict = verdict
	s.c.mu.Unlock()
	logging.Debugf("tipprep.Controller.measure cycle=%d stable=%t drift=%.4g std=%.4g reason=%q",
		s.current.Cycle, verdict.Stable, verdict.Drift, verdict.StdDev, verdict.Reason)

	if verdict.Stable {
		s.closeCycle()
		s.move(StateDone)
		return nil
	}
	s.move(StatePulsing)
	return nil
}

func (s *session) pulse(ctx context.Context) error {
	cfg := s.c.cfg
	sign := s.picker.next()
	volts := float64(sign) * cfg.Pulse.Height(s.pulses)
	err := s.do(ctx, action.BiasPulse{
		Voltage: float32(volts),
		Width:   cfg.PulseWidth,
		Wait:    true,
		ZHold:   cfg.PulseZHold,
		Mode:    instrument.PulseModeAbsolute,
	})
	if err != nil {
		return err
	}
	s.pulses++
	s.current.Pulsed = true
	s.current.Voltage = volts
	s.current.Polarity = sign.String()
	observability.RecordControllerPulse(sign.String())
	s.c.mu.Lock()
	s.c.snap.Pulses = s.pulses
	s.c.mu.Unlock()

	if err := s.do(ctx, action.SetBias{Voltage: cfg.RestoreBias}); err != nil {
		return err
	}
	s.move(StateWithdrawing)
	return nil
}

// withdraw retracts and then decides the next cycle. Limits are checked here,
// before every return to Approaching.
func (s *session) withdraw(ctx context.Context) error {
	cfg := s.c.cfg
	if err := s.do(ctx, action.Withdraw{Wait: true, Timeout: cfg.WithdrawTimeout}); err != nil {
		return err
	}
	cycle := s.current.Cycle
	elapsed := s.c.now().Sub(s.started)
	limited := (cfg.MaxCycles > 0 && cycle >= cfg.MaxCycles) || (cfg.MaxDuration > 0 && elapsed >= cfg.MaxDuration)
	relocate := !limited && cfg.RelocateEvery > 0 && cycle%cfg.RelocateEvery == 0
	s.current.Relocated = relocate
	s.closeCycle()
	observability.RecordControllerCycle()

	if limited {
		logging.Warnf("tipprep.Controller limit exceeded cycles=%d elapsed=%s", cycle, elapsed)
		s.move(StateFailed)
		return nil
	}
	if relocate {
		s.move(StateRecovering)
		return nil
	}
	s.move(StateApproaching)
	return nil
}

func (s *session) relocate(ctx context.Context) error {
	cfg := s.c.cfg
	if err := s.do(ctx, action.MovePiezoRelative{DX: cfg.RelocateDX, DY: cfg.RelocateDY, Wait: true}); err != nil {
		return err
	}
	s.move(StateApproaching)
	return nil
}

func (s *session) do(ctx context.Context, a action.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.c.exec.Execute(ctx, a).Err
}

func (s *session) closeCycle() {
	s.current.Duration = s.c.now().Sub(s.current.StartedAt)
	s.cycles = append(s.cycles, s.current)
	s.c.mu.Lock()
	s.c.snap.Cycle = len(s.cycles)
	s.c.mu.Unlock()
}

func (s *session) move(to State) {
	from := s.state
	s.state = to
	t := Transition{From: from, To: to, Cycle: s.current.Cycle, At: s.c.now()}
	s.c.mu.Lock()
	s.c.snap.State = to
	select {
	case s.c.transitions <- t:
	default:
		s.c.dropped++
	}
	s.c.mu.Unlock()
	logging.Debugf("tipprep.Controller transition from=%s to=%s cycle=%d", from, to, t.Cycle)
}

func (s *session) finish(reason Reason, err error) Outcome {
	s.c.mu.Lock()
	s.c.snap.Reason = reason
	s.c.mu.Unlock()
	return Outcome{
		State:   s.state,
		Reason:  reason,
		Err:     err,
		Cycles:  s.cycles,
		Pulses:  s.pulses,
		Elapsed: s.c.now().Sub(s.started),
	}
}

// Verdict exposes the configured classifier for callers that want to score a
// window the same way the controller does.
func (c *Controller) Verdict(window []float64) stability.Verdict {
	return c.cfg.Classifier.Classify(window)
}
