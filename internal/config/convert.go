package config

import (
	"fmt"
	"strings"

	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/monitor"
	"github.com/danmuck/tipctl/internal/signals"
	"github.com/danmuck/tipctl/internal/stability"
	"github.com/danmuck/tipctl/internal/stream"
	"github.com/danmuck/tipctl/internal/tipprep"
)

func (c InstrumentConfig) Client() instrument.Config {
	cfg := instrument.DefaultConfig()
	cfg.Address = c.Address
	if c.ConnectTimeout.Duration > 0 {
		cfg.ConnectTimeout = c.ConnectTimeout.Duration
	}
	if c.CallTimeout.Duration > 0 {
		cfg.CallTimeout = c.CallTimeout.Duration
	}
	if c.MaxConnectAttempts != 0 {
		cfg.MaxConnectAttempts = c.MaxConnectAttempts
	}
	cfg.AllowUncataloged = c.AllowUncataloged
	return cfg
}

func (c StreamConfig) Reader() stream.Config {
	cfg := stream.DefaultConfig()
	cfg.Address = c.Address
	if c.Capacity > 0 {
		cfg.Capacity = c.Capacity
	}
	cfg.ReadTimeout = c.ReadTimeout.Duration
	if c.SampleInterval.Duration > 0 {
		cfg.SampleInterval = c.SampleInterval.Duration
	}
	return cfg
}

// StreamMap returns the registry option for the configured channel map.
func (c StreamConfig) StreamMap() (signals.Option, error) {
	if c.ChannelMap == "" {
		return signals.WithStandardStreamMap(), nil
	}
	m, err := signals.LoadStreamMapYAML(c.ChannelMap)
	if err != nil {
		return nil, err
	}
	return signals.WithStreamMap(m), nil
}

// Tipprep resolves the measured signal against reg and builds the controller
// configuration.
func (c ControllerConfig) Tipprep(reg *signals.Registry) (tipprep.Config, error) {
	sig, err := reg.Lookup(c.Signal)
	if err != nil {
		return tipprep.Config{}, err
	}
	channel, ok := sig.StreamChannel()
	if !ok {
		return tipprep.Config{}, fmt.Errorf("signal %q is not mapped to a stream channel", sig.Name)
	}
	cls, err := stability.New(c.Stability)
	if err != nil {
		return tipprep.Config{}, err
	}
	pulse, err := buildPulse(c.Pulse)
	if err != nil {
		return tipprep.Config{}, err
	}
	hold, err := zHold(c.Pulse.ZHold)
	if err != nil {
		return tipprep.Config{}, err
	}
	polarity, err := buildPolarity(c.Polarity)
	if err != nil {
		return tipprep.Config{}, err
	}
	return tipprep.Config{
		Measure: tipprep.Measure{
			Channel:     channel,
			Window:      c.Window,
			Consecutive: c.Consecutive,
			Timeout:     c.MeasureTimeout.Duration,
		},
		Classifier:      cls,
		Pulse:           pulse,
		PulseWidth:      c.Pulse.Width.Duration,
		PulseZHold:      hold,
		Polarity:        polarity,
		RestoreBias:     c.RestoreBias,
		ApproachTimeout: c.ApproachTimeout.Duration,
		WithdrawTimeout: c.WithdrawTimeout.Duration,
		SettleTime:      c.SettleTime.Duration,
		MaxCycles:       c.MaxCycles,
		MaxDuration:     c.MaxDuration.Duration,
		RelocateEvery:   c.RelocateEvery,
		RelocateDX:      c.RelocateDX,
		RelocateDY:      c.RelocateDY,
	}, nil
}

// Monitor resolves the monitored signals against reg.
func (c MonitorConfig) Monitor(reg *signals.Registry) ([]signals.Index, monitor.Config, error) {
	idx, err := reg.Resolve(c.Signals...)
	if err != nil {
		return nil, monitor.Config{}, err
	}
	cfg := monitor.DefaultConfig()
	if c.Period.Duration > 0 {
		cfg.Period = c.Period.Duration
	}
	if c.QueueSize > 0 {
		cfg.QueueSize = c.QueueSize
	}
	if cfg.Overflow, err = monitor.ParseOverflowPolicy(c.Overflow); err != nil {
		return nil, monitor.Config{}, err
	}
	if c.RollingSignal != "" {
		sig, err := reg.Lookup(c.RollingSignal)
		if err != nil {
			return nil, monitor.Config{}, err
		}
		cls, err := stability.New(c.Stability)
		if err != nil {
			return nil, monitor.Config{}, err
		}
		cfg.Rolling = &monitor.Rolling{Index: sig.Index, Window: c.RollingWindow, Classifier: cls}
	}
	return idx, cfg, cfg.Validate()
}

func buildPulse(c PulseConfig) (tipprep.PulseMethod, error) {
	var m tipprep.PulseMethod
	switch strings.ToLower(strings.TrimSpace(c.Method)) {
	case "fixed":
		m = tipprep.Fixed{Voltage: c.Voltage}
	case "stepping", "":
		m = tipprep.Stepping{Start: c.Start, Step: c.Step, Ceiling: c.Ceiling, CyclesPerStep: c.CyclesPerStep}
	default:
		return nil, fmt.Errorf("unknown pulse method: %s", c.Method)
	}
	return m, tipprep.ValidatePulse(m)
}

func zHold(s string) (instrument.ZHold, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "on", "hold":
		return instrument.ZHoldOn, nil
	case "off":
		return instrument.ZHoldOff, nil
	case "unchanged":
		return instrument.ZHoldUnchanged, nil
	}
	return 0, fmt.Errorf("unknown z_hold: %s", s)
}

func buildPolarity(c PolarityConfig) (tipprep.Polarity, error) {
	p := tipprep.Polarity{Initial: tipprep.Positive}
	switch strings.TrimSpace(c.Initial) {
	case "", "+", "positive":
	case "-", "negative":
		p.Initial = tipprep.Negative
	default:
		return p, fmt.Errorf("unknown polarity: %s", c.Initial)
	}
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case "", "fixed":
		p.Mode = tipprep.PolarityFixed
	case "alternate":
		p.Mode = tipprep.PolarityAlternate
	case "random":
		p.Mode = tipprep.PolarityRandom
		p.Random = tipprep.RandomPolaritySwitch{Probability: c.SwitchProbability, Seed: c.Seed}
	default:
		return p, fmt.Errorf("unknown polarity mode: %s", c.Mode)
	}
	return p, tipprep.ValidatePolarity(p)
}

// Sinks opens every configured monitor sink. On error the sinks opened so far
// are closed.
func (c MonitorConfig) Sinks(clientName string) ([]monitor.Sink, error) {
	var sinks []monitor.Sink
	fail := func(err error) ([]monitor.Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}
	if c.JSONL != "" {
		f, err := monitor.CreateFile(c.JSONL)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, monitor.NewJSONLSink(f))
	}
	if c.Msgpack != "" {
		f, err := monitor.CreateFile(c.Msgpack)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, monitor.NewMsgpackSink(f))
	}
	if c.DuckDB != "" {
		d, err := monitor.OpenDuckSink(c.DuckDB)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, d)
	}
	if c.NATSURL != "" {
		subject := c.NATSSubject
		if subject == "" {
			subject = "tipctl.monitor"
		}
		n, err := monitor.DialNATSSink(c.NATSURL, subject, clientName)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, n)
	}
	return sinks, nil
}
