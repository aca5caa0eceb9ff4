package tipprep

import (
	"math"
	"math/rand"

	"github.com/danmuck/tipctl/internal/faults"
)

// PulseMethod gives the pulse magnitude for the n-th pulse of a session
// (0-based). The unexported method keeps the set closed to Fixed and Stepping.
type PulseMethod interface {
	Height(n int) float64
	validate() error
}

type Fixed struct {
	Voltage float64
}

func (f Fixed) Height(int) float64 {
	return math.Abs(f.Voltage)
}

func (f Fixed) validate() error {
	if f.Voltage == 0 {
		return faults.Config("tipprep.pulse.voltage", "must be non-zero")
	}
	return nil
}

// Stepping raises the magnitude by Step every CyclesPerStep pulses, starting at
// Start, until Ceiling; from then on it holds at Ceiling.
type Stepping struct {
	Start         float64
	Step          float64
	Ceiling       float64
	CyclesPerStep int
}

func (s Stepping) Height(n int) float64 {
	per := s.CyclesPerStep
	if per <= 0 {
		per = 1
	}
	if n < 0 {
		n = 0
	}
	v := s.Start + s.Step*float64(n/per)
	if v > s.Ceiling {
		return s.Ceiling
	}
	return v
}

func (s Stepping) validate() error {
	switch {
	case s.Start <= 0:
		return faults.Config("tipprep.pulse.start", "must be positive")
	case s.Step <= 0:
		return faults.Config("tipprep.pulse.step", "must be positive")
	case s.Ceiling < s.Start:
		return faults.Config("tipprep.pulse.ceiling", "must be at least start")
	}
	return nil
}

type PolaritySign int

const (
	Positive PolaritySign = 1
	Negative PolaritySign = -1
)

func (p PolaritySign) String() string {
	if p == Negative {
		return "-"
	}
	return "+"
}

func (p PolaritySign) flip() PolaritySign {
	return -p
}

type PolarityMode int

const (
	PolarityFixed PolarityMode = iota
	PolarityAlternate
	PolarityRandom
)

// RandomPolaritySwitch flips the sign before each pulse after the first with
// Probability. A zero Seed seeds from the clock.
type RandomPolaritySwitch struct {
	Probability float64
	Seed        int64
}

type Polarity struct {
	Initial PolaritySign
	Mode    PolarityMode
	Random  RandomPolaritySwitch
}

func (p Polarity) validate() error {
	if p.Initial != Positive && p.Initial != Negative {
		return faults.Config("tipprep.polarity.initial", "must be + or -")
	}
	if p.Mode == PolarityRandom && (p.Random.Probability < 0 || p.Random.Probability > 1) {
		return faults.Config("tipprep.polarity.probability", "must be within [0, 1]")
	}
	if p.Mode < PolarityFixed || p.Mode > PolarityRandom {
		return faults.Config("tipprep.polarity.mode", "unknown mode")
	}
	return nil
}

// polarityPicker yields the sign of successive pulses.
type polarityPicker struct {
	cfg  Polarity
	rng  *rand.Rand
	sign PolaritySign
	n    int
}

func newPolarityPicker(cfg Polarity, rng *rand.Rand) *polarityPicker {
	return &polarityPicker{cfg: cfg, rng: rng, sign: cfg.Initial}
}

func (p *polarityPicker) next() PolaritySign {
	if p.n > 0 {
		switch p.cfg.Mode {
		case PolarityAlternate:
			p.sign = p.sign.flip()
		case PolarityRandom:
			if p.rng.Float64() < p.cfg.Random.Probability {
				p.sign = p.sign.flip()
			}
		}
	}
	p.n++
	return p.sign
}

// ValidatePulse reports whether m carries usable settings.
func ValidatePulse(m PulseMethod) error {
	if m == nil {
		return faults.Config("tipprep.pulse", "required")
	}
	return m.validate()
}

func ValidatePolarity(p Polarity) error {
	return p.validate()
}
