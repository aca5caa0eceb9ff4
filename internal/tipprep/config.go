package tipprep

import (
	"time"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/stability"
)

// Measure describes the stability read taken in the Measuring state.
type Measure struct {
	Channel     int
	Window      int
	Consecutive int
	Timeout     time.Duration
}

type Config struct {
	Measure    Measure
	Classifier stability.Classifier

	Pulse       PulseMethod
	PulseWidth  time.Duration
	PulseZHold  instrument.ZHold
	Polarity    Polarity
	RestoreBias float32

	ApproachTimeout time.Duration
	WithdrawTimeout time.Duration
	SettleTime      time.Duration

	// Zero disables a limit; at least one must be set.
	MaxCycles   int
	MaxDuration time.Duration

	// RelocateEvery moves the tip by RelocateDX, RelocateDY after every N
	// pulses. Zero disables relocation.
	RelocateEvery int
	RelocateDX    float64
	RelocateDY    float64
}

func (c Config) Validate() error {
	switch {
	case c.Classifier == nil:
		return faults.Config("tipprep.classifier", "required")
	case c.Pulse == nil:
		return faults.Config("tipprep.pulse", "required")
	case c.Measure.Window <= 0:
		return faults.Config("tipprep.measure.window", "must be positive")
	case c.Measure.Timeout <= 0:
		return faults.Config("tipprep.measure.timeout", "must be positive")
	case c.PulseWidth <= 0:
		return faults.Config("tipprep.pulse_width", "must be positive")
	case c.ApproachTimeout <= 0:
		return faults.Config("tipprep.approach_timeout", "must be positive")
	case c.WithdrawTimeout <= 0:
		return faults.Config("tipprep.withdraw_timeout", "must be positive")
	case c.MaxCycles <= 0 && c.MaxDuration <= 0:
		return faults.Config("tipprep.limits", "max_cycles or max_duration is required")
	case c.MaxCycles < 0 || c.MaxDuration < 0 || c.RelocateEvery < 0:
		return faults.Config("tipprep.limits", "must not be negative")
	}
	if err := c.Pulse.validate(); err != nil {
		return err
	}
	return c.Polarity.validate()
}
