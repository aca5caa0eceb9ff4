// Package stability decides whether a window of readings is steady enough to
// stop intervening on the tip. The classifier variant is chosen once, at
// construction, by Kind.
package stability

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/danmuck/tipctl/internal/faults"
)

type Kind string

const (
	KindRule     Kind = "rule"
	KindBoundary Kind = "boundary"
	KindTrend    Kind = "trend"
)

// Verdict is one classification with the statistics behind it.
type Verdict struct {
	Stable     bool    `json:"stable"`
	Mean       float64 `json:"mean"`
	PeakToPeak float64 `json:"peak_to_peak"`
	Drift      float64 `json:"drift"`
	StdDev     float64 `json:"std_dev"`
	Slope      float64 `json:"slope"`
	Reason     string  `json:"reason,omitempty"`
}

type Classifier interface {
	Name() string
	Classify(window []float64) Verdict
}

// Config carries the parameters of every variant; only those of Kind are
// read.
type Config struct {
	Kind       Kind `toml:"kind"`
	MinSamples int  `toml:"min_samples"`

	// rule
	MaxPeakToPeak float64 `toml:"max_peak_to_peak"`
	MeanLower     float64 `toml:"mean_lower"`
	MeanUpper     float64 `toml:"mean_upper"`

	// boundary
	Lower float64 `toml:"lower"`
	Upper float64 `toml:"upper"`

	// trend
	MaxDrift  float64 `toml:"max_drift"`
	MaxStdDev float64 `toml:"max_std_dev"`
}

// New returns the classifier selected by cfg.Kind.
func New(cfg Config) (Classifier, error) {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 2
	}
	switch cfg.Kind {
	case KindRule:
		if cfg.MaxPeakToPeak <= 0 {
			return nil, faults.Config("stability.max_peak_to_peak", "must be positive")
		}
		if cfg.MeanLower > cfg.MeanUpper {
			return nil, faults.Config("stability.mean_lower", "must not exceed mean_upper")
		}
		return Rule{MinSamples: cfg.MinSamples, MaxPeakToPeak: cfg.MaxPeakToPeak, MeanLower: cfg.MeanLower, MeanUpper: cfg.MeanUpper}, nil
	case KindBoundary:
		if cfg.Lower >= cfg.Upper {
			return nil, faults.Config("stability.lower", "must be below upper")
		}
		return Boundary{MinSamples: cfg.MinSamples, Lower: cfg.Lower, Upper: cfg.Upper}, nil
	case KindTrend, "":
		if cfg.MaxDrift <= 0 || cfg.MaxStdDev <= 0 {
			return nil, faults.Config("stability.trend", "max_drift and max_std_dev must be positive")
		}
		return Trend{MinSamples: cfg.MinSamples, MaxDrift: cfg.MaxDrift, MaxStdDev: cfg.MaxStdDev}, nil
	default:
		return nil, faults.Config("stability.kind", fmt.Sprintf("unknown classifier %q", cfg.Kind))
	}
}

// Rule bounds the window's peak-to-peak spread and, when MeanLower < MeanUpper,
// its mean.
type Rule struct {
	MinSamples    int
	MaxPeakToPeak float64
	MeanLower     float64
	MeanUpper     float64
}

func (Rule) Name() string { return string(KindRule) }

func (r Rule) Classify(window []float64) Verdict {
	v, ok := describe(window, r.MinSamples)
	if !ok {
		return v
	}
	switch {
	case v.PeakToPeak > r.MaxPeakToPeak:
		v.Reason = fmt.Sprintf("peak-to-peak %.4g exceeds %.4g", v.PeakToPeak, r.MaxPeakToPeak)
	case r.MeanLower < r.MeanUpper && (v.Mean < r.MeanLower || v.Mean > r.MeanUpper):
		v.Reason = fmt.Sprintf("mean %.4g outside [%.4g, %.4g]", v.Mean, r.MeanLower, r.MeanUpper)
	default:
		v.Stable = true
	}
	return v
}

// Boundary requires every sample inside [Lower, Upper].
type Boundary struct {
	MinSamples int
	Lower      float64
	Upper      float64
}

func (Boundary) Name() string { return string(KindBoundary) }

func (b Boundary) Classify(window []float64) Verdict {
	v, ok := describe(window, b.MinSamples)
	if !ok {
		return v
	}
	for i, x := range window {
		if x < b.Lower || x > b.Upper {
			v.Reason = fmt.Sprintf("sample %d = %.4g outside [%.4g, %.4g]", i, x, b.Lower, b.Upper)
			return v
		}
	}
	v.Stable = true
	return v
}

// Trend fits a least-squares line over the window. The drift across the
// window (slope times span) and the residual standard deviation must both stay
// within bounds.
type Trend struct {
	MinSamples int
	MaxDrift   float64
	MaxStdDev  float64
}

func (Trend) Name() string { return string(KindTrend) }

func (t Trend) Classify(window []float64) Verdict {
	v, ok := describe(window, t.MinSamples)
	if !ok {
		return v
	}
	switch {
	case math.Abs(v.Drift) > t.MaxDrift:
		v.Reason = fmt.Sprintf("drift %.4g exceeds %.4g", v.Drift, t.MaxDrift)
	case v.StdDev > t.MaxStdDev:
		v.Reason = fmt.Sprintf("residual std %.4g exceeds %.4g", v.StdDev, t.MaxStdDev)
	default:
		v.Stable = true
	}
	return v
}

// describe fills the shared statistics. Windows shorter than minSamples are
// reported unstable.
func describe(window []float64, minSamples int) (Verdict, bool) {
	if minSamples < 2 {
		minSamples = 2
	}
	if len(window) < minSamples {
		return Verdict{Reason: fmt.Sprintf("window has %d samples, need %d", len(window), minSamples)}, false
	}
	for i, x := range window {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Verdict{Reason: fmt.Sprintf("sample %d is not finite", i)}, false
		}
	}
	slope, intercept := fitLine(window)
	var ss float64
	for i, x := range window {
		r := x - (intercept + slope*float64(i))
		ss += r * r
	}
	return Verdict{
		Mean:       lo.Mean(window),
		PeakToPeak: lo.Max(window) - lo.Min(window),
		Slope:      slope,
		Drift:      slope * float64(len(window)-1),
		StdDev:     math.Sqrt(ss / float64(len(window))),
	}, true
}

// fitLine is ordinary least squares of window against sample position.
func fitLine(window []float64) (slope, intercept float64) {
	n := float64(len(window))
	xMean := (n - 1) / 2
	yMean := lo.Mean(window)
	var num, den float64
	for i, y := range window {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0, yMean
	}
	slope = num / den
	return slope, yMean - slope*xMean
}
