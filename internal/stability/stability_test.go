package stability

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/testutil/testlog"
)

// flatWindow is a constant level with a small deterministic ripple.
func flatWindow(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = -2.0 + 0.001*math.Sin(float64(i))
	}
	return out
}

func rampWindow(n int, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = -2.0 + step*float64(i)
	}
	return out
}

func TestTrendFlatStableRampUnstable(t *testing.T) {
	testlog.Start(t)
	c, err := New(Config{Kind: KindTrend, MaxDrift: 0.05, MaxStdDev: 0.01})
	require.NoError(t, err)
	assert.Equal(t, "trend", c.Name())

	flat := c.Classify(flatWindow(100))
	assert.True(t, flat.Stable, flat.Reason)
	assert.Less(t, math.Abs(flat.Drift), 0.05)

	ramp := c.Classify(rampWindow(100, 0.01))
	assert.False(t, ramp.Stable)
	assert.InDelta(t, 0.01, ramp.Slope, 1e-9)
	assert.InDelta(t, 0.99, ramp.Drift, 1e-9)
	assert.Contains(t, ramp.Reason, "drift")
}

func TestTrendNoisyUnstable(t *testing.T) {
	testlog.Start(t)
	c, err := New(Config{Kind: KindTrend, MaxDrift: 1, MaxStdDev: 0.01})
	require.NoError(t, err)
	noisy := make([]float64, 50)
	for i := range noisy {
		if i%2 == 0 {
			noisy[i] = 1
		} else {
			noisy[i] = -1
		}
	}
	v := c.Classify(noisy)
	assert.False(t, v.Stable)
	assert.Contains(t, v.Reason, "residual")
}

func TestRuleAndBoundary(t *testing.T) {
	testlog.Start(t)
	rule, err := New(Config{Kind: KindRule, MaxPeakToPeak: 0.01, MeanLower: -3, MeanUpper: -1})
	require.NoError(t, err)
	assert.True(t, rule.Classify(flatWindow(40)).Stable)
	assert.False(t, rule.Classify(rampWindow(40, 0.01)).Stable)

	shifted := make([]float64, 10)
	assert.False(t, rule.Classify(shifted).Stable, "mean 0 lies outside [-3, -1]")

	boundary, err := New(Config{Kind: KindBoundary, Lower: -2.01, Upper: -1.99})
	require.NoError(t, err)
	assert.True(t, boundary.Classify(flatWindow(40)).Stable)
	v := boundary.Classify(rampWindow(40, 0.01))
	assert.False(t, v.Stable)
	assert.Contains(t, v.Reason, "outside")
}

func TestShortAndNonFiniteWindowsAreUnstable(t *testing.T) {
	testlog.Start(t)
	c, err := New(Config{Kind: KindTrend, MaxDrift: 1, MaxStdDev: 1, MinSamples: 5})
	require.NoError(t, err)
	assert.False(t, c.Classify(nil).Stable)
	assert.False(t, c.Classify([]float64{1, 1, 1}).Stable)
	assert.False(t, c.Classify([]float64{1, 1, math.NaN(), 1, 1}).Stable)
}

func TestNewRejectsBadConfig(t *testing.T) {
	testlog.Start(t)
	for _, cfg := range []Config{
		{Kind: "fourier"},
		{Kind: KindRule},
		{Kind: KindBoundary, Lower: 1, Upper: 1},
		{Kind: KindTrend, MaxDrift: 1},
	} {
		_, err := New(cfg)
		assert.ErrorIs(t, err, faults.ErrInvalidConfig, "%+v", cfg)
	}
}
