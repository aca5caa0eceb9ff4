package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/monitor"
	"github.com/danmuck/tipctl/internal/signals"
	"github.com/danmuck/tipctl/internal/testutil/testlog"
	"github.com/danmuck/tipctl/internal/tipprep"
)

var names = []string{"Current (A)", "Z (m)", "Bias (V)", "X (m)", "Y (m)"}

func TestTemplatesParse(t *testing.T) {
	testlog.Start(t)
	for _, kind := range Kinds() {
		path := filepath.Join(t.TempDir(), kind+".toml")
		require.NoError(t, WriteTemplate(path, kind, false), kind)
		_, err := Load(path)
		require.NoError(t, err, kind)
		assert.Error(t, WriteTemplate(path, kind, false), "existing file must not be overwritten")
		assert.NoError(t, WriteTemplate(path, kind, true))
	}
	_, err := Template("scope")
	assert.Error(t, err)
}

func TestLoadOverridesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse([]byte(`
[instrument]
address = "10.0.0.5:6501"
call_timeout = "2s"

[controller]
max_cycles = 7

[controller.pulse]
method = "fixed"
voltage = -4.5

[controller.polarity]
mode = "alternate"
`))
	require.NoError(t, err)
	assert.Equal(t, "tipctl", cfg.Name)
	assert.Equal(t, "10.0.0.5:6501", cfg.Instrument.Address)
	assert.Equal(t, 2*time.Second, cfg.Instrument.CallTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Instrument.ConnectTimeout.Duration)
	assert.Equal(t, 7, cfg.Controller.MaxCycles)

	client := cfg.Instrument.Client()
	assert.Equal(t, 2*time.Second, client.CallTimeout)
	assert.Equal(t, 3, client.MaxConnectAttempts)

	reg, err := signals.NewRegistry(names, signals.WithStandardStreamMap())
	require.NoError(t, err)
	tp, err := cfg.Controller.Tipprep(reg)
	require.NoError(t, err)
	assert.Equal(t, tipprep.Fixed{Voltage: -4.5}, tp.Pulse)
	assert.Equal(t, tipprep.PolarityAlternate, tp.Polarity.Mode)
	assert.Equal(t, instrument.ZHoldOn, tp.PulseZHold)
	assert.Equal(t, 0, tp.Measure.Channel)
	assert.Equal(t, 7, tp.MaxCycles)
}

func TestRejectsBadDocuments(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration":  "[instrument]\ncall_timeout = \"soon\"\n",
		"pulse method":  "[controller.pulse]\nmethod = \"dynamic\"\n",
		"bad stepping":  "[controller.pulse]\nstart = 9.0\nceiling = 8.0\n",
		"polarity":      "[controller.polarity]\ninitial = \"sideways\"\n",
		"z hold":        "[controller.pulse]\nz_hold = \"maybe\"\n",
		"stability":     "[controller.stability]\nkind = \"rule\"\n",
		"monitor sinks": "[monitor]\nenabled = true\n",
		"empty name":    "name = \" \"\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestUnmappedControllerSignal(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.Controller.Signal = "Bias"
	reg, err := signals.NewRegistry(names)
	require.NoError(t, err)
	_, err = cfg.Controller.Tipprep(reg)
	require.Error(t, err)
}

func TestMonitorConversion(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "signalmon.toml")
	require.NoError(t, WriteTemplate(path, "signalmon", false))
	cfg, err := Load(path)
	require.NoError(t, err)

	reg, err := signals.NewRegistry(names)
	require.NoError(t, err)
	idx, mcfg, err := cfg.Monitor.Monitor(reg)
	require.NoError(t, err)
	assert.Equal(t, []signals.Index{0, 1, 2}, idx)
	assert.Equal(t, monitor.DropOldest, mcfg.Overflow)
	assert.Equal(t, 256, mcfg.QueueSize)
	require.NotNil(t, mcfg.Rolling)
	assert.Equal(t, signals.Index(0), mcfg.Rolling.Index)
	assert.Equal(t, -1, cfg.Instrument.Client().MaxConnectAttempts)
}

func TestStreamMapFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channels:\n  Z (m): 0\n  Current (A): 1\n"), 0o600))
	opt, err := StreamConfig{ChannelMap: path}.StreamMap()
	require.NoError(t, err)
	reg, err := signals.NewRegistry(names, opt)
	require.NoError(t, err)
	sig, ok := reg.ByStreamChannel(1)
	require.True(t, ok)
	assert.Equal(t, "Current (A)", sig.Name)
}

func TestEncodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	data, err := Encode(Default())
	require.NoError(t, err)
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default().Controller.MaxDuration, cfg.Controller.MaxDuration)
}

func TestMonitorFileSinks(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	mc := MonitorConfig{
		JSONL:   filepath.Join(dir, "m.jsonl"),
		Msgpack: filepath.Join(dir, "m.msgpack"),
	}
	sinks, err := mc.Sinks("test")
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	for _, s := range sinks {
		require.NoError(t, s.Open(monitor.Meta{SessionID: "x"}))
		require.NoError(t, s.Close())
	}
	info, err := os.Stat(mc.JSONL)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	_, err = MonitorConfig{JSONL: filepath.Join(dir, "missing", "m.jsonl")}.Sinks("test")
	assert.Error(t, err)
}
