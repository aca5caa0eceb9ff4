package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v", raw, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
	if _, ok := ParseLevel(""); ok {
		t.Fatalf("expected empty level to be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogBypass, "nope")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("level=%v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("timestamp should be disabled")
	}
	if !cfg.NoColor {
		t.Fatalf("nocolor should be enabled")
	}
	if cfg.Bypass {
		t.Fatalf("invalid bool must not override bypass")
	}
}

func TestApplyBypassWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Apply(Config{Level: zerolog.InfoLevel, Bypass: true, Out: &buf})
	defer Apply(defaultConfig(ProfileTest))

	Infof("logging.test key=%q", "v")
	Debugf("logging.test hidden")
	out := buf.String()
	if !strings.Contains(out, `"message":"logging.test key=\"v\""`) {
		t.Fatalf("unexpected output: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
}

func TestConsoleWithoutTimestampOmitsTimePart(t *testing.T) {
	var buf bytes.Buffer
	Apply(Config{Level: zerolog.InfoLevel, NoColor: true, Out: &buf})
	defer Apply(defaultConfig(ProfileTest))

	Infof("logging.test console")
	out := buf.String()
	if strings.Contains(out, "<nil>") {
		t.Fatalf("console line carries an empty time part: %q", out)
	}
	if !strings.HasPrefix(out, "INF ") {
		t.Fatalf("expected the level first: %q", out)
	}
}
