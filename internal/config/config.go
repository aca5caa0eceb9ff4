// Package config loads the TOML files read by the tipctl binaries.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/tipctl/internal/stability"
)

// Duration decodes TOML strings such as "250ms" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func D(v time.Duration) Duration { return Duration{v} }

type InstrumentConfig struct {
	Address            string   `toml:"address"`
	ConnectTimeout     Duration `toml:"connect_timeout"`
	CallTimeout        Duration `toml:"call_timeout"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	AllowUncataloged   bool     `toml:"allow_uncataloged"`
}

type StreamConfig struct {
	Address        string   `toml:"address"`
	Capacity       int      `toml:"capacity"`
	ReadTimeout    Duration `toml:"read_timeout"`
	SampleInterval Duration `toml:"sample_interval"`
	// ChannelMap is a YAML file of signal name to frame position; empty uses
	// the standard map.
	ChannelMap string `toml:"channel_map"`
	// Channels are the logger channel indexes started before the controller
	// runs. Empty leaves the logger as configured on the instrument.
	Channels     []int `toml:"channels"`
	Oversampling int   `toml:"oversampling"`
}

type PulseConfig struct {
	Method        string   `toml:"method"`
	Voltage       float64  `toml:"voltage"`
	Start         float64  `toml:"start"`
	Step          float64  `toml:"step"`
	Ceiling       float64  `toml:"ceiling"`
	CyclesPerStep int      `toml:"cycles_per_step"`
	Width         Duration `toml:"width"`
	ZHold         string   `toml:"z_hold"`
}

type PolarityConfig struct {
	Initial           string  `toml:"initial"`
	Mode              string  `toml:"mode"`
	SwitchProbability float64 `toml:"switch_probability"`
	Seed              int64   `toml:"seed"`
}

type ControllerConfig struct {
	Signal         string   `toml:"signal"`
	Window         int      `toml:"window"`
	Consecutive    int      `toml:"consecutive"`
	MeasureTimeout Duration `toml:"measure_timeout"`
	SettleTime     Duration `toml:"settle_time"`

	ApproachTimeout Duration `toml:"approach_timeout"`
	WithdrawTimeout Duration `toml:"withdraw_timeout"`
	RestoreBias     float32  `toml:"restore_bias"`

	MaxCycles   int      `toml:"max_cycles"`
	MaxDuration Duration `toml:"max_duration"`

	RelocateEvery int     `toml:"relocate_every"`
	RelocateDX    float64 `toml:"relocate_dx"`
	RelocateDY    float64 `toml:"relocate_dy"`

	Pulse     PulseConfig      `toml:"pulse"`
	Polarity  PolarityConfig   `toml:"polarity"`
	Stability stability.Config `toml:"stability"`
}

type MonitorConfig struct {
	Enabled    bool     `toml:"enabled"`
	Signals    []string `toml:"signals"`
	Period     Duration `toml:"period"`
	QueueSize  int      `toml:"queue_size"`
	Overflow   string   `toml:"overflow"`
	WaitNewest bool     `toml:"wait_newest"`

	RollingSignal string           `toml:"rolling_signal"`
	RollingWindow int              `toml:"rolling_window"`
	Stability     stability.Config `toml:"stability"`

	JSONL       string `toml:"jsonl"`
	Msgpack     string `toml:"msgpack"`
	DuckDB      string `toml:"duckdb"`
	NATSURL     string `toml:"nats_url"`
	NATSSubject string `toml:"nats_subject"`
}

type StatusConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	// Token, when set, is required as a bearer token on every route but
	// /health.
	Token string `toml:"token"`
}

type LogConfig struct {
	Level string `toml:"level"`
	// ActionLog is the JSON-lines file every executed action is appended to.
	ActionLog string `toml:"action_log"`
}

type Config struct {
	Name       string           `toml:"name"`
	Log        LogConfig        `toml:"log"`
	Instrument InstrumentConfig `toml:"instrument"`
	Stream     StreamConfig     `toml:"stream"`
	Controller ControllerConfig `toml:"controller"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Status     StatusConfig     `toml:"status"`
}

func Default() Config {
	return Config{
		Name: "tipctl",
		Log:  LogConfig{Level: "info"},
		Instrument: InstrumentConfig{
			Address:            "127.0.0.1:6501",
			ConnectTimeout:     D(5 * time.Second),
			CallTimeout:        D(10 * time.Second),
			MaxConnectAttempts: 3,
		},
		Stream: StreamConfig{
			Address:        "127.0.0.1:6590",
			Capacity:       256,
			ReadTimeout:    D(5 * time.Second),
			SampleInterval: D(time.Millisecond),
		},
		Controller: ControllerConfig{
			Signal:          "Current",
			Window:          200,
			Consecutive:     3,
			MeasureTimeout:  D(5 * time.Second),
			SettleTime:      D(500 * time.Millisecond),
			ApproachTimeout: D(5 * time.Minute),
			WithdrawTimeout: D(30 * time.Second),
			RestoreBias:     0.1,
			MaxCycles:       50,
			MaxDuration:     D(30 * time.Minute),
			Pulse: PulseConfig{
				Method:        "stepping",
				Start:         3,
				Step:          0.5,
				Ceiling:       8,
				CyclesPerStep: 2,
				Width:         D(50 * time.Millisecond),
				ZHold:         "on",
			},
			Polarity: PolarityConfig{Initial: "+", Mode: "fixed"},
			Stability: stability.Config{
				Kind:      stability.KindTrend,
				MaxDrift:  5e-11,
				MaxStdDev: 2e-11,
			},
		},
		Monitor: MonitorConfig{
			Signals:     []string{"Current", "Z", "Bias"},
			Period:      D(100 * time.Millisecond),
			QueueSize:   64,
			Overflow:    "block",
			NATSSubject: "tipctl.monitor",
		},
		Status: StatusConfig{Addr: ":9200"},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse is Load for in-memory documents.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config missing name")
	}
	if strings.TrimSpace(cfg.Instrument.Address) == "" {
		return fmt.Errorf("instrument config missing address")
	}
	if strings.TrimSpace(cfg.Stream.Address) == "" {
		return fmt.Errorf("stream config missing address")
	}
	if err := ValidateController(cfg.Controller); err != nil {
		return fmt.Errorf("controller invalid: %w", err)
	}
	if cfg.Monitor.Enabled {
		if err := ValidateMonitor(cfg.Monitor); err != nil {
			return fmt.Errorf("monitor invalid: %w", err)
		}
	}
	if cfg.Status.Enabled && strings.TrimSpace(cfg.Status.Addr) == "" {
		return fmt.Errorf("status config missing addr")
	}
	return nil
}

func ValidateController(cfg ControllerConfig) error {
	if strings.TrimSpace(cfg.Signal) == "" {
		return fmt.Errorf("signal is required")
	}
	if _, err := buildPulse(cfg.Pulse); err != nil {
		return err
	}
	if _, err := zHold(cfg.Pulse.ZHold); err != nil {
		return err
	}
	if _, err := buildPolarity(cfg.Polarity); err != nil {
		return err
	}
	_, err := stability.New(cfg.Stability)
	return err
}

func ValidateMonitor(cfg MonitorConfig) error {
	if len(cfg.Signals) == 0 {
		return fmt.Errorf("signals are required")
	}
	if cfg.RollingSignal != "" {
		if cfg.RollingWindow <= 0 {
			return fmt.Errorf("rolling_window must be positive")
		}
		if _, err := stability.New(cfg.Stability); err != nil {
			return err
		}
	}
	if cfg.DuckDB != "" || cfg.JSONL != "" || cfg.Msgpack != "" || cfg.NATSURL != "" {
		return nil
	}
	return fmt.Errorf("at least one sink (jsonl, msgpack, duckdb, nats_url) is required")
}
