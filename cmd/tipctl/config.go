package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/danmuck/tipctl/internal/config"
)

const (
	envInstrumentAddress = "TIPCTL_INSTRUMENT_ADDRESS"
	envStreamAddress     = "TIPCTL_STREAM_ADDRESS"
	envStatusAddr        = "TIPCTL_STATUS_ADDR"
	envStatusToken       = "TIPCTL_STATUS_TOKEN"
)

// overrideFile is a flat per-bench file layered over the main config. Only
// keys present in the file are applied.
type overrideFile struct {
	InstrumentAddress string  `toml:"instrument_address"`
	StreamAddress     string  `toml:"stream_address"`
	MaxCycles         int     `toml:"max_cycles"`
	MaxDuration       string  `toml:"max_duration"`
	RestoreBias       float32 `toml:"restore_bias"`
	Monitor           bool    `toml:"monitor"`
	Status            bool    `toml:"status"`
	StatusAddr        string  `toml:"status_addr"`
	LogLevel          string  `toml:"log_level"`
	ActionLog         string  `toml:"action_log"`
}

func loadConfig(path, overridePath, envPath string) (config.Config, error) {
	if err := loadEnv(envPath); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if overridePath != "" {
		if err := applyOverrides(&cfg, overridePath); err != nil {
			return config.Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loadEnv reads path into the process environment; a missing file is not an
// error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env %s: %w", path, err)
	}
	return nil
}

func applyOverrides(cfg *config.Config, path string) error {
	var raw overrideFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}

	if meta.IsDefined("instrument_address") {
		cfg.Instrument.Address = strings.TrimSpace(raw.InstrumentAddress)
	}

	if meta.IsDefined("stream_address") {
		cfg.Stream.Address = strings.TrimSpace(raw.StreamAddress)
	}

	if meta.IsDefined("max_cycles") {
		cfg.Controller.MaxCycles = raw.MaxCycles
	}

	if meta.IsDefined("max_duration") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.MaxDuration))
		if err != nil {
			return fmt.Errorf("parse max_duration: %w", err)
		}
		cfg.Controller.MaxDuration = config.D(d)
	}

	if meta.IsDefined("restore_bias") {
		cfg.Controller.RestoreBias = raw.RestoreBias
	}

	if meta.IsDefined("monitor") {
		cfg.Monitor.Enabled = raw.Monitor
	}

	if meta.IsDefined("status") {
		cfg.Status.Enabled = raw.Status
	}

	if meta.IsDefined("status_addr") {
		cfg.Status.Addr = strings.TrimSpace(raw.StatusAddr)
	}

	if meta.IsDefined("log_level") {
		cfg.Log.Level = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("action_log") {
		cfg.Log.ActionLog = strings.TrimSpace(raw.ActionLog)
	}

	return nil
}

func applyEnv(cfg *config.Config) {
	if v := strings.TrimSpace(os.Getenv(envInstrumentAddress)); v != "" {
		cfg.Instrument.Address = v
	}
	if v := strings.TrimSpace(os.Getenv(envStreamAddress)); v != "" {
		cfg.Stream.Address = v
	}
	if v := strings.TrimSpace(os.Getenv(envStatusAddr)); v != "" {
		cfg.Status.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(envStatusToken)); v != "" {
		cfg.Status.Token = v
	}
}
