package instrument

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/protocol"
)

// Config defines the command connection.
type Config struct {
	Address            string
	ConnectTimeout     time.Duration
	CallTimeout        time.Duration
	MaxConnectAttempts int // below zero retries until ctx ends
	Backoff            BackoffConfig
	MaxBody            int

	// AllowUncataloged lets Send pass commands missing from the schema
	// catalog. Argument tags are then not checked before the write.
	AllowUncataloged bool
}

func DefaultConfig() Config {
	return Config{
		Address:            "127.0.0.1:" + strconv.Itoa(protocol.DefaultPort),
		ConnectTimeout:     5 * time.Second,
		CallTimeout:        10 * time.Second,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		MaxBody: protocol.DefaultMaxBody,
	}
}

// WithDefaults fills zero fields from DefaultConfig and appends the default
// command port to a bare host.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Address = strings.TrimSpace(c.Address)
	if c.Address == "" {
		c.Address = def.Address
	} else if _, _, err := net.SplitHostPort(c.Address); err != nil {
		c.Address = net.JoinHostPort(c.Address, strconv.Itoa(protocol.DefaultPort))
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	if c.MaxBody <= 0 {
		c.MaxBody = def.MaxBody
	}
	return c
}

func (c Config) Validate() error {
	if _, port, err := net.SplitHostPort(c.Address); err != nil || port == "" {
		return faults.Config("instrument.address", "expected host:port")
	}
	if c.CallTimeout <= 0 {
		return faults.Config("instrument.call_timeout", "must be positive")
	}
	return nil
}
