package instrument

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/protocol"
	"github.com/danmuck/tipctl/internal/protocol/schema"
	"github.com/danmuck/tipctl/internal/testutil/fakeinstrument"
	"github.com/danmuck/tipctl/internal/testutil/testlog"
)

func connectTo(t *testing.T, addr string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.CallTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 2, rng)
	if got < 250*time.Millisecond || got > 750*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestConfigWithDefaultsAppendsPort(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Address: "10.0.0.5"}.WithDefaults()
	if cfg.Address != "10.0.0.5:6501" {
		t.Fatalf("address got=%q", cfg.Address)
	}
	if cfg.MaxConnectAttempts != 1 || cfg.CallTimeout <= 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestConnectRefused(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.ConnectTimeout = 500 * time.Millisecond
	_, err = Connect(context.Background(), cfg)
	if !faults.IsConnection(err) || !errors.Is(err, faults.ErrConnectionRefused) {
		t.Fatalf("expected refused connection error, got %v", err)
	}
}

func TestSendRoundTripAndHelpers(t *testing.T) {
	testlog.Start(t)
	inst := fakeinstrument.NewInstrument(t, []string{"Bias (V)", "Current (A)", "OC M1 Freq. Shift (Hz)"})
	inst.SetValue(2, -1.5)
	c := connectTo(t, inst.Addr(), nil)
	ctx := context.Background()

	if err := SetBias(ctx, c, 0.25); err != nil {
		t.Fatalf("set bias: %v", err)
	}
	if got, err := GetBias(ctx, c); err != nil || got != 0.25 {
		t.Fatalf("get bias got=%v err=%v", got, err)
	}
	names, err := SignalNames(ctx, c)
	if err != nil || len(names) != 3 || names[1] != "Current (A)" {
		t.Fatalf("names got=%v err=%v", names, err)
	}
	vals, err := SignalValues(ctx, c, []int{2, 0}, true)
	if err != nil || len(vals) != 2 || vals[0] != -1.5 || vals[1] != 0 {
		t.Fatalf("values got=%v err=%v", vals, err)
	}
	if err := SetXYPosition(ctx, c, 1e-9, -2e-9, true); err != nil {
		t.Fatalf("set xy: %v", err)
	}
	x, y, err := XYPosition(ctx, c, false)
	if err != nil || x != 1e-9 || y != -2e-9 {
		t.Fatalf("xy got=%v,%v err=%v", x, y, err)
	}
	if err := BiasPulse(ctx, c, Pulse{Bias: 3, Width: 100 * time.Millisecond, Wait: true}); err != nil {
		t.Fatalf("pulse: %v", err)
	}
	if got := inst.PulseVoltages(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("pulse voltages got=%v", got)
	}
}

func TestSendRejectsBeforeWrite(t *testing.T) {
	testlog.Start(t)
	srv := fakeinstrument.Start(t)
	c := connectTo(t, srv.Addr(), nil)

	_, err := c.Send(context.Background(), "Bias.Set", []protocol.Arg{protocol.Float64(1)}, nil)
	var ve schema.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := c.Call(context.Background(), "Nope.Get"); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if n := len(srv.Calls()); n != 0 {
		t.Fatalf("server saw %d calls, want 0", n)
	}
	if c.Err() != nil {
		t.Fatalf("validation must not break the connection: %v", c.Err())
	}
}

func TestRemoteErrorKeepsConnection(t *testing.T) {
	testlog.Start(t)
	srv := fakeinstrument.Start(t)
	srv.Handle(schema.BiasGet, func([]protocol.Value) ([]protocol.Arg, error) {
		return nil, fakeinstrument.RemoteError{Code: 7, Message: "bias module busy"}
	})
	c := connectTo(t, srv.Addr(), nil)

	_, err := GetBias(context.Background(), c)
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) || pe.Code != 7 || pe.Detail != "bias module busy" {
		t.Fatalf("expected remote protocol error, got %v", err)
	}
	if err := SetBias(context.Background(), c, 1); err != nil {
		t.Fatalf("connection should survive remote error: %v", err)
	}
}

func TestTimeoutBreaksClientUntilReconnect(t *testing.T) {
	testlog.Start(t)
	srv := fakeinstrument.Start(t)
	release := make(chan struct{})
	var once sync.Once
	srv.Handle(schema.ZCtrlZPosGet, func([]protocol.Value) ([]protocol.Arg, error) {
		<-release
		return []protocol.Arg{protocol.Float32(1)}, nil
	})
	t.Cleanup(func() { once.Do(func() { close(release) }) })
	c := connectTo(t, srv.Addr(), func(cfg *Config) { cfg.CallTimeout = 100 * time.Millisecond })

	_, err := ZPosition(context.Background(), c)
	if !faults.IsConnection(err) || !faults.IsTimeout(err) {
		t.Fatalf("expected connection+timeout error, got %v", err)
	}
	once.Do(func() { close(release) })

	if err := SetBias(context.Background(), c, 1); !faults.IsConnection(err) {
		t.Fatalf("broken client must fail fast, got %v", err)
	}
	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := SetBias(context.Background(), c, 1); err != nil {
		t.Fatalf("after reconnect: %v", err)
	}
}

func TestPeerCloseIsConnectionLost(t *testing.T) {
	testlog.Start(t)
	srv := fakeinstrument.Start(t)
	srv.Handle(schema.BiasGet, func([]protocol.Value) ([]protocol.Arg, error) {
		return nil, fakeinstrument.ErrDrop
	})
	c := connectTo(t, srv.Addr(), nil)

	_, err := GetBias(context.Background(), c)
	if !errors.Is(err, faults.ErrConnectionLost) {
		t.Fatalf("expected connection lost, got %v", err)
	}
	if c.Err() == nil {
		t.Fatalf("client should be broken")
	}
}

func TestContextDeadlineShortensCall(t *testing.T) {
	testlog.Start(t)
	srv := fakeinstrument.Start(t)
	release := make(chan struct{})
	srv.Handle(schema.BiasGet, func([]protocol.Value) ([]protocol.Arg, error) {
		<-release
		return []protocol.Arg{protocol.Float32(0)}, nil
	})
	t.Cleanup(func() { close(release) })
	c := connectTo(t, srv.Addr(), func(cfg *Config) { cfg.CallTimeout = time.Minute })

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := GetBias(ctx, c)
	if !faults.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("call ignored ctx deadline")
	}
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	testlog.Start(t)
	inst := fakeinstrument.NewInstrument(t, []string{"A", "B"})
	c := connectTo(t, inst.Addr(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := SignalValue(context.Background(), c, i%2, false)
				errs <- err
				return
			}
			_, err := ZPosition(context.Background(), c)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent send: %v", err)
		}
	}
	if n := len(inst.Calls()); n != 32 {
		t.Fatalf("calls got=%d want 32", n)
	}
}

func TestConcurrentReconnectsAfterServerLoss(t *testing.T) {
	testlog.Start(t)
	srv := fakeinstrument.Start(t)
	c := connectTo(t, srv.Addr(), func(cfg *Config) {
		cfg.ConnectTimeout = 200 * time.Millisecond
		cfg.MaxConnectAttempts = 3
		cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond, Jitter: true}
	})
	srv.Close()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Reconnect(context.Background())
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if !errors.Is(err, faults.ErrConnectionRefused) {
			t.Fatalf("reconnect %d: expected refused, got %v", i, err)
		}
	}
}
