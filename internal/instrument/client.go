// Package instrument owns the command connection to the instrument control
// server. One request is outstanding at a time: Send holds the client for the
// full round trip.
package instrument

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/logging"
	"github.com/danmuck/tipctl/internal/observability"
	"github.com/danmuck/tipctl/internal/protocol"
	"github.com/danmuck/tipctl/internal/protocol/schema"
)

// Caller performs one command round trip. *Client implements it; the action
// driver, registry loader and monitor accept it so tests can substitute fakes.
type Caller interface {
	Send(ctx context.Context, command string, args []protocol.Arg, returns []protocol.Tag) (protocol.Reply, error)
}

type Client struct {
	cfg Config

	rngMu sync.Mutex // rand.Rand is not safe for concurrent dials
	rng   *rand.Rand

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	broken error
}

var _ Caller = (*Client)(nil)

// Connect dials the command port, retrying with backoff up to
// MaxConnectAttempts. Refused or unreachable targets fail with a
// *faults.ConnectionError.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	conn, err := c.dialWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	c.attach(conn)
	logging.Infof("instrument.Client connected addr=%q", cfg.Address)
	return c, nil
}

func (c *Client) Address() string {
	return c.cfg.Address
}

// Send writes one request and blocks for its reply. The deadline is the
// earlier of ctx's deadline and CallTimeout. A reply carrying a non-zero error
// code leaves the connection usable; any other failure closes it and the
// client reports a ConnectionError until Reconnect.
func (c *Client) Send(ctx context.Context, command string, args []protocol.Arg, returns []protocol.Tag) (protocol.Reply, error) {
	if err := c.check(command, args); err != nil {
		return protocol.Reply{}, err
	}
	payload, err := protocol.MarshalRequest(command, args, true)
	if err != nil {
		return protocol.Reply{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return protocol.Reply{}, err
	}
	if err := ctx.Err(); err != nil {
		return protocol.Reply{}, err
	}

	start := time.Now()
	budget := c.cfg.CallTimeout
	deadline := start.Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
		budget = d.Sub(start)
	}
	_ = c.conn.SetDeadline(deadline)

	logging.Tracef("instrument.Client.Send command=%s args=%d bytes=%d", command, len(args), len(payload))
	if _, err := c.conn.Write(payload); err != nil {
		err = c.failLocked("write", command, budget, err)
		observability.RecordInstrumentCall(command, "connection", time.Since(start))
		return protocol.Reply{}, err
	}
	reply, err := protocol.DecodeResponse(c.reader, command, returns, c.cfg.MaxBody)
	if err != nil {
		if errors.Is(err, protocol.ErrRemote) {
			logging.Warnf("instrument.Client.Send command=%s remote err=%v", command, err)
			observability.RecordInstrumentCall(command, "remote", time.Since(start))
			return protocol.Reply{}, err
		}
		outcome := "connection"
		if protocol.IsProtocol(err) {
			outcome = "protocol"
		}
		err = c.failLocked("read", command, budget, err)
		observability.RecordInstrumentCall(command, outcome, time.Since(start))
		return protocol.Reply{}, err
	}
	_ = c.conn.SetDeadline(time.Time{})
	observability.RecordInstrumentCall(command, "ok", time.Since(start))
	return reply, nil
}

// Call sends command with the return tags declared in the schema catalog.
func (c *Client) Call(ctx context.Context, command string, args ...protocol.Arg) (protocol.Reply, error) {
	return Call(ctx, c, command, args...)
}

// Reconnect replaces a broken or closed connection.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	conn, err := c.dialWithRetry(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.attach(conn)
	c.mu.Unlock()
	logging.Infof("instrument.Client reconnected addr=%q", c.cfg.Address)
	return nil
}

// Err returns the cause that broke the connection, or nil while healthy.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func (c *Client) check(command string, args []protocol.Arg) error {
	if _, ok := schema.Lookup(command); !ok && c.cfg.AllowUncataloged {
		return nil
	}
	return schema.Validate(command, args)
}

func (c *Client) usableLocked() error {
	switch {
	case c.broken != nil:
		return faults.Connection("instrument.send", c.cfg.Address, c.broken)
	case c.conn == nil:
		return faults.Connection("instrument.send", c.cfg.Address, faults.ErrNotConnected)
	}
	return nil
}

// failLocked closes the connection after a failed round trip and returns the
// error to hand back to the caller.
func (c *Client) failLocked(stage, command string, budget time.Duration, err error) error {
	_ = c.conn.Close()
	c.conn = nil
	c.reader = nil

	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		err = faults.Connection("instrument."+stage, c.cfg.Address, faults.Timeout(command, budget))
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, protocol.ErrTruncated):
		err = faults.Connection("instrument."+stage, c.cfg.Address, fmt.Errorf("%w: %v", faults.ErrConnectionLost, err))
	case protocol.IsProtocol(err):
		// stream position is unknown after a bad reply; the ProtocolError is kept
	default:
		err = faults.Connection("instrument."+stage, c.cfg.Address, err)
	}
	c.broken = err
	logging.Errorf("instrument.Client.Send command=%s stage=%s err=%v", command, stage, err)
	return err
}

func (c *Client) attach(conn net.Conn) {
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.broken = nil
}

func (c *Client) dialWithRetry(ctx context.Context) (net.Conn, error) {
	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
		if err == nil {
			return conn, nil
		}
		logging.Warnf("instrument.Client dial attempt=%d addr=%q err=%v", attempt, c.cfg.Address, err)
		if ctx.Err() != nil || !c.shouldRetry(attempt) {
			return nil, faults.Connection("instrument.connect", c.cfg.Address,
				fmt.Errorf("%w: %v", faults.ErrConnectionRefused, err))
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts < 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	c.rngMu.Lock()
	delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
	c.rngMu.Unlock()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
