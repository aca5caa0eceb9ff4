// Package stream reads the instrument's push-only data channel into a bounded
// ring of frames and serves windows of recent samples to the controller.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/logging"
	"github.com/danmuck/tipctl/internal/observability"
	"github.com/danmuck/tipctl/internal/protocol/frame"
)

var (
	ErrEndOfStream = errors.New("stream: end of stream")
	ErrClosed      = errors.New("stream: reader closed")
	ErrBadChannel  = errors.New("stream: channel not in frame")
)

type Config struct {
	Address        string
	ConnectTimeout time.Duration
	Capacity       int // frames retained
	ReadTimeout    time.Duration
	SampleInterval time.Duration
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1:" + strconv.Itoa(frame.DefaultPort),
		ConnectTimeout: 5 * time.Second,
		Capacity:       256,
		SampleInterval: time.Millisecond,
		Limits:         frame.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Address = strings.TrimSpace(c.Address)
	if c.Address == "" {
		c.Address = def.Address
	} else if _, _, err := net.SplitHostPort(c.Address); err != nil {
		c.Address = net.JoinHostPort(c.Address, strconv.Itoa(frame.DefaultPort))
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = def.SampleInterval
	}
	if c.Limits == (frame.Limits{}) {
		c.Limits = def.Limits
	}
	return c
}

type State int

const (
	StateOpen State = iota
	StateLost
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateLost:
		return "lost"
	case StateClosed:
		return "closed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

type Stats struct {
	Frames      uint64
	Gaps        uint64
	Evicted     uint64
	LastCounter uint64
}

// Reader owns the streaming connection and its ring buffer. The read loop
// runs on its own goroutine and never touches the command connection.
type Reader struct {
	cfg  Config
	ring *Ring[frame.Frame]

	mu          sync.Mutex
	conn        net.Conn
	state       State
	err         error
	gaps        uint64
	lastCounter uint64
	haveCounter bool
	done        chan struct{}
}

// Open dials the streaming port and starts the read loop.
func Open(ctx context.Context, cfg Config) (*Reader, error) {
	cfg = cfg.WithDefaults()
	r := &Reader{
		cfg:  cfg,
		ring: NewRing[frame.Frame](cfg.Capacity),
	}
	if err := r.start(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) start(ctx context.Context) error {
	dialer := net.Dialer{Timeout: r.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.Address)
	if err != nil {
		return faults.Connection("stream.open", r.cfg.Address, fmt.Errorf("%w: %v", faults.ErrConnectionRefused, err))
	}
	done := make(chan struct{})
	r.mu.Lock()
	r.conn = conn
	r.state = StateOpen
	r.err = nil
	r.haveCounter = false
	r.done = done
	r.mu.Unlock()

	go r.readLoop(conn, done)
	logging.Infof("stream.Reader opened addr=%q capacity=%d", r.cfg.Address, r.cfg.Capacity)
	return nil
}

func (r *Reader) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	br := bufio.NewReaderSize(conn, 64*1024)
	for {
		if r.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		}
		f, err := frame.ReadFrame(br, r.cfg.Limits)
		if err != nil {
			r.lose(conn, err)
			return
		}
		r.accept(f)
		if f.Flags&frame.FlagEndOfStream != 0 {
			r.lose(conn, ErrEndOfStream)
			return
		}
	}
}

func (r *Reader) accept(f frame.Frame) {
	r.mu.Lock()
	if r.haveCounter && f.Counter != r.lastCounter+1 {
		r.gaps++
		logging.Warnf("stream.Reader counter gap prev=%d got=%d", r.lastCounter, f.Counter)
		observability.RecordStreamGap()
	}
	r.lastCounter = f.Counter
	r.haveCounter = true
	r.mu.Unlock()

	if r.ring.Push(f) {
		observability.RecordStreamEviction()
	}
	observability.RecordStreamFrame()
}

// lose marks the reader Lost unless it was closed on purpose.
func (r *Reader) lose(conn net.Conn, cause error) {
	_ = conn.Close()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != conn || r.state == StateClosed {
		return
	}
	var ne net.Error
	switch {
	case errors.As(cause, &ne) && ne.Timeout():
		cause = faults.Timeout("stream.read", r.cfg.ReadTimeout)
	case errors.Is(cause, io.EOF), errors.Is(cause, io.ErrUnexpectedEOF):
		cause = fmt.Errorf("%w: %v", faults.ErrConnectionLost, cause)
	}
	r.state = StateLost
	r.err = faults.Connection("stream.read", r.cfg.Address, cause)
	logging.Errorf("stream.Reader lost addr=%q err=%v", r.cfg.Address, r.err)
}

func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the ConnectionError that ended the read loop, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reader) Stats() Stats {
	rs := r.ring.Stats()
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Frames:      rs.Written,
		Gaps:        r.gaps,
		Evicted:     rs.Evicted,
		LastCounter: r.lastCounter,
	}
}

// Reopen closes any current connection, clears the ring and dials again.
func (r *Reader) Reopen(ctx context.Context) error {
	r.shutdown(StateLost)
	r.ring.Reset()
	r.mu.Lock()
	r.gaps = 0
	r.mu.Unlock()
	return r.start(ctx)
}

func (r *Reader) Close() error {
	r.shutdown(StateClosed)
	return nil
}

func (r *Reader) shutdown(next State) {
	r.mu.Lock()
	conn, done := r.conn, r.done
	r.conn = nil
	r.state = next
	if next == StateClosed {
		r.err = ErrClosed
	}
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Latest returns up to n of the newest frames, oldest first.
func (r *Reader) Latest(n int) []frame.Frame {
	return r.ring.Last(n)
}

// Samples returns up to n of the newest samples of channel, oldest first,
// flattened across frames. Frames without the channel are skipped.
func (r *Reader) Samples(channel, n int) []float64 {
	return flatten(r.ring.Snapshot(), channel, n)
}

func flatten(frames []frame.Frame, channel, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, 0, n)
	for i := len(frames) - 1; i >= 0 && len(out) < n; i-- {
		data := frames[i].Data
		if channel < 0 || channel >= len(data) {
			continue
		}
		ch := data[channel]
		for j := len(ch) - 1; j >= 0 && len(out) < n; j-- {
			out = append(out, float64(ch[j]))
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
