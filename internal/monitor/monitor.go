package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/logging"
	"github.com/danmuck/tipctl/internal/observability"
	"github.com/danmuck/tipctl/internal/signals"
	"github.com/danmuck/tipctl/internal/stability"
	"github.com/danmuck/tipctl/internal/stream"
)

var ErrAlreadyRunning = errors.New("monitor: already running")

// OverflowPolicy decides what happens when the Samples queue is full.
type OverflowPolicy int

const (
	// Block holds the sampling loop until a consumer makes room.
	Block OverflowPolicy = iota
	DropOldest
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "block"
	}
}

// ParseOverflowPolicy accepts the String forms; empty means Block.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "block":
		return Block, nil
	case "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	}
	return Block, faults.Config("monitor.overflow", "unknown policy "+s)
}

// Rolling classifies a sliding window of one monitored signal on every sample.
type Rolling struct {
	Index      signals.Index
	Window     int
	Classifier stability.Classifier
}

type Config struct {
	Period    time.Duration
	QueueSize int
	Overflow  OverflowPolicy
	Rolling   *Rolling
}

func DefaultConfig() Config {
	return Config{Period: 100 * time.Millisecond, QueueSize: 64}
}

func (c Config) Validate() error {
	if c.Period <= 0 {
		return faults.Config("monitor.period", "must be positive")
	}
	if c.QueueSize <= 0 {
		return faults.Config("monitor.queue_size", "must be positive")
	}
	if c.Rolling != nil && (c.Rolling.Window <= 0 || c.Rolling.Classifier == nil) {
		return faults.Config("monitor.rolling", "window and classifier are required")
	}
	return nil
}

type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
}

type Monitor struct {
	cfg     Config
	sampler *Sampler
	sinks   []Sink
	session string
	queue   chan Sample
	window  *stream.Ring[float64]

	mu      sync.Mutex
	latest  Sample
	hasLast bool
	running bool
	stats   Stats
}

func New(sampler *Sampler, cfg Config, sinks ...Sink) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:     cfg,
		sampler: sampler,
		sinks:   sinks,
		session: uuid.NewString(),
		queue:   make(chan Sample, cfg.QueueSize),
	}
	if cfg.Rolling != nil {
		m.window = stream.NewRing[float64](cfg.Rolling.Window)
	}
	return m, nil
}

func (m *Monitor) SessionID() string { return m.session }

// Samples is the bounded queue of published samples. It closes when Run
// returns.
func (m *Monitor) Samples() <-chan Sample { return m.queue }

// Latest returns a copy of the most recently published sample.
func (m *Monitor) Latest() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasLast {
		return Sample{}, false
	}
	return m.latest.clone(), true
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Run samples every Period until ctx ends or the instrument connection is
// lost. Remote errors on a single read are logged and skipped. Sinks are
// opened before the first sample and closed on return.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()
	defer close(m.queue)

	meta := Meta{
		SessionID: m.session,
		StartedAt: time.Now().UTC(),
		Period:    m.cfg.Period,
		Indexes:   m.sampler.Indexes(),
		Names:     m.sampler.Names(),
	}
	opened := make([]Sink, 0, len(m.sinks))
	defer func() {
		for _, s := range opened {
			if err := s.Close(); err != nil {
				logging.Errorf("monitor.Monitor.Run sink close session=%s err=%v", m.session, err)
			}
		}
	}()
	for _, s := range m.sinks {
		if err := s.Open(meta); err != nil {
			return err
		}
		opened = append(opened, s)
	}
	logging.Infof("monitor.Monitor.Run session=%s signals=%v period=%s overflow=%s",
		m.session, meta.Names, m.cfg.Period, m.cfg.Overflow)

	ticker := time.NewTicker(m.cfg.Period)
	defer ticker.Stop()
	for {
		sample, err := m.sampler.Sample(ctx)
		switch {
		case err == nil:
			m.publish(ctx, sample, opened)
		case ctx.Err() != nil:
			return nil
		case faults.IsConnection(err):
			return err
		default:
			m.mu.Lock()
			m.stats.Errors++
			m.mu.Unlock()
			logging.Warnf("monitor.Monitor.Run session=%s sample err=%v", m.session, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) publish(ctx context.Context, s Sample, sinks []Sink) {
	if m.window != nil {
		if v, ok := s.Value(m.cfg.Rolling.Index); ok {
			m.window.Push(v)
			verdict := m.cfg.Rolling.Classifier.Classify(m.window.Snapshot())
			s.Verdict = &verdict
		}
	}

	m.mu.Lock()
	m.latest = s.clone()
	m.hasLast = true
	m.stats.Published++
	m.mu.Unlock()
	observability.RecordMonitorSample()

	for _, sink := range sinks {
		if err := sink.Write(s); err != nil {
			logging.Errorf("monitor.Monitor.publish session=%s seq=%d err=%v", m.session, s.Seq, err)
		}
	}
	m.enqueue(ctx, s)
}

func (m *Monitor) enqueue(ctx context.Context, s Sample) {
	switch m.cfg.Overflow {
	case DropNewest:
		select {
		case m.queue <- s:
		default:
			m.dropped()
		}
	case DropOldest:
		for {
			select {
			case m.queue <- s:
				return
			default:
			}
			select {
			case <-m.queue:
				m.dropped()
			default:
			}
		}
	default:
		select {
		case m.queue <- s:
		case <-ctx.Done():
		}
	}
}

func (m *Monitor) dropped() {
	m.mu.Lock()
	m.stats.Dropped++
	m.mu.Unlock()
	observability.RecordMonitorDrop(m.cfg.Overflow.String())
}
