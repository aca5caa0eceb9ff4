package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/logging"
)

var errDeadline = errors.New("stream: acquisition deadline")

// DataToGet selects what Acquire hands back: Raw or Stable.
type DataToGet interface {
	dataToGet()
}

// Raw waits for Count samples of Channel and returns the newest Count.
type Raw struct {
	Channel int
	Count   int
}

// Stable waits until Consecutive successive windows of Window samples satisfy
// Predicate, evaluating once per arriving frame. On Timeout the last window is
// returned alongside a *faults.TimeoutError.
//
// With Fresh set only frames that arrive after the call are scored; frames
// already in the ring are ignored.
type Stable struct {
	Channel     int
	Window      int
	Consecutive int
	Predicate   func(window []float64) bool
	Timeout     time.Duration
	Fresh       bool
}

func (Raw) dataToGet()    {}
func (Stable) dataToGet() {}

// OsciData is a captured window of one channel.
type OsciData struct {
	Channel       int
	Samples       []float64
	SampleSpacing time.Duration
	Size          int
	Stable        bool
}

// Acquire blocks until the policy is met, ctx ends or the reader is lost.
func (r *Reader) Acquire(ctx context.Context, want DataToGet) (OsciData, error) {
	switch p := want.(type) {
	case Raw:
		return r.acquireRaw(ctx, p)
	case Stable:
		return r.acquireStable(ctx, p)
	default:
		return OsciData{}, fmt.Errorf("stream: unsupported acquisition %T", want)
	}
}

func (r *Reader) acquireRaw(ctx context.Context, p Raw) (OsciData, error) {
	if p.Count <= 0 {
		return OsciData{}, faults.Config("stream.raw.count", "must be positive")
	}
	for {
		changed := r.ring.Changed()
		if samples := r.Samples(p.Channel, p.Count); len(samples) == p.Count {
			return r.osci(p.Channel, samples, false), nil
		}
		if err := r.wait(ctx, changed, nil); err != nil {
			return OsciData{}, err
		}
	}
}

func (r *Reader) acquireStable(ctx context.Context, p Stable) (OsciData, error) {
	if p.Window <= 0 || p.Predicate == nil {
		return OsciData{}, faults.Config("stream.stable", "window and predicate are required")
	}
	if p.Consecutive <= 0 {
		p.Consecutive = 1
	}
	var deadline <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var last []float64
	streak := 0
	seen := r.ring.Stats().Written
	mark := seen
	scored := false
	for {
		changed := r.ring.Changed()
		if written := r.ring.Stats().Written; written != seen || !scored {
			seen = written
			scored = true
			var window []float64
			if p.Fresh {
				window = flatten(r.ring.Since(mark), p.Channel, p.Window)
			} else {
				window = r.Samples(p.Channel, p.Window)
			}
			if len(window) == p.Window {
				last = window
				if p.Predicate(window) {
					streak++
				} else {
					streak = 0
				}
				if streak >= p.Consecutive {
					return r.osci(p.Channel, window, true), nil
				}
			}
		}
		err := r.wait(ctx, changed, deadline)
		if errors.Is(err, errDeadline) {
			logging.Debugf("stream.Reader.Acquire stable timeout channel=%d streak=%d", p.Channel, streak)
			return r.osci(p.Channel, last, false), faults.Timeout("stream.acquire", p.Timeout)
		}
		if err != nil {
			return r.osci(p.Channel, last, false), err
		}
	}
}

func (r *Reader) wait(ctx context.Context, changed <-chan struct{}, deadline <-chan time.Time) error {
	if err := r.Err(); err != nil {
		return err
	}
	select {
	case <-changed:
		return nil
	case <-deadline:
		return errDeadline
	case <-ctx.Done():
		return ctx.Err()
	case <-r.doneChan():
		if err := r.Err(); err != nil {
			return err
		}
		return faults.Connection("stream.acquire", r.cfg.Address, faults.ErrNotConnected)
	}
}

func (r *Reader) doneChan() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Reader) osci(channel int, samples []float64, stable bool) OsciData {
	return OsciData{
		Channel:       channel,
		Samples:       samples,
		SampleSpacing: r.cfg.SampleInterval,
		Size:          len(samples),
		Stable:        stable,
	}
}
