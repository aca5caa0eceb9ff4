// Package signals maps instrument signal names to their slot index and,
// where the TCP logger streams them, their streaming channel.
//
// A Registry is built once per session and is read-only afterwards. Name
// lookup is case-insensitive and also matches the name with a trailing
// parenthesized unit stripped, so "Bias (V)", "bias (v)" and "BIAS" all resolve
// to the same entry. When two names normalize to the same key the signal
// inserted last (highest index) wins; every overwritten key is reported by
// Collisions.
package signals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/logging"
)

var (
	ErrTooManySignals = errors.New("signals: more names than instrument slots")
	ErrUnknownSignal  = errors.New("signals: unknown signal")
)

type Signal struct {
	Name  string
	Index Index

	channel   int
	streaming bool
}

// StreamChannel returns the TCP logger channel carrying the signal.
func (s Signal) StreamChannel() (int, bool) {
	return s.channel, s.streaming
}

// Collision records a lookup key that a later signal took over.
type Collision struct {
	Key      string
	Previous Index
	Winner   Index
}

type Registry struct {
	signals    []Signal
	byName     map[string]Index
	byChannel  map[int]Index
	collisions []Collision
}

type options struct {
	streamMap map[string]int
	strict    bool
}

type Option func(*options)

// WithStreamMap assigns streaming channels by signal name. Every name must
// resolve or NewRegistry fails.
func WithStreamMap(m map[string]int) Option {
	return func(o *options) {
		o.streamMap = m
		o.strict = true
	}
}

// WithStandardStreamMap assigns the default logger channel layout; names the
// instrument does not report are skipped.
func WithStandardStreamMap() Option {
	return func(o *options) {
		o.streamMap = StandardStreamMap()
		o.strict = false
	}
}

// NewRegistry builds a registry from the instrument's ordered name list; a
// name's position is its index.
func NewRegistry(names []string, opts ...Option) (*Registry, error) {
	if len(names) > MaxIndex+1 {
		return nil, fmt.Errorf("%w: %d", ErrTooManySignals, len(names))
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		signals:   make([]Signal, len(names)),
		byName:    make(map[string]Index, 2*len(names)),
		byChannel: make(map[int]Index),
	}
	for i, name := range names {
		idx := Index(i)
		r.signals[i] = Signal{Name: name, Index: idx}
		for _, key := range keys(name) {
			r.insert(key, idx)
		}
	}
	if err := r.applyStreamMap(o.streamMap, o.strict); err != nil {
		return nil, err
	}
	logging.Debugf("signals.NewRegistry signals=%d streamed=%d collisions=%d", len(r.signals), len(r.byChannel), len(r.collisions))
	return r, nil
}

// Load reads the signal table from the instrument and builds a registry.
func Load(ctx context.Context, caller instrument.Caller, opts ...Option) (*Registry, error) {
	names, err := instrument.SignalNames(ctx, caller)
	if err != nil {
		return nil, err
	}
	return NewRegistry(names, opts...)
}

func (r *Registry) insert(key string, idx Index) {
	if key == "" {
		return
	}
	if prev, ok := r.byName[key]; ok && prev != idx {
		r.collisions = append(r.collisions, Collision{Key: key, Previous: prev, Winner: idx})
		logging.Warnf("signals.Registry alias collision key=%q previous=%d winner=%d", key, prev, idx)
	}
	r.byName[key] = idx
}

func (r *Registry) applyStreamMap(m map[string]int, strict bool) error {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch := m[name]
		sig, ok := r.ByName(name)
		if !ok {
			if strict {
				return fmt.Errorf("%w: stream map entry %q", ErrUnknownSignal, name)
			}
			continue
		}
		if ch < 0 {
			return fmt.Errorf("signals: stream map entry %q: negative channel %d", name, ch)
		}
		if prev, taken := r.byChannel[ch]; taken && prev != sig.Index {
			return fmt.Errorf("signals: stream channel %d assigned to both %q and %q", ch, r.signals[prev].Name, sig.Name)
		}
		r.signals[sig.Index].channel = ch
		r.signals[sig.Index].streaming = true
		r.byChannel[ch] = sig.Index
	}
	return nil
}

func (r *Registry) Len() int {
	return len(r.signals)
}

func (r *Registry) ByIndex(idx Index) (Signal, bool) {
	if int(idx) >= len(r.signals) {
		return Signal{}, false
	}
	return r.signals[idx], true
}

func (r *Registry) ByName(name string) (Signal, bool) {
	for _, key := range keys(name) {
		if idx, ok := r.byName[key]; ok {
			return r.signals[idx], true
		}
	}
	return Signal{}, false
}

// Lookup is ByName with an ErrUnknownSignal error for a missing name.
func (r *Registry) Lookup(name string) (Signal, error) {
	sig, ok := r.ByName(name)
	if !ok {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	return sig, nil
}

// Resolve maps names to indexes in order.
func (r *Registry) Resolve(names ...string) ([]Index, error) {
	out := make([]Index, len(names))
	for i, name := range names {
		sig, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		out[i] = sig.Index
	}
	return out, nil
}

func (r *Registry) ByStreamChannel(ch int) (Signal, bool) {
	idx, ok := r.byChannel[ch]
	if !ok {
		return Signal{}, false
	}
	return r.signals[idx], true
}

// FindLike returns every signal whose name contains substr, ignoring case,
// in index order.
func (r *Registry) FindLike(substr string) []Signal {
	needle := strings.ToLower(strings.TrimSpace(substr))
	var out []Signal
	for _, s := range r.signals {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.signals))
	for i, s := range r.signals {
		out[i] = s.Name
	}
	return out
}

func (r *Registry) All() []Signal {
	out := make([]Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

func (r *Registry) Collisions() []Collision {
	out := make([]Collision, len(r.collisions))
	copy(out, r.collisions)
	return out
}

// keys returns the exact lowercase key and, when different, the key with a
// trailing "(unit)" removed.
func keys(name string) []string {
	exact := strings.ToLower(strings.TrimSpace(name))
	stripped := StripUnit(exact)
	if stripped == exact {
		return []string{exact}
	}
	return []string{exact, stripped}
}

// StripUnit removes a trailing parenthesized unit: "Bias (V)" becomes "Bias".
func StripUnit(name string) string {
	trimmed := strings.TrimSpace(name)
	if !strings.HasSuffix(trimmed, ")") {
		return trimmed
	}
	open := strings.LastIndexByte(trimmed, '(')
	if open <= 0 {
		return trimmed
	}
	return strings.TrimSpace(trimmed[:open])
}
