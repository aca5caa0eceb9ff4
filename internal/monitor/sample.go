// Package monitor samples instrument signals, either on demand through a
// Sampler or periodically through a Monitor that fans samples out to sinks.
package monitor

import (
	"context"
	"time"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/signals"
	"github.com/danmuck/tipctl/internal/stability"
)

// Sample is one reading of the monitored signals. Values line up with
// Indexes and Names.
type Sample struct {
	Seq     uint64             `json:"seq" msgpack:"seq"`
	At      time.Time          `json:"at" msgpack:"at"`
	Indexes []int              `json:"indexes" msgpack:"indexes"`
	Names   []string           `json:"names" msgpack:"names"`
	Values  []float64          `json:"values" msgpack:"values"`
	Verdict *stability.Verdict `json:"verdict,omitempty" msgpack:"verdict,omitempty"`
}

func (s Sample) clone() Sample {
	out := s
	out.Indexes = append([]int(nil), s.Indexes...)
	out.Names = append([]string(nil), s.Names...)
	out.Values = append([]float64(nil), s.Values...)
	if s.Verdict != nil {
		v := *s.Verdict
		out.Verdict = &v
	}
	return out
}

// Value returns the reading of the signal at index.
func (s Sample) Value(index signals.Index) (float64, bool) {
	for i, idx := range s.Indexes {
		if idx == index.Int() {
			return s.Values[i], true
		}
	}
	return 0, false
}

// Sampler reads a fixed set of signals with one Signals.ValsGet per call.
type Sampler struct {
	caller     instrument.Caller
	indexes    []int
	names      []string
	waitNewest bool
	seq        uint64
}

func NewSampler(caller instrument.Caller, reg *signals.Registry, indexes []signals.Index, waitNewest bool) (*Sampler, error) {
	if len(indexes) == 0 {
		return nil, faults.Config("monitor.signals", "at least one signal is required")
	}
	s := &Sampler{caller: caller, indexes: signals.Ints(indexes), waitNewest: waitNewest}
	for _, idx := range indexes {
		name := ""
		if reg != nil {
			sig, ok := reg.ByIndex(idx)
			if !ok {
				return nil, faults.Config("monitor.signals", signals.ErrIndexOutOfRange.Error())
			}
			name = sig.Name
		}
		s.names = append(s.names, name)
	}
	return s, nil
}

func (s *Sampler) Indexes() []int  { return append([]int(nil), s.indexes...) }
func (s *Sampler) Names() []string { return append([]string(nil), s.names...) }

// Sample takes one reading. It is not safe for concurrent use.
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	vals, err := instrument.SignalValues(ctx, s.caller, s.indexes, s.waitNewest)
	if err != nil {
		return Sample{}, err
	}
	s.seq++
	out := Sample{
		Seq:     s.seq,
		At:      time.Now().UTC(),
		Indexes: append([]int(nil), s.indexes...),
		Names:   append([]string(nil), s.names...),
		Values:  make([]float64, len(vals)),
	}
	for i, v := range vals {
		out.Values[i] = float64(v)
	}
	return out, nil
}
