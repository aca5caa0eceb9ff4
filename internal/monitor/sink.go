package monitor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/danmuck/tipctl/internal/stability"
)

// Meta describes one monitoring session. It is the first record a sink sees.
type Meta struct {
	SessionID string        `json:"session_id" msgpack:"session_id"`
	StartedAt time.Time     `json:"started_at" msgpack:"started_at"`
	Period    time.Duration `json:"period_ns" msgpack:"period_ns"`
	Indexes   []int         `json:"indexes" msgpack:"indexes"`
	Names     []string      `json:"names" msgpack:"names"`
}

// Sink receives the session metadata once, then every published sample.
type Sink interface {
	Open(meta Meta) error
	Write(s Sample) error
	Close() error
}

const (
	RecordMeta   = "meta"
	RecordSample = "sample"
)

// Record is the framing shared by the file and NATS sinks.
type Record struct {
	Type    string        `json:"type" msgpack:"type"`
	Session string        `json:"session" msgpack:"session"`
	Meta    *Meta         `json:"meta,omitempty" msgpack:"meta,omitempty"`
	Sample  *SampleRecord `json:"sample,omitempty" msgpack:"sample,omitempty"`
}

// SampleRecord is the persisted form of a Sample. Values line up with the
// session's Meta.Indexes, so the name table is written once per session.
type SampleRecord struct {
	Seq     uint64             `json:"seq" msgpack:"seq"`
	At      time.Time          `json:"at" msgpack:"at"`
	Values  []float64          `json:"values" msgpack:"values"`
	Verdict *stability.Verdict `json:"verdict,omitempty" msgpack:"verdict,omitempty"`
}

func newSampleRecord(s Sample) *SampleRecord {
	return &SampleRecord{Seq: s.Seq, At: s.At, Values: s.Values, Verdict: s.Verdict}
}

type encoder interface {
	Encode(v any) error
}

// streamSink writes Records through an encoder onto a buffered writer.
type streamSink struct {
	mu      sync.Mutex
	w       *bufio.Writer
	closer  io.Closer
	enc     encoder
	session string
}

func (s *streamSink) Open(meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = meta.SessionID
	if err := s.enc.Encode(Record{Type: RecordMeta, Session: meta.SessionID, Meta: &meta}); err != nil {
		return fmt.Errorf("monitor: write meta: %w", err)
	}
	return s.w.Flush()
}

func (s *streamSink) Write(sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(Record{Type: RecordSample, Session: s.session, Sample: newSampleRecord(sample)}); err != nil {
		return fmt.Errorf("monitor: write sample %d: %w", sample.Seq, err)
	}
	return s.w.Flush()
}

func (s *streamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// JSONLSink writes one JSON record per line.
type JSONLSink struct{ streamSink }

func NewJSONLSink(w io.Writer) *JSONLSink {
	bw := bufio.NewWriter(w)
	return &JSONLSink{streamSink{w: bw, closer: asCloser(w), enc: json.NewEncoder(bw)}}
}

// MsgpackSink writes the same records as JSONLSink as a msgpack stream.
type MsgpackSink struct{ streamSink }

func NewMsgpackSink(w io.Writer) *MsgpackSink {
	bw := bufio.NewWriter(w)
	return &MsgpackSink{streamSink{w: bw, closer: asCloser(w), enc: msgpack.NewEncoder(bw)}}
}

// CreateFile opens path for appending; the returned file is closed by the sink
// built on it.
func CreateFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("monitor: open %s: %w", path, err)
	}
	return f, nil
}

func asCloser(w io.Writer) io.Closer {
	if c, ok := w.(io.Closer); ok {
		return c
	}
	return nil
}

// ReadMsgpack decodes every record of a MsgpackSink stream.
func ReadMsgpack(r io.Reader) ([]Record, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("monitor: decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
