package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/danmuck/tipctl/internal/faults"
)

var ErrCorruptLog = errors.New("action: corrupt log line")

// Entry is the persisted record of one completed action.
type Entry struct {
	RunID      string         `json:"run_id"`
	Seq        int            `json:"seq"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	Outcome    string         `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	Value      any            `json:"value,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS float64        `json:"duration_ms"`
}

const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

func NewEntry(runID string, seq int, r Result) Entry {
	e := Entry{
		RunID:      runID,
		Seq:        seq,
		Action:     r.Action,
		Params:     r.Params,
		Outcome:    OutcomeOK,
		Value:      r.Value,
		StartedAt:  r.Started.UTC(),
		DurationMS: float64(r.Duration) / float64(time.Millisecond),
	}
	if r.Err != nil {
		e.Outcome = OutcomeFailed
		if faults.IsTimeout(r.Err) {
			e.Outcome = OutcomeTimeout
		}
		e.Error = r.Err.Error()
	}
	return e
}

// LogWriter appends one JSON line per entry. Each entry is a single write so
// a crash leaves a valid prefix.
type LogWriter struct {
	mu   sync.Mutex
	file *os.File
}

func OpenLog(path string) (*LogWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &LogWriter{file: f}, nil
}

func (w *LogWriter) Write(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	_, err = w.file.Write(line)
	return err
}

func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ReadLog returns the entries of an action log. A torn final line, left by a
// crash mid-write, is dropped; a malformed line elsewhere returns the entries
// before it with ErrCorruptLog.
func ReadLog(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Entry
	lines := bytes.Split(data, []byte{'\n'})
	for i, raw := range lines {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			// only the segment after the final newline can be torn
			if i == len(lines)-1 {
				return out, nil
			}
			return out, fmt.Errorf("%w: line %d: %v", ErrCorruptLog, i+1, err)
		}
		out = append(out, e)
	}
	return out, nil
}
