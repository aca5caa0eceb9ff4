package monitor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/danmuck/tipctl/internal/logging"
)

const duckBatchRows = 1024

var duckSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         VARCHAR PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		period_ms  BIGINT NOT NULL,
		signals    VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS samples (
		session_id   VARCHAR NOT NULL,
		seq          UBIGINT NOT NULL,
		at           TIMESTAMP NOT NULL,
		signal_index INTEGER NOT NULL,
		signal       VARCHAR NOT NULL,
		value        DOUBLE NOT NULL
	)`,
}

// DuckSink stores sessions and samples in a DuckDB file. Sample rows are
// buffered and written with the appender in batches.
type DuckSink struct {
	db      *sql.DB
	path    string
	mu      sync.Mutex
	session string
	batch   []duckRow
}

type duckRow struct {
	seq   uint64
	at    time.Time
	index int32
	name  string
	value float64
}

func OpenDuckSink(path string) (*DuckSink, error) {
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		_, err := execer.ExecContext(context.Background(), "PRAGMA enable_progress_bar=false", nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("monitor: duckdb connector %s: %w", path, err)
	}
	db := sql.OpenDB(connector)
	for _, stmt := range duckSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("monitor: duckdb schema: %w", err)
		}
	}
	logging.Debugf("monitor.DuckSink.Open path=%s", path)
	return &DuckSink{db: db, path: path, batch: make([]duckRow, 0, duckBatchRows)}, nil
}

// DB exposes the underlying handle for queries.
func (d *DuckSink) DB() *sql.DB  { return d.db }
func (d *DuckSink) Path() string { return d.path }

func (d *DuckSink) Open(meta Meta) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session = meta.SessionID
	_, err := d.db.Exec(
		"INSERT INTO sessions (id, started_at, period_ms, signals) VALUES (?, ?, ?, ?)",
		meta.SessionID, meta.StartedAt, meta.Period.Milliseconds(), strings.Join(meta.Names, ","),
	)
	if err != nil {
		return fmt.Errorf("monitor: duckdb insert session: %w", err)
	}
	return nil
}

func (d *DuckSink) Write(s Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range s.Values {
		d.batch = append(d.batch, duckRow{
			seq:   s.Seq,
			at:    s.At,
			index: int32(s.Indexes[i]),
			name:  s.Names[i],
			value: v,
		})
	}
	if len(d.batch) >= duckBatchRows {
		return d.flushLocked()
	}
	return nil
}

func (d *DuckSink) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

func (d *DuckSink) flushLocked() error {
	if len(d.batch) == 0 {
		return nil
	}
	conn, err := d.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("monitor: duckdb conn: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("monitor: unexpected driver connection %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dConn, "", "samples")
		if err != nil {
			return err
		}
		defer appender.Close()
		for _, r := range d.batch {
			if err := appender.AppendRow(d.session, r.seq, r.at, r.index, r.name, r.value); err != nil {
				return err
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("monitor: duckdb append %d rows: %w", len(d.batch), err)
	}
	d.batch = d.batch[:0]
	return nil
}

func (d *DuckSink) Close() error {
	err := d.Flush()
	if cerr := d.db.Close(); err == nil {
		err = cerr
	}
	return err
}
