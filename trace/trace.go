// Package trace is the deterministic event-trace recorder the testable
// properties of spec.md §8 need: the sequence of (host, event-time,
// event-kind) tuples a run produces. Directly generalizes the teacher's
// DataLogger split (csv_logger.go, sqlite_logger.go) from simulation-data
// recording into trace recording, keeping the same CSV/SQLite duality.
package trace

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/vtime"
)

// Record is one traced occurrence: a dispatched event, or a supplemented
// occurrence like a dropped packet (SPEC_FULL §6).
type Record struct {
	Host event.HostId
	Time vtime.SimulationTime
	Kind string
}

// Recorder persists Records for later comparison against expected traces
// (Testable Property #1, determinism).
type Recorder interface {
	Record(r Record) error
	Close() error
}

// CSV is a Recorder that appends comma-delimited rows to a file, the
// direct generalization of the teacher's AppendToFile idiom.
type CSV struct {
	path string
	f    *os.File
}

// NewCSV creates (or truncates) path and writes its header row, mirroring
// CSVLogger.Init's "create file, write header" sequence.
func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString("host,time,kind\n"); err != nil {
		f.Close()
		return nil, err
	}
	return &CSV{path: path, f: f}, nil
}

func (c *CSV) Record(r Record) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d,%d,%s\n", r.Host, r.Time, r.Kind)
	_, err := c.f.Write(b.Bytes())
	return err
}

func (c *CSV) Close() error { return c.f.Close() }

// SQLite is a Recorder that inserts rows into a single-table SQLite
// database, the generalization of SQLiteLogger's per-kind table creation
// into one "trace" table (the teacher split tables by record kind because
// each kind had a distinct schema; a trace Record's schema is uniform, so
// one table suffices).
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite database at path and
// ensures the trace table exists, mirroring SQLiteLogger.Init's
// create-table-if-needed sequence.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_locking=EXCLUSIVE&_sync=NORMAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`create table if not exists trace (
		id integer not null primary key,
		host integer,
		time integer,
		kind text
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Record(r Record) error {
	_, err := s.db.Exec("insert into trace(host, time, kind) values(?, ?, ?)", int64(r.Host), int64(r.Time), r.Kind)
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }

// Memory is an in-process Recorder used by tests and by the testable
// properties suite to assert directly on the recorded sequence without
// touching disk. Record is called from whichever worker goroutine
// dispatches an event (scheduler.Scheduler.drainHost runs one worker per
// claimed host, concurrently within a round), so appends are
// mutex-guarded rather than relying on single-writer discipline the way
// a host's own queue does.
type Memory struct {
	mu      sync.Mutex
	Records []Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, r)
	return nil
}

func (m *Memory) Close() error { return nil }
