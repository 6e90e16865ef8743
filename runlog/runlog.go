// Package runlog persists per-artifact comparison outcomes to SQLite so
// flaky artifacts can be spotted across runs. Diagnostic history only —
// it is not a reporting surface and never influences pass/fail.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Schema for the render_runs table. Applied by Store.Init.
const Schema = `
CREATE TABLE IF NOT EXISTS render_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	fixture TEXT NOT NULL,
	artifact TEXT NOT NULL,
	mode TEXT NOT NULL,
	diff_pixels INTEGER NOT NULL,
	pass INTEGER NOT NULL,
	duration_us INTEGER NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_render_runs_ts ON render_runs(timestamp);
CREATE INDEX IF NOT EXISTS idx_render_runs_fixture ON render_runs(fixture, artifact);
`

// Entry is one artifact outcome within a run.
type Entry struct {
	RunID      string
	Fixture    string
	Artifact   string
	Mode       string // "compare" | "update" | "extract"
	DiffPixels int
	Pass       bool
	Duration   time.Duration
	Timestamp  time.Time
}

// Store persists entries asynchronously: recording never blocks the
// harness, and a full buffer drops entries rather than backpressuring.
type Store struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
}

// Open opens (or creates) the history database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runlog: open %s: %w", path, err)
	}
	s := NewStore(db)
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore creates a store backed by the given database connection and
// starts the flush goroutine.
func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan *Entry, 256),
		done: make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Init creates the render_runs table if it doesn't exist.
func (s *Store) Init() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("runlog: init schema: %w", err)
	}
	return nil
}

// RecordAsync queues an entry. Non-blocking; drops if the buffer is full.
func (s *Store) RecordAsync(e *Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case s.ch <- e:
	default:
		// buffer full — drop rather than stall a capture in progress
	}
}

// Close drains the buffer, stops the flush goroutine, and closes the
// database.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return s.db.Close()
}

// Recent returns the most recent n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, fixture, artifact, mode, diff_pixels, pass, duration_us, timestamp
		FROM render_runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("runlog: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var pass int
		var durUS, ts int64
		if err := rows.Scan(&e.RunID, &e.Fixture, &e.Artifact, &e.Mode,
			&e.DiffPixels, &pass, &durUS, &ts); err != nil {
			return nil, fmt.Errorf("runlog: scan: %w", err)
		}
		e.Pass = pass != 0
		e.Duration = time.Duration(durUS) * time.Microsecond
		e.Timestamp = time.Unix(0, ts*int64(time.Millisecond))
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]*Entry, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				s.flushBatch(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= 64 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		return
	}
	stmt, err := tx.Prepare(`
		INSERT INTO render_runs
			(run_id, fixture, artifact, mode, diff_pixels, pass, duration_us, timestamp)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return
	}
	for _, e := range batch {
		pass := 0
		if e.Pass {
			pass = 1
		}
		stmt.Exec(e.RunID, e.Fixture, e.Artifact, e.Mode,
			e.DiffPixels, pass, e.Duration.Microseconds(),
			e.Timestamp.UnixMilli())
	}
	stmt.Close()
	tx.Commit()
}
