package runlog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestStore_RecordAndRecent(t *testing.T) {
	// WHAT: Recorded entries survive Close (which drains the buffer) and
	// come back newest first.
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	s.RecordAsync(&Entry{
		RunID: "run_1", Fixture: "sample-2page.pdf", Artifact: "full",
		Mode: "compare", DiffPixels: 12, Pass: true,
		Duration: 800 * time.Millisecond,
	})
	s.RecordAsync(&Entry{
		RunID: "run_1", Fixture: "sample-2page.pdf", Artifact: "page1",
		Mode: "compare", DiffPixels: 2000, Pass: false,
		Duration: 300 * time.Millisecond,
	})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen and read back.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	entries, err := s2.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: %d", len(entries))
	}
	// Newest first: page1 was recorded second.
	if entries[0].Artifact != "page1" || entries[0].Pass {
		t.Fatalf("first entry: %+v", entries[0])
	}
	if entries[1].Artifact != "full" || !entries[1].Pass {
		t.Fatalf("second entry: %+v", entries[1])
	}
	if entries[1].DiffPixels != 12 {
		t.Fatalf("diff pixels: %d", entries[1].DiffPixels)
	}
	if entries[1].Duration != 800*time.Millisecond {
		t.Fatalf("duration: %v", entries[1].Duration)
	}
}

func TestStore_RecordNeverBlocks(t *testing.T) {
	// WHAT: Recording past the buffer size drops instead of stalling.
	// WHY: History is diagnostics; it must not slow a capture down.
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(db)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			s.RecordAsync(&Entry{RunID: "run_x", Fixture: "f.pdf",
				Artifact: "full", Mode: "update"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RecordAsync blocked")
	}
}

func TestStore_RecentLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 5; i++ {
		s.RecordAsync(&Entry{RunID: "run_y", Fixture: "f.pdf",
			Artifact: "full", Mode: "compare", Pass: true})
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	entries, err := s2.Recent(context.Background(), 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("limit ignored: got %d entries", len(entries))
	}
}
