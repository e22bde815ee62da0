package history

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenPath(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	s.Record("connected", "office.ovpn", 0, 0)
	s.Record("disconnected", "office.ovpn", 9438, 4041)

	events, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	// Most recent first.
	if events[0].Kind != "disconnected" {
		t.Errorf("newest event = %q, want disconnected", events[0].Kind)
	}
	if events[0].BytesIn != 9438 || events[0].BytesOut != 4041 {
		t.Errorf("byte counters = (%d, %d)", events[0].BytesIn, events[0].BytesOut)
	}
	if events[1].Kind != "connected" || events[1].Name != "office.ovpn" {
		t.Errorf("oldest event = %+v", events[1])
	}
	if events[0].Occurred.IsZero() {
		t.Error("event timestamp is zero")
	}
}

func TestRecentLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		s.Record("connected", "a.ovpn", 0, 0)
	}

	events, err := s.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("events = %d, want 3", len(events))
	}
}

func TestRecentEmpty(t *testing.T) {
	s := openTestStore(t)

	events, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestOpenPathReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenPath(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Record("connected", "a.ovpn", 0, 0)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	events, err := s2.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events after reopen = %d, want 1", len(events))
	}
}
