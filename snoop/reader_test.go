package snoop

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func writeCapture(t *testing.T, path string, events []Event) {
	t.Helper()
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, ev := range events {
		l.Record(ev)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestFileLoggerReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundary.snoop")
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, SessionID: "s1", Direction: DirectionCall, Profile: "a2dp", Op: "connect"},
		{Timestamp: base.Add(time.Second), SessionID: "s1", Direction: DirectionEvent, Profile: "a2dp", Op: "connection_state"},
		{Timestamp: base.Add(2 * time.Second), SessionID: "s1", Direction: DirectionCall, Profile: "gatt-client", Op: "start_scan"},
	}
	writeCapture(t, path, events)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	for i, want := range events {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if got.Op != want.Op || got.Profile != want.Profile || got.Direction != want.Direction {
			t.Errorf("event %d: got %+v, want %+v", i, got, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF but got %v", err)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundary.snoop")
	writeCapture(t, path, []Event{{Timestamp: time.Now(), SessionID: "s1", Op: "a"}})
	writeCapture(t, path, []Event{{Timestamp: time.Now(), SessionID: "s2", Op: "b"}})

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	n := 0
	for {
		if _, err := r.Next(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 events after append, got %d", n)
	}
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundary.snoop")
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	writeCapture(t, path, []Event{
		{Timestamp: base, SessionID: "s1", Direction: DirectionCall, Profile: "a2dp", Op: "connect"},
		{Timestamp: base.Add(time.Second), SessionID: "s1", Direction: DirectionEvent, Profile: "a2dp", Op: "connection_state"},
		{Timestamp: base.Add(2 * time.Second), SessionID: "s2", Direction: DirectionCall, Profile: "a2dp", Op: "disconnect"},
	})

	dir := DirectionCall
	r, err := NewFilteredReader(path, Filter{SessionID: "s1", Direction: &dir})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got.Op != "connect" {
		t.Errorf("expected the connect call, got %q", got.Op)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF but got %v", err)
	}
}
