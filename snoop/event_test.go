package snoop

import (
	"bytes"
	"testing"
	"time"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	status := uint8(0)
	original := Event{
		Timestamp: ts,
		SessionID: "7d444840-9dc0-11d1-b245-5ffdce74fad2",
		Direction: DirectionEvent,
		Profile:   "a2dp",
		Op:        "connection_state",
		Addr:      []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		Status:    &status,
		Size:      6,
		Detail:    "state=connected",
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	if decoded.SessionID != original.SessionID {
		t.Errorf("SessionID: got %q, want %q", decoded.SessionID, original.SessionID)
	}
	if decoded.Direction != original.Direction {
		t.Errorf("Direction: got %v, want %v", decoded.Direction, original.Direction)
	}
	if decoded.Profile != original.Profile {
		t.Errorf("Profile: got %q, want %q", decoded.Profile, original.Profile)
	}
	if decoded.Op != original.Op {
		t.Errorf("Op: got %q, want %q", decoded.Op, original.Op)
	}
	if !bytes.Equal(decoded.Addr, original.Addr) {
		t.Errorf("Addr: got %v, want %v", decoded.Addr, original.Addr)
	}
	if decoded.Status == nil || *decoded.Status != *original.Status {
		t.Errorf("Status: got %v, want %v", decoded.Status, original.Status)
	}
	if decoded.Size != original.Size {
		t.Errorf("Size: got %d, want %d", decoded.Size, original.Size)
	}
	if decoded.Detail != original.Detail {
		t.Errorf("Detail: got %q, want %q", decoded.Detail, original.Detail)
	}
}

func TestEventOptionalFieldsOmitted(t *testing.T) {
	// A call with no address, status, payload or detail must decode
	// back with those fields empty rather than zero-filled garbage.
	original := Event{
		Timestamp: time.Now(),
		SessionID: "s",
		Direction: DirectionCall,
		Profile:   "gatt-client",
		Op:        "start_scan",
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if decoded.Addr != nil {
		t.Errorf("Addr: got %v, want nil", decoded.Addr)
	}
	if decoded.Status != nil {
		t.Errorf("Status: got %v, want nil", decoded.Status)
	}
	if decoded.Size != 0 {
		t.Errorf("Size: got %d, want 0", decoded.Size)
	}
	if decoded.Detail != "" {
		t.Errorf("Detail: got %q, want empty", decoded.Detail)
	}
}
