package bthal

import (
	"strings"
	"testing"
)

func TestUUIDString(t *testing.T) {
	checkUUID(t, New16BitUUID(0x1234), "00001234-0000-1000-8000-00805f9b34fb")
}

func checkUUID(t *testing.T, uuid UUID, check string) {
	if uuid.String() != check {
		t.Errorf("expected UUID %s but got %s", check, uuid.String())
	}
}

func TestPackUUIDLayout(t *testing.T) {
	uuid := PackUUID(0x0000123400001000, 0x800000805F9B34FB)
	want := UUID{
		0xFB, 0x34, 0x9B, 0x5F, 0x80, 0x00, 0x00, 0x80,
		0x00, 0x10, 0x00, 0x00, 0x34, 0x12, 0x00, 0x00,
	}
	if uuid != want {
		t.Errorf("expected %v but got %v", want, uuid)
	}
	if uuid != New16BitUUID(0x1234) {
		t.Errorf("expected PackUUID and New16BitUUID to agree")
	}
}

func TestUUIDHalvesRoundTrip(t *testing.T) {
	type testCase struct {
		msb, lsb uint64
	}
	tests := []testCase{
		{0, 0},
		{0x0000000000001000, 0x80000800000010},
		{0x0000123400001000, 0x800000805F9B34FB},
		{0xFFFFFFFFFFFFFFFF, 0xFFFFFFFFFFFFFFFF},
		{0x0123456789ABCDEF, 0xFEDCBA9876543210},
	}
	for _, tc := range tests {
		msb, lsb := PackUUID(tc.msb, tc.lsb).Halves()
		if msb != tc.msb || lsb != tc.lsb {
			t.Errorf("(%#x, %#x): round trip gave (%#x, %#x)", tc.msb, tc.lsb, msb, lsb)
		}
	}
}

func TestUUIDFromBytes(t *testing.T) {
	b := PackUUID(0x0000123400001000, 0x800000805F9B34FB).Bytes()
	uuid, err := UUIDFromBytes(b)
	if err != nil {
		t.Fatalf("expected nil but got %v", err)
	}
	if uuid != New16BitUUID(0x1234) {
		t.Errorf("unexpected UUID %v", uuid)
	}
	for _, b := range [][]byte{nil, {}, make([]byte, 15), make([]byte, 17)} {
		if _, err := UUIDFromBytes(b); err != ErrInvalidLength {
			t.Errorf("len %d: expected ErrInvalidLength but got %v", len(b), err)
		}
	}
}

func TestUUIDIs16Bit(t *testing.T) {
	if !New16BitUUID(0x180D).Is16Bit() {
		t.Errorf("expected a 16-bit UUID")
	}
	if got := New16BitUUID(0x180D).Get16Bit(); got != 0x180D {
		t.Errorf("expected 0x180D but got %#x", got)
	}
	if PackUUID(0x0123456789ABCDEF, 0xFEDCBA9876543210).Is16Bit() {
		t.Errorf("expected a full 128-bit UUID")
	}
	if PackUUID(0x1234567800001000, 0x800000805F9B34FB).Is16Bit() {
		t.Errorf("expected a 32-bit UUID to not be 16-bit")
	}
}

func TestParseUUIDTooSmall(t *testing.T) {
	_, e := ParseUUID("00001234-0000-1000-8000-00805f9b34f")
	if e != errInvalidUUID {
		t.Errorf("expected errInvalidUUID but got %v", e)
	}
}

func TestParseUUIDTooLarge(t *testing.T) {
	_, e := ParseUUID("00001234-0000-1000-8000-00805F9B34FB0")
	if e != errInvalidUUID {
		t.Errorf("expected errInvalidUUID but got %v", e)
	}
}

func TestParseUUIDBadSeparator(t *testing.T) {
	_, e := ParseUUID("00001234_0000_1000_8000_00805f9b34fb")
	if e != errInvalidUUID {
		t.Errorf("expected errInvalidUUID but got %v", e)
	}
}

func TestStringUUID(t *testing.T) {
	uuidString := "00001234-0000-1000-8000-00805f9b34fb"
	u, e := ParseUUID(uuidString)
	if e != nil {
		t.Errorf("expected nil but got %v", e)
	}
	if u.String() != uuidString {
		t.Errorf("expected %s but got %s", uuidString, u.String())
	}
}

func TestStringUUIDUpperCase(t *testing.T) {
	uuidString := strings.ToUpper("00001234-0000-1000-8000-00805f9b34fb")
	u, e := ParseUUID(uuidString)
	if e != nil {
		t.Errorf("expected nil but got %v", e)
	}
	if !strings.EqualFold(u.String(), uuidString) {
		t.Errorf("%s does not match %s ignoring case", uuidString, u.String())
	}
}

func BenchmarkUUIDToString(b *testing.B) {
	uuid, e := ParseUUID("00001234-0000-1000-8000-00805f9b34fb")
	if e != nil {
		b.Errorf("expected nil but got %v", e)
	}
	for i := 0; i < b.N; i++ {
		_ = uuid.String()
	}
}
