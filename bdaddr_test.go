package bthal

import "testing"

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("expected nil but got %v", err)
	}
	want := Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	if addr != want {
		t.Errorf("expected %v but got %v", want, addr)
	}
}

func TestParseAddressLowerCase(t *testing.T) {
	addr, err := ParseAddress("aa:bb:cc:dd:ee:0f")
	if err != nil {
		t.Fatalf("expected nil but got %v", err)
	}
	want := Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x0F}
	if addr != want {
		t.Errorf("expected %v but got %v", want, addr)
	}
}

func TestParseAddressMalformed(t *testing.T) {
	inputs := []string{
		"",
		"short",
		"AA:BB:CC:DD:EE",      // too short
		"AA:BB:CC:DD:EE:F",    // truncated last octet
		"AA:BB:CC:DD:EE:FF:",  // too long
		"AA:BB:CC:DD:EE:FF:11",
		"AA-BB-CC-DD-EE-FF",   // wrong separator
		"AA:BB:CC:DD:EE:FG",   // not hex
		"AA:BB:CC:DD:EE: F",   // space is not hex
		"AABB:CC:DD:EE:FF:1",  // separator out of place
		":AA:BB:CC:DD:EE:FF",
		"AA:BB:CC:DD:EE:FF\n",
	}
	for _, s := range inputs {
		if _, err := ParseAddress(s); err != ErrMalformedAddress {
			t.Errorf("%q: expected ErrMalformedAddress but got %v", s, err)
		}
	}
}

func TestAddressString(t *testing.T) {
	addr := Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	if s := addr.String(); s != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("expected AA:BB:CC:DD:EE:FF but got %s", s)
	}
	addr = Address{0x00, 0x01, 0x02, 0x0A, 0x0B, 0x0C}
	if s := addr.String(); s != "00:01:02:0A:0B:0C" {
		t.Errorf("expected 00:01:02:0A:0B:0C but got %s", s)
	}
}

func TestAddressRoundTrip(t *testing.T) {
	// Text to bytes back to text: formatting is the canonical upper
	// case form of the input.
	for _, s := range []string{"AA:BB:CC:DD:EE:FF", "00:00:00:00:00:00", "12:34:56:78:9a:bc"} {
		addr, err := ParseAddress(s)
		if err != nil {
			t.Fatalf("%q: expected nil but got %v", s, err)
		}
		parsed, err := ParseAddress(addr.String())
		if err != nil {
			t.Fatalf("%q: expected nil but got %v", addr.String(), err)
		}
		if parsed != addr {
			t.Errorf("%q: round trip changed address to %v", s, parsed)
		}
	}

	// Bytes to text back to bytes.
	for _, addr := range []Address{
		{0, 0, 0, 0, 0, 0},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB},
	} {
		parsed, err := ParseAddress(addr.String())
		if err != nil {
			t.Fatalf("%v: expected nil but got %v", addr, err)
		}
		if parsed != addr {
			t.Errorf("%v: round trip changed address to %v", addr, parsed)
		}
	}
}

func TestAddressFromBytes(t *testing.T) {
	addr, err := AddressFromBytes([]byte{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("expected nil but got %v", err)
	}
	if addr != (Address{1, 2, 3, 4, 5, 6}) {
		t.Errorf("unexpected address %v", addr)
	}
	for _, b := range [][]byte{nil, {}, {1, 2, 3, 4, 5}, {1, 2, 3, 4, 5, 6, 7}} {
		if _, err := AddressFromBytes(b); err != ErrInvalidLength {
			t.Errorf("len %d: expected ErrInvalidLength but got %v", len(b), err)
		}
	}
}

func TestAddressReverse(t *testing.T) {
	addr := Address{1, 2, 3, 4, 5, 6}
	rev := addr.Reverse()
	if rev != (Address{6, 5, 4, 3, 2, 1}) {
		t.Errorf("unexpected reversed address %v", rev)
	}
	if rev.Reverse() != addr {
		t.Errorf("double reverse changed address to %v", rev.Reverse())
	}
}
