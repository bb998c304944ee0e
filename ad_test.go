package bthal

import (
	"bytes"
	"testing"
)

func TestAdvertisementRoundTrip(t *testing.T) {
	power := int8(-4)
	in := AdvertisementFields{
		Flags:     0x06,
		LocalName: "thermo",
		ServiceUUIDs: []UUID{
			New16BitUUID(0x180D),
			New16BitUUID(0x180F),
		},
		TxPower:          &power,
		ManufacturerData: []byte{0xFF, 0xFF, 0x01, 0x02},
	}

	raw, err := in.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %s", err)
	}
	if len(raw) > MaxEIRLength {
		t.Errorf("payload length %d exceeds %d", len(raw), MaxEIRLength)
	}

	out := ExtractAdvertisement(raw)
	if out.Flags != in.Flags {
		t.Errorf("expected flags %#x but got %#x", in.Flags, out.Flags)
	}
	if out.LocalName != in.LocalName {
		t.Errorf("expected local name %q but got %q", in.LocalName, out.LocalName)
	}
	if len(out.ServiceUUIDs) != 2 {
		t.Fatalf("expected 2 service UUIDs but got %d", len(out.ServiceUUIDs))
	}
	for i, u := range in.ServiceUUIDs {
		if out.ServiceUUIDs[i] != u {
			t.Errorf("service UUID %d: expected %s but got %s", i, u, out.ServiceUUIDs[i])
		}
	}
	if out.TxPower == nil || *out.TxPower != power {
		t.Errorf("expected tx power %d but got %v", power, out.TxPower)
	}
	if !bytes.Equal(out.ManufacturerData, in.ManufacturerData) {
		t.Errorf("expected manufacturer data %x but got %x", in.ManufacturerData, out.ManufacturerData)
	}
}

func TestAdvertisement128BitUUID(t *testing.T) {
	u := PackUUID(0x6E400001B5A3F393, 0xE0A9E50E24DCCA9E)
	in := AdvertisementFields{ServiceUUIDs: []UUID{u}}

	raw, err := in.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %s", err)
	}
	if len(raw) != 18 {
		t.Errorf("expected an 18 byte payload but got %d", len(raw))
	}

	out := ExtractAdvertisement(raw)
	if len(out.ServiceUUIDs) != 1 || out.ServiceUUIDs[0] != u {
		t.Errorf("expected %s but got %v", u, out.ServiceUUIDs)
	}
}

func TestAdvertisementTooLong(t *testing.T) {
	in := AdvertisementFields{
		LocalName:        "a device with a rather long name",
		ManufacturerData: make([]byte, 16),
	}
	if _, err := in.Marshal(); err == nil {
		t.Errorf("expected an error for an oversized payload")
	}
}

func TestExtractAdvertisementStopsAtZeroLength(t *testing.T) {
	raw := []byte{
		0x02, ADFlags, 0x06,
		0x00, // padding terminates the payload
		0x05, ADCompleteLocalName, 'j', 'u', 'n', 'k',
	}
	f := ExtractAdvertisement(raw)
	if f.Flags != 0x06 {
		t.Errorf("expected flags 0x06 but got %#x", f.Flags)
	}
	if f.LocalName != "" {
		t.Errorf("expected no local name but got %q", f.LocalName)
	}
}

func TestExtractAdvertisementTruncated(t *testing.T) {
	raw := []byte{
		0x04, ADCompleteLocalName, 'a', 'b', 'c',
		0x09, ADManufacturerData, 0x01, // claims 8 payload bytes, has 1
	}
	f := ExtractAdvertisement(raw)
	if f.LocalName != "abc" {
		t.Errorf("expected local name \"abc\" but got %q", f.LocalName)
	}
	if f.ManufacturerData != nil {
		t.Errorf("expected truncated structure to be dropped, got %x", f.ManufacturerData)
	}
}

func TestExtractAdvertisementShortenedName(t *testing.T) {
	raw := []byte{0x03, ADShortenedLocalName, 'h', 'i'}
	f := ExtractAdvertisement(raw)
	if f.LocalName != "hi" {
		t.Errorf("expected local name \"hi\" but got %q", f.LocalName)
	}
}
