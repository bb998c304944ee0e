package bthal

// This file implements 128-bit UUIDs in the byte order the stack
// boundary carries them, plus conversions to the textual 8-4-4-4-12
// form.

import "errors"

// UUID is a single UUID as it crosses the stack boundary. The bytes are
// in little endian order: byte i holds bits 8*i..8*i+7 of the least
// significant half for i below 8, and byte i+8 holds the same bits of
// the most significant half.
type UUID [16]byte

var errInvalidUUID = errors.New("bthal: failed to parse UUID")

// PackUUID builds a UUID from its two 64-bit halves.
func PackUUID(msb, lsb uint64) UUID {
	var uuid UUID
	for i := 0; i < 8; i++ {
		uuid[i] = byte(lsb >> (8 * i))
		uuid[i+8] = byte(msb >> (8 * i))
	}
	return uuid
}

// Halves splits the UUID back into its two 64-bit halves. It is the
// inverse of PackUUID.
func (uuid UUID) Halves() (msb, lsb uint64) {
	for i := 7; i >= 0; i-- {
		lsb = lsb<<8 | uint64(uuid[i])
		msb = msb<<8 | uint64(uuid[i+8])
	}
	return
}

// UUIDFromBytes converts a 16 byte boundary buffer into a UUID. It
// returns ErrInvalidLength if the buffer is not exactly 16 bytes.
func UUIDFromBytes(b []byte) (UUID, error) {
	var uuid UUID
	if len(b) != len(uuid) {
		return UUID{}, ErrInvalidLength
	}
	copy(uuid[:], b)
	return uuid, nil
}

// Bytes returns the UUID as a freshly allocated 16 byte slice, in the
// same order the boundary carries it.
func (uuid UUID) Bytes() []byte {
	b := make([]byte, len(uuid))
	copy(b, uuid[:])
	return b
}

// New16BitUUID returns a new 128-bit UUID based on a 16-bit UUID, by
// filling in the Bluetooth base UUID around it.
//
// Note: only use registered UUIDs. See
// https://www.bluetooth.com/specifications/gatt/services/ for a list.
func New16BitUUID(shortUUID uint16) UUID {
	return PackUUID(0x0000000000001000|uint64(shortUUID)<<32, 0x800000805F9B34FB)
}

// Is32Bit returns whether this UUID lies in the 32-bit Bluetooth base
// UUID range.
func (uuid UUID) Is32Bit() bool {
	msb, lsb := uuid.Halves()
	return lsb == 0x800000805F9B34FB && uint32(msb) == 0x00001000
}

// Is16Bit returns whether this UUID is a 16-bit BLE UUID.
func (uuid UUID) Is16Bit() bool {
	msb, _ := uuid.Halves()
	return uuid.Is32Bit() && msb>>32 == uint64(uint16(msb>>32))
}

// Get16Bit returns the 16-bit version of this UUID. The result is only
// meaningful if Is16Bit returns true.
func (uuid UUID) Get16Bit() uint16 {
	return uint16(uuid[12]) | uint16(uuid[13])<<8
}

// ParseUUID parses the given UUID, which must be in canonical
// 8-4-4-4-12 form such as 00001234-0000-1000-8000-00805f9b34fb. Upper
// and lower case hex digits are both accepted.
func ParseUUID(s string) (UUID, error) {
	var uuid UUID
	if len(s) != 36 {
		return UUID{}, errInvalidUUID
	}
	idx := 15
	hi := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return UUID{}, errInvalidUUID
			}
			continue
		}
		nibble, ok := hexNibble(c)
		if !ok {
			return UUID{}, errInvalidUUID
		}
		if hi {
			uuid[idx] = nibble << 4
		} else {
			uuid[idx] |= nibble
			idx--
		}
		hi = !hi
	}
	return uuid, nil
}

const lowerHexDigits = "0123456789abcdef"

// String returns the canonical 8-4-4-4-12 form of the UUID, such as
// 00001234-0000-1000-8000-00805f9b34fb.
func (uuid UUID) String() string {
	var s [36]byte
	n := 0
	for i := 15; i >= 0; i-- {
		if i == 11 || i == 9 || i == 7 || i == 5 {
			s[n] = '-'
			n++
		}
		c := uuid[i]
		s[n] = lowerHexDigits[c>>4]
		s[n+1] = lowerHexDigits[c&0xf]
		n += 2
	}
	return string(s[:])
}
