package bthal

import "errors"

// Address is a Bluetooth device address. It is stored in display order:
// the byte at index 0 is the leftmost octet of the textual form, which
// is also the order addresses cross the stack boundary in.
type Address [6]byte

// ErrMalformedAddress is returned by ParseAddress for any input that is
// not exactly a colon separated, six octet hex address.
var ErrMalformedAddress = errors.New("bthal: malformed Bluetooth address")

// ErrInvalidLength is returned when a boundary buffer does not have the
// exact length required by the value carried in it.
var ErrInvalidLength = errors.New("bthal: buffer has invalid length")

const hexDigits = "0123456789ABCDEF"

// ParseAddress parses an address in AA:BB:CC:DD:EE:FF form. Upper and
// lower case hex digits are both accepted. Anything else, including a
// wrong length or a misplaced separator, returns ErrMalformedAddress.
func ParseAddress(s string) (Address, error) {
	var addr Address
	if len(s) != 17 {
		return Address{}, ErrMalformedAddress
	}
	for i := 0; i < 6; i++ {
		if i != 0 && s[i*3-1] != ':' {
			return Address{}, ErrMalformedAddress
		}
		hi, ok := hexNibble(s[i*3])
		if !ok {
			return Address{}, ErrMalformedAddress
		}
		lo, ok := hexNibble(s[i*3+1])
		if !ok {
			return Address{}, ErrMalformedAddress
		}
		addr[i] = hi<<4 | lo
	}
	return addr, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 0xA, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 0xA, true
	}
	return 0, false
}

// AddressFromBytes converts a six byte boundary buffer into an Address.
// It returns ErrInvalidLength if the buffer is not exactly six bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var addr Address
	if len(b) != len(addr) {
		return Address{}, ErrInvalidLength
	}
	copy(addr[:], b)
	return addr, nil
}

// Bytes returns the address as a freshly allocated six byte slice, in
// the same order the boundary carries it.
func (a Address) Bytes() []byte {
	b := make([]byte, len(a))
	copy(b, a[:])
	return b
}

// Reverse returns the address with its bytes in the opposite order.
// HCI commands and kernel socket addresses carry the address least
// significant byte first.
func (a Address) Reverse() Address {
	var r Address
	for i, c := range a {
		r[len(a)-1-i] = c
	}
	return r
}

// String formats the address as AA:BB:CC:DD:EE:FF, always 17 characters
// and always upper case.
func (a Address) String() string {
	var s [17]byte
	for i, c := range a {
		if i != 0 {
			s[i*3-1] = ':'
		}
		s[i*3] = hexDigits[c>>4]
		s[i*3+1] = hexDigits[c&0xf]
	}
	return string(s[:])
}
