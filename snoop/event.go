package snoop

import "time"

// Event is one boundary crossing captured by a session.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the crossing happened (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the session that recorded the event (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates which way the crossing went.
	Direction Direction `cbor:"3,keyasint"`

	// Profile names the profile boundary ("a2dp", "gatt-client", ...).
	Profile string `cbor:"4,keyasint"`

	// Op is the operation or callback name ("connect",
	// "connection_state", ...).
	Op string `cbor:"5,keyasint"`

	// Addr is the six byte device address involved, if any.
	Addr []byte `cbor:"6,keyasint,omitempty"`

	// Status is the stack status code, when the crossing carried one.
	Status *uint8 `cbor:"7,keyasint,omitempty"`

	// Size is the payload size in bytes for crossings that carry a
	// value buffer.
	Size int `cbor:"8,keyasint,omitempty"`

	// Detail is a free-form annotation ("handle=0x0012", ...).
	Detail string `cbor:"9,keyasint,omitempty"`
}

// Direction indicates which way an event crossed the boundary.
type Direction uint8

const (
	// DirectionCall is a service-to-stack operation.
	DirectionCall Direction = 0
	// DirectionEvent is a stack-to-service callback.
	DirectionEvent Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionCall:
		return "CALL"
	case DirectionEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}
