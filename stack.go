package bthal

import "errors"

// Status is a stack result code, carried across the boundary
// uninterpreted. The values mirror the native bt_status_t codes.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusFail
	StatusNotReady
	StatusNoMemory
	StatusBusy
	StatusDone
	StatusUnsupported
	StatusInvalidParam
	StatusUnhandled
	StatusAuthFailure
	StatusRemoteDeviceDown
	StatusAuthRejected
)

// OK returns whether the status reports success.
func (s Status) OK() bool { return s == StatusSuccess }

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFail:
		return "fail"
	case StatusNotReady:
		return "not ready"
	case StatusNoMemory:
		return "no memory"
	case StatusBusy:
		return "busy"
	case StatusDone:
		return "already done"
	case StatusUnsupported:
		return "unsupported"
	case StatusInvalidParam:
		return "invalid parameter"
	case StatusUnhandled:
		return "unhandled"
	case StatusAuthFailure:
		return "authentication failure"
	case StatusRemoteDeviceDown:
		return "remote device down"
	case StatusAuthRejected:
		return "authentication rejected"
	}
	return "unknown status"
}

// StatusError is returned by bridge operations when the stack rejects
// the call. The Status field carries the stack's code unchanged.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return "bthal: " + e.Op + ": " + e.Status.String()
}

// statusErr converts a boundary status into an error, nil on success.
func statusErr(op string, status Status) error {
	if status.OK() {
		return nil
	}
	return &StatusError{Op: op, Status: status}
}

// ConnID identifies one connection within a profile. It is assigned by
// the stack and passed back uninterpreted.
type ConnID int32

// AttrHandle is a GATT attribute handle.
type AttrHandle uint16

// ProfileID names one profile boundary, for logs and traffic capture.
type ProfileID uint8

const (
	ProfileA2DP ProfileID = iota
	ProfileAVRCPController
	ProfileGATTClient
	ProfileGATTServer
	ProfileAdvertiser
	ProfileSocket
)

func (p ProfileID) String() string {
	switch p {
	case ProfileA2DP:
		return "a2dp"
	case ProfileAVRCPController:
		return "avrcp-ctrl"
	case ProfileGATTClient:
		return "gatt-client"
	case ProfileGATTServer:
		return "gatt-server"
	case ProfileAdvertiser:
		return "advertiser"
	case ProfileSocket:
		return "socket"
	}
	return "unknown"
}

// Errors returned by sessions and profile bridges.
var (
	ErrSessionClosed      = errors.New("bthal: session is closed")
	ErrProfileUnavailable = errors.New("bthal: profile not available on this stack")
	ErrProfileDisabled    = errors.New("bthal: profile is not enabled")
	ErrNotSupported       = errors.New("bthal: operation not supported")
)

// Stack is one Bluetooth stack backend. A profile accessor returns nil
// when the backend does not expose that profile; Session surfaces that
// as ErrProfileUnavailable when the bridge is enabled.
//
// Backend callbacks run on stack goroutines. The profile bridges
// re-post every callback onto the session dispatcher, so Stack
// implementations never deal with handler concurrency themselves.
type Stack interface {
	// Name identifies the backend in logs and traffic capture.
	Name() string

	A2DP() A2DPBoundary
	AVRCPController() AVRCPBoundary
	GATTClient() GATTClientBoundary
	GATTServer() GATTServerBoundary
	Advertiser() AdvertiserBoundary

	// Close shuts the backend down. No callback may be delivered
	// after Close returns.
	Close() error
}
