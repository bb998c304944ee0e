//go:build !linux

package bthal

import "os"

// ConnectSocket is only supported on Linux, where the kernel exposes
// RFCOMM sockets directly.
func (s *Session) ConnectSocket(addr Address, channel uint8) (*os.File, error) {
	return nil, ErrNotSupported
}

// RFCOMMListener is a bound RFCOMM server socket. Only supported on
// Linux.
type RFCOMMListener struct{}

// ListenSocket is only supported on Linux.
func (s *Session) ListenSocket(channel uint8) (*RFCOMMListener, error) {
	return nil, ErrNotSupported
}

func (l *RFCOMMListener) Channel() uint8 { return 0 }

func (l *RFCOMMListener) Accept() (*os.File, Address, error) {
	return nil, Address{}, ErrNotSupported
}

func (l *RFCOMMListener) Close() error { return nil }
