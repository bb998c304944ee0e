//go:build linux

package bthal

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ConnectSocket opens an RFCOMM stream to addr on the given channel.
// The kernel carries the address in reversed byte order; the caller
// passes it in display order as everywhere else. The caller owns the
// returned file.
func (s *Session) ConnectSocket(addr Address, channel uint8) (*os.File, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("bthal: rfcomm socket: %w", err)
	}

	sa := &unix.SockaddrRFCOMM{
		Addr:    [6]byte(addr.Reverse()),
		Channel: channel,
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		s.recordCall(ProfileSocket, "connect", &addr, nil, 0)
		return nil, fmt.Errorf("bthal: rfcomm connect %s channel %d: %w", addr, channel, err)
	}

	s.recordCall(ProfileSocket, "connect", &addr, nil, 0)
	s.log.Info("rfcomm connected", "addr", addr.String(), "channel", channel)
	return os.NewFile(uintptr(fd), "rfcomm:"+addr.String()), nil
}

// RFCOMMListener is a bound RFCOMM server socket.
type RFCOMMListener struct {
	session *Session
	fd      int
	channel uint8
}

// ListenSocket binds an RFCOMM server socket on the given channel of
// the local adapter. Channel 0 lets the kernel pick a free channel;
// Channel reports the one in use.
func (s *Session) ListenSocket(channel uint8) (*RFCOMMListener, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("bthal: rfcomm socket: %w", err)
	}

	sa := &unix.SockaddrRFCOMM{Channel: channel}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bthal: rfcomm bind channel %d: %w", channel, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bthal: rfcomm listen: %w", err)
	}

	if channel == 0 {
		if bound, err := unix.Getsockname(fd); err == nil {
			if rc, ok := bound.(*unix.SockaddrRFCOMM); ok {
				channel = rc.Channel
			}
		}
	}

	s.recordCall(ProfileSocket, "listen", nil, nil, 0)
	s.log.Info("rfcomm listening", "channel", channel)
	return &RFCOMMListener{session: s, fd: fd, channel: channel}, nil
}

// Channel returns the channel the listener is bound to.
func (l *RFCOMMListener) Channel() uint8 { return l.channel }

// Accept waits for an incoming connection and returns the stream plus
// the remote address in display order. The caller owns the returned
// file.
func (l *RFCOMMListener) Accept() (*os.File, Address, error) {
	nfd, sa, err := unix.Accept(l.fd)
	if err != nil {
		return nil, Address{}, fmt.Errorf("bthal: rfcomm accept: %w", err)
	}

	var addr Address
	if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
		addr = Address(rc.Addr).Reverse()
	}

	l.session.recordEvent(ProfileSocket, "accept", &addr, nil, 0)
	l.session.log.Info("rfcomm accepted", "addr", addr.String(), "channel", l.channel)
	return os.NewFile(uintptr(nfd), "rfcomm:"+addr.String()), addr, nil
}

// Close releases the server socket. A blocked Accept fails once the
// socket is gone.
func (l *RFCOMMListener) Close() error {
	if err := unix.Close(l.fd); err != nil {
		return fmt.Errorf("bthal: rfcomm close: %w", err)
	}
	return nil
}
