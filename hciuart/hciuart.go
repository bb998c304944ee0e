// Package hciuart drives a Bluetooth controller attached over a
// serial HCI transport with H4 framing. Commands and events travel
// the line raw, so the package implements LE advertising and scanning
// against the controller directly. There is no host side ATT stack,
// and the classic profiles are not carried at all; the corresponding
// boundaries report unavailable or unsupported.
package hciuart

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tarm/serial"

	"github.com/btforge/bthal"
)

const defaultBaud = 115200

// Options configures a serial controller stack.
type Options struct {
	// Port is the serial device carrying the transport, for example
	// /dev/ttyUSB0.
	Port string
	// Baud is the line rate. Zero selects 115200.
	Baud int
	// LocalName is advertised when a payload asks for the device
	// name. The controller itself has none to fall back on.
	LocalName string
	// Pool supplies the command staging buffer. Nil allocates from
	// the heap.
	Pool bthal.BufferPool
	// Logger receives stack logs. Nil uses the slog default.
	Logger *slog.Logger
}

// Stack is a serial HCI controller backend.
type Stack struct {
	log  *slog.Logger
	name string
	addr bthal.Address
	hci  *hci

	gattc *clientBoundary
	adv   *advertiserBoundary
}

// New opens the serial port and brings the controller up: a reset,
// the event masks, and the device address read back.
func New(opts Options) (*Stack, error) {
	if opts.Port == "" {
		return nil, errors.New("hciuart: no serial port given")
	}
	baud := opts.Baud
	if baud == 0 {
		baud = defaultBaud
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("stack", "hciuart")

	port, err := serial.OpenPort(&serial.Config{Name: opts.Port, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("hciuart: open %s: %w", opts.Port, err)
	}

	h, err := newHCI(port, opts.Pool, log)
	if err != nil {
		port.Close()
		return nil, err
	}
	go h.loop()

	if err := h.reset(); err != nil {
		h.close()
		return nil, fmt.Errorf("hciuart: reset: %w", err)
	}
	// The controller needs a moment after a reset before it accepts
	// commands again.
	time.Sleep(150 * time.Millisecond)
	if err := h.setEventMask(0x3FFFFFFFFFFFFFFF); err != nil {
		h.close()
		return nil, fmt.Errorf("hciuart: set event mask: %w", err)
	}
	if err := h.setLEEventMask(0x00000000000003FF); err != nil {
		h.close()
		return nil, fmt.Errorf("hciuart: set le event mask: %w", err)
	}
	addr, err := h.readBdAddr()
	if err != nil {
		h.close()
		return nil, fmt.Errorf("hciuart: read device address: %w", err)
	}

	s := &Stack{log: log, name: opts.LocalName, addr: addr, hci: h}
	s.gattc = &clientBoundary{s: s}
	s.adv = &advertiserBoundary{s: s}
	log.Info("controller up", "addr", addr.String())
	return s, nil
}

func (s *Stack) Name() string { return "hciuart" }

// Address returns the controller's public device address.
func (s *Stack) Address() bthal.Address { return s.addr }

// A2DP returns nil: the transport carries no classic profiles.
func (s *Stack) A2DP() bthal.A2DPBoundary { return nil }

// AVRCPController returns nil: the transport carries no classic
// profiles.
func (s *Stack) AVRCPController() bthal.AVRCPBoundary { return nil }

func (s *Stack) GATTClient() bthal.GATTClientBoundary { return s.gattc }

// GATTServer returns nil. Serving attributes needs a host side ATT
// stack, which the transport does not carry.
func (s *Stack) GATTServer() bthal.GATTServerBoundary { return nil }

func (s *Stack) Advertiser() bthal.AdvertiserBoundary { return s.adv }

// Close stops advertising and scanning and closes the serial port.
func (s *Stack) Close() error {
	s.adv.Cleanup()
	s.gattc.Cleanup()
	return s.hci.close()
}
