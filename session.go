package bthal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btforge/bthal/snoop"
)

// Session is one open handle on a Bluetooth stack backend. It owns the
// event dispatcher, the boundary buffer pool, the loggers and the
// profile bridges; nothing in this package is process-global, so
// several sessions can coexist against different backends.
//
// All stack events are delivered one at a time on the session's
// dispatcher goroutine, in arrival order. Handlers never see
// concurrent calls from the same session.
type Session struct {
	id    string
	log   *slog.Logger
	pool  BufferPool
	stack Stack
	disp  *dispatcher

	snoop     snoop.Logger      // nil when capture is off
	ownsSnoop *snoop.FileLogger // opened from SnoopPath, closed with the session

	mu      sync.Mutex
	closed  bool
	enabled []disabler // bridges in enable order

	a2dp  *A2DP
	avrcp *AVRCPController
	gattc *GATTClient
	gatts *GATTServer
	adv   *Advertiser
}

// disabler is the teardown half of a profile bridge, used when the
// session closes with bridges still enabled.
type disabler interface {
	disableForClose()
}

// Open starts a session against the given stack backend. The stack
// must be ready to accept profile calls; Open does not retry.
func Open(cfg Config, stack Stack) (*Session, error) {
	if stack == nil {
		return nil, fmt.Errorf("bthal: open: nil stack")
	}
	cfg = cfg.withDefaults()

	s := &Session{
		id:    uuid.New().String(),
		pool:  cfg.Pool,
		stack: stack,
	}
	s.log = cfg.Logger.With("session", s.id, "stack", stack.Name())

	s.snoop = cfg.Snoop
	if s.snoop == nil && cfg.SnoopPath != "" {
		fl, err := snoop.NewFileLogger(cfg.SnoopPath)
		if err != nil {
			return nil, fmt.Errorf("bthal: open traffic capture: %w", err)
		}
		s.snoop = fl
		s.ownsSnoop = fl
	}

	s.disp = newDispatcher(s.log, cfg.QueueDepth)
	s.disp.start()

	s.a2dp = &A2DP{session: s}
	s.avrcp = &AVRCPController{session: s}
	s.gattc = &GATTClient{session: s}
	s.gatts = &GATTServer{session: s}
	s.adv = &Advertiser{session: s}

	s.log.Info("session opened")
	return s, nil
}

// ID returns the session identifier used in logs and traffic capture.
func (s *Session) ID() string { return s.id }

// Stack returns the backend this session runs against.
func (s *Session) Stack() Stack { return s.stack }

// A2DP returns the advanced audio bridge.
func (s *Session) A2DP() *A2DP { return s.a2dp }

// AVRCPController returns the remote control bridge.
func (s *Session) AVRCPController() *AVRCPController { return s.avrcp }

// GATTClient returns the GATT client bridge.
func (s *Session) GATTClient() *GATTClient { return s.gattc }

// GATTServer returns the GATT server bridge.
func (s *Session) GATTServer() *GATTServer { return s.gatts }

// Advertiser returns the advertising bridge.
func (s *Session) Advertiser() *Advertiser { return s.adv }

// Close tears the session down: bridges still enabled are disabled,
// most recently enabled first, then the stack is closed, queued events
// are delivered and the dispatcher stops, and finally any capture file
// the session opened itself is closed. Close is idempotent; operations
// on a closed session return ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	enabled := make([]disabler, len(s.enabled))
	copy(enabled, s.enabled)
	s.enabled = nil
	s.mu.Unlock()

	for i := len(enabled) - 1; i >= 0; i-- {
		enabled[i].disableForClose()
	}

	err := s.stack.Close()
	s.disp.stop()
	if s.ownsSnoop != nil {
		s.ownsSnoop.Close()
	}

	s.log.Info("session closed")
	if err != nil {
		return fmt.Errorf("bthal: close stack: %w", err)
	}
	return nil
}

// checkOpen returns ErrSessionClosed once Close has begun.
func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) pushEnabled(d disabler) {
	s.mu.Lock()
	s.enabled = append(s.enabled, d)
	s.mu.Unlock()
}

func (s *Session) dropEnabled(d disabler) {
	s.mu.Lock()
	for i, e := range s.enabled {
		if e == d {
			s.enabled = append(s.enabled[:i], s.enabled[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// recordCall captures a service-to-stack operation.
func (s *Session) recordCall(profile ProfileID, op string, addr *Address, status *Status, size int) {
	s.record(snoop.DirectionCall, profile, op, addr, status, size)
}

// recordEvent captures a stack-to-service callback.
func (s *Session) recordEvent(profile ProfileID, op string, addr *Address, status *Status, size int) {
	s.record(snoop.DirectionEvent, profile, op, addr, status, size)
}

func (s *Session) record(dir snoop.Direction, profile ProfileID, op string, addr *Address, status *Status, size int) {
	if s.snoop == nil {
		return
	}
	ev := snoop.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Direction: dir,
		Profile:   profile.String(),
		Op:        op,
		Size:      size,
	}
	if addr != nil {
		// Stage the address bytes the same way they cross the
		// boundary itself: through a scoped buffer that is released
		// when the record has been taken.
		sb := ScopedAddrBufferFor(s.pool, s.log, *addr)
		defer sb.Close()
		if b := sb.Get(); b != nil {
			ev.Addr = append([]byte(nil), b...)
		}
	}
	if status != nil {
		code := uint8(*status)
		ev.Status = &code
	}
	s.snoop.Record(ev)
}
