package bthal

import (
	"fmt"
	"sync"
)

// A2DPConnectionState is the audio connection state reported by the
// stack. The values mirror the native btav enums.
type A2DPConnectionState uint8

const (
	A2DPDisconnected A2DPConnectionState = iota
	A2DPConnecting
	A2DPConnected
	A2DPDisconnecting
)

func (s A2DPConnectionState) String() string {
	switch s {
	case A2DPDisconnected:
		return "disconnected"
	case A2DPConnecting:
		return "connecting"
	case A2DPConnected:
		return "connected"
	case A2DPDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// A2DPAudioState is the streaming state of an audio connection.
type A2DPAudioState uint8

const (
	A2DPAudioRemoteSuspend A2DPAudioState = iota
	A2DPAudioStopped
	A2DPAudioStarted
)

func (s A2DPAudioState) String() string {
	switch s {
	case A2DPAudioRemoteSuspend:
		return "remote suspend"
	case A2DPAudioStopped:
		return "stopped"
	case A2DPAudioStarted:
		return "started"
	}
	return "unknown"
}

// A2DPHandler receives audio profile events. Calls arrive one at a
// time on the session dispatcher, in the order the stack raised them.
type A2DPHandler interface {
	ConnectionStateChanged(addr Address, state A2DPConnectionState)
	AudioStateChanged(addr Address, state A2DPAudioState)
}

// A2DPBoundary is the audio source half of a stack backend.
type A2DPBoundary interface {
	// Init registers sink as the callback receiver and brings the
	// profile up.
	Init(sink A2DPHandler) Status
	// Cleanup tears the profile down. No callback may be delivered
	// after Cleanup returns.
	Cleanup()
	Connect(addr Address) Status
	Disconnect(addr Address) Status
}

// A2DP is the session's bridge to the audio source profile. It is
// created disabled; Enable registers a handler and brings the profile
// up on the backend.
type A2DP struct {
	session *Session

	mu       sync.Mutex
	enabled  bool
	boundary A2DPBoundary
	handler  A2DPHandler
}

// Enable brings the profile up and registers handler for its events.
// Enabling an already enabled bridge tears the old registration down
// first. It returns ErrProfileUnavailable when the backend does not
// expose the profile.
func (p *A2DP) Enable(handler A2DPHandler) error {
	if handler == nil {
		return fmt.Errorf("bthal: a2dp: nil handler")
	}
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	boundary := p.session.stack.A2DP()
	if boundary == nil {
		return ErrProfileUnavailable
	}

	if p.teardown() {
		p.session.log.Warn("a2dp enabled twice, cleaning up first")
		p.session.dropEnabled(p)
	}

	status := boundary.Init(&a2dpSink{p})
	p.session.recordCall(ProfileA2DP, "init", nil, &status, 0)
	if !status.OK() {
		return statusErr("a2dp init", status)
	}

	p.mu.Lock()
	p.enabled = true
	p.boundary = boundary
	p.handler = handler
	p.mu.Unlock()
	p.session.pushEnabled(p)
	p.session.log.Info("a2dp enabled")
	return nil
}

// Disable tears the profile down. Disabling a bridge that is not
// enabled is a no-op.
func (p *A2DP) Disable() error {
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	if p.teardown() {
		p.session.dropEnabled(p)
		p.session.log.Info("a2dp disabled")
	}
	return nil
}

func (p *A2DP) disableForClose() {
	p.teardown()
}

// teardown disables the bridge and cleans up the boundary, returning
// whether there was anything to tear down. Events still in flight are
// suppressed at delivery once the handler is gone.
func (p *A2DP) teardown() bool {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return false
	}
	p.enabled = false
	p.handler = nil
	boundary := p.boundary
	p.boundary = nil
	p.mu.Unlock()

	boundary.Cleanup()
	p.session.recordCall(ProfileA2DP, "cleanup", nil, nil, 0)
	return true
}

// armed returns the boundary if the bridge is enabled.
func (p *A2DP) armed() (A2DPBoundary, error) {
	if err := p.session.checkOpen(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return nil, ErrProfileDisabled
	}
	return p.boundary, nil
}

// Connect asks the stack to open an audio connection to addr.
func (p *A2DP) Connect(addr Address) error {
	boundary, err := p.armed()
	if err != nil {
		return err
	}
	status := boundary.Connect(addr)
	p.session.recordCall(ProfileA2DP, "connect", &addr, &status, 0)
	return statusErr("a2dp connect", status)
}

// Disconnect asks the stack to close the audio connection to addr.
func (p *A2DP) Disconnect(addr Address) error {
	boundary, err := p.armed()
	if err != nil {
		return err
	}
	status := boundary.Disconnect(addr)
	p.session.recordCall(ProfileA2DP, "disconnect", &addr, &status, 0)
	return statusErr("a2dp disconnect", status)
}

// deliver re-posts a stack callback onto the session dispatcher. The
// handler is looked up at delivery time, so events raised before a
// Disable but delivered after it are suppressed.
func (p *A2DP) deliver(op string, addr *Address, fn func(A2DPHandler)) {
	p.session.recordEvent(ProfileA2DP, op, addr, nil, 0)
	p.session.disp.post(func() {
		p.mu.Lock()
		h := p.handler
		ok := p.enabled
		p.mu.Unlock()
		if !ok || h == nil {
			return
		}
		fn(h)
	})
}

// a2dpSink receives boundary callbacks on stack goroutines.
type a2dpSink struct {
	p *A2DP
}

func (s *a2dpSink) ConnectionStateChanged(addr Address, state A2DPConnectionState) {
	s.p.deliver("connection_state", &addr, func(h A2DPHandler) {
		h.ConnectionStateChanged(addr, state)
	})
}

func (s *a2dpSink) AudioStateChanged(addr Address, state A2DPAudioState) {
	s.p.deliver("audio_state", &addr, func(h A2DPHandler) {
		h.AudioStateChanged(addr, state)
	})
}

// A2DPHandlerBase implements A2DPHandler with empty methods. Embed it
// in a handler that only cares about a subset of the events.
type A2DPHandlerBase struct{}

func (*A2DPHandlerBase) ConnectionStateChanged(addr Address, state A2DPConnectionState) {}
func (*A2DPHandlerBase) AudioStateChanged(addr Address, state A2DPAudioState) {}
