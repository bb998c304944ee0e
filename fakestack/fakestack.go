// Package fakestack provides an in-memory stack backend for tests,
// examples and offline shell sessions. Every boundary call is
// recorded, results can be overridden per operation, and with
// auto-responses enabled the fake answers calls with the callbacks a
// real stack would raise, against a scriptable set of remote devices.
package fakestack

import (
	"sync"

	"github.com/btforge/bthal"
)

// Call is one recorded boundary operation.
type Call struct {
	Profile bthal.ProfileID
	Op      string
	// Addr is the display form of the address the call carried, empty
	// when it carried none.
	Addr string
}

// Device is one remote the fake world answers for.
type Device struct {
	Addr bthal.Address
	Name string
	RSSI int16
}

// Stack is an in-memory bthal.Stack. The zero value is not usable;
// call New.
type Stack struct {
	mu       sync.Mutex
	closed   bool
	calls    []Call
	results  map[string]bthal.Status
	disabled map[bthal.ProfileID]bool
	devices  []Device
	auto     bool

	nextIf     int32
	nextConn   bthal.ConnID
	nextAdv    uint8
	nextHandle bthal.AttrHandle
	conns      map[bthal.Address]bthal.ConnID

	wg sync.WaitGroup

	a2dp  a2dpBoundary
	avrcp avrcpBoundary
	gattc gattcBoundary
	gatts gattsBoundary
	adv   advBoundary
}

// New returns a fake stack with every profile available, no devices
// and auto-responses off.
func New() *Stack {
	s := &Stack{
		results:    make(map[string]bthal.Status),
		disabled:   make(map[bthal.ProfileID]bool),
		conns:      make(map[bthal.Address]bthal.ConnID),
		nextConn:   1,
		nextAdv:    1,
		nextHandle: 0x0100,
	}
	s.a2dp.s = s
	s.avrcp.s = s
	s.gattc.s = s
	s.gatts.s = s
	s.adv.s = s
	return s
}

func (s *Stack) Name() string { return "fake" }

// AutoRespond switches canned callback responses on or off. With it
// on, operations answer asynchronously the way a live stack would.
func (s *Stack) AutoRespond(enable bool) {
	s.mu.Lock()
	s.auto = enable
	s.mu.Unlock()
}

// AddDevice adds a remote to the fake world. Scans report it and
// connects to its address succeed.
func (s *Stack) AddDevice(d Device) {
	s.mu.Lock()
	s.devices = append(s.devices, d)
	s.mu.Unlock()
}

// DisableProfile makes the named profile accessor return nil, like a
// backend that does not carry the profile.
func (s *Stack) DisableProfile(p bthal.ProfileID) {
	s.mu.Lock()
	s.disabled[p] = true
	s.mu.Unlock()
}

// SetResult overrides the status the named operation returns. The
// override sticks until replaced.
func (s *Stack) SetResult(p bthal.ProfileID, op string, status bthal.Status) {
	s.mu.Lock()
	s.results[resultKey(p, op)] = status
	s.mu.Unlock()
}

// Calls returns a copy of every boundary operation recorded so far,
// in call order.
func (s *Stack) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallOps returns the recorded operation names of one profile, in
// call order.
func (s *Stack) CallOps(p bthal.ProfileID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		if c.Profile == p {
			out = append(out, c.Op)
		}
	}
	return out
}

// Closed reports whether Close has run.
func (s *Stack) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stack) A2DP() bthal.A2DPBoundary {
	if s.profileDisabled(bthal.ProfileA2DP) {
		return nil
	}
	return &s.a2dp
}

func (s *Stack) AVRCPController() bthal.AVRCPBoundary {
	if s.profileDisabled(bthal.ProfileAVRCPController) {
		return nil
	}
	return &s.avrcp
}

func (s *Stack) GATTClient() bthal.GATTClientBoundary {
	if s.profileDisabled(bthal.ProfileGATTClient) {
		return nil
	}
	return &s.gattc
}

func (s *Stack) GATTServer() bthal.GATTServerBoundary {
	if s.profileDisabled(bthal.ProfileGATTServer) {
		return nil
	}
	return &s.gatts
}

func (s *Stack) Advertiser() bthal.AdvertiserBoundary {
	if s.profileDisabled(bthal.ProfileAdvertiser) {
		return nil
	}
	return &s.adv
}

// Close waits for in-flight fake callbacks to be handed off, then
// marks the stack closed.
func (s *Stack) Close() error {
	s.wg.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// A2DPSink returns the callback receiver registered by the last audio
// Init, nil before Init or after Cleanup. Tests drive fake events
// through it.
func (s *Stack) A2DPSink() bthal.A2DPHandler { return s.a2dp.snapshot() }

// AVRCPSink returns the remote control callback receiver.
func (s *Stack) AVRCPSink() bthal.AVRCPHandler { return s.avrcp.snapshot() }

// GATTClientSink returns the GATT client callback receiver.
func (s *Stack) GATTClientSink() bthal.GATTClientHandler { return s.gattc.snapshot() }

// GATTServerSink returns the GATT server callback receiver.
func (s *Stack) GATTServerSink() bthal.GATTServerHandler { return s.gatts.snapshot() }

// AdvertiserSink returns the advertiser callback receiver.
func (s *Stack) AdvertiserSink() bthal.AdvertiserHandler { return s.adv.snapshot() }

func resultKey(p bthal.ProfileID, op string) string {
	return p.String() + "/" + op
}

func (s *Stack) profileDisabled(p bthal.ProfileID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[p]
}

// record logs one boundary call and resolves its status.
func (s *Stack) record(p bthal.ProfileID, op string, addr *bthal.Address) bthal.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Call{Profile: p, Op: op}
	if addr != nil {
		c.Addr = addr.String()
	}
	s.calls = append(s.calls, c)
	if st, ok := s.results[resultKey(p, op)]; ok {
		return st
	}
	return bthal.StatusSuccess
}

func (s *Stack) autoOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auto
}

// async runs fn on its own goroutine, the way real stack callbacks
// arrive. Close waits for these to finish.
func (s *Stack) async(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Stack) snapshotDevices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

func (s *Stack) claimIf() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextIf++
	return s.nextIf
}

func (s *Stack) claimAdv() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextAdv
	s.nextAdv++
	return id
}

// connFor assigns a connection id for addr on first use and keeps it
// stable afterwards.
func (s *Stack) connFor(addr bthal.Address) bthal.ConnID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.conns[addr]; ok {
		return id
	}
	id := s.nextConn
	s.nextConn++
	s.conns[addr] = id
	return id
}

// claimHandles reserves n consecutive attribute handles and returns
// the first.
func (s *Stack) claimHandles(n int) bthal.AttrHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.nextHandle
	s.nextHandle += bthal.AttrHandle(n)
	return base
}
