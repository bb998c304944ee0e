package bthal_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btforge/bthal"
	"github.com/btforge/bthal/fakestack"
	"github.com/btforge/bthal/snoop"
)

func TestSessionOpenClose(t *testing.T) {
	fs := fakestack.New()
	s, err := bthal.Open(testConfig(), fs)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "fake", s.Stack().Name())

	require.NoError(t, s.Close())
	assert.True(t, fs.Closed())

	// Close is idempotent
	require.NoError(t, s.Close())
}

func TestSessionOpenNilStack(t *testing.T) {
	_, err := bthal.Open(testConfig(), nil)
	assert.Error(t, err)
}

func TestSessionOperationsAfterClose(t *testing.T) {
	s, _ := openFake(t)
	require.NoError(t, s.A2DP().Enable(newA2DPEvents()))
	require.NoError(t, s.Close())

	addr := mustAddr(t, "00:11:22:33:44:55")
	assert.ErrorIs(t, s.A2DP().Enable(newA2DPEvents()), bthal.ErrSessionClosed)
	assert.ErrorIs(t, s.A2DP().Connect(addr), bthal.ErrSessionClosed)
	assert.ErrorIs(t, s.A2DP().Disable(), bthal.ErrSessionClosed)
}

func TestSessionCloseDisablesBridgesInReverse(t *testing.T) {
	s, fs := openFake(t)

	require.NoError(t, s.A2DP().Enable(newA2DPEvents()))
	require.NoError(t, s.AVRCPController().Enable(&noopAVRCPHandler{}))
	require.NoError(t, s.Close())

	var cleanups []bthal.ProfileID
	for _, c := range fs.Calls() {
		if c.Op == "cleanup" {
			cleanups = append(cleanups, c.Profile)
		}
	}
	// most recently enabled goes down first
	assert.Equal(t, []bthal.ProfileID{bthal.ProfileAVRCPController, bthal.ProfileA2DP}, cleanups)
}

func TestSessionDistinctIDs(t *testing.T) {
	s1, _ := openFake(t)
	s2, _ := openFake(t)
	assert.NotEqual(t, s1.ID(), s2.ID())
}

// memSnoop collects capture records in memory.
type memSnoop struct {
	mu     sync.Mutex
	events []snoop.Event
}

func (m *memSnoop) Record(ev snoop.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *memSnoop) snapshot() []snoop.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]snoop.Event, len(m.events))
	copy(out, m.events)
	return out
}

// countPool counts acquire/release pairs to observe buffer discipline
// across boundary crossings.
type countPool struct {
	acquires atomic.Int32
	releases atomic.Int32
}

func (p *countPool) Acquire(n int) ([]byte, error) {
	p.acquires.Add(1)
	return make([]byte, n), nil
}

func (p *countPool) Release([]byte) {
	p.releases.Add(1)
}

func TestSessionSnoopRecords(t *testing.T) {
	capture := &memSnoop{}
	pool := &countPool{}
	cfg := testConfig()
	cfg.Snoop = capture
	cfg.Pool = pool

	fs := fakestack.New()
	s, err := bthal.Open(cfg, fs)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.A2DP().Enable(newA2DPEvents()))
	addr := mustAddr(t, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, s.A2DP().Connect(addr))

	events := capture.snapshot()
	require.Len(t, events, 2)

	init := events[0]
	assert.Equal(t, s.ID(), init.SessionID)
	assert.Equal(t, snoop.DirectionCall, init.Direction)
	assert.Equal(t, "a2dp", init.Profile)
	assert.Equal(t, "init", init.Op)
	require.NotNil(t, init.Status)
	assert.Equal(t, uint8(bthal.StatusSuccess), *init.Status)

	connect := events[1]
	assert.Equal(t, "connect", connect.Op)
	assert.Equal(t, addr.Bytes(), connect.Addr)

	// the address was staged through the scoped buffer exactly once
	// per record, and every buffer went back to the pool
	assert.Equal(t, int32(1), pool.acquires.Load())
	assert.Equal(t, pool.acquires.Load(), pool.releases.Load())
}

func TestSessionSnoopEventDirection(t *testing.T) {
	capture := &memSnoop{}
	cfg := testConfig()
	cfg.Snoop = capture

	fs := fakestack.New()
	s, err := bthal.Open(cfg, fs)
	require.NoError(t, err)
	defer s.Close()

	events := newA2DPEvents()
	require.NoError(t, s.A2DP().Enable(events))

	addr := mustAddr(t, "AA:BB:CC:DD:EE:FF")
	fs.A2DPSink().ConnectionStateChanged(addr, bthal.A2DPConnected)
	waitEvent(t, events.ch)

	var found bool
	for _, ev := range capture.snapshot() {
		if ev.Direction == snoop.DirectionEvent && ev.Op == "connection_state" {
			found = true
			assert.Equal(t, addr.Bytes(), ev.Addr)
		}
	}
	assert.True(t, found, "expected a capture record for the callback")
}

// noopAVRCPHandler satisfies AVRCPHandler for tests that only enable
// the bridge.
type noopAVRCPHandler struct{}

func (noopAVRCPHandler) PassthroughResponse(bthal.PassthroughKey, bthal.KeyState)       {}
func (noopAVRCPHandler) GroupNavigationResponse(uint8, bthal.KeyState)                  {}
func (noopAVRCPHandler) ConnectionStateChanged(bool, bool, bthal.Address)               {}
func (noopAVRCPHandler) RemoteFeatures(bthal.Address, bthal.AVRCPFeatures)              {}
func (noopAVRCPHandler) SetPlayerSettingsResponse(bthal.Address, bool)                  {}
func (noopAVRCPHandler) PlayerSettingsSupported(bthal.Address, []bthal.PlayerSettingMenu) {}
func (noopAVRCPHandler) PlayerSettingsChanged(bthal.Address, []bthal.PlayerSetting)     {}
func (noopAVRCPHandler) SetAbsVolumeCommand(bthal.Address, uint8, uint8)                {}
func (noopAVRCPHandler) RegisterAbsVolNotification(bthal.Address, uint8)                {}
func (noopAVRCPHandler) TrackChanged(bthal.Address, []bthal.MediaAttribute)             {}
func (noopAVRCPHandler) PlayPositionChanged(bthal.Address, uint32, uint32)              {}
func (noopAVRCPHandler) PlayStatusChanged(bthal.Address, bthal.PlayStatus)              {}
func (noopAVRCPHandler) FolderItems([]bthal.MediaItem)                                  {}
func (noopAVRCPHandler) PlayerItems([]bthal.PlayerInfo)                                 {}
func (noopAVRCPHandler) FolderPathChanged(uint8)                                        {}
func (noopAVRCPHandler) BrowsedPlayerSet(uint8, uint8)                                  {}
