package bthal_test

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btforge/bthal"
	"github.com/btforge/bthal/fakestack"
)

const eventTimeout = 2 * time.Second

func testConfig() bthal.Config {
	return bthal.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func openFake(t *testing.T) (*bthal.Session, *fakestack.Stack) {
	t.Helper()
	fs := fakestack.New()
	s, err := bthal.Open(testConfig(), fs)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, fs
}

func waitEvent(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for an event")
		return ""
	}
}

// a2dpEvents funnels audio callbacks into a channel as readable
// strings, so tests can assert content and order in one place.
type a2dpEvents struct {
	ch chan string
}

func newA2DPEvents() *a2dpEvents {
	return &a2dpEvents{ch: make(chan string, 32)}
}

func (h *a2dpEvents) ConnectionStateChanged(addr bthal.Address, state bthal.A2DPConnectionState) {
	h.ch <- fmt.Sprintf("connection %s %s", addr, state)
}

func (h *a2dpEvents) AudioStateChanged(addr bthal.Address, state bthal.A2DPAudioState) {
	h.ch <- fmt.Sprintf("audio %s %s", addr, state)
}

func mustAddr(t *testing.T, s string) bthal.Address {
	t.Helper()
	addr, err := bthal.ParseAddress(s)
	require.NoError(t, err)
	return addr
}

func TestBridgeEnableDisable(t *testing.T) {
	s, fs := openFake(t)

	require.NoError(t, s.A2DP().Enable(newA2DPEvents()))
	assert.Equal(t, []string{"init"}, fs.CallOps(bthal.ProfileA2DP))

	require.NoError(t, s.A2DP().Disable())
	assert.Equal(t, []string{"init", "cleanup"}, fs.CallOps(bthal.ProfileA2DP))

	// disabling again is a no-op
	require.NoError(t, s.A2DP().Disable())
	assert.Equal(t, []string{"init", "cleanup"}, fs.CallOps(bthal.ProfileA2DP))
}

func TestBridgeEnableNilHandler(t *testing.T) {
	s, _ := openFake(t)
	assert.Error(t, s.A2DP().Enable(nil))
}

func TestBridgeEnableTwiceReinitializes(t *testing.T) {
	s, fs := openFake(t)

	require.NoError(t, s.A2DP().Enable(newA2DPEvents()))
	require.NoError(t, s.A2DP().Enable(newA2DPEvents()))

	assert.Equal(t, []string{"init", "cleanup", "init"}, fs.CallOps(bthal.ProfileA2DP))
}

func TestBridgeProfileUnavailable(t *testing.T) {
	fs := fakestack.New()
	fs.DisableProfile(bthal.ProfileA2DP)
	s, err := bthal.Open(testConfig(), fs)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.A2DP().Enable(newA2DPEvents()), bthal.ErrProfileUnavailable)
}

func TestBridgeInitFailure(t *testing.T) {
	s, fs := openFake(t)
	fs.SetResult(bthal.ProfileA2DP, "init", bthal.StatusNoMemory)

	err := s.A2DP().Enable(newA2DPEvents())
	var serr *bthal.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, bthal.StatusNoMemory, serr.Status)

	// the bridge stays disabled after a failed init
	addr := mustAddr(t, "00:11:22:33:44:55")
	assert.ErrorIs(t, s.A2DP().Connect(addr), bthal.ErrProfileDisabled)
}

func TestBridgeOpWhileDisabled(t *testing.T) {
	s, _ := openFake(t)
	addr := mustAddr(t, "00:11:22:33:44:55")
	assert.ErrorIs(t, s.A2DP().Connect(addr), bthal.ErrProfileDisabled)
	assert.ErrorIs(t, s.A2DP().Disconnect(addr), bthal.ErrProfileDisabled)
}

func TestBridgeOpStatusError(t *testing.T) {
	s, fs := openFake(t)
	require.NoError(t, s.A2DP().Enable(newA2DPEvents()))

	fs.SetResult(bthal.ProfileA2DP, "connect", bthal.StatusBusy)
	err := s.A2DP().Connect(mustAddr(t, "00:11:22:33:44:55"))

	var serr *bthal.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, bthal.StatusBusy, serr.Status)
}

func TestBridgeCallbackDelivery(t *testing.T) {
	s, fs := openFake(t)
	events := newA2DPEvents()
	require.NoError(t, s.A2DP().Enable(events))

	addr := mustAddr(t, "AA:BB:CC:DD:EE:FF")
	sink := fs.A2DPSink()
	require.NotNil(t, sink)

	sink.ConnectionStateChanged(addr, bthal.A2DPConnecting)
	sink.ConnectionStateChanged(addr, bthal.A2DPConnected)
	sink.AudioStateChanged(addr, bthal.A2DPAudioStarted)

	assert.Equal(t, "connection AA:BB:CC:DD:EE:FF connecting", waitEvent(t, events.ch))
	assert.Equal(t, "connection AA:BB:CC:DD:EE:FF connected", waitEvent(t, events.ch))
	assert.Equal(t, "audio AA:BB:CC:DD:EE:FF started", waitEvent(t, events.ch))
}

func TestBridgeDeliveryOrder(t *testing.T) {
	s, fs := openFake(t)
	events := newA2DPEvents()
	require.NoError(t, s.A2DP().Enable(events))

	addr := mustAddr(t, "00:11:22:33:44:55")
	sink := fs.A2DPSink()
	require.NotNil(t, sink)

	states := []bthal.A2DPAudioState{
		bthal.A2DPAudioStarted,
		bthal.A2DPAudioStopped,
		bthal.A2DPAudioStarted,
		bthal.A2DPAudioRemoteSuspend,
		bthal.A2DPAudioStopped,
	}
	for _, st := range states {
		sink.AudioStateChanged(addr, st)
	}
	for _, st := range states {
		want := fmt.Sprintf("audio %s %s", addr, st)
		assert.Equal(t, want, waitEvent(t, events.ch))
	}
}

func TestBridgeSuppressesEventsAfterDisable(t *testing.T) {
	s, fs := openFake(t)

	var delivered atomic.Int32
	h := &countingA2DPHandler{n: &delivered}
	require.NoError(t, s.A2DP().Enable(h))

	sink := fs.A2DPSink()
	require.NotNil(t, sink)
	require.NoError(t, s.A2DP().Disable())

	// raised after the disable, delivered never
	sink.ConnectionStateChanged(mustAddr(t, "00:11:22:33:44:55"), bthal.A2DPConnected)

	// Close drains the dispatcher queue before returning
	require.NoError(t, s.Close())
	assert.Equal(t, int32(0), delivered.Load())
}

type countingA2DPHandler struct {
	n *atomic.Int32
}

func (h *countingA2DPHandler) ConnectionStateChanged(bthal.Address, bthal.A2DPConnectionState) {
	h.n.Add(1)
}

func (h *countingA2DPHandler) AudioStateChanged(bthal.Address, bthal.A2DPAudioState) {
	h.n.Add(1)
}
