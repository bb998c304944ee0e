//go:build linux

package bluez

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/btforge/bthal"
)

// audioBoundary drives the audio source profile. BlueZ has no A2DP
// call surface of its own; connections go through Device1 and the
// stream state is read off the MediaTransport1 object the daemon
// creates for an active link.
type audioBoundary struct {
	s *Stack

	mu      sync.Mutex
	sink    bthal.A2DPHandler
	conn    map[bthal.Address]bthal.A2DPConnectionState
	unwatch func()
	quit    chan struct{}
	done    chan struct{}
}

func (b *audioBoundary) Init(sink bthal.A2DPHandler) bthal.Status {
	ch := make(chan *dbus.Signal, 32)
	unwatch, err := b.s.watchBus(ch)
	if err != nil {
		b.s.log.Error("a2dp signal watch failed", "err", err)
		return bthal.StatusFail
	}

	quit := make(chan struct{})
	done := make(chan struct{})
	b.mu.Lock()
	b.sink = sink
	b.conn = make(map[bthal.Address]bthal.A2DPConnectionState)
	b.unwatch = unwatch
	b.quit = quit
	b.done = done
	b.mu.Unlock()

	go b.watch(ch, quit, done)
	b.prime()
	return bthal.StatusSuccess
}

// Cleanup unhooks the signal watcher and joins it, so no callback can
// run once it returns.
func (b *audioBoundary) Cleanup() {
	b.mu.Lock()
	sink := b.sink
	b.sink = nil
	unwatch := b.unwatch
	b.unwatch = nil
	quit, done := b.quit, b.done
	b.quit, b.done = nil, nil
	b.conn = nil
	b.mu.Unlock()

	if sink == nil {
		return
	}
	if unwatch != nil {
		unwatch()
	}
	if quit != nil {
		close(quit)
		<-done
	}
}

func (b *audioBoundary) Connect(addr bthal.Address) bthal.Status {
	b.transition(addr, bthal.A2DPConnecting)
	dev := b.s.bus.Object(bluezBus, b.s.devicePath(addr))
	go func() {
		if call := dev.Call(deviceIface+".ConnectProfile", 0, audioSinkUUID); call.Err != nil {
			b.s.log.Warn("a2dp connect failed", "addr", addr.String(), "err", call.Err)
			b.transition(addr, bthal.A2DPDisconnected)
			return
		}
		b.transition(addr, bthal.A2DPConnected)
	}()
	return bthal.StatusSuccess
}

func (b *audioBoundary) Disconnect(addr bthal.Address) bthal.Status {
	b.transition(addr, bthal.A2DPDisconnecting)
	dev := b.s.bus.Object(bluezBus, b.s.devicePath(addr))
	go func() {
		if call := dev.Call(deviceIface+".DisconnectProfile", 0, audioSinkUUID); call.Err != nil {
			b.s.log.Warn("a2dp disconnect failed", "addr", addr.String(), "err", call.Err)
			b.transition(addr, bthal.A2DPConnected)
			return
		}
		b.transition(addr, bthal.A2DPDisconnected)
	}()
	return bthal.StatusSuccess
}

// prime replays transports that already exist, so a device connected
// before Init shows up as connected.
func (b *audioBoundary) prime() {
	objs, err := b.s.managedObjects()
	if err != nil {
		b.s.log.Warn("a2dp prime failed", "err", err)
		return
	}
	for path, ifaces := range objs {
		props, ok := ifaces[transportIface]
		if !ok {
			continue
		}
		addr, ok := addrFromPath(path)
		if !ok {
			continue
		}
		b.transition(addr, bthal.A2DPConnected)
		if state, ok := varString(props, "State"); ok {
			b.audio(addr, state)
		}
	}
}

func (b *audioBoundary) watch(ch chan *dbus.Signal, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case sig := <-ch:
			if sig == nil {
				return
			}
			b.handle(sig)
		}
	}
}

func (b *audioBoundary) handle(sig *dbus.Signal) {
	switch sig.Name {
	case sigInterfacesAdded:
		if len(sig.Body) < 2 {
			return
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[transportIface]
		if !ok {
			return
		}
		addr, ok := addrFromPath(path)
		if !ok {
			return
		}
		b.transition(addr, bthal.A2DPConnected)
		if state, ok := varString(props, "State"); ok {
			b.audio(addr, state)
		}
	case sigInterfacesRemoved:
		if len(sig.Body) < 2 {
			return
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		for _, iface := range ifaces {
			if iface != transportIface {
				continue
			}
			if addr, ok := addrFromPath(path); ok {
				b.transition(addr, bthal.A2DPDisconnected)
			}
			return
		}
	case sigPropertiesChanged:
		if len(sig.Body) < 2 {
			return
		}
		iface, _ := sig.Body[0].(string)
		if iface != transportIface {
			return
		}
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		addr, ok := addrFromPath(sig.Path)
		if !ok {
			return
		}
		if state, ok := varString(changed, "State"); ok {
			b.audio(addr, state)
		}
	}
}

// transition reports a connection state if it differs from the last
// one seen for the address. Local calls and daemon signals both land
// here, so a state observed twice is delivered once.
func (b *audioBoundary) transition(addr bthal.Address, state bthal.A2DPConnectionState) {
	b.mu.Lock()
	sink := b.sink
	if b.conn == nil {
		b.mu.Unlock()
		return
	}
	if prev, ok := b.conn[addr]; ok && prev == state {
		b.mu.Unlock()
		return
	}
	b.conn[addr] = state
	b.mu.Unlock()
	if sink != nil {
		sink.ConnectionStateChanged(addr, state)
	}
}

// audio maps a transport state string onto the audio callback. The
// pending state is transitional and not reported.
func (b *audioBoundary) audio(addr bthal.Address, state string) {
	var st bthal.A2DPAudioState
	switch state {
	case "idle":
		st = bthal.A2DPAudioStopped
	case "active":
		st = bthal.A2DPAudioStarted
	default:
		return
	}
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink.AudioStateChanged(addr, st)
	}
}
