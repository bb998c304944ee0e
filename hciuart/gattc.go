package hciuart

import (
	"sync"

	"github.com/btforge/bthal"
)

// clientBoundary implements the GATT client boundary over raw HCI
// scanning. Registration and scanning are the live operations; the
// transport carries no host side ATT stack, so everything needing an
// open link reports unsupported.
type clientBoundary struct {
	s *Stack

	mu       sync.Mutex
	sink     bthal.GATTClientHandler
	nextIf   int32
	scanning bool
}

func (b *clientBoundary) Init(sink bthal.GATTClientHandler) bthal.Status {
	b.mu.Lock()
	b.sink = sink
	b.scanning = false
	b.mu.Unlock()
	b.s.hci.setAdvReportHandler(b.report)
	return bthal.StatusSuccess
}

func (b *clientBoundary) Cleanup() {
	b.s.hci.setAdvReportHandler(nil)
	b.mu.Lock()
	b.sink = nil
	scanning := b.scanning
	b.scanning = false
	b.mu.Unlock()
	if scanning {
		if err := b.s.hci.leSetScanEnable(false, false); err != nil {
			b.s.log.Warn("can't stop scan during cleanup", "err", err)
		}
	}
}

func (b *clientBoundary) fire(fn func(bthal.GATTClientHandler)) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		fn(sink)
	}
}

// RegisterApp assigns a client interface id. The controller keeps no
// application registry, so the id is local and reported complete
// immediately.
func (b *clientBoundary) RegisterApp(appUUID bthal.UUID) bthal.Status {
	b.mu.Lock()
	if b.sink == nil {
		b.mu.Unlock()
		return bthal.StatusNotReady
	}
	b.nextIf++
	clientIf := b.nextIf
	b.mu.Unlock()

	b.fire(func(h bthal.GATTClientHandler) {
		h.ClientRegistered(bthal.StatusSuccess, clientIf, appUUID)
	})
	return bthal.StatusSuccess
}

func (b *clientBoundary) UnregisterApp(clientIf int32) bthal.Status {
	return bthal.StatusSuccess
}

// Scan drives the controller scan state: passive scanning with an
// 80ms interval and a 30ms window, duplicates kept so repeated
// sightings keep updating the RSSI.
func (b *clientBoundary) Scan(start bool) bthal.Status {
	b.mu.Lock()
	if b.sink == nil {
		b.mu.Unlock()
		return bthal.StatusNotReady
	}
	scanning := b.scanning
	b.mu.Unlock()

	h := b.s.hci
	if !start {
		if !scanning {
			return bthal.StatusSuccess
		}
		if err := h.leSetScanEnable(false, false); err != nil {
			b.s.log.Warn("can't stop scan", "err", err)
			return bthal.StatusFail
		}
		b.setScanning(false)
		return bthal.StatusSuccess
	}

	if scanning {
		return bthal.StatusBusy
	}
	// The controller rejects parameter changes while a scan runs, so
	// always pass through the disabled state first.
	if err := h.leSetScanEnable(false, true); err != nil {
		b.s.log.Warn("can't reset scan state", "err", err)
		return bthal.StatusFail
	}
	if err := h.leSetScanParameters(0x00, 0x0080, 0x0030); err != nil {
		b.s.log.Warn("can't set scan parameters", "err", err)
		return bthal.StatusFail
	}
	if err := h.leSetScanEnable(true, false); err != nil {
		b.s.log.Warn("can't start scan", "err", err)
		return bthal.StatusFail
	}
	b.setScanning(true)
	return bthal.StatusSuccess
}

func (b *clientBoundary) setScanning(on bool) {
	b.mu.Lock()
	b.scanning = on
	b.mu.Unlock()
}

func (b *clientBoundary) report(r advReport) {
	b.mu.Lock()
	sink := b.sink
	if !b.scanning {
		sink = nil
	}
	b.mu.Unlock()
	if sink != nil {
		sink.ScanResult(r.addr, int16(r.rssi), r.eir)
	}
}

// Everything below needs an open ATT link, which the transport cannot
// carry. The operations all report unsupported.

func (b *clientBoundary) Connect(clientIf int32, addr bthal.Address, direct bool, transport bthal.Transport) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) Disconnect(clientIf int32, addr bthal.Address, connID bthal.ConnID) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) Refresh(clientIf int32, addr bthal.Address) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) SearchService(connID bthal.ConnID, filter *bthal.UUID) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) GetGattDB(connID bthal.ConnID) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) ReadCharacteristic(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) WriteCharacteristic(connID bthal.ConnID, handle bthal.AttrHandle, writeType bthal.WriteType, auth bthal.AuthReq, value []byte) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) ReadDescriptor(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) WriteDescriptor(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq, value []byte) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) ExecuteWrite(connID bthal.ConnID, execute bool) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) RegisterForNotification(clientIf int32, addr bthal.Address, handle bthal.AttrHandle, enable bool) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) ReadRemoteRSSI(clientIf int32, addr bthal.Address) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) ConfigureMTU(connID bthal.ConnID, mtu int) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *clientBoundary) ConnectionParameterUpdate(addr bthal.Address, minInterval, maxInterval, latency, timeout int) bthal.Status {
	return bthal.StatusUnsupported
}
