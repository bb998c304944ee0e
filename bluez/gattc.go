//go:build linux

package bluez

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"

	"github.com/btforge/bthal"
)

// resolveTimeout bounds the wait for the daemon to finish service
// discovery on a fresh connection.
const resolveTimeout = 10 * time.Second

// clientBoundary drives the GATT client profile. App registration is
// a bookkeeping concept the daemon does not have, so ids are handed
// out locally; everything else maps onto Device1 and the GATT object
// tree. Security elevation and connection parameters stay inside the
// daemon, which is why the auth arguments are accepted and ignored.
type clientBoundary struct {
	s *Stack

	mu       sync.Mutex
	sink     bthal.GATTClientHandler
	nextIf   int32
	nextConn bthal.ConnID
	conns    map[bthal.ConnID]*clientConn

	scanning   bool
	scanCancel func()
	scanQuit   chan struct{}
}

// clientConn is one open link with its attribute table.
type clientConn struct {
	clientIf int32
	addr     bthal.Address
	dev      *device.Device1
	attrs    map[bthal.AttrHandle]gattAttribute
	notify   map[bthal.AttrHandle]chan struct{}
}

// gattAttribute holds either a characteristic or a descriptor object.
type gattAttribute struct {
	char *gatt.GattCharacteristic1
	desc *gatt.GattDescriptor1
}

func (b *clientBoundary) Init(sink bthal.GATTClientHandler) bthal.Status {
	b.mu.Lock()
	b.sink = sink
	b.conns = make(map[bthal.ConnID]*clientConn)
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *clientBoundary) Cleanup() {
	b.stopScan()
	b.mu.Lock()
	b.sink = nil
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()
	for _, c := range conns {
		for _, stop := range c.notify {
			close(stop)
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

func (b *clientBoundary) RegisterApp(appUUID bthal.UUID) bthal.Status {
	b.mu.Lock()
	b.nextIf++
	id := b.nextIf
	b.mu.Unlock()
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.ClientRegistered(bthal.StatusSuccess, id, appUUID)
	})
	return bthal.StatusSuccess
}

func (b *clientBoundary) UnregisterApp(clientIf int32) bthal.Status {
	return bthal.StatusSuccess
}

func (b *clientBoundary) Scan(start bool) bthal.Status {
	if start {
		return b.startScan()
	}
	return b.stopScan()
}

func (b *clientBoundary) startScan() bthal.Status {
	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return bthal.StatusBusy
	}
	b.scanning = true
	b.mu.Unlock()

	fail := func() bthal.Status {
		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
		return bthal.StatusFail
	}

	// Without a transport filter the daemon produces no LE discovery
	// results at all.
	a := b.s.adapter
	if err := a.SetDiscoveryFilter(map[string]interface{}{"Transport": "le"}); err != nil {
		b.s.log.Warn("scan filter rejected", "err", err)
		return fail()
	}
	if err := a.StartDiscovery(); err != nil {
		b.s.log.Warn("start discovery failed", "err", err)
		return fail()
	}
	discoveries, cancel, err := a.OnDeviceDiscovered()
	if err != nil {
		a.StopDiscovery()
		b.s.log.Warn("discovery watch failed", "err", err)
		return fail()
	}

	quit := make(chan struct{})
	b.mu.Lock()
	b.scanCancel = cancel
	b.scanQuit = quit
	b.mu.Unlock()

	// The daemon caches devices and only signals change, so replay
	// what it already knows about. Any later property change means a
	// fresh advertisement arrived.
	if devices, err := a.GetDevices(); err == nil {
		for _, dev := range devices {
			b.report(dev)
			b.watchDevice(dev)
		}
	}

	go func() {
		for {
			select {
			case <-quit:
				return
			case result, ok := <-discoveries:
				if !ok {
					return
				}
				if result == nil || result.Type != adapter.DeviceAdded {
					continue
				}
				dev, err := device.NewDevice1(result.Path)
				if err != nil || dev == nil {
					continue
				}
				b.report(dev)
				b.watchDevice(dev)
			}
		}
	}()
	return bthal.StatusSuccess
}

func (b *clientBoundary) stopScan() bthal.Status {
	b.mu.Lock()
	if !b.scanning {
		b.mu.Unlock()
		return bthal.StatusDone
	}
	b.scanning = false
	cancel := b.scanCancel
	quit := b.scanQuit
	b.scanCancel, b.scanQuit = nil, nil
	b.mu.Unlock()

	b.s.adapter.StopDiscovery()
	if cancel != nil {
		cancel()
	}
	if quit != nil {
		close(quit)
	}
	return bthal.StatusSuccess
}

// watchDevice follows property changes on a discovered device so a
// cached entry keeps producing scan events. The goroutine lives until
// the daemon drops the device and closes the channel.
func (b *clientBoundary) watchDevice(dev *device.Device1) {
	ch, err := dev.WatchProperties()
	if err != nil {
		return
	}
	go func() {
		for change := range ch {
			if change == nil {
				return
			}
			props, _ := dev.Properties.ToMap()
			props[change.Name] = change.Value
			dev.Properties, _ = dev.Properties.FromMap(props)
			b.report(dev)
		}
	}()
}

// report synthesizes an EIR payload from the cached properties, so
// scan events carry the same byte shape on every backend.
func (b *clientBoundary) report(dev *device.Device1) {
	b.mu.Lock()
	sink := b.sink
	scanning := b.scanning
	b.mu.Unlock()
	if sink == nil || !scanning {
		return
	}
	addr, err := bthal.ParseAddress(dev.Properties.Address)
	if err != nil {
		return
	}
	fields := bthal.AdvertisementFields{LocalName: dev.Properties.Name}
	for _, s := range dev.Properties.UUIDs {
		u, err := bthal.ParseUUID(s)
		if err != nil {
			continue
		}
		fields.ServiceUUIDs = append(fields.ServiceUUIDs, u)
	}
	eir, err := fields.Marshal()
	if err != nil {
		// A long name plus every known service class can overflow
		// the payload; fall back to the name alone.
		eir, err = bthal.AdvertisementFields{LocalName: dev.Properties.Name}.Marshal()
		if err != nil {
			return
		}
	}
	sink.ScanResult(addr, dev.Properties.RSSI, eir)
}

func (b *clientBoundary) Connect(clientIf int32, addr bthal.Address, direct bool, transport bthal.Transport) bthal.Status {
	dev, err := device.NewDevice1(b.s.devicePath(addr))
	if err != nil || dev == nil {
		return bthal.StatusFail
	}
	go func() {
		if err := dev.Connect(); err != nil {
			b.s.log.Warn("gatt connect failed", "addr", addr.String(), "err", err)
			b.fire(func(sink bthal.GATTClientHandler) {
				sink.Connected(0, bthal.StatusFail, clientIf, addr)
			})
			return
		}
		b.mu.Lock()
		var id bthal.ConnID
		if b.conns != nil {
			b.nextConn++
			id = b.nextConn
			b.conns[id] = &clientConn{
				clientIf: clientIf,
				addr:     addr,
				dev:      dev,
				notify:   make(map[bthal.AttrHandle]chan struct{}),
			}
		}
		b.mu.Unlock()
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.Connected(id, bthal.StatusSuccess, clientIf, addr)
		})
	}()
	return bthal.StatusSuccess
}

func (b *clientBoundary) Disconnect(clientIf int32, addr bthal.Address, connID bthal.ConnID) bthal.Status {
	b.mu.Lock()
	c := b.conns[connID]
	delete(b.conns, connID)
	b.mu.Unlock()
	if c == nil {
		return bthal.StatusInvalidParam
	}
	for _, stop := range c.notify {
		close(stop)
	}
	go func() {
		st := bthal.StatusSuccess
		if err := c.dev.Disconnect(); err != nil {
			b.s.log.Warn("gatt disconnect failed", "addr", addr.String(), "err", err)
			st = bthal.StatusFail
		}
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.Disconnected(connID, st, clientIf, addr)
		})
	}()
	return bthal.StatusSuccess
}

// Refresh drops the daemon's device object, the only way to
// invalidate its GATT cache.
func (b *clientBoundary) Refresh(clientIf int32, addr bthal.Address) bthal.Status {
	if err := b.s.adapter.RemoveDevice(b.s.devicePath(addr)); err != nil {
		return bthal.StatusFail
	}
	return bthal.StatusSuccess
}

// SearchService waits for the daemon to finish resolving; the filter
// narrows nothing because resolution always covers every service.
func (b *clientBoundary) SearchService(connID bthal.ConnID, filter *bthal.UUID) bthal.Status {
	c := b.conn(connID)
	if c == nil {
		return bthal.StatusNotReady
	}
	go func() {
		st := bthal.StatusSuccess
		if err := waitResolved(c.dev); err != nil {
			b.s.log.Warn("service discovery failed", "addr", c.addr.String(), "err", err)
			st = bthal.StatusFail
		}
		b.fire(func(sink bthal.GATTClientHandler) { sink.SearchComplete(connID, st) })
	}()
	return bthal.StatusSuccess
}

// waitResolved polls ServicesResolved; there is no completion signal.
func waitResolved(dev *device.Device1) error {
	start := time.Now()
	for {
		resolved, err := dev.GetServicesResolved()
		if err != nil {
			return err
		}
		if resolved {
			return nil
		}
		if time.Since(start) > resolveTimeout {
			return errors.New("bluez: service discovery timed out")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (b *clientBoundary) GetGattDB(connID bthal.ConnID) bthal.Status {
	c := b.conn(connID)
	if c == nil {
		return bthal.StatusNotReady
	}
	go func() {
		elems, attrs, err := b.buildDB(c)
		if err != nil {
			b.s.log.Warn("gatt db walk failed", "addr", c.addr.String(), "err", err)
			return
		}
		b.mu.Lock()
		c.attrs = attrs
		b.mu.Unlock()
		b.fire(func(sink bthal.GATTClientHandler) { sink.GattDB(connID, elems) })
	}()
	return bthal.StatusSuccess
}

// buildDB walks the daemon's object tree below the device and folds
// it into an attribute table. The daemon encodes each attribute
// handle in the object path tail (service000a, char000b, desc000c),
// which is the only place it surfaces handles at all.
func (b *clientBoundary) buildDB(c *clientConn) ([]bthal.GattDBElement, map[bthal.AttrHandle]gattAttribute, error) {
	objs, err := b.s.managedObjects()
	if err != nil {
		return nil, nil, err
	}
	prefix := string(c.dev.Path()) + "/"
	paths := make([]string, 0, len(objs))
	for path := range objs {
		if strings.HasPrefix(string(path), prefix) {
			paths = append(paths, string(path))
		}
	}
	sort.Strings(paths)

	var elems []bthal.GattDBElement
	attrs := make(map[bthal.AttrHandle]gattAttribute)
	open := -1 // index of the service row still missing its end handle

	for _, path := range paths {
		tail := path[strings.LastIndexByte(path, '/')+1:]
		handle, kind, ok := attrFromTail(tail)
		if !ok {
			continue
		}
		switch kind {
		case "service":
			svc, err := gatt.NewGattService1(dbus.ObjectPath(path))
			if err != nil {
				continue
			}
			u, err := bthal.ParseUUID(svc.Properties.UUID)
			if err != nil {
				continue
			}
			typ := bthal.DBPrimaryService
			if !svc.Properties.Primary {
				typ = bthal.DBSecondaryService
			}
			if open >= 0 {
				elems[open].EndHandle = handle - 1
			}
			elems = append(elems, bthal.GattDBElement{
				ID:          uint16(len(elems)),
				UUID:        u,
				Type:        typ,
				Handle:      handle,
				StartHandle: handle,
				EndHandle:   0xFFFF,
			})
			open = len(elems) - 1
		case "char":
			char, err := gatt.NewGattCharacteristic1(dbus.ObjectPath(path))
			if err != nil {
				continue
			}
			u, err := bthal.ParseUUID(char.Properties.UUID)
			if err != nil {
				continue
			}
			elems = append(elems, bthal.GattDBElement{
				ID:         uint16(len(elems)),
				UUID:       u,
				Type:       bthal.DBCharacteristic,
				Handle:     handle,
				Properties: charProperties(char.Properties.Flags),
			})
			attrs[handle] = gattAttribute{char: char}
		case "desc":
			desc, err := gatt.NewGattDescriptor1(dbus.ObjectPath(path))
			if err != nil {
				continue
			}
			u, err := bthal.ParseUUID(desc.Properties.UUID)
			if err != nil {
				continue
			}
			elems = append(elems, bthal.GattDBElement{
				ID:     uint16(len(elems)),
				UUID:   u,
				Type:   bthal.DBDescriptor,
				Handle: handle,
			})
			attrs[handle] = gattAttribute{desc: desc}
		}
	}
	return elems, attrs, nil
}

// attrFromTail parses a path tail like char000b into its handle and
// attribute kind.
func attrFromTail(tail string) (bthal.AttrHandle, string, bool) {
	for _, kind := range []string{"service", "char", "desc"} {
		if !strings.HasPrefix(tail, kind) {
			continue
		}
		v, err := strconv.ParseUint(tail[len(kind):], 16, 16)
		if err != nil {
			return 0, "", false
		}
		return bthal.AttrHandle(v), kind, true
	}
	return 0, "", false
}

// charProperties folds the daemon's flag strings back into the ATT
// properties bitmask.
func charProperties(flags []string) uint8 {
	var p uint8
	for _, f := range flags {
		switch f {
		case "broadcast":
			p |= 0x01
		case "read":
			p |= 0x02
		case "write-without-response":
			p |= 0x04
		case "write":
			p |= 0x08
		case "notify":
			p |= 0x10
		case "indicate":
			p |= 0x20
		case "authenticated-signed-writes":
			p |= 0x40
		case "extended-properties":
			p |= 0x80
		}
	}
	return p
}

func (b *clientBoundary) conn(connID bthal.ConnID) *clientConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[connID]
}

func (b *clientBoundary) attribute(connID bthal.ConnID, handle bthal.AttrHandle) (*clientConn, gattAttribute) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.conns[connID]
	if c == nil {
		return nil, gattAttribute{}
	}
	return c, c.attrs[handle]
}

func (b *clientBoundary) ReadCharacteristic(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq) bthal.Status {
	c, attr := b.attribute(connID, handle)
	if c == nil {
		return bthal.StatusNotReady
	}
	if attr.char == nil {
		return bthal.StatusInvalidParam
	}
	go func() {
		value, err := attr.char.ReadValue(make(map[string]interface{}))
		st := bthal.StatusSuccess
		if err != nil {
			st = bthal.StatusFail
			value = nil
		}
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.CharacteristicRead(connID, st, handle, value)
		})
	}()
	return bthal.StatusSuccess
}

func (b *clientBoundary) WriteCharacteristic(connID bthal.ConnID, handle bthal.AttrHandle, writeType bthal.WriteType, auth bthal.AuthReq, value []byte) bthal.Status {
	c, attr := b.attribute(connID, handle)
	if c == nil {
		return bthal.StatusNotReady
	}
	if attr.char == nil {
		return bthal.StatusInvalidParam
	}
	options := map[string]interface{}{"type": "request"}
	switch writeType {
	case bthal.WriteNoResponse:
		options["type"] = "command"
	case bthal.WritePrepare:
		options["type"] = "reliable"
	}
	buf := append([]byte(nil), value...)
	go func() {
		st := bthal.StatusSuccess
		if err := attr.char.WriteValue(buf, options); err != nil {
			st = bthal.StatusFail
		}
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.CharacteristicWritten(connID, st, handle)
		})
	}()
	return bthal.StatusSuccess
}

func (b *clientBoundary) ReadDescriptor(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq) bthal.Status {
	c, attr := b.attribute(connID, handle)
	if c == nil {
		return bthal.StatusNotReady
	}
	if attr.desc == nil {
		return bthal.StatusInvalidParam
	}
	go func() {
		value, err := attr.desc.ReadValue(make(map[string]interface{}))
		st := bthal.StatusSuccess
		if err != nil {
			st = bthal.StatusFail
			value = nil
		}
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.DescriptorRead(connID, st, handle, value)
		})
	}()
	return bthal.StatusSuccess
}

func (b *clientBoundary) WriteDescriptor(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq, value []byte) bthal.Status {
	c, attr := b.attribute(connID, handle)
	if c == nil {
		return bthal.StatusNotReady
	}
	if attr.desc == nil {
		return bthal.StatusInvalidParam
	}
	buf := append([]byte(nil), value...)
	go func() {
		st := bthal.StatusSuccess
		if err := attr.desc.WriteValue(buf, nil); err != nil {
			st = bthal.StatusFail
		}
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.DescriptorWritten(connID, st, handle)
		})
	}()
	return bthal.StatusSuccess
}

// ExecuteWrite completes locally: the daemon commits a reliable write
// batch itself when the last segment goes out.
func (b *clientBoundary) ExecuteWrite(connID bthal.ConnID, execute bool) bthal.Status {
	if c := b.conn(connID); c == nil {
		return bthal.StatusNotReady
	}
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.ExecuteWriteComplete(connID, bthal.StatusSuccess)
	})
	return bthal.StatusSuccess
}

func (b *clientBoundary) RegisterForNotification(clientIf int32, addr bthal.Address, handle bthal.AttrHandle, enable bool) bthal.Status {
	connID, c := b.connByAddr(addr)
	if c == nil {
		return bthal.StatusNotReady
	}
	b.mu.Lock()
	attr := c.attrs[handle]
	b.mu.Unlock()
	if attr.char == nil {
		return bthal.StatusInvalidParam
	}

	if !enable {
		attr.char.StopNotify()
		b.mu.Lock()
		if stop, ok := c.notify[handle]; ok {
			close(stop)
			delete(c.notify, handle)
		}
		b.mu.Unlock()
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.NotificationRegistered(connID, false, bthal.StatusSuccess, handle)
		})
		return bthal.StatusSuccess
	}

	ch, err := attr.char.WatchProperties()
	if err != nil {
		return bthal.StatusFail
	}
	if err := attr.char.StartNotify(); err != nil {
		return bthal.StatusFail
	}
	stop := make(chan struct{})
	b.mu.Lock()
	c.notify[handle] = stop
	b.mu.Unlock()

	// The daemon folds notifications and indications into one Value
	// property change, so every delivery reports as a notification.
	go func() {
		for {
			select {
			case <-stop:
				return
			case update, ok := <-ch:
				if !ok || update == nil {
					return
				}
				if update.Interface != gattCharIface || update.Name != "Value" {
					continue
				}
				value, _ := update.Value.([]byte)
				b.fire(func(sink bthal.GATTClientHandler) {
					sink.Notified(connID, addr, handle, true, value)
				})
			}
		}
	}()
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.NotificationRegistered(connID, true, bthal.StatusSuccess, handle)
	})
	return bthal.StatusSuccess
}

func (b *clientBoundary) connByAddr(addr bthal.Address) (bthal.ConnID, *clientConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.conns {
		if c.addr == addr {
			return id, c
		}
	}
	return 0, nil
}

func (b *clientBoundary) ReadRemoteRSSI(clientIf int32, addr bthal.Address) bthal.Status {
	_, c := b.connByAddr(addr)
	if c == nil {
		return bthal.StatusNotReady
	}
	go func() {
		rssi, err := c.dev.GetRSSI()
		st := bthal.StatusSuccess
		if err != nil {
			st = bthal.StatusFail
			rssi = 0
		}
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.RemoteRSSI(clientIf, addr, rssi, st)
		})
	}()
	return bthal.StatusSuccess
}

// ConfigureMTU cannot request a size: the daemon negotiates on its
// own. The call reports whatever was negotiated instead.
func (b *clientBoundary) ConfigureMTU(connID bthal.ConnID, mtu int) bthal.Status {
	c := b.conn(connID)
	if c == nil {
		return bthal.StatusNotReady
	}
	b.mu.Lock()
	var char *gatt.GattCharacteristic1
	for _, attr := range c.attrs {
		if attr.char != nil {
			char = attr.char
			break
		}
	}
	b.mu.Unlock()
	if char == nil {
		return bthal.StatusNotReady
	}
	go func() {
		v, err := char.GetProperty("MTU")
		if err != nil {
			b.fire(func(sink bthal.GATTClientHandler) {
				sink.MTUChanged(connID, bthal.StatusFail, 0)
			})
			return
		}
		negotiated, _ := v.Value().(uint16)
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.MTUChanged(connID, bthal.StatusSuccess, int(negotiated))
		})
	}()
	return bthal.StatusSuccess
}

// ConnectionParameterUpdate is unsupported: the daemon owns the link
// parameters.
func (b *clientBoundary) ConnectionParameterUpdate(addr bthal.Address, minInterval, maxInterval, latency, timeout int) bthal.Status {
	return bthal.StatusUnsupported
}
