//go:build darwin

package macbt

import (
	"errors"
	"sync"
	"time"

	"github.com/JuulLabs-OSS/cbgo"

	"github.com/btforge/bthal"
)

const discoverTimeout = 10 * time.Second

// clientBoundary drives the GATT client over a CentralManager.
// Application ids are handed out locally. CoreBluetooth has no
// attribute handles, so the boundary assigns them in discovery order
// when the database is walked. The auth arguments are accepted and
// ignored, pairing is the OS's business here.
type clientBoundary struct {
	s *Stack

	mu       sync.Mutex
	sink     bthal.GATTClientHandler
	cm       cbgo.CentralManager
	cmSet    bool
	scanning bool
	nextIf   int32
	nextConn bthal.ConnID
	seen     map[bthal.Address]cbgo.Peripheral
	dialing  map[string]int32 // peripheral identifier -> clientIf
	conns    map[string]*clientConn
}

type clientConn struct {
	id       bthal.ConnID
	clientIf int32
	addr     bthal.Address
	prph     cbgo.Peripheral

	// discMu serializes discovery walks; disc carries each step's
	// completion from the delegate.
	discMu sync.Mutex
	disc   chan error

	mu         sync.Mutex
	attrs      map[bthal.AttrHandle]cbAttr
	reads      map[bthal.AttrHandle]bool
	notifyWant map[bthal.AttrHandle]bool
	subscribed map[bthal.AttrHandle]bool
}

type cbAttr struct {
	chr    cbgo.Characteristic
	dsc    cbgo.Descriptor
	isDesc bool
}

func (b *clientBoundary) Init(sink bthal.GATTClientHandler) bthal.Status {
	b.mu.Lock()
	if !b.cmSet {
		b.cm = cbgo.NewCentralManager(nil)
		b.cm.SetDelegate(&cmDelegate{c: b})
		b.cmSet = true
	}
	b.sink = sink
	b.seen = make(map[bthal.Address]cbgo.Peripheral)
	b.dialing = make(map[string]int32)
	b.conns = make(map[string]*clientConn)
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *clientBoundary) Cleanup() {
	b.mu.Lock()
	if b.scanning && b.cmSet {
		b.cm.StopScan()
		b.scanning = false
	}
	b.sink = nil
	b.seen = nil
	b.dialing = nil
	b.conns = nil
	b.mu.Unlock()
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
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.cmSet {
		return bthal.StatusNotReady
	}
	if start {
		if b.scanning {
			return bthal.StatusBusy
		}
		b.scanning = true
		b.cm.Scan(nil, &cbgo.CentralManagerScanOpts{
			AllowDuplicates: true,
		})
		return bthal.StatusSuccess
	}
	if !b.scanning {
		return bthal.StatusDone
	}
	b.scanning = false
	b.cm.StopScan()
	return bthal.StatusSuccess
}

// report relays one discovered peripheral as a scan result, folding
// the fields CoreBluetooth already parsed back into a raw payload.
func (b *clientBoundary) report(prph cbgo.Peripheral, advFields cbgo.AdvFields, rssi int) {
	addr := pseudoAddr(prph.Identifier())
	b.mu.Lock()
	sink := b.sink
	scanning := b.scanning
	if b.seen != nil {
		b.seen[addr] = prph
	}
	b.mu.Unlock()
	if sink == nil || !scanning {
		return
	}

	fields := bthal.AdvertisementFields{LocalName: advFields.LocalName}
	for _, u := range advFields.ServiceUUIDs {
		if uuid, ok := parseCBUUID(u.String()); ok {
			fields.ServiceUUIDs = append(fields.ServiceUUIDs, uuid)
		}
	}
	if len(advFields.ManufacturerData) > 0 {
		fields.ManufacturerData = append([]byte(nil), advFields.ManufacturerData...)
	}
	eir, err := fields.Marshal()
	if err != nil {
		// Everything together can overflow a legacy payload; keep the
		// name, which is what callers match on.
		fields = bthal.AdvertisementFields{LocalName: advFields.LocalName}
		eir, _ = fields.Marshal()
	}
	sink.ScanResult(addr, int16(rssi), eir)
}

// Connect dials a peripheral previously seen in a scan. CoreBluetooth
// can only connect objects it handed out, so an address that never
// appeared in a scan result cannot be dialed.
func (b *clientBoundary) Connect(clientIf int32, addr bthal.Address, direct bool, transport bthal.Transport) bthal.Status {
	b.mu.Lock()
	prph, ok := b.seen[addr]
	if ok && b.dialing != nil {
		b.dialing[prph.Identifier().String()] = clientIf
	}
	cm := b.cm
	b.mu.Unlock()
	if !ok {
		return bthal.StatusInvalidParam
	}
	cm.Connect(prph, nil)
	return bthal.StatusSuccess
}

func (b *clientBoundary) connected(prph cbgo.Peripheral) {
	key := prph.Identifier().String()
	addr := pseudoAddr(prph.Identifier())

	b.mu.Lock()
	clientIf := int32(0)
	if b.dialing != nil {
		clientIf = b.dialing[key]
		delete(b.dialing, key)
	}
	if b.conns == nil {
		b.mu.Unlock()
		return
	}
	b.nextConn++
	conn := &clientConn{
		id:         b.nextConn,
		clientIf:   clientIf,
		addr:       addr,
		prph:       prph,
		disc:       make(chan error, 1),
		attrs:      make(map[bthal.AttrHandle]cbAttr),
		reads:      make(map[bthal.AttrHandle]bool),
		notifyWant: make(map[bthal.AttrHandle]bool),
		subscribed: make(map[bthal.AttrHandle]bool),
	}
	b.conns[key] = conn
	b.mu.Unlock()

	prph.SetDelegate(&prphDelegate{c: b})
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.Connected(conn.id, bthal.StatusSuccess, clientIf, addr)
	})
}

func (b *clientBoundary) connectFailed(prph cbgo.Peripheral, err error) {
	key := prph.Identifier().String()
	addr := pseudoAddr(prph.Identifier())
	b.s.log.Warn("connect failed", "addr", addr.String(), "err", err)

	b.mu.Lock()
	clientIf := int32(0)
	if b.dialing != nil {
		clientIf = b.dialing[key]
		delete(b.dialing, key)
	}
	b.mu.Unlock()
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.Connected(0, bthal.StatusFail, clientIf, addr)
	})
}

func (b *clientBoundary) disconnected(prph cbgo.Peripheral) {
	key := prph.Identifier().String()
	b.mu.Lock()
	var conn *clientConn
	if b.conns != nil {
		conn = b.conns[key]
		delete(b.conns, key)
	}
	b.mu.Unlock()
	if conn == nil {
		return
	}
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.Disconnected(conn.id, bthal.StatusSuccess, conn.clientIf, conn.addr)
	})
}

func (b *clientBoundary) Disconnect(clientIf int32, addr bthal.Address, connID bthal.ConnID) bthal.Status {
	conn := b.connByID(connID)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	b.mu.Lock()
	cm := b.cm
	b.mu.Unlock()
	cm.CancelConnect(conn.prph)
	return bthal.StatusSuccess
}

// Refresh drops the locally assigned handle table. CoreBluetooth owns
// the attribute cache itself and offers no way to flush it.
func (b *clientBoundary) Refresh(clientIf int32, addr bthal.Address) bthal.Status {
	conn := b.connByAddr(addr)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	conn.mu.Lock()
	conn.attrs = make(map[bthal.AttrHandle]cbAttr)
	conn.subscribed = make(map[bthal.AttrHandle]bool)
	conn.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *clientBoundary) connByID(connID bthal.ConnID) *clientConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.conns {
		if conn.id == connID {
			return conn
		}
	}
	return nil
}

func (b *clientBoundary) connByAddr(addr bthal.Address) *clientConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.conns {
		if conn.addr == addr {
			return conn
		}
	}
	return nil
}

func (b *clientBoundary) connByPrph(prph cbgo.Peripheral) *clientConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conns == nil {
		return nil
	}
	return b.conns[prph.Identifier().String()]
}

func (b *clientBoundary) discoveryDone(prph cbgo.Peripheral, err error) {
	conn := b.connByPrph(prph)
	if conn == nil {
		return
	}
	select {
	case conn.disc <- err:
	default:
	}
}

// discover runs one discovery step and waits for its delegate
// callback.
func (c *clientConn) discover(start func()) error {
	start()
	select {
	case err := <-c.disc:
		return err
	case <-time.After(discoverTimeout):
		return errors.New("macbt: discovery timed out")
	}
}

// SearchService runs service discovery. The filter narrows nothing,
// CoreBluetooth reports the peripheral's whole service list anyway.
func (b *clientBoundary) SearchService(connID bthal.ConnID, filter *bthal.UUID) bthal.Status {
	conn := b.connByID(connID)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	go func() {
		conn.discMu.Lock()
		err := conn.discover(func() { conn.prph.DiscoverServices([]cbgo.UUID{}) })
		conn.discMu.Unlock()
		status := bthal.StatusSuccess
		if err != nil {
			b.s.log.Warn("service discovery failed", "conn", connID, "err", err)
			status = bthal.StatusFail
		}
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.SearchComplete(connID, status)
		})
	}()
	return bthal.StatusSuccess
}

func (b *clientBoundary) GetGattDB(connID bthal.ConnID) bthal.Status {
	conn := b.connByID(connID)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	go func() {
		db, attrs, err := conn.walk()
		if err != nil {
			b.s.log.Warn("gatt walk failed", "conn", connID, "err", err)
			b.fire(func(sink bthal.GATTClientHandler) {
				sink.GattDB(connID, nil)
			})
			return
		}
		conn.mu.Lock()
		conn.attrs = attrs
		conn.mu.Unlock()
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.GattDB(connID, db)
		})
	}()
	return bthal.StatusSuccess
}

// walk discovers the whole attribute tree and lays it out as database
// rows, assigning handles in discovery order.
func (c *clientConn) walk() ([]bthal.GattDBElement, map[bthal.AttrHandle]cbAttr, error) {
	c.discMu.Lock()
	defer c.discMu.Unlock()

	if err := c.discover(func() { c.prph.DiscoverServices([]cbgo.UUID{}) }); err != nil {
		return nil, nil, err
	}

	var db []bthal.GattDBElement
	attrs := make(map[bthal.AttrHandle]cbAttr)
	handle := bthal.AttrHandle(1)
	for _, svc := range c.prph.Services() {
		if err := c.discover(func() { c.prph.DiscoverCharacteristics([]cbgo.UUID{}, svc) }); err != nil {
			return nil, nil, err
		}

		svcUUID, _ := parseCBUUID(svc.UUID().String())
		svcIdx := len(db)
		db = append(db, bthal.GattDBElement{
			ID:          uint16(svcIdx),
			UUID:        svcUUID,
			Type:        bthal.DBPrimaryService,
			Handle:      handle,
			StartHandle: handle,
		})
		handle++

		for _, chr := range svc.Characteristics() {
			if err := c.discover(func() { c.prph.DiscoverDescriptors(chr) }); err != nil {
				return nil, nil, err
			}

			chrUUID, _ := parseCBUUID(chr.UUID().String())
			db = append(db, bthal.GattDBElement{
				ID:     uint16(len(db)),
				UUID:   chrUUID,
				Type:   bthal.DBCharacteristic,
				Handle: handle,
				// CoreBluetooth keeps the ATT properties bitmask.
				Properties: uint8(chr.Properties()),
			})
			attrs[handle] = cbAttr{chr: chr}
			handle++

			for _, dsc := range chr.Descriptors() {
				dscUUID, _ := parseCBUUID(dsc.UUID().String())
				db = append(db, bthal.GattDBElement{
					ID:     uint16(len(db)),
					UUID:   dscUUID,
					Type:   bthal.DBDescriptor,
					Handle: handle,
				})
				attrs[handle] = cbAttr{dsc: dsc, isDesc: true}
				handle++
			}
		}
		db[svcIdx].EndHandle = handle - 1
	}
	return db, attrs, nil
}

func (c *clientConn) attribute(handle bthal.AttrHandle) (cbAttr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	attr, ok := c.attrs[handle]
	return attr, ok
}

// handleOf finds the handle assigned to a delegate callback's
// characteristic. Matching is by object, the wrappers share the
// underlying CoreBluetooth pointer.
func (c *clientConn) handleOf(chr cbgo.Characteristic) (bthal.AttrHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for handle, attr := range c.attrs {
		if !attr.isDesc && attr.chr == chr {
			return handle, true
		}
	}
	return 0, false
}

func (c *clientConn) handleOfDesc(dsc cbgo.Descriptor) (bthal.AttrHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for handle, attr := range c.attrs {
		if attr.isDesc && attr.dsc == dsc {
			return handle, true
		}
	}
	return 0, false
}

func (b *clientBoundary) ReadCharacteristic(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq) bthal.Status {
	conn := b.connByID(connID)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	attr, ok := conn.attribute(handle)
	if !ok || attr.isDesc {
		return bthal.StatusInvalidParam
	}
	conn.mu.Lock()
	conn.reads[handle] = true
	conn.mu.Unlock()
	conn.prph.ReadCharacteristic(attr.chr)
	return bthal.StatusSuccess
}

// characteristicValue fans a value callback out as either a read
// result or a notification. CoreBluetooth raises the same callback
// for both, an outstanding read claims it.
func (b *clientBoundary) characteristicValue(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	conn := b.connByPrph(prph)
	if conn == nil {
		return
	}
	handle, ok := conn.handleOf(chr)
	if !ok {
		return
	}
	conn.mu.Lock()
	wasRead := conn.reads[handle]
	delete(conn.reads, handle)
	subscribed := conn.subscribed[handle]
	conn.mu.Unlock()

	value := append([]byte(nil), chr.Value()...)
	status := bthal.StatusSuccess
	if err != nil {
		status = bthal.StatusFail
	}
	b.fire(func(sink bthal.GATTClientHandler) {
		switch {
		case wasRead:
			sink.CharacteristicRead(conn.id, status, handle, value)
		case subscribed && err == nil:
			sink.Notified(conn.id, conn.addr, handle, true, value)
		}
	})
}

func (b *clientBoundary) WriteCharacteristic(connID bthal.ConnID, handle bthal.AttrHandle, writeType bthal.WriteType, auth bthal.AuthReq, value []byte) bthal.Status {
	conn := b.connByID(connID)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	attr, ok := conn.attribute(handle)
	if !ok || attr.isDesc {
		return bthal.StatusInvalidParam
	}
	buf := append([]byte(nil), value...)
	withRsp := writeType != bthal.WriteNoResponse
	conn.prph.WriteCharacteristic(buf, attr.chr, withRsp)
	if !withRsp {
		// Write commands complete on send; there is no callback.
		b.fire(func(sink bthal.GATTClientHandler) {
			sink.CharacteristicWritten(connID, bthal.StatusSuccess, handle)
		})
	}
	return bthal.StatusSuccess
}

func (b *clientBoundary) characteristicWritten(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	conn := b.connByPrph(prph)
	if conn == nil {
		return
	}
	handle, ok := conn.handleOf(chr)
	if !ok {
		return
	}
	status := bthal.StatusSuccess
	if err != nil {
		status = bthal.StatusFail
	}
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.CharacteristicWritten(conn.id, status, handle)
	})
}

func (b *clientBoundary) ReadDescriptor(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq) bthal.Status {
	conn := b.connByID(connID)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	attr, ok := conn.attribute(handle)
	if !ok || !attr.isDesc {
		return bthal.StatusInvalidParam
	}
	conn.prph.ReadDescriptor(attr.dsc)
	return bthal.StatusSuccess
}

func (b *clientBoundary) descriptorValue(prph cbgo.Peripheral, dsc cbgo.Descriptor, err error) {
	conn := b.connByPrph(prph)
	if conn == nil {
		return
	}
	handle, ok := conn.handleOfDesc(dsc)
	if !ok {
		return
	}
	status := bthal.StatusSuccess
	if err != nil {
		status = bthal.StatusFail
	}
	value := append([]byte(nil), dsc.Value()...)
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.DescriptorRead(conn.id, status, handle, value)
	})
}

func (b *clientBoundary) WriteDescriptor(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq, value []byte) bthal.Status {
	conn := b.connByID(connID)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	attr, ok := conn.attribute(handle)
	if !ok || !attr.isDesc {
		return bthal.StatusInvalidParam
	}
	conn.prph.WriteDescriptor(append([]byte(nil), value...), attr.dsc)
	return bthal.StatusSuccess
}

func (b *clientBoundary) descriptorWritten(prph cbgo.Peripheral, dsc cbgo.Descriptor, err error) {
	conn := b.connByPrph(prph)
	if conn == nil {
		return
	}
	handle, ok := conn.handleOfDesc(dsc)
	if !ok {
		return
	}
	status := bthal.StatusSuccess
	if err != nil {
		status = bthal.StatusFail
	}
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.DescriptorWritten(conn.id, status, handle)
	})
}

// ExecuteWrite completes immediately. CoreBluetooth has no reliable
// write surface, plain writes go out as they are issued.
func (b *clientBoundary) ExecuteWrite(connID bthal.ConnID, execute bool) bthal.Status {
	if conn := b.connByID(connID); conn == nil {
		return bthal.StatusInvalidParam
	}
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.ExecuteWriteComplete(connID, bthal.StatusSuccess)
	})
	return bthal.StatusSuccess
}

func (b *clientBoundary) RegisterForNotification(clientIf int32, addr bthal.Address, handle bthal.AttrHandle, enable bool) bthal.Status {
	conn := b.connByAddr(addr)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	attr, ok := conn.attribute(handle)
	if !ok || attr.isDesc {
		return bthal.StatusInvalidParam
	}
	conn.mu.Lock()
	conn.notifyWant[handle] = enable
	conn.mu.Unlock()
	conn.prph.SetNotify(enable, attr.chr)
	return bthal.StatusSuccess
}

func (b *clientBoundary) notifyState(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	conn := b.connByPrph(prph)
	if conn == nil {
		return
	}
	handle, ok := conn.handleOf(chr)
	if !ok {
		return
	}
	conn.mu.Lock()
	want := conn.notifyWant[handle]
	delete(conn.notifyWant, handle)
	if err == nil && want {
		conn.subscribed[handle] = true
	} else {
		delete(conn.subscribed, handle)
	}
	conn.mu.Unlock()

	status := bthal.StatusSuccess
	if err != nil {
		status = bthal.StatusFail
	}
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.NotificationRegistered(conn.id, want, status, handle)
	})
}

func (b *clientBoundary) ReadRemoteRSSI(clientIf int32, addr bthal.Address) bthal.Status {
	conn := b.connByAddr(addr)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	conn.prph.ReadRSSI()
	return bthal.StatusSuccess
}

func (b *clientBoundary) rssiRead(prph cbgo.Peripheral, rssi int, err error) {
	conn := b.connByPrph(prph)
	if conn == nil {
		return
	}
	status := bthal.StatusSuccess
	if err != nil {
		status = bthal.StatusFail
	}
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.RemoteRSSI(conn.clientIf, conn.addr, int16(rssi), status)
	})
}

// ConfigureMTU reports the negotiated value. A size cannot be
// requested, CoreBluetooth negotiates on its own; the write length it
// exposes excludes the three byte ATT header.
func (b *clientBoundary) ConfigureMTU(connID bthal.ConnID, mtu int) bthal.Status {
	conn := b.connByID(connID)
	if conn == nil {
		return bthal.StatusInvalidParam
	}
	n := conn.prph.MaximumWriteValueLength(false) + 3
	b.fire(func(sink bthal.GATTClientHandler) {
		sink.MTUChanged(connID, bthal.StatusSuccess, n)
	})
	return bthal.StatusSuccess
}

// ConnectionParameterUpdate is not expressible, the OS owns the link
// parameters.
func (b *clientBoundary) ConnectionParameterUpdate(addr bthal.Address, minInterval, maxInterval, latency, timeout int) bthal.Status {
	return bthal.StatusUnsupported
}
