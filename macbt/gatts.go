//go:build darwin

package macbt

import (
	"sync"

	"github.com/JuulLabs-OSS/cbgo"

	"github.com/btforge/bthal"
)

const (
	attSuccess  cbgo.ATTError = 0
	attUnlikely cbgo.ATTError = 0x0e
)

// serverBoundary drives the GATT server over the shared peripheral
// manager. Handles are assigned locally in declaration order.
// CoreBluetooth materializes the client configuration descriptor and
// handles prepared writes itself, so descriptor rows keep their
// handles without being exported and ExecuteWriteRequest is never
// raised. The peripheral role cannot dial, Connect and Disconnect are
// not expressible. Central disconnects are not surfaced either; a
// connection id stays valid until cleanup.
type serverBoundary struct {
	s *Stack

	mu         sync.Mutex
	sink       bthal.GATTServerHandler
	nextIf     int32
	nextHandle bthal.AttrHandle
	nextConn   bthal.ConnID
	nextTrans  int32
	svcs       map[bthal.AttrHandle]*serverService
	adding     []*serverService
	conns      map[string]*serverConn // central identifier -> conn
	pending    map[int32]pendingReq
	queue      []queuedUpdate
}

type serverService struct {
	serverIf int32
	handle   bthal.AttrHandle
	elems    []bthal.GattDBElement
	svc      cbgo.MutableService
	chrs     map[bthal.AttrHandle]cbgo.MutableCharacteristic
}

type serverConn struct {
	id   bthal.ConnID
	addr bthal.Address
}

type pendingReq struct {
	req   cbgo.ATTRequest
	write bool
}

type queuedUpdate struct {
	connID  bthal.ConnID
	chr     cbgo.MutableCharacteristic
	value   []byte
	confirm bool
}

func (b *serverBoundary) Init(sink bthal.GATTServerHandler) bthal.Status {
	b.s.peripheralManager()
	b.mu.Lock()
	b.sink = sink
	b.svcs = make(map[bthal.AttrHandle]*serverService)
	b.conns = make(map[string]*serverConn)
	b.pending = make(map[int32]pendingReq)
	if b.nextHandle == 0 {
		b.nextHandle = 0x0010
	}
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *serverBoundary) Cleanup() {
	b.mu.Lock()
	pending := b.pending
	svcs := b.svcs
	b.sink = nil
	b.svcs = nil
	b.adding = nil
	b.conns = nil
	b.pending = nil
	b.queue = nil
	b.mu.Unlock()

	if len(pending) == 0 && len(svcs) == 0 {
		return
	}
	pm := b.s.peripheralManager()
	for _, p := range pending {
		pm.RespondToRequest(p.req, attUnlikely)
	}
	for _, svc := range svcs {
		pm.RemoveService(svc.svc)
	}
}

func (b *serverBoundary) fire(fn func(bthal.GATTServerHandler)) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		fn(sink)
	}
}

func (b *serverBoundary) RegisterServer(appUUID bthal.UUID) bthal.Status {
	b.mu.Lock()
	b.nextIf++
	id := b.nextIf
	b.mu.Unlock()
	b.fire(func(sink bthal.GATTServerHandler) {
		sink.ServerRegistered(bthal.StatusSuccess, id, appUUID)
	})
	return bthal.StatusSuccess
}

func (b *serverBoundary) UnregisterServer(serverIf int32) bthal.Status {
	pm := b.s.peripheralManager()
	b.mu.Lock()
	for handle, svc := range b.svcs {
		if svc.serverIf == serverIf {
			pm.RemoveService(svc.svc)
			delete(b.svcs, handle)
		}
	}
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *serverBoundary) Connect(serverIf int32, addr bthal.Address, direct bool, transport bthal.Transport) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *serverBoundary) Disconnect(serverIf int32, addr bthal.Address, connID bthal.ConnID) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *serverBoundary) AddService(serverIf int32, service []bthal.GattDBElement) bthal.Status {
	if len(service) == 0 {
		return bthal.StatusInvalidParam
	}
	if t := service[0].Type; t != bthal.DBPrimaryService && t != bthal.DBSecondaryService {
		return bthal.StatusInvalidParam
	}

	elems := append([]bthal.GattDBElement(nil), service...)
	b.mu.Lock()
	if b.svcs == nil {
		b.mu.Unlock()
		return bthal.StatusNotReady
	}
	base := b.nextHandle
	b.nextHandle += bthal.AttrHandle(len(elems))
	b.mu.Unlock()

	for i := range elems {
		elems[i].ID = uint16(i)
		elems[i].Handle = base + bthal.AttrHandle(i)
	}
	elems[0].StartHandle = base
	elems[0].EndHandle = base + bthal.AttrHandle(len(elems)) - 1

	svc := &serverService{
		serverIf: serverIf,
		handle:   base,
		elems:    elems,
		chrs:     make(map[bthal.AttrHandle]cbgo.MutableCharacteristic),
	}
	var chrs []cbgo.MutableCharacteristic
	for _, elem := range elems[1:] {
		if elem.Type != bthal.DBCharacteristic {
			continue
		}
		chr := cbgo.NewMutableCharacteristic(
			cbUUID(elem.UUID),
			// The properties bitmask matches CoreBluetooth's.
			cbgo.CharacteristicProperties(elem.Properties),
			nil,
			attPerms(elem.Permissions),
		)
		svc.chrs[elem.Handle] = chr
		chrs = append(chrs, chr)
	}
	svc.svc = cbgo.NewMutableService(cbUUID(elems[0].UUID), elems[0].Type == bthal.DBPrimaryService)
	svc.svc.SetCharacteristics(chrs)

	b.mu.Lock()
	b.adding = append(b.adding, svc)
	b.mu.Unlock()
	b.s.peripheralManager().AddService(svc.svc)
	return bthal.StatusSuccess
}

// serviceAdded completes the oldest outstanding AddService. The
// manager reports additions in submission order.
func (b *serverBoundary) serviceAdded(cbsvc cbgo.Service, err error) {
	b.mu.Lock()
	if len(b.adding) == 0 {
		b.mu.Unlock()
		return
	}
	svc := b.adding[0]
	b.adding = b.adding[1:]
	status := bthal.StatusSuccess
	if err != nil {
		status = bthal.StatusFail
	} else if b.svcs != nil {
		b.svcs[svc.handle] = svc
	}
	b.mu.Unlock()

	if err != nil {
		b.s.log.Warn("add service failed", "err", err)
	}
	b.fire(func(sink bthal.GATTServerHandler) {
		sink.ServiceAdded(status, svc.serverIf, svc.elems)
	})
}

// StopService takes the service off the air. CoreBluetooth has no
// stopped-but-declared state, so stop and delete both remove it; the
// definition is kept so a later AddService can redeclare it.
func (b *serverBoundary) StopService(serverIf int32, serviceHandle bthal.AttrHandle) bthal.Status {
	svc := b.svc(serviceHandle)
	if svc == nil {
		return bthal.StatusInvalidParam
	}
	b.s.peripheralManager().RemoveService(svc.svc)
	b.fire(func(sink bthal.GATTServerHandler) {
		sink.ServiceStopped(bthal.StatusSuccess, serverIf, serviceHandle)
	})
	return bthal.StatusSuccess
}

func (b *serverBoundary) DeleteService(serverIf int32, serviceHandle bthal.AttrHandle) bthal.Status {
	b.mu.Lock()
	var svc *serverService
	if b.svcs != nil {
		svc = b.svcs[serviceHandle]
		delete(b.svcs, serviceHandle)
	}
	b.mu.Unlock()
	if svc == nil {
		return bthal.StatusInvalidParam
	}
	b.s.peripheralManager().RemoveService(svc.svc)
	b.fire(func(sink bthal.GATTServerHandler) {
		sink.ServiceDeleted(bthal.StatusSuccess, serverIf, serviceHandle)
	})
	return bthal.StatusSuccess
}

func (b *serverBoundary) svc(handle bthal.AttrHandle) *serverService {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.svcs == nil {
		return nil
	}
	return b.svcs[handle]
}

func (b *serverBoundary) chr(handle bthal.AttrHandle) (cbgo.MutableCharacteristic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, svc := range b.svcs {
		if chr, ok := svc.chrs[handle]; ok {
			return chr, true
		}
	}
	return cbgo.MutableCharacteristic{}, false
}

// SendNotification pushes a value to subscribed centrals. When the
// manager's update queue is full the value is parked and resent once
// the manager drains. Indication acknowledgements are not surfaced,
// so confirm completes with the send.
func (b *serverBoundary) SendNotification(serverIf int32, handle bthal.AttrHandle, connID bthal.ConnID, confirm bool, value []byte) bthal.Status {
	chr, ok := b.chr(handle)
	if !ok {
		return bthal.StatusInvalidParam
	}
	buf := append([]byte(nil), value...)
	if !b.s.peripheralManager().UpdateValue(buf, chr, nil) {
		b.mu.Lock()
		b.queue = append(b.queue, queuedUpdate{connID: connID, chr: chr, value: buf, confirm: confirm})
		b.mu.Unlock()
		return bthal.StatusSuccess
	}
	b.notifySent(connID, handle, confirm)
	return bthal.StatusSuccess
}

func (b *serverBoundary) notifySent(connID bthal.ConnID, handle bthal.AttrHandle, confirm bool) {
	b.fire(func(sink bthal.GATTServerHandler) {
		sink.NotificationSent(connID, bthal.StatusSuccess)
		if confirm {
			sink.ResponseConfirmed(bthal.StatusSuccess, handle)
		}
	})
}

// flushUpdates resends parked notifications once the manager is ready
// for more.
func (b *serverBoundary) flushUpdates() {
	pm := b.s.peripheralManager()
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		u := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		if !pm.UpdateValue(u.value, u.chr, nil) {
			b.mu.Lock()
			b.queue = append([]queuedUpdate{u}, b.queue...)
			b.mu.Unlock()
			return
		}
		if handle, ok := b.handleOf(u.chr); ok {
			b.notifySent(u.connID, handle, u.confirm)
		}
	}
}

func (b *serverBoundary) handleOf(chr cbgo.MutableCharacteristic) (bthal.AttrHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, svc := range b.svcs {
		for handle, c := range svc.chrs {
			if c == chr {
				return handle, true
			}
		}
	}
	return 0, false
}

// handleForRequest matches an incoming request's characteristic by
// UUID against the declared services.
func (b *serverBoundary) handleForRequest(chr cbgo.Characteristic) (bthal.AttrHandle, int32, bool) {
	uuid, ok := parseCBUUID(chr.UUID().String())
	if !ok {
		return 0, 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, svc := range b.svcs {
		for _, elem := range svc.elems {
			if elem.Type == bthal.DBCharacteristic && elem.UUID == uuid {
				return elem.Handle, svc.serverIf, true
			}
		}
	}
	return 0, 0, false
}

// peer hands out a connection id for a central, firing the connection
// event and the negotiated update length on first sight.
func (b *serverBoundary) peer(cent cbgo.Central, serverIf int32) (bthal.Address, bthal.ConnID) {
	key := cent.Identifier().String()
	addr := pseudoAddr(cent.Identifier())

	b.mu.Lock()
	var sink bthal.GATTServerHandler
	conn := b.conns[key]
	if conn == nil && b.conns != nil {
		b.nextConn++
		conn = &serverConn{id: b.nextConn, addr: addr}
		b.conns[key] = conn
		sink = b.sink
	}
	b.mu.Unlock()
	if conn == nil {
		return addr, 0
	}

	if sink != nil {
		sink.ClientConnected(addr, true, conn.id, serverIf)
		// The exposed update length excludes the three byte ATT
		// header.
		sink.MTUChanged(conn.id, cent.MaximumUpdateValueLength()+3)
	}
	return addr, conn.id
}

func (b *serverBoundary) subscribed(cent cbgo.Central, chr cbgo.Characteristic) {
	serverIf := int32(0)
	if _, owner, ok := b.handleForRequest(chr); ok {
		serverIf = owner
	}
	b.peer(cent, serverIf)
}

func (b *serverBoundary) readRequest(req cbgo.ATTRequest) {
	handle, serverIf, ok := b.handleForRequest(req.Characteristic())
	if !ok {
		b.s.peripheralManager().RespondToRequest(req, attUnlikely)
		return
	}
	addr, connID := b.peer(req.Central(), serverIf)

	b.mu.Lock()
	sink := b.sink
	if sink == nil || b.pending == nil {
		b.mu.Unlock()
		b.s.peripheralManager().RespondToRequest(req, attUnlikely)
		return
	}
	b.nextTrans++
	transID := b.nextTrans
	b.pending[transID] = pendingReq{req: req}
	b.mu.Unlock()

	offset := req.Offset()
	sink.CharacteristicReadRequest(connID, transID, addr, handle, offset, offset > 0)
}

// writeRequests delivers a write batch. The whole batch answers
// through one response, so only the first request carries the
// transaction.
func (b *serverBoundary) writeRequests(reqs []cbgo.ATTRequest) {
	for i, req := range reqs {
		handle, serverIf, ok := b.handleForRequest(req.Characteristic())
		if !ok {
			if i == 0 {
				b.s.peripheralManager().RespondToRequest(req, attUnlikely)
			}
			continue
		}
		addr, connID := b.peer(req.Central(), serverIf)
		value := append([]byte(nil), req.Value()...)
		offset := req.Offset()

		transID := int32(0)
		needResponse := i == 0
		if needResponse {
			b.mu.Lock()
			if b.pending == nil {
				b.mu.Unlock()
				b.s.peripheralManager().RespondToRequest(req, attUnlikely)
				return
			}
			b.nextTrans++
			transID = b.nextTrans
			b.pending[transID] = pendingReq{req: req, write: true}
			b.mu.Unlock()
		}
		b.fire(func(sink bthal.GATTServerHandler) {
			sink.CharacteristicWriteRequest(connID, transID, addr, handle, offset, needResponse, false, value)
		})
	}
}

func (b *serverBoundary) SendResponse(connID bthal.ConnID, transID int32, status bthal.Status, handle bthal.AttrHandle, offset int, value []byte) bthal.Status {
	b.mu.Lock()
	p, ok := b.pending[transID]
	delete(b.pending, transID)
	b.mu.Unlock()
	if !ok {
		return bthal.StatusInvalidParam
	}

	result := attSuccess
	if !status.OK() {
		result = attUnlikely
	}
	if !p.write && status.OK() {
		p.req.SetValue(append([]byte(nil), value...))
	}
	b.s.peripheralManager().RespondToRequest(p.req, result)
	return bthal.StatusSuccess
}

// attPerms converts attribute permissions to CoreBluetooth's, which
// only distinguish read, write and their encrypted variants.
func attPerms(perm uint16) cbgo.AttributePermissions {
	var p cbgo.AttributePermissions
	if perm&0x0001 != 0 {
		p |= 0x01
	}
	if perm&0x0006 != 0 {
		p |= 0x04
	}
	if perm&0x0010 != 0 {
		p |= 0x02
	}
	if perm&0x0060 != 0 {
		p |= 0x08
	}
	return p
}
