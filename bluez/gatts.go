//go:build linux

package bluez

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/btforge/bthal"
)

// requestTimeout bounds the wait for SendResponse. It matches the ATT
// transaction timeout, after which the remote has given up anyway.
const requestTimeout = 30 * time.Second

// serverBoundary drives the GATT server profile. Each added service
// becomes a GATT application exported on the bus and registered with
// the daemon, which proxies remote attribute accesses back as method
// calls on our objects. Attribute handles are assigned locally since
// the daemon never surfaces the real ones. Prepared writes stay
// inside the daemon, so ExecuteWriteRequest is never raised here.
type serverBoundary struct {
	s *Stack

	mu         sync.Mutex
	sink       bthal.GATTServerHandler
	nextIf     int32
	nextHandle bthal.AttrHandle
	nextConn   bthal.ConnID
	nextTrans  int32
	nextApp    uint64
	apps       map[bthal.AttrHandle]*gattApp
	conns      map[string]bthal.ConnID // device path -> connection id
	pending    map[int32]chan serverResponse
}

type serverResponse struct {
	status bthal.Status
	value  []byte
}

// gattApp is one exported application: a root object answering
// GetManagedObjects plus a service with its attributes.
type gattApp struct {
	b        *serverBoundary
	serverIf int32
	root     dbus.ObjectPath
	handle   bthal.AttrHandle
	elems    []bthal.GattDBElement

	mu         sync.Mutex
	objects    map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	attrs      map[bthal.AttrHandle]*serverAttr
	exported   []exportEntry
	registered bool
}

type exportEntry struct {
	path  dbus.ObjectPath
	iface string
}

// GetManagedObjects serves the daemon's application walk.
func (a *gattApp) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, len(a.objects))
	for path, ifaces := range a.objects {
		cp := make(map[string]map[string]dbus.Variant, len(ifaces))
		for iface, props := range ifaces {
			pp := make(map[string]dbus.Variant, len(props))
			for k, v := range props {
				pp[k] = v
			}
			cp[iface] = pp
		}
		out[path] = cp
	}
	return out, nil
}

// gattNode answers the properties interface for one exported object
// out of its application's object dictionary.
type gattNode struct {
	app  *gattApp
	path dbus.ObjectPath
}

func (n *gattNode) props(iface string) map[string]dbus.Variant {
	n.app.mu.Lock()
	defer n.app.mu.Unlock()
	obj := n.app.objects[n.path]
	if obj == nil {
		return nil
	}
	src := obj[iface]
	if src == nil {
		return nil
	}
	out := make(map[string]dbus.Variant, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (n *gattNode) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	props := n.props(iface)
	if props == nil {
		return nil, &dbus.Error{Name: "org.freedesktop.DBus.Error.InvalidArgs"}
	}
	return props, nil
}

func (n *gattNode) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	props := n.props(iface)
	if v, ok := props[name]; ok {
		return v, nil
	}
	return dbus.Variant{}, &dbus.Error{Name: "org.freedesktop.DBus.Error.InvalidArgs"}
}

// serverAttr is one exported characteristic or descriptor. Remote
// accesses arrive here as daemon method calls.
type serverAttr struct {
	gattNode
	handle bthal.AttrHandle
	desc   bool
}

func (c *serverAttr) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	value, status := c.app.b.request(c, options, nil, false)
	if status != bthal.StatusSuccess {
		return nil, &dbus.Error{Name: "org.bluez.Error.Failed"}
	}
	return value, nil
}

func (c *serverAttr) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if _, status := c.app.b.request(c, options, value, true); status != bthal.StatusSuccess {
		return &dbus.Error{Name: "org.bluez.Error.Failed"}
	}
	return nil
}

func (c *serverAttr) StartNotify() *dbus.Error { return nil }
func (c *serverAttr) StopNotify() *dbus.Error  { return nil }

func (b *serverBoundary) Init(sink bthal.GATTServerHandler) bthal.Status {
	b.mu.Lock()
	b.sink = sink
	b.apps = make(map[bthal.AttrHandle]*gattApp)
	b.conns = make(map[string]bthal.ConnID)
	b.pending = make(map[int32]chan serverResponse)
	if b.nextHandle == 0 {
		b.nextHandle = 0x0010
	}
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *serverBoundary) Cleanup() {
	b.mu.Lock()
	b.sink = nil
	apps := b.apps
	b.apps = nil
	b.conns = nil
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	// Fail outstanding requests so the daemon's calls return instead
	// of running out the transaction timeout.
	for _, ch := range pending {
		ch <- serverResponse{status: bthal.StatusFail}
	}
	for _, app := range apps {
		b.unexport(app)
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
	b.mu.Lock()
	var drop []*gattApp
	for handle, app := range b.apps {
		if app.serverIf == serverIf {
			drop = append(drop, app)
			delete(b.apps, handle)
		}
	}
	b.mu.Unlock()
	go func() {
		for _, app := range drop {
			b.unexport(app)
		}
	}()
	return bthal.StatusSuccess
}

func (b *serverBoundary) Connect(serverIf int32, addr bthal.Address, direct bool, transport bthal.Transport) bthal.Status {
	path := b.s.devicePath(addr)
	obj := b.s.bus.Object(bluezBus, path)
	go func() {
		if call := obj.Call(deviceIface+".Connect", 0); call.Err != nil {
			b.s.log.Warn("gatt server connect failed", "addr", addr.String(), "err", call.Err)
			b.fire(func(sink bthal.GATTServerHandler) {
				sink.ClientConnected(addr, false, 0, serverIf)
			})
			return
		}
		b.mu.Lock()
		id, known := b.conns[string(path)]
		if !known && b.conns != nil {
			b.nextConn++
			id = b.nextConn
			b.conns[string(path)] = id
		}
		b.mu.Unlock()
		b.fire(func(sink bthal.GATTServerHandler) {
			sink.ClientConnected(addr, true, id, serverIf)
		})
	}()
	return bthal.StatusSuccess
}

func (b *serverBoundary) Disconnect(serverIf int32, addr bthal.Address, connID bthal.ConnID) bthal.Status {
	path := b.s.devicePath(addr)
	obj := b.s.bus.Object(bluezBus, path)
	b.mu.Lock()
	if b.conns != nil {
		delete(b.conns, string(path))
	}
	b.mu.Unlock()
	go func() {
		if call := obj.Call(deviceIface+".Disconnect", 0); call.Err != nil {
			b.s.log.Warn("gatt server disconnect failed", "addr", addr.String(), "err", call.Err)
		}
		b.fire(func(sink bthal.GATTServerHandler) {
			sink.ClientConnected(addr, false, connID, serverIf)
		})
	}()
	return bthal.StatusSuccess
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
	if b.apps == nil {
		b.mu.Unlock()
		return bthal.StatusNotReady
	}
	base := b.nextHandle
	b.nextHandle += bthal.AttrHandle(len(elems))
	b.nextApp++
	seq := b.nextApp
	b.mu.Unlock()

	for i := range elems {
		elems[i].ID = uint16(i)
		elems[i].Handle = base + bthal.AttrHandle(i)
	}
	elems[0].StartHandle = base
	elems[0].EndHandle = base + bthal.AttrHandle(len(elems)) - 1

	app := &gattApp{
		b:        b,
		serverIf: serverIf,
		root:     dbus.ObjectPath("/org/bthal/gatt/app" + strconv.FormatUint(seq, 10)),
		handle:   base,
		elems:    elems,
		objects:  make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant),
		attrs:    make(map[bthal.AttrHandle]*serverAttr),
	}

	go func() {
		st := b.export(app)
		if st == bthal.StatusSuccess {
			st = b.register(app)
		}
		if st == bthal.StatusSuccess {
			b.mu.Lock()
			if b.apps != nil {
				b.apps[app.handle] = app
			}
			b.mu.Unlock()
		} else {
			b.unexport(app)
		}
		b.fire(func(sink bthal.GATTServerHandler) {
			sink.ServiceAdded(st, serverIf, elems)
		})
	}()
	return bthal.StatusSuccess
}

var cccdUUID = bthal.New16BitUUID(0x2902)

// export builds the object dictionary and puts every node on the bus.
// The application root goes out last, so a registration can never
// walk a half built tree.
func (b *serverBoundary) export(app *gattApp) bthal.Status {
	put := func(v interface{}, path dbus.ObjectPath, iface string) bool {
		if err := b.s.bus.Export(v, path, iface); err != nil {
			b.s.log.Warn("gatt export failed", "path", string(path), "err", err)
			return false
		}
		app.exported = append(app.exported, exportEntry{path: path, iface: iface})
		return true
	}

	servicePath := dbus.ObjectPath(string(app.root) + "/service0")
	app.objects[servicePath] = map[string]map[string]dbus.Variant{
		gattServiceIface: {
			"UUID":    dbus.MakeVariant(app.elems[0].UUID.String()),
			"Primary": dbus.MakeVariant(app.elems[0].Type == bthal.DBPrimaryService),
		},
	}
	if !put(&gattNode{app: app, path: servicePath}, servicePath, propsIface) {
		return bthal.StatusFail
	}

	var charPath dbus.ObjectPath
	for i, elem := range app.elems[1:] {
		switch elem.Type {
		case bthal.DBCharacteristic:
			path := dbus.ObjectPath(fmt.Sprintf("%s/char%d", servicePath, i))
			attr := &serverAttr{gattNode: gattNode{app: app, path: path}, handle: elem.Handle}
			app.objects[path] = map[string]map[string]dbus.Variant{
				gattCharIface: {
					"UUID":    dbus.MakeVariant(elem.UUID.String()),
					"Service": dbus.MakeVariant(servicePath),
					"Flags":   dbus.MakeVariant(propFlags(elem.Properties)),
				},
			}
			if !put(attr, path, gattCharIface) || !put(attr, path, propsIface) {
				return bthal.StatusFail
			}
			app.attrs[elem.Handle] = attr
			charPath = path
		case bthal.DBDescriptor:
			if charPath == "" {
				return bthal.StatusInvalidParam
			}
			// The daemon materializes the client configuration
			// descriptor itself; exporting ours would collide. The
			// row keeps its handle for the caller's table.
			if elem.UUID == cccdUUID {
				continue
			}
			path := dbus.ObjectPath(fmt.Sprintf("%s/desc%d", charPath, i))
			attr := &serverAttr{gattNode: gattNode{app: app, path: path}, handle: elem.Handle, desc: true}
			app.objects[path] = map[string]map[string]dbus.Variant{
				gattDescIface: {
					"UUID":           dbus.MakeVariant(elem.UUID.String()),
					"Characteristic": dbus.MakeVariant(charPath),
					"Flags":          dbus.MakeVariant(descFlags(elem.Permissions)),
				},
			}
			if !put(attr, path, gattDescIface) || !put(attr, path, propsIface) {
				return bthal.StatusFail
			}
			app.attrs[elem.Handle] = attr
		default:
			b.s.log.Warn("gatt service row not exportable", "type", elem.Type.String())
		}
	}

	if !put(app, app.root, objManagerIface) {
		return bthal.StatusFail
	}
	return bthal.StatusSuccess
}

func (b *serverBoundary) register(app *gattApp) bthal.Status {
	mgr := b.s.bus.Object(bluezBus, dbus.ObjectPath("/org/bluez/"+b.s.id))
	call := mgr.Call(gattManagerIface+".RegisterApplication", 0, app.root, map[string]dbus.Variant{})
	if call.Err != nil {
		b.s.log.Warn("gatt register application failed", "err", call.Err)
		return bthal.StatusFail
	}
	b.mu.Lock()
	app.registered = true
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *serverBoundary) unregister(app *gattApp) {
	b.mu.Lock()
	registered := app.registered
	app.registered = false
	b.mu.Unlock()
	if !registered {
		return
	}
	mgr := b.s.bus.Object(bluezBus, dbus.ObjectPath("/org/bluez/"+b.s.id))
	if call := mgr.Call(gattManagerIface+".UnregisterApplication", 0, app.root); call.Err != nil {
		b.s.log.Warn("gatt unregister application failed", "err", call.Err)
	}
}

func (b *serverBoundary) unexport(app *gattApp) {
	b.unregister(app)
	for _, e := range app.exported {
		_ = b.s.bus.Export(nil, e.path, e.iface)
	}
	app.exported = nil
}

func (b *serverBoundary) app(serviceHandle bthal.AttrHandle) *gattApp {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.apps == nil {
		return nil
	}
	return b.apps[serviceHandle]
}

// StopService unregisters the application but keeps its definition,
// so the service drops off the air without losing its handles.
func (b *serverBoundary) StopService(serverIf int32, serviceHandle bthal.AttrHandle) bthal.Status {
	app := b.app(serviceHandle)
	if app == nil {
		return bthal.StatusInvalidParam
	}
	go func() {
		b.unregister(app)
		b.fire(func(sink bthal.GATTServerHandler) {
			sink.ServiceStopped(bthal.StatusSuccess, serverIf, serviceHandle)
		})
	}()
	return bthal.StatusSuccess
}

func (b *serverBoundary) DeleteService(serverIf int32, serviceHandle bthal.AttrHandle) bthal.Status {
	b.mu.Lock()
	var app *gattApp
	if b.apps != nil {
		app = b.apps[serviceHandle]
		delete(b.apps, serviceHandle)
	}
	b.mu.Unlock()
	if app == nil {
		return bthal.StatusInvalidParam
	}
	go func() {
		b.unexport(app)
		b.fire(func(sink bthal.GATTServerHandler) {
			sink.ServiceDeleted(bthal.StatusSuccess, serverIf, serviceHandle)
		})
	}()
	return bthal.StatusSuccess
}

// SendNotification pushes a value change out through the daemon. An
// indication cannot be distinguished on this backend, and the remote
// confirmation never reaches us, so the emit doubles as both
// completion events.
func (b *serverBoundary) SendNotification(serverIf int32, handle bthal.AttrHandle, connID bthal.ConnID, confirm bool, value []byte) bthal.Status {
	attr := b.attr(handle)
	if attr == nil {
		return bthal.StatusInvalidParam
	}
	buf := append([]byte(nil), value...)

	attr.app.mu.Lock()
	if props, ok := attr.app.objects[attr.path][gattCharIface]; ok {
		props["Value"] = dbus.MakeVariant(buf)
	}
	attr.app.mu.Unlock()

	err := b.s.bus.Emit(attr.path, sigPropertiesChanged, gattCharIface,
		map[string]dbus.Variant{"Value": dbus.MakeVariant(buf)}, []string{})
	if err != nil {
		b.s.log.Warn("gatt notify emit failed", "err", err)
		return bthal.StatusFail
	}
	b.fire(func(sink bthal.GATTServerHandler) {
		sink.NotificationSent(connID, bthal.StatusSuccess)
		if confirm {
			sink.ResponseConfirmed(bthal.StatusSuccess, handle)
		}
	})
	return bthal.StatusSuccess
}

func (b *serverBoundary) attr(handle bthal.AttrHandle) *serverAttr {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, app := range b.apps {
		if attr, ok := app.attrs[handle]; ok {
			return attr
		}
	}
	return nil
}

func (b *serverBoundary) SendResponse(connID bthal.ConnID, transID int32, status bthal.Status, handle bthal.AttrHandle, offset int, value []byte) bthal.Status {
	b.mu.Lock()
	var ch chan serverResponse
	if b.pending != nil {
		ch = b.pending[transID]
		delete(b.pending, transID)
	}
	b.mu.Unlock()
	if ch == nil {
		return bthal.StatusInvalidParam
	}
	ch <- serverResponse{status: status, value: append([]byte(nil), value...)}
	return bthal.StatusSuccess
}

// request forwards a remote attribute access to the handler and waits
// for the SendResponse carrying the same transaction id.
func (b *serverBoundary) request(attr *serverAttr, options map[string]dbus.Variant, value []byte, write bool) ([]byte, bthal.Status) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink == nil {
		return nil, bthal.StatusNotReady
	}

	addr, connID := b.peer(attr.app.serverIf, options)
	offset := 0
	if v, ok := options["offset"]; ok {
		if o, ok := v.Value().(uint16); ok {
			offset = int(o)
		}
	}

	b.mu.Lock()
	if b.pending == nil {
		b.mu.Unlock()
		return nil, bthal.StatusNotReady
	}
	b.nextTrans++
	transID := b.nextTrans
	ch := make(chan serverResponse, 1)
	b.pending[transID] = ch
	b.mu.Unlock()

	switch {
	case write && attr.desc:
		sink.DescriptorWriteRequest(connID, transID, addr, attr.handle, offset, true, false, value)
	case write:
		sink.CharacteristicWriteRequest(connID, transID, addr, attr.handle, offset, true, false, value)
	case attr.desc:
		sink.DescriptorReadRequest(connID, transID, addr, attr.handle, offset, offset > 0)
	default:
		sink.CharacteristicReadRequest(connID, transID, addr, attr.handle, offset, offset > 0)
	}

	select {
	case rsp := <-ch:
		return rsp.value, rsp.status
	case <-time.After(requestTimeout):
		b.mu.Lock()
		if b.pending != nil {
			delete(b.pending, transID)
		}
		b.mu.Unlock()
		return nil, bthal.StatusFail
	}
}

// peer resolves the requesting device from the call options, handing
// out a connection id and the connection event the first time it
// shows up. The daemon also slips the negotiated MTU into the
// options, the only place it surfaces server side.
func (b *serverBoundary) peer(serverIf int32, options map[string]dbus.Variant) (bthal.Address, bthal.ConnID) {
	var path dbus.ObjectPath
	if v, ok := options["device"]; ok {
		path, _ = v.Value().(dbus.ObjectPath)
	}
	addr, _ := addrFromPath(path)

	b.mu.Lock()
	var sink bthal.GATTServerHandler
	id, known := b.conns[string(path)]
	if !known && b.conns != nil {
		b.nextConn++
		id = b.nextConn
		b.conns[string(path)] = id
		sink = b.sink
	}
	b.mu.Unlock()

	if sink != nil {
		sink.ClientConnected(addr, true, id, serverIf)
		if v, ok := options["mtu"]; ok {
			if mtu, ok := v.Value().(uint16); ok {
				sink.MTUChanged(id, int(mtu))
			}
		}
	}
	return addr, id
}

// propFlags expands the ATT properties bitmask into the daemon's
// characteristic flag strings.
func propFlags(props uint8) []string {
	var flags []string
	if props&0x01 != 0 {
		flags = append(flags, "broadcast")
	}
	if props&0x02 != 0 {
		flags = append(flags, "read")
	}
	if props&0x04 != 0 {
		flags = append(flags, "write-without-response")
	}
	if props&0x08 != 0 {
		flags = append(flags, "write")
	}
	if props&0x10 != 0 {
		flags = append(flags, "notify")
	}
	if props&0x20 != 0 {
		flags = append(flags, "indicate")
	}
	if props&0x40 != 0 {
		flags = append(flags, "authenticated-signed-writes")
	}
	if props&0x80 != 0 {
		flags = append(flags, "extended-properties")
	}
	return flags
}

// descFlags maps attribute permissions onto descriptor flag strings,
// keeping the strongest protection each direction asks for.
func descFlags(perm uint16) []string {
	var flags []string
	switch {
	case perm&0x0004 != 0:
		flags = append(flags, "encrypt-authenticated-read")
	case perm&0x0002 != 0:
		flags = append(flags, "encrypt-read")
	case perm&0x0001 != 0:
		flags = append(flags, "read")
	}
	switch {
	case perm&0x0040 != 0:
		flags = append(flags, "encrypt-authenticated-write")
	case perm&0x0020 != 0:
		flags = append(flags, "encrypt-write")
	case perm&0x0010 != 0:
		flags = append(flags, "write")
	}
	if len(flags) == 0 {
		flags = []string{"read"}
	}
	return flags
}
