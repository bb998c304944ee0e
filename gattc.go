package bthal

import (
	"fmt"
	"sync"
)

// Transport selects the link type for a GATT connection.
type Transport uint8

const (
	TransportAuto Transport = iota
	TransportBREDR
	TransportLE
)

func (t Transport) String() string {
	switch t {
	case TransportAuto:
		return "auto"
	case TransportBREDR:
		return "br/edr"
	case TransportLE:
		return "le"
	}
	return "unknown"
}

// AuthReq is the authentication requirement attached to an attribute
// read or write.
type AuthReq uint8

const (
	AuthNone         AuthReq = 0
	AuthNoMITM       AuthReq = 1
	AuthMITM         AuthReq = 2
	AuthSignedNoMITM AuthReq = 3
	AuthSignedMITM   AuthReq = 4
)

// WriteType selects how a characteristic write is carried out.
type WriteType uint8

const (
	WriteNoResponse WriteType = 1
	WriteDefault    WriteType = 2
	WritePrepare    WriteType = 3
)

// GattDBElementType tags one row of a remote attribute database.
type GattDBElementType uint8

const (
	DBPrimaryService GattDBElementType = iota
	DBSecondaryService
	DBIncludedService
	DBCharacteristic
	DBDescriptor
)

func (t GattDBElementType) String() string {
	switch t {
	case DBPrimaryService:
		return "primary service"
	case DBSecondaryService:
		return "secondary service"
	case DBIncludedService:
		return "included service"
	case DBCharacteristic:
		return "characteristic"
	case DBDescriptor:
		return "descriptor"
	}
	return "unknown"
}

// GattDBElement is one row of an attribute database: a remote one as
// reported by GetGattDB, or a local one declared through AddService.
// Start and end handles are only set for services; properties only
// for characteristics. Permissions are only meaningful on the server
// side.
type GattDBElement struct {
	ID          uint16
	UUID        UUID
	Type        GattDBElementType
	Handle      AttrHandle
	StartHandle AttrHandle
	EndHandle   AttrHandle
	Properties  uint8
	Permissions uint16
}

// GATTClientHandler receives GATT client events. Calls arrive one at
// a time on the session dispatcher, in the order the stack raised
// them.
type GATTClientHandler interface {
	// ClientRegistered reports the interface id assigned by
	// RegisterApp, correlated by the application UUID.
	ClientRegistered(status Status, clientIf int32, appUUID UUID)
	// ScanResult delivers one advertising report. The EIR payload is
	// raw; parse it with ExtractAdvertisement.
	ScanResult(addr Address, rssi int16, eir []byte)
	Connected(connID ConnID, status Status, clientIf int32, addr Address)
	Disconnected(connID ConnID, status Status, clientIf int32, addr Address)
	SearchComplete(connID ConnID, status Status)
	NotificationRegistered(connID ConnID, registered bool, status Status, handle AttrHandle)
	// Notified delivers a notification or indication raised by the
	// remote for a subscribed characteristic.
	Notified(connID ConnID, addr Address, handle AttrHandle, isNotify bool, value []byte)
	CharacteristicRead(connID ConnID, status Status, handle AttrHandle, value []byte)
	CharacteristicWritten(connID ConnID, status Status, handle AttrHandle)
	DescriptorRead(connID ConnID, status Status, handle AttrHandle, value []byte)
	DescriptorWritten(connID ConnID, status Status, handle AttrHandle)
	ExecuteWriteComplete(connID ConnID, status Status)
	RemoteRSSI(clientIf int32, addr Address, rssi int16, status Status)
	MTUChanged(connID ConnID, status Status, mtu int)
	// GattDB delivers the result of a GetGattDB call.
	GattDB(connID ConnID, db []GattDBElement)
}

// GATTClientBoundary is the GATT client half of a stack backend.
type GATTClientBoundary interface {
	Init(sink GATTClientHandler) Status
	Cleanup()

	RegisterApp(appUUID UUID) Status
	UnregisterApp(clientIf int32) Status
	Scan(start bool) Status
	Connect(clientIf int32, addr Address, direct bool, transport Transport) Status
	Disconnect(clientIf int32, addr Address, connID ConnID) Status
	Refresh(clientIf int32, addr Address) Status
	SearchService(connID ConnID, filter *UUID) Status
	GetGattDB(connID ConnID) Status
	ReadCharacteristic(connID ConnID, handle AttrHandle, auth AuthReq) Status
	WriteCharacteristic(connID ConnID, handle AttrHandle, writeType WriteType, auth AuthReq, value []byte) Status
	ReadDescriptor(connID ConnID, handle AttrHandle, auth AuthReq) Status
	WriteDescriptor(connID ConnID, handle AttrHandle, auth AuthReq, value []byte) Status
	ExecuteWrite(connID ConnID, execute bool) Status
	RegisterForNotification(clientIf int32, addr Address, handle AttrHandle, enable bool) Status
	ReadRemoteRSSI(clientIf int32, addr Address) Status
	ConfigureMTU(connID ConnID, mtu int) Status
	ConnectionParameterUpdate(addr Address, minInterval, maxInterval, latency, timeout int) Status
}

// GATTClient is the session's bridge to the GATT client role.
type GATTClient struct {
	session *Session

	mu       sync.Mutex
	enabled  bool
	boundary GATTClientBoundary
	handler  GATTClientHandler
}

// Enable brings the GATT client up and registers handler for its
// events. Enabling an already enabled bridge tears the old
// registration down first.
func (p *GATTClient) Enable(handler GATTClientHandler) error {
	if handler == nil {
		return fmt.Errorf("bthal: gatt client: nil handler")
	}
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	boundary := p.session.stack.GATTClient()
	if boundary == nil {
		return ErrProfileUnavailable
	}

	if p.teardown() {
		p.session.log.Warn("gatt client enabled twice, cleaning up first")
		p.session.dropEnabled(p)
	}

	status := boundary.Init(&gattcSink{p})
	p.session.recordCall(ProfileGATTClient, "init", nil, &status, 0)
	if !status.OK() {
		return statusErr("gatt client init", status)
	}

	p.mu.Lock()
	p.enabled = true
	p.boundary = boundary
	p.handler = handler
	p.mu.Unlock()
	p.session.pushEnabled(p)
	p.session.log.Info("gatt client enabled")
	return nil
}

// Disable tears the GATT client down. Disabling a bridge that is not
// enabled is a no-op.
func (p *GATTClient) Disable() error {
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	if p.teardown() {
		p.session.dropEnabled(p)
		p.session.log.Info("gatt client disabled")
	}
	return nil
}

func (p *GATTClient) disableForClose() {
	p.teardown()
}

func (p *GATTClient) teardown() bool {
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
	p.session.recordCall(ProfileGATTClient, "cleanup", nil, nil, 0)
	return true
}

func (p *GATTClient) armed() (GATTClientBoundary, error) {
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

func (p *GATTClient) call(op string, addr *Address, size int, fn func(GATTClientBoundary) Status) error {
	boundary, err := p.armed()
	if err != nil {
		return err
	}
	status := fn(boundary)
	p.session.recordCall(ProfileGATTClient, op, addr, &status, size)
	return statusErr("gatt client "+op, status)
}

// RegisterApp registers an application with the stack. The assigned
// client interface id arrives through ClientRegistered, correlated by
// appUUID.
func (p *GATTClient) RegisterApp(appUUID UUID) error {
	return p.call("register_app", nil, 0, func(b GATTClientBoundary) Status {
		return b.RegisterApp(appUUID)
	})
}

// UnregisterApp releases a client interface id.
func (p *GATTClient) UnregisterApp(clientIf int32) error {
	return p.call("unregister_app", nil, 0, func(b GATTClientBoundary) Status {
		return b.UnregisterApp(clientIf)
	})
}

// StartScan starts LE scanning. Reports arrive through ScanResult
// until StopScan.
func (p *GATTClient) StartScan() error {
	return p.call("scan_start", nil, 0, func(b GATTClientBoundary) Status {
		return b.Scan(true)
	})
}

// StopScan stops LE scanning.
func (p *GATTClient) StopScan() error {
	return p.call("scan_stop", nil, 0, func(b GATTClientBoundary) Status {
		return b.Scan(false)
	})
}

// Connect opens a GATT connection to addr. With direct set the stack
// connects immediately; otherwise addr is added to the background
// allow list.
func (p *GATTClient) Connect(clientIf int32, addr Address, direct bool, transport Transport) error {
	return p.call("connect", &addr, 0, func(b GATTClientBoundary) Status {
		return b.Connect(clientIf, addr, direct, transport)
	})
}

// Disconnect closes the GATT connection to addr.
func (p *GATTClient) Disconnect(clientIf int32, addr Address, connID ConnID) error {
	return p.call("disconnect", &addr, 0, func(b GATTClientBoundary) Status {
		return b.Disconnect(clientIf, addr, connID)
	})
}

// Refresh drops the stack's attribute cache for addr.
func (p *GATTClient) Refresh(clientIf int32, addr Address) error {
	return p.call("refresh", &addr, 0, func(b GATTClientBoundary) Status {
		return b.Refresh(clientIf, addr)
	})
}

// SearchService starts service discovery on a connection. A nil
// filter discovers all services; otherwise discovery is limited to
// the given service UUID. Completion is reported through
// SearchComplete.
func (p *GATTClient) SearchService(connID ConnID, filter *UUID) error {
	return p.call("search_service", nil, 0, func(b GATTClientBoundary) Status {
		return b.SearchService(connID, filter)
	})
}

// GetGattDB requests the remote attribute database. The rows arrive
// through GattDB.
func (p *GATTClient) GetGattDB(connID ConnID) error {
	return p.call("get_gatt_db", nil, 0, func(b GATTClientBoundary) Status {
		return b.GetGattDB(connID)
	})
}

// ReadCharacteristic reads a characteristic value by handle.
func (p *GATTClient) ReadCharacteristic(connID ConnID, handle AttrHandle, auth AuthReq) error {
	return p.call("read_characteristic", nil, 0, func(b GATTClientBoundary) Status {
		return b.ReadCharacteristic(connID, handle, auth)
	})
}

// WriteCharacteristic writes a characteristic value by handle.
func (p *GATTClient) WriteCharacteristic(connID ConnID, handle AttrHandle, writeType WriteType, auth AuthReq, value []byte) error {
	return p.call("write_characteristic", nil, len(value), func(b GATTClientBoundary) Status {
		return b.WriteCharacteristic(connID, handle, writeType, auth, value)
	})
}

// ReadDescriptor reads a descriptor value by handle.
func (p *GATTClient) ReadDescriptor(connID ConnID, handle AttrHandle, auth AuthReq) error {
	return p.call("read_descriptor", nil, 0, func(b GATTClientBoundary) Status {
		return b.ReadDescriptor(connID, handle, auth)
	})
}

// WriteDescriptor writes a descriptor value by handle.
func (p *GATTClient) WriteDescriptor(connID ConnID, handle AttrHandle, auth AuthReq, value []byte) error {
	return p.call("write_descriptor", nil, len(value), func(b GATTClientBoundary) Status {
		return b.WriteDescriptor(connID, handle, auth, value)
	})
}

// ExecuteWrite commits or aborts a pending prepared write.
func (p *GATTClient) ExecuteWrite(connID ConnID, execute bool) error {
	return p.call("execute_write", nil, 0, func(b GATTClientBoundary) Status {
		return b.ExecuteWrite(connID, execute)
	})
}

// RegisterForNotification subscribes to or unsubscribes from value
// changes of the characteristic at handle.
func (p *GATTClient) RegisterForNotification(clientIf int32, addr Address, handle AttrHandle, enable bool) error {
	return p.call("register_for_notification", &addr, 0, func(b GATTClientBoundary) Status {
		return b.RegisterForNotification(clientIf, addr, handle, enable)
	})
}

// ReadRemoteRSSI requests the RSSI of the link to addr. The value
// arrives through RemoteRSSI.
func (p *GATTClient) ReadRemoteRSSI(clientIf int32, addr Address) error {
	return p.call("read_remote_rssi", &addr, 0, func(b GATTClientBoundary) Status {
		return b.ReadRemoteRSSI(clientIf, addr)
	})
}

// ConfigureMTU negotiates the ATT MTU for a connection.
func (p *GATTClient) ConfigureMTU(connID ConnID, mtu int) error {
	return p.call("configure_mtu", nil, 0, func(b GATTClientBoundary) Status {
		return b.ConfigureMTU(connID, mtu)
	})
}

// ConnectionParameterUpdate asks the stack to renegotiate connection
// interval, slave latency and supervision timeout for the link to
// addr. Intervals are in 1.25 ms units, the timeout in 10 ms units.
func (p *GATTClient) ConnectionParameterUpdate(addr Address, minInterval, maxInterval, latency, timeout int) error {
	return p.call("conn_parameter_update", &addr, 0, func(b GATTClientBoundary) Status {
		return b.ConnectionParameterUpdate(addr, minInterval, maxInterval, latency, timeout)
	})
}

func (p *GATTClient) deliver(op string, addr *Address, size int, fn func(GATTClientHandler)) {
	p.session.recordEvent(ProfileGATTClient, op, addr, nil, size)
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

// gattcSink receives boundary callbacks on stack goroutines.
type gattcSink struct {
	p *GATTClient
}

func (s *gattcSink) ClientRegistered(status Status, clientIf int32, appUUID UUID) {
	s.p.deliver("client_registered", nil, 0, func(h GATTClientHandler) {
		h.ClientRegistered(status, clientIf, appUUID)
	})
}

func (s *gattcSink) ScanResult(addr Address, rssi int16, eir []byte) {
	s.p.deliver("scan_result", &addr, len(eir), func(h GATTClientHandler) {
		h.ScanResult(addr, rssi, eir)
	})
}

func (s *gattcSink) Connected(connID ConnID, status Status, clientIf int32, addr Address) {
	s.p.deliver("connected", &addr, 0, func(h GATTClientHandler) {
		h.Connected(connID, status, clientIf, addr)
	})
}

func (s *gattcSink) Disconnected(connID ConnID, status Status, clientIf int32, addr Address) {
	s.p.deliver("disconnected", &addr, 0, func(h GATTClientHandler) {
		h.Disconnected(connID, status, clientIf, addr)
	})
}

func (s *gattcSink) SearchComplete(connID ConnID, status Status) {
	s.p.deliver("search_complete", nil, 0, func(h GATTClientHandler) {
		h.SearchComplete(connID, status)
	})
}

func (s *gattcSink) NotificationRegistered(connID ConnID, registered bool, status Status, handle AttrHandle) {
	s.p.deliver("notification_registered", nil, 0, func(h GATTClientHandler) {
		h.NotificationRegistered(connID, registered, status, handle)
	})
}

func (s *gattcSink) Notified(connID ConnID, addr Address, handle AttrHandle, isNotify bool, value []byte) {
	s.p.deliver("notify", &addr, len(value), func(h GATTClientHandler) {
		h.Notified(connID, addr, handle, isNotify, value)
	})
}

func (s *gattcSink) CharacteristicRead(connID ConnID, status Status, handle AttrHandle, value []byte) {
	s.p.deliver("characteristic_read", nil, len(value), func(h GATTClientHandler) {
		h.CharacteristicRead(connID, status, handle, value)
	})
}

func (s *gattcSink) CharacteristicWritten(connID ConnID, status Status, handle AttrHandle) {
	s.p.deliver("characteristic_written", nil, 0, func(h GATTClientHandler) {
		h.CharacteristicWritten(connID, status, handle)
	})
}

func (s *gattcSink) DescriptorRead(connID ConnID, status Status, handle AttrHandle, value []byte) {
	s.p.deliver("descriptor_read", nil, len(value), func(h GATTClientHandler) {
		h.DescriptorRead(connID, status, handle, value)
	})
}

func (s *gattcSink) DescriptorWritten(connID ConnID, status Status, handle AttrHandle) {
	s.p.deliver("descriptor_written", nil, 0, func(h GATTClientHandler) {
		h.DescriptorWritten(connID, status, handle)
	})
}

func (s *gattcSink) ExecuteWriteComplete(connID ConnID, status Status) {
	s.p.deliver("execute_write", nil, 0, func(h GATTClientHandler) {
		h.ExecuteWriteComplete(connID, status)
	})
}

func (s *gattcSink) RemoteRSSI(clientIf int32, addr Address, rssi int16, status Status) {
	s.p.deliver("remote_rssi", &addr, 0, func(h GATTClientHandler) {
		h.RemoteRSSI(clientIf, addr, rssi, status)
	})
}

func (s *gattcSink) MTUChanged(connID ConnID, status Status, mtu int) {
	s.p.deliver("configure_mtu", nil, 0, func(h GATTClientHandler) {
		h.MTUChanged(connID, status, mtu)
	})
}

func (s *gattcSink) GattDB(connID ConnID, db []GattDBElement) {
	s.p.deliver("get_gatt_db", nil, len(db), func(h GATTClientHandler) {
		h.GattDB(connID, db)
	})
}

// GATTClientHandlerBase implements GATTClientHandler with empty
// methods. Embed it in a handler that only cares about a subset of
// the events.
type GATTClientHandlerBase struct{}

func (*GATTClientHandlerBase) ClientRegistered(status Status, clientIf int32, appUUID UUID) {}
func (*GATTClientHandlerBase) ScanResult(addr Address, rssi int16, eir []byte) {}
func (*GATTClientHandlerBase) Connected(connID ConnID, status Status, clientIf int32, addr Address) {
}
func (*GATTClientHandlerBase) Disconnected(connID ConnID, status Status, clientIf int32, addr Address) {
}
func (*GATTClientHandlerBase) SearchComplete(connID ConnID, status Status) {}
func (*GATTClientHandlerBase) NotificationRegistered(connID ConnID, registered bool, status Status, handle AttrHandle) {
}
func (*GATTClientHandlerBase) Notified(connID ConnID, addr Address, handle AttrHandle, isNotify bool, value []byte) {
}
func (*GATTClientHandlerBase) CharacteristicRead(connID ConnID, status Status, handle AttrHandle, value []byte) {
}
func (*GATTClientHandlerBase) CharacteristicWritten(connID ConnID, status Status, handle AttrHandle) {
}
func (*GATTClientHandlerBase) DescriptorRead(connID ConnID, status Status, handle AttrHandle, value []byte) {
}
func (*GATTClientHandlerBase) DescriptorWritten(connID ConnID, status Status, handle AttrHandle) {}
func (*GATTClientHandlerBase) ExecuteWriteComplete(connID ConnID, status Status) {}
func (*GATTClientHandlerBase) RemoteRSSI(clientIf int32, addr Address, rssi int16, status Status) {
}
func (*GATTClientHandlerBase) MTUChanged(connID ConnID, status Status, mtu int) {}
func (*GATTClientHandlerBase) GattDB(connID ConnID, db []GattDBElement) {}
