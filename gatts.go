package bthal

import (
	"fmt"
	"sync"
)

// GATTServerHandler receives GATT server events. Calls arrive one at
// a time on the session dispatcher, in the order the stack raised
// them.
type GATTServerHandler interface {
	// ServerRegistered reports the interface id assigned by
	// RegisterServer, correlated by the application UUID.
	ServerRegistered(status Status, serverIf int32, appUUID UUID)
	ClientConnected(addr Address, connected bool, connID ConnID, serverIf int32)
	// ServiceAdded reports the handles assigned to a service declared
	// through AddService. The returned rows mirror the declaration
	// with Handle filled in.
	ServiceAdded(status Status, serverIf int32, service []GattDBElement)
	ServiceStopped(status Status, serverIf int32, serviceHandle AttrHandle)
	ServiceDeleted(status Status, serverIf int32, serviceHandle AttrHandle)
	// CharacteristicReadRequest asks the application for an attribute
	// value. The application must answer with SendResponse carrying
	// the same transaction id.
	CharacteristicReadRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, isLong bool)
	DescriptorReadRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, isLong bool)
	// CharacteristicWriteRequest carries a value written by the
	// remote. When needResponse is set the application must answer
	// with SendResponse.
	CharacteristicWriteRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, needResponse, isPrepare bool, value []byte)
	DescriptorWriteRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, needResponse, isPrepare bool, value []byte)
	ExecuteWriteRequest(connID ConnID, transID int32, addr Address, execute bool)
	ResponseConfirmed(status Status, handle AttrHandle)
	// NotificationSent confirms a SendNotification. For indications
	// it fires once the remote acknowledges.
	NotificationSent(connID ConnID, status Status)
	MTUChanged(connID ConnID, mtu int)
}

// GATTServerBoundary is the GATT server half of a stack backend.
type GATTServerBoundary interface {
	Init(sink GATTServerHandler) Status
	Cleanup()

	RegisterServer(appUUID UUID) Status
	UnregisterServer(serverIf int32) Status
	Connect(serverIf int32, addr Address, direct bool, transport Transport) Status
	Disconnect(serverIf int32, addr Address, connID ConnID) Status
	AddService(serverIf int32, service []GattDBElement) Status
	StopService(serverIf int32, serviceHandle AttrHandle) Status
	DeleteService(serverIf int32, serviceHandle AttrHandle) Status
	SendNotification(serverIf int32, handle AttrHandle, connID ConnID, confirm bool, value []byte) Status
	SendResponse(connID ConnID, transID int32, status Status, handle AttrHandle, offset int, value []byte) Status
}

// GATTServer is the session's bridge to the GATT server role.
type GATTServer struct {
	session *Session

	mu       sync.Mutex
	enabled  bool
	boundary GATTServerBoundary
	handler  GATTServerHandler
}

// Enable brings the GATT server up and registers handler for its
// events. Enabling an already enabled bridge tears the old
// registration down first.
func (p *GATTServer) Enable(handler GATTServerHandler) error {
	if handler == nil {
		return fmt.Errorf("bthal: gatt server: nil handler")
	}
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	boundary := p.session.stack.GATTServer()
	if boundary == nil {
		return ErrProfileUnavailable
	}

	if p.teardown() {
		p.session.log.Warn("gatt server enabled twice, cleaning up first")
		p.session.dropEnabled(p)
	}

	status := boundary.Init(&gattsSink{p})
	p.session.recordCall(ProfileGATTServer, "init", nil, &status, 0)
	if !status.OK() {
		return statusErr("gatt server init", status)
	}

	p.mu.Lock()
	p.enabled = true
	p.boundary = boundary
	p.handler = handler
	p.mu.Unlock()
	p.session.pushEnabled(p)
	p.session.log.Info("gatt server enabled")
	return nil
}

// Disable tears the GATT server down. Disabling a bridge that is not
// enabled is a no-op.
func (p *GATTServer) Disable() error {
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	if p.teardown() {
		p.session.dropEnabled(p)
		p.session.log.Info("gatt server disabled")
	}
	return nil
}

func (p *GATTServer) disableForClose() {
	p.teardown()
}

func (p *GATTServer) teardown() bool {
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
	p.session.recordCall(ProfileGATTServer, "cleanup", nil, nil, 0)
	return true
}

func (p *GATTServer) armed() (GATTServerBoundary, error) {
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

func (p *GATTServer) call(op string, addr *Address, size int, fn func(GATTServerBoundary) Status) error {
	boundary, err := p.armed()
	if err != nil {
		return err
	}
	status := fn(boundary)
	p.session.recordCall(ProfileGATTServer, op, addr, &status, size)
	return statusErr("gatt server "+op, status)
}

// RegisterServer registers a server application with the stack. The
// assigned server interface id arrives through ServerRegistered,
// correlated by appUUID.
func (p *GATTServer) RegisterServer(appUUID UUID) error {
	return p.call("register_server", nil, 0, func(b GATTServerBoundary) Status {
		return b.RegisterServer(appUUID)
	})
}

// UnregisterServer releases a server interface id.
func (p *GATTServer) UnregisterServer(serverIf int32) error {
	return p.call("unregister_server", nil, 0, func(b GATTServerBoundary) Status {
		return b.UnregisterServer(serverIf)
	})
}

// Connect opens a connection towards addr so the server can push
// notifications without waiting for the remote to connect first.
func (p *GATTServer) Connect(serverIf int32, addr Address, direct bool, transport Transport) error {
	return p.call("connect", &addr, 0, func(b GATTServerBoundary) Status {
		return b.Connect(serverIf, addr, direct, transport)
	})
}

// Disconnect closes the connection to addr.
func (p *GATTServer) Disconnect(serverIf int32, addr Address, connID ConnID) error {
	return p.call("disconnect", &addr, 0, func(b GATTServerBoundary) Status {
		return b.Disconnect(serverIf, addr, connID)
	})
}

// AddService declares a service. The rows describe the service, its
// characteristics and descriptors in declaration order; the stack
// assigns handles and reports them through ServiceAdded.
func (p *GATTServer) AddService(serverIf int32, service []GattDBElement) error {
	return p.call("add_service", nil, len(service), func(b GATTServerBoundary) Status {
		return b.AddService(serverIf, service)
	})
}

// StopService stops a running service.
func (p *GATTServer) StopService(serverIf int32, serviceHandle AttrHandle) error {
	return p.call("stop_service", nil, 0, func(b GATTServerBoundary) Status {
		return b.StopService(serverIf, serviceHandle)
	})
}

// DeleteService removes a service from the local database.
func (p *GATTServer) DeleteService(serverIf int32, serviceHandle AttrHandle) error {
	return p.call("delete_service", nil, 0, func(b GATTServerBoundary) Status {
		return b.DeleteService(serverIf, serviceHandle)
	})
}

// SendNotification pushes a characteristic value to a connected
// client. With confirm set it is sent as an indication and
// NotificationSent fires once the remote acknowledges.
func (p *GATTServer) SendNotification(serverIf int32, handle AttrHandle, connID ConnID, confirm bool, value []byte) error {
	return p.call("send_notification", nil, len(value), func(b GATTServerBoundary) Status {
		return b.SendNotification(serverIf, handle, connID, confirm, value)
	})
}

// SendResponse answers a read or write request, correlated by the
// transaction id the request carried.
func (p *GATTServer) SendResponse(connID ConnID, transID int32, status Status, handle AttrHandle, offset int, value []byte) error {
	return p.call("send_response", nil, len(value), func(b GATTServerBoundary) Status {
		return b.SendResponse(connID, transID, status, handle, offset, value)
	})
}

func (p *GATTServer) deliver(op string, addr *Address, size int, fn func(GATTServerHandler)) {
	p.session.recordEvent(ProfileGATTServer, op, addr, nil, size)
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

// gattsSink receives boundary callbacks on stack goroutines.
type gattsSink struct {
	p *GATTServer
}

func (s *gattsSink) ServerRegistered(status Status, serverIf int32, appUUID UUID) {
	s.p.deliver("server_registered", nil, 0, func(h GATTServerHandler) {
		h.ServerRegistered(status, serverIf, appUUID)
	})
}

func (s *gattsSink) ClientConnected(addr Address, connected bool, connID ConnID, serverIf int32) {
	s.p.deliver("connection", &addr, 0, func(h GATTServerHandler) {
		h.ClientConnected(addr, connected, connID, serverIf)
	})
}

func (s *gattsSink) ServiceAdded(status Status, serverIf int32, service []GattDBElement) {
	s.p.deliver("service_added", nil, len(service), func(h GATTServerHandler) {
		h.ServiceAdded(status, serverIf, service)
	})
}

func (s *gattsSink) ServiceStopped(status Status, serverIf int32, serviceHandle AttrHandle) {
	s.p.deliver("service_stopped", nil, 0, func(h GATTServerHandler) {
		h.ServiceStopped(status, serverIf, serviceHandle)
	})
}

func (s *gattsSink) ServiceDeleted(status Status, serverIf int32, serviceHandle AttrHandle) {
	s.p.deliver("service_deleted", nil, 0, func(h GATTServerHandler) {
		h.ServiceDeleted(status, serverIf, serviceHandle)
	})
}

func (s *gattsSink) CharacteristicReadRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, isLong bool) {
	s.p.deliver("request_read_characteristic", &addr, 0, func(h GATTServerHandler) {
		h.CharacteristicReadRequest(connID, transID, addr, handle, offset, isLong)
	})
}

func (s *gattsSink) DescriptorReadRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, isLong bool) {
	s.p.deliver("request_read_descriptor", &addr, 0, func(h GATTServerHandler) {
		h.DescriptorReadRequest(connID, transID, addr, handle, offset, isLong)
	})
}

func (s *gattsSink) CharacteristicWriteRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, needResponse, isPrepare bool, value []byte) {
	s.p.deliver("request_write_characteristic", &addr, len(value), func(h GATTServerHandler) {
		h.CharacteristicWriteRequest(connID, transID, addr, handle, offset, needResponse, isPrepare, value)
	})
}

func (s *gattsSink) DescriptorWriteRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, needResponse, isPrepare bool, value []byte) {
	s.p.deliver("request_write_descriptor", &addr, len(value), func(h GATTServerHandler) {
		h.DescriptorWriteRequest(connID, transID, addr, handle, offset, needResponse, isPrepare, value)
	})
}

func (s *gattsSink) ExecuteWriteRequest(connID ConnID, transID int32, addr Address, execute bool) {
	s.p.deliver("request_exec_write", &addr, 0, func(h GATTServerHandler) {
		h.ExecuteWriteRequest(connID, transID, addr, execute)
	})
}

func (s *gattsSink) ResponseConfirmed(status Status, handle AttrHandle) {
	s.p.deliver("response_confirmation", nil, 0, func(h GATTServerHandler) {
		h.ResponseConfirmed(status, handle)
	})
}

func (s *gattsSink) NotificationSent(connID ConnID, status Status) {
	s.p.deliver("indication_sent", nil, 0, func(h GATTServerHandler) {
		h.NotificationSent(connID, status)
	})
}

func (s *gattsSink) MTUChanged(connID ConnID, mtu int) {
	s.p.deliver("mtu_changed", nil, 0, func(h GATTServerHandler) {
		h.MTUChanged(connID, mtu)
	})
}

// GATTServerHandlerBase implements GATTServerHandler with empty
// methods. Embed it in a handler that only cares about a subset of
// the events.
type GATTServerHandlerBase struct{}

func (*GATTServerHandlerBase) ServerRegistered(status Status, serverIf int32, appUUID UUID) {}
func (*GATTServerHandlerBase) ClientConnected(addr Address, connected bool, connID ConnID, serverIf int32) {
}
func (*GATTServerHandlerBase) ServiceAdded(status Status, serverIf int32, service []GattDBElement) {
}
func (*GATTServerHandlerBase) ServiceStopped(status Status, serverIf int32, serviceHandle AttrHandle) {
}
func (*GATTServerHandlerBase) ServiceDeleted(status Status, serverIf int32, serviceHandle AttrHandle) {
}
func (*GATTServerHandlerBase) CharacteristicReadRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, isLong bool) {
}
func (*GATTServerHandlerBase) DescriptorReadRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, isLong bool) {
}
func (*GATTServerHandlerBase) CharacteristicWriteRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, needResponse, isPrepare bool, value []byte) {
}
func (*GATTServerHandlerBase) DescriptorWriteRequest(connID ConnID, transID int32, addr Address, handle AttrHandle, offset int, needResponse, isPrepare bool, value []byte) {
}
func (*GATTServerHandlerBase) ExecuteWriteRequest(connID ConnID, transID int32, addr Address, execute bool) {
}
func (*GATTServerHandlerBase) ResponseConfirmed(status Status, handle AttrHandle) {}
func (*GATTServerHandlerBase) NotificationSent(connID ConnID, status Status) {}
func (*GATTServerHandlerBase) MTUChanged(connID ConnID, mtu int) {}
