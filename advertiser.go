package bthal

import (
	"fmt"
	"sync"
)

// AdvertiseInterval is the advertisement interval in 0.625 ms units.
type AdvertiseInterval uint32

// NewAdvertiseInterval returns a new advertisement interval, based on
// an interval in milliseconds.
func NewAdvertiseInterval(intervalMillis uint32) AdvertiseInterval {
	return AdvertiseInterval(intervalMillis * 8 / 5)
}

// AdvertisingType selects the PDU type of an advertising set.
type AdvertisingType uint8

const (
	// AdvInd is connectable undirected advertising.
	AdvInd AdvertisingType = iota
	// AdvDirectInd is connectable directed advertising.
	AdvDirectInd
	// AdvScanInd is scannable undirected advertising.
	AdvScanInd
	// AdvNonconnInd is non-connectable undirected advertising.
	AdvNonconnInd
)

// AdvertiseParams configures the timing and radio parameters of an
// advertising set.
type AdvertiseParams struct {
	MinInterval AdvertiseInterval
	MaxInterval AdvertiseInterval
	Type        AdvertisingType
	// ChannelMap selects the advertising channels as a bitmask of
	// channels 37 (0x01), 38 (0x02) and 39 (0x04).
	ChannelMap uint8
	TxPower    int8
}

// AdvertiseData is the payload of an advertising set. The stack
// assembles the EIR structures from these fields.
type AdvertiseData struct {
	IncludeName      bool
	IncludeTxPower   bool
	Appearance       uint16
	ManufacturerData []byte
	ServiceData      []byte
	// ServiceUUID holds the advertised service UUIDs as raw 16-byte
	// little-endian values, concatenated.
	ServiceUUID []byte
}

// AdvertiserHandler receives advertising events. Calls arrive one at
// a time on the session dispatcher, in the order the stack raised
// them.
type AdvertiserHandler interface {
	// AdvertiserRegistered reports the advertising set id assigned by
	// RegisterAdvertiser, correlated by the application UUID.
	AdvertiserRegistered(status Status, advID uint8, appUUID UUID)
	ParamsSet(advID uint8, status Status)
	DataSet(advID uint8, status Status)
	// AdvertisingEnabled confirms an EnableAdvertising call. It also
	// fires with enabled false when a timeout expires.
	AdvertisingEnabled(advID uint8, enabled bool, status Status)
}

// AdvertiserBoundary is the LE advertiser half of a stack backend.
type AdvertiserBoundary interface {
	Init(sink AdvertiserHandler) Status
	Cleanup()

	RegisterAdvertiser(appUUID UUID) Status
	UnregisterAdvertiser(advID uint8) Status
	SetParams(advID uint8, params AdvertiseParams) Status
	SetData(advID uint8, scanResponse bool, data AdvertiseData) Status
	EnableAdvertising(advID uint8, enable bool, timeoutSecs int) Status
}

// Advertiser is the session's bridge to LE advertising.
type Advertiser struct {
	session *Session

	mu       sync.Mutex
	enabled  bool
	boundary AdvertiserBoundary
	handler  AdvertiserHandler
}

// Enable brings the advertiser up and registers handler for its
// events. Enabling an already enabled bridge tears the old
// registration down first.
func (p *Advertiser) Enable(handler AdvertiserHandler) error {
	if handler == nil {
		return fmt.Errorf("bthal: advertiser: nil handler")
	}
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	boundary := p.session.stack.Advertiser()
	if boundary == nil {
		return ErrProfileUnavailable
	}

	if p.teardown() {
		p.session.log.Warn("advertiser enabled twice, cleaning up first")
		p.session.dropEnabled(p)
	}

	status := boundary.Init(&advSink{p})
	p.session.recordCall(ProfileAdvertiser, "init", nil, &status, 0)
	if !status.OK() {
		return statusErr("advertiser init", status)
	}

	p.mu.Lock()
	p.enabled = true
	p.boundary = boundary
	p.handler = handler
	p.mu.Unlock()
	p.session.pushEnabled(p)
	p.session.log.Info("advertiser enabled")
	return nil
}

// Disable tears the advertiser down. Disabling a bridge that is not
// enabled is a no-op.
func (p *Advertiser) Disable() error {
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	if p.teardown() {
		p.session.dropEnabled(p)
		p.session.log.Info("advertiser disabled")
	}
	return nil
}

func (p *Advertiser) disableForClose() {
	p.teardown()
}

func (p *Advertiser) teardown() bool {
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
	p.session.recordCall(ProfileAdvertiser, "cleanup", nil, nil, 0)
	return true
}

func (p *Advertiser) armed() (AdvertiserBoundary, error) {
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

func (p *Advertiser) call(op string, size int, fn func(AdvertiserBoundary) Status) error {
	boundary, err := p.armed()
	if err != nil {
		return err
	}
	status := fn(boundary)
	p.session.recordCall(ProfileAdvertiser, op, nil, &status, size)
	return statusErr("advertiser "+op, status)
}

// RegisterAdvertiser allocates an advertising set. The assigned id
// arrives through AdvertiserRegistered, correlated by appUUID.
func (p *Advertiser) RegisterAdvertiser(appUUID UUID) error {
	return p.call("register_advertiser", 0, func(b AdvertiserBoundary) Status {
		return b.RegisterAdvertiser(appUUID)
	})
}

// UnregisterAdvertiser releases an advertising set.
func (p *Advertiser) UnregisterAdvertiser(advID uint8) error {
	return p.call("unregister_advertiser", 0, func(b AdvertiserBoundary) Status {
		return b.UnregisterAdvertiser(advID)
	})
}

// SetParams configures the timing and radio parameters of an
// advertising set. Completion is reported through ParamsSet.
func (p *Advertiser) SetParams(advID uint8, params AdvertiseParams) error {
	return p.call("set_params", 0, func(b AdvertiserBoundary) Status {
		return b.SetParams(advID, params)
	})
}

// SetData sets the payload of an advertising set. With scanResponse
// set the data goes into the scan response instead of the
// advertisement. Completion is reported through DataSet.
func (p *Advertiser) SetData(advID uint8, scanResponse bool, data AdvertiseData) error {
	size := len(data.ManufacturerData) + len(data.ServiceData) + len(data.ServiceUUID)
	return p.call("set_data", size, func(b AdvertiserBoundary) Status {
		return b.SetData(advID, scanResponse, data)
	})
}

// EnableAdvertising starts or stops an advertising set. A non-zero
// timeout stops advertising after that many seconds, reported through
// AdvertisingEnabled with enabled false.
func (p *Advertiser) EnableAdvertising(advID uint8, enable bool, timeoutSecs int) error {
	return p.call("enable_advertising", 0, func(b AdvertiserBoundary) Status {
		return b.EnableAdvertising(advID, enable, timeoutSecs)
	})
}

func (p *Advertiser) deliver(op string, fn func(AdvertiserHandler)) {
	p.session.recordEvent(ProfileAdvertiser, op, nil, nil, 0)
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

// advSink receives boundary callbacks on stack goroutines.
type advSink struct {
	p *Advertiser
}

func (s *advSink) AdvertiserRegistered(status Status, advID uint8, appUUID UUID) {
	s.p.deliver("advertiser_registered", func(h AdvertiserHandler) {
		h.AdvertiserRegistered(status, advID, appUUID)
	})
}

func (s *advSink) ParamsSet(advID uint8, status Status) {
	s.p.deliver("set_params", func(h AdvertiserHandler) {
		h.ParamsSet(advID, status)
	})
}

func (s *advSink) DataSet(advID uint8, status Status) {
	s.p.deliver("set_data", func(h AdvertiserHandler) {
		h.DataSet(advID, status)
	})
}

func (s *advSink) AdvertisingEnabled(advID uint8, enabled bool, status Status) {
	s.p.deliver("advertising_enabled", func(h AdvertiserHandler) {
		h.AdvertisingEnabled(advID, enabled, status)
	})
}

// AdvertiserHandlerBase implements AdvertiserHandler with empty
// methods. Embed it in a handler that only cares about a subset of
// the events.
type AdvertiserHandlerBase struct{}

func (*AdvertiserHandlerBase) AdvertiserRegistered(status Status, advID uint8, appUUID UUID) {}
func (*AdvertiserHandlerBase) ParamsSet(advID uint8, status Status) {}
func (*AdvertiserHandlerBase) DataSet(advID uint8, status Status) {}
func (*AdvertiserHandlerBase) AdvertisingEnabled(advID uint8, enabled bool, status Status) {}
