//go:build linux

package bluez

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"

	"github.com/btforge/bthal"
)

const (
	bluezBus         = "org.bluez"
	deviceIface      = "org.bluez.Device1"
	controlIface     = "org.bluez.MediaControl1"
	transportIface   = "org.bluez.MediaTransport1"
	playerIface      = "org.bluez.MediaPlayer1"
	folderIface      = "org.bluez.MediaFolder1"
	itemIface        = "org.bluez.MediaItem1"
	gattManagerIface = "org.bluez.GattManager1"
	gattServiceIface = "org.bluez.GattService1"
	gattCharIface    = "org.bluez.GattCharacteristic1"
	gattDescIface    = "org.bluez.GattDescriptor1"

	propsIface      = "org.freedesktop.DBus.Properties"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"

	sigPropertiesChanged = propsIface + ".PropertiesChanged"
	sigInterfacesAdded   = objManagerIface + ".InterfacesAdded"
	sigInterfacesRemoved = objManagerIface + ".InterfacesRemoved"

	// audioSinkUUID names the remote role an audio source connects
	// to.
	audioSinkUUID = "0000110b-0000-1000-8000-00805f9b34fb"
)

// Options configures a Stack.
type Options struct {
	// AdapterID selects the controller, for example "hci0". Empty
	// picks the first adapter on the system.
	AdapterID string

	// Logger is the operational logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// Stack exposes one BlueZ adapter as a session backend.
type Stack struct {
	log     *slog.Logger
	id      string
	adapter *adapter.Adapter1
	bus     *dbus.Conn

	a2dp  *audioBoundary
	avrcp *controlBoundary
	gattc *clientBoundary
	gatts *serverBoundary
	adv   *advertiserBoundary
}

// New connects to the daemon and binds the adapter named in opts.
func New(opts Options) (*Stack, error) {
	var (
		a   *adapter.Adapter1
		err error
	)
	if opts.AdapterID != "" {
		a, err = api.GetAdapter(opts.AdapterID)
	} else {
		a, err = api.GetDefaultAdapter()
	}
	if err != nil {
		return nil, fmt.Errorf("bluez: get adapter: %w", err)
	}
	id, err := a.GetAdapterID()
	if err != nil {
		return nil, fmt.Errorf("bluez: adapter id: %w", err)
	}
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Stack{
		log:     log.With("stack", "bluez", "adapter", id),
		id:      id,
		adapter: a,
		bus:     bus,
	}
	s.a2dp = &audioBoundary{s: s}
	s.avrcp = &controlBoundary{s: s}
	s.gattc = &clientBoundary{s: s}
	s.gatts = &serverBoundary{s: s}
	s.adv = &advertiserBoundary{s: s}
	return s, nil
}

func (s *Stack) Name() string { return "bluez" }

func (s *Stack) A2DP() bthal.A2DPBoundary             { return s.a2dp }
func (s *Stack) AVRCPController() bthal.AVRCPBoundary { return s.avrcp }
func (s *Stack) GATTClient() bthal.GATTClientBoundary { return s.gattc }
func (s *Stack) GATTServer() bthal.GATTServerBoundary { return s.gatts }
func (s *Stack) Advertiser() bthal.AdvertiserBoundary { return s.adv }

// Close tears every profile down. The shared system bus connection is
// left open; closing it would break other users in the process.
func (s *Stack) Close() error {
	s.adv.Cleanup()
	s.gatts.Cleanup()
	s.gattc.Cleanup()
	s.avrcp.Cleanup()
	s.a2dp.Cleanup()
	return nil
}

// devicePath builds the object path BlueZ uses for a remote device on
// this adapter.
func (s *Stack) devicePath(addr bthal.Address) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + s.id + "/dev_" + strings.ReplaceAll(addr.String(), ":", "_"))
}

// addrFromPath recovers the device address encoded in an object path,
// for example .../dev_AA_BB_CC_DD_EE_FF/fd0.
func addrFromPath(path dbus.ObjectPath) (bthal.Address, bool) {
	p := string(path)
	i := strings.LastIndex(p, "/dev_")
	if i < 0 {
		return bthal.Address{}, false
	}
	tail := p[i+len("/dev_"):]
	if j := strings.IndexByte(tail, '/'); j >= 0 {
		tail = tail[:j]
	}
	addr, err := bthal.ParseAddress(strings.ReplaceAll(tail, "_", ":"))
	return addr, err == nil
}

// managedObjects fetches the daemon's whole object tree in one round
// trip.
func (s *Stack) managedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := s.bus.Object(bluezBus, "/").Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: managed objects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode managed objects: %w", err)
	}
	return objs, nil
}

// watchBus registers ch for the property and object lifecycle signals
// the media boundaries feed on and returns the matching deregistration
// func.
func (s *Stack) watchBus(ch chan *dbus.Signal) (func(), error) {
	rules := [][]dbus.MatchOption{
		{dbus.WithMatchSender(bluezBus), dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged")},
		{dbus.WithMatchSender(bluezBus), dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded")},
		{dbus.WithMatchSender(bluezBus), dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesRemoved")},
	}
	for i, rule := range rules {
		if err := s.bus.AddMatchSignal(rule...); err != nil {
			for _, prev := range rules[:i] {
				_ = s.bus.RemoveMatchSignal(prev...)
			}
			return nil, fmt.Errorf("bluez: add signal match: %w", err)
		}
	}
	s.bus.Signal(ch)
	return func() {
		s.bus.RemoveSignal(ch)
		for _, rule := range rules {
			_ = s.bus.RemoveMatchSignal(rule...)
		}
	}, nil
}

func varString(props map[string]dbus.Variant, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok
}

func varBool(props map[string]dbus.Variant, key string) (bool, bool) {
	v, ok := props[key]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func varUint32(props map[string]dbus.Variant, key string) (uint32, bool) {
	v, ok := props[key]
	if !ok {
		return 0, false
	}
	switch n := v.Value().(type) {
	case uint32:
		return n, true
	case int32:
		return uint32(n), true
	case uint16:
		return uint32(n), true
	}
	return 0, false
}
