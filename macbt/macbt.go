//go:build darwin

package macbt

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/JuulLabs-OSS/cbgo"

	"github.com/btforge/bthal"
)

// Options configures a Stack.
type Options struct {
	// LocalName is advertised when a payload asks for the device
	// name. CoreBluetooth has no adapter alias to fall back on.
	LocalName string

	// Logger is the operational logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// Stack exposes CoreBluetooth as a session backend.
type Stack struct {
	log  *slog.Logger
	name string

	mu    sync.Mutex
	pm    cbgo.PeripheralManager
	pmSet bool

	gattc *clientBoundary
	gatts *serverBoundary
	adv   *advertiserBoundary
}

// New builds a Stack. The CoreBluetooth managers are created lazily
// when a profile initializes, which is also when macOS raises its
// permission prompt.
func New(opts Options) (*Stack, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Stack{log: log.With("stack", "macbt"), name: opts.LocalName}
	s.gattc = &clientBoundary{s: s}
	s.gatts = &serverBoundary{s: s}
	s.adv = &advertiserBoundary{s: s}
	return s, nil
}

func (s *Stack) Name() string { return "macbt" }

func (s *Stack) A2DP() bthal.A2DPBoundary             { return nil }
func (s *Stack) AVRCPController() bthal.AVRCPBoundary { return nil }
func (s *Stack) GATTClient() bthal.GATTClientBoundary { return s.gattc }
func (s *Stack) GATTServer() bthal.GATTServerBoundary { return s.gatts }
func (s *Stack) Advertiser() bthal.AdvertiserBoundary { return s.adv }

func (s *Stack) Close() error {
	s.adv.Cleanup()
	s.gatts.Cleanup()
	s.gattc.Cleanup()
	return nil
}

// peripheralManager hands out the one shared peripheral manager. The
// GATT server and the advertiser both ride it.
func (s *Stack) peripheralManager() cbgo.PeripheralManager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pmSet {
		s.pm = cbgo.NewPeripheralManager(nil)
		s.pm.SetDelegate(&pmDelegate{s: s})
		s.pmSet = true
	}
	return s.pm
}

// pseudoAddr folds a CoreBluetooth identifier into a six byte
// address. The identifier is stable per remote device on this host,
// so the fold is too; the real public address is never revealed.
func pseudoAddr(id cbgo.UUID) bthal.Address {
	var addr bthal.Address
	n := 0
	for _, c := range []byte(id.String()) {
		var nib byte
		switch {
		case c >= '0' && c <= '9':
			nib = c - '0'
		case c >= 'a' && c <= 'f':
			nib = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			nib = c - 'A' + 10
		default:
			continue
		}
		addr[(n/2)%6] ^= nib << (4 * uint(1-n%2))
		n++
	}
	return addr
}

// parseCBUUID converts a CoreBluetooth UUID, which may be in 16 or 32
// bit short form, into ours.
func parseCBUUID(s string) (bthal.UUID, bool) {
	switch len(s) {
	case 4:
		n, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bthal.UUID{}, false
		}
		return bthal.New16BitUUID(uint16(n)), true
	case 8:
		n, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return bthal.UUID{}, false
		}
		return bthal.PackUUID(0x0000000000001000|n<<32, 0x800000805F9B34FB), true
	case 36:
		uuid, err := bthal.ParseUUID(s)
		return uuid, err == nil
	}
	return bthal.UUID{}, false
}

func cbUUID(uuid bthal.UUID) cbgo.UUID {
	u, _ := cbgo.ParseUUID(uuid.String())
	return u
}
