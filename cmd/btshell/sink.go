package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/btforge/bthal"
)

// seenDevice is one row of the scan table.
type seenDevice struct {
	addr bthal.Address
	name string
	rssi int16
}

// sink receives every session event and prints it through the
// readline-coordinated writer so event lines never tear the prompt. It
// also keeps the small amount of state the commands read back: the
// registered ids, the open connections, and the last browse listing.
type sink struct {
	out io.Writer

	mu       sync.Mutex
	sess     *bthal.Session
	clientIf int32
	advID    uint8
	volume   uint8

	devices map[bthal.Address]*seenDevice
	order   []bthal.Address
	conns   map[bthal.Address]bthal.ConnID
	items   []bthal.MediaItem
	scope   bthal.BrowseScope
}

func newSink(out io.Writer) *sink {
	return &sink{
		out:     out,
		volume:  0x40,
		devices: make(map[bthal.Address]*seenDevice),
		conns:   make(map[bthal.Address]bthal.ConnID),
	}
}

func (k *sink) printf(format string, args ...any) {
	k.mu.Lock()
	out := k.out
	k.mu.Unlock()
	fmt.Fprintf(out, format+"\n", args...)
}

// setOut swaps the event writer. Monitor mode redirects events
// through a writer that copes with a raw terminal.
func (k *sink) setOut(w io.Writer) {
	k.mu.Lock()
	k.out = w
	k.mu.Unlock()
}

// bind gives the sink the session handle it answers volume requests
// through. Called once after Open, before any handler is enabled.
func (k *sink) bind(sess *bthal.Session) {
	k.mu.Lock()
	k.sess = sess
	k.mu.Unlock()
}

func (k *sink) client() int32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.clientIf
}

func (k *sink) advertiser() uint8 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.advID
}

func (k *sink) connFor(addr bthal.Address) (bthal.ConnID, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, ok := k.conns[addr]
	return id, ok
}

// device resolves a scan table index to its address.
func (k *sink) device(i int) (bthal.Address, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if i < 0 || i >= len(k.order) {
		return bthal.Address{}, false
	}
	return k.order[i], true
}

func (k *sink) deviceRows() []seenDevice {
	k.mu.Lock()
	defer k.mu.Unlock()
	rows := make([]seenDevice, 0, len(k.order))
	for _, addr := range k.order {
		rows = append(rows, *k.devices[addr])
	}
	return rows
}

func (k *sink) connRows() map[bthal.Address]bthal.ConnID {
	k.mu.Lock()
	defer k.mu.Unlock()
	rows := make(map[bthal.Address]bthal.ConnID, len(k.conns))
	for addr, id := range k.conns {
		rows[addr] = id
	}
	return rows
}

// listedItem resolves an index from the last browse listing.
func (k *sink) listedItem(i int) (bthal.MediaItem, bthal.BrowseScope, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if i < 0 || i >= len(k.items) {
		return bthal.MediaItem{}, 0, false
	}
	return k.items[i], k.scope, true
}

// setScope records which listing the next browse answer belongs to.
// The browse commands call it before issuing the request.
func (k *sink) setScope(scope bthal.BrowseScope) {
	k.mu.Lock()
	k.scope = scope
	k.mu.Unlock()
}

// GATT client events.

func (k *sink) ClientRegistered(status bthal.Status, clientIf int32, appUUID bthal.UUID) {
	if status.OK() {
		k.mu.Lock()
		k.clientIf = clientIf
		k.mu.Unlock()
	}
	k.printf("[gatt] client registered: if=%d status=%v", clientIf, status)
}

func (k *sink) ScanResult(addr bthal.Address, rssi int16, eir []byte) {
	f := bthal.ExtractAdvertisement(eir)

	k.mu.Lock()
	d, known := k.devices[addr]
	if !known {
		d = &seenDevice{addr: addr}
		k.devices[addr] = d
		k.order = append(k.order, addr)
	}
	named := d.name == "" && f.LocalName != ""
	if named {
		d.name = f.LocalName
	}
	d.rssi = rssi
	index := len(k.order) - 1
	k.mu.Unlock()

	// Repeat sightings update the table silently; a line is only
	// worth printing for a new device or a newly learned name.
	switch {
	case !known:
		k.printf("[scan] #%d %s rssi=%d name=%q", index, addr, rssi, f.LocalName)
	case named:
		k.printf("[scan] %s is %q", addr, f.LocalName)
	}
}

func (k *sink) Connected(connID bthal.ConnID, status bthal.Status, clientIf int32, addr bthal.Address) {
	if status.OK() {
		k.mu.Lock()
		k.conns[addr] = connID
		k.mu.Unlock()
	}
	k.printf("[gatt] connected: %s conn=%d status=%v", addr, connID, status)
}

func (k *sink) Disconnected(connID bthal.ConnID, status bthal.Status, clientIf int32, addr bthal.Address) {
	k.mu.Lock()
	delete(k.conns, addr)
	k.mu.Unlock()
	k.printf("[gatt] disconnected: %s conn=%d status=%v", addr, connID, status)
}

func (k *sink) SearchComplete(connID bthal.ConnID, status bthal.Status) {
	k.printf("[gatt] service search done: conn=%d status=%v", connID, status)
}

func (k *sink) NotificationRegistered(connID bthal.ConnID, registered bool, status bthal.Status, handle bthal.AttrHandle) {
	verb := "registered"
	if !registered {
		verb = "deregistered"
	}
	k.printf("[gatt] notification %s: conn=%d handle=0x%04x status=%v", verb, connID, handle, status)
}

func (k *sink) Notified(connID bthal.ConnID, addr bthal.Address, handle bthal.AttrHandle, isNotify bool, value []byte) {
	kind := "notify"
	if !isNotify {
		kind = "indicate"
	}
	k.printf("[gatt] %s from %s: handle=0x%04x value=%s", kind, addr, handle, hex.EncodeToString(value))
}

func (k *sink) CharacteristicRead(connID bthal.ConnID, status bthal.Status, handle bthal.AttrHandle, value []byte) {
	if !status.OK() {
		k.printf("[gatt] read failed: handle=0x%04x status=%v", handle, status)
		return
	}
	k.printf("[gatt] read: handle=0x%04x value=%s", handle, hex.EncodeToString(value))
}

func (k *sink) CharacteristicWritten(connID bthal.ConnID, status bthal.Status, handle bthal.AttrHandle) {
	k.printf("[gatt] write done: handle=0x%04x status=%v", handle, status)
}

func (k *sink) DescriptorRead(connID bthal.ConnID, status bthal.Status, handle bthal.AttrHandle, value []byte) {
	if !status.OK() {
		k.printf("[gatt] descriptor read failed: handle=0x%04x status=%v", handle, status)
		return
	}
	k.printf("[gatt] descriptor: handle=0x%04x value=%s", handle, hex.EncodeToString(value))
}

func (k *sink) DescriptorWritten(connID bthal.ConnID, status bthal.Status, handle bthal.AttrHandle) {
	k.printf("[gatt] descriptor write done: handle=0x%04x status=%v", handle, status)
}

func (k *sink) ExecuteWriteComplete(connID bthal.ConnID, status bthal.Status) {
	k.printf("[gatt] execute write done: conn=%d status=%v", connID, status)
}

func (k *sink) RemoteRSSI(clientIf int32, addr bthal.Address, rssi int16, status bthal.Status) {
	k.printf("[gatt] rssi: %s %d dBm status=%v", addr, rssi, status)
}

func (k *sink) MTUChanged(connID bthal.ConnID, status bthal.Status, mtu int) {
	k.printf("[gatt] mtu: conn=%d mtu=%d status=%v", connID, mtu, status)
}

func (k *sink) GattDB(connID bthal.ConnID, db []bthal.GattDBElement) {
	k.printf("[gatt] attribute database: conn=%d (%d elements)", connID, len(db))
	for _, el := range db {
		switch el.Type {
		case bthal.DBPrimaryService, bthal.DBSecondaryService:
			k.printf("  %v %s handles 0x%04x..0x%04x", el.Type, el.UUID, el.StartHandle, el.EndHandle)
		case bthal.DBCharacteristic:
			k.printf("    characteristic %s handle 0x%04x props 0x%02x", el.UUID, el.Handle, el.Properties)
		case bthal.DBDescriptor:
			k.printf("      descriptor %s handle 0x%04x", el.UUID, el.Handle)
		default:
			k.printf("    %v %s handle 0x%04x", el.Type, el.UUID, el.Handle)
		}
	}
}

// The A2DP and AVRCP handler interfaces both declare a connection
// state callback under the same name, so one type cannot satisfy
// both. These two views split the colliding method across the shared
// sink; everything else is promoted from it.

type a2dpEvents struct{ *sink }

func (e a2dpEvents) ConnectionStateChanged(addr bthal.Address, state bthal.A2DPConnectionState) {
	e.printf("[a2dp] %s: %v", addr, state)
}

type avrcpEvents struct{ *sink }

func (e avrcpEvents) ConnectionStateChanged(remoteControl, browsing bool, addr bthal.Address) {
	e.printf("[avrcp] %s: control=%v browsing=%v", addr, remoteControl, browsing)
}

// A2DP events.

func (k *sink) AudioStateChanged(addr bthal.Address, state bthal.A2DPAudioState) {
	k.printf("[a2dp] %s audio: %v", addr, state)
}

// AVRCP events.

func (k *sink) PassthroughResponse(key bthal.PassthroughKey, state bthal.KeyState) {
	k.printf("[avrcp] passthrough %s %s acknowledged", keyName(key), stateName(state))
}

func (k *sink) GroupNavigationResponse(key uint8, state bthal.KeyState) {
	k.printf("[avrcp] group navigation 0x%02x %s acknowledged", key, stateName(state))
}

func (k *sink) RemoteFeatures(addr bthal.Address, features bthal.AVRCPFeatures) {
	k.printf("[avrcp] %s features: 0x%02x", addr, uint8(features))
}

func (k *sink) SetPlayerSettingsResponse(addr bthal.Address, accepted bool) {
	k.printf("[avrcp] %s player settings accepted: %v", addr, accepted)
}

func (k *sink) PlayerSettingsSupported(addr bthal.Address, menus []bthal.PlayerSettingMenu) {
	k.printf("[avrcp] %s supported settings:", addr)
	for _, m := range menus {
		k.printf("  %s: %v", settingName(m.Attr), m.Values)
	}
}

func (k *sink) PlayerSettingsChanged(addr bthal.Address, settings []bthal.PlayerSetting) {
	parts := make([]string, 0, len(settings))
	for _, s := range settings {
		parts = append(parts, fmt.Sprintf("%s=%d", settingName(s.Attr), s.Value))
	}
	k.printf("[avrcp] %s settings: %s", addr, strings.Join(parts, " "))
}

// SetAbsVolumeCommand answers on the spot the way a rendering device
// would: adopt the requested level and confirm it.
func (k *sink) SetAbsVolumeCommand(addr bthal.Address, volume, label uint8) {
	k.mu.Lock()
	k.volume = volume
	sess := k.sess
	k.mu.Unlock()
	k.printf("[avrcp] %s set absolute volume %d/127", addr, volume)
	if sess == nil {
		return
	}
	if err := sess.AVRCPController().SendAbsVolumeResponse(addr, volume, label); err != nil {
		k.printf("[avrcp] volume response failed: %v", err)
	}
}

func (k *sink) RegisterAbsVolNotification(addr bthal.Address, label uint8) {
	k.mu.Lock()
	volume := k.volume
	sess := k.sess
	k.mu.Unlock()
	k.printf("[avrcp] %s registered for volume changes", addr)
	if sess == nil {
		return
	}
	err := sess.AVRCPController().SendRegisterAbsVolResponse(addr, bthal.NotificationInterim, volume, label)
	if err != nil {
		k.printf("[avrcp] volume notification response failed: %v", err)
	}
}

func (k *sink) TrackChanged(addr bthal.Address, attrs []bthal.MediaAttribute) {
	k.printf("[avrcp] %s track changed:", addr)
	for _, a := range attrs {
		k.printf("  %s: %s", attrName(a.ID), a.Text)
	}
}

func (k *sink) PlayPositionChanged(addr bthal.Address, songLen, songPos uint32) {
	k.printf("[avrcp] %s position %s / %s", addr, millis(songPos), millis(songLen))
}

func (k *sink) PlayStatusChanged(addr bthal.Address, status bthal.PlayStatus) {
	k.printf("[avrcp] %s play status: %v", addr, status)
}

func (k *sink) FolderItems(items []bthal.MediaItem) {
	k.mu.Lock()
	k.items = items
	k.mu.Unlock()
	k.printf("[avrcp] %d items:", len(items))
	for i, it := range items {
		switch it.Type {
		case bthal.MediaItemFolder:
			k.printf("  #%d [dir] %s", i, it.Name)
		case bthal.MediaItemMedia:
			k.printf("  #%d %s", i, it.Name)
		default:
			k.printf("  #%d (%d) %s", i, it.Type, it.Name)
		}
	}
}

func (k *sink) PlayerItems(players []bthal.PlayerInfo) {
	k.printf("[avrcp] %d players:", len(players))
	for _, p := range players {
		k.printf("  id=%d %q status=%v", p.ID, p.Name, p.PlayStatus)
	}
}

func (k *sink) FolderPathChanged(count uint8) {
	k.printf("[avrcp] folder changed, %d items inside", count)
}

func (k *sink) BrowsedPlayerSet(numItems, depth uint8) {
	k.printf("[avrcp] browsed player set: %d items, depth %d", numItems, depth)
}

// Advertiser events.

func (k *sink) AdvertiserRegistered(status bthal.Status, advID uint8, appUUID bthal.UUID) {
	if status.OK() {
		k.mu.Lock()
		k.advID = advID
		k.mu.Unlock()
	}
	k.printf("[adv] advertiser registered: id=%d status=%v", advID, status)
}

func (k *sink) ParamsSet(advID uint8, status bthal.Status) {
	k.printf("[adv] parameters set: id=%d status=%v", advID, status)
}

func (k *sink) DataSet(advID uint8, status bthal.Status) {
	k.printf("[adv] payload set: id=%d status=%v", advID, status)
}

func (k *sink) AdvertisingEnabled(advID uint8, enabled bool, status bthal.Status) {
	if enabled {
		k.printf("[adv] advertising on: id=%d status=%v", advID, status)
	} else {
		k.printf("[adv] advertising off: id=%d status=%v", advID, status)
	}
}

func millis(ms uint32) string {
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func attrName(id uint32) string {
	switch id {
	case bthal.AttrTitle:
		return "title"
	case bthal.AttrArtist:
		return "artist"
	case bthal.AttrAlbum:
		return "album"
	case bthal.AttrTrackNum:
		return "track"
	case bthal.AttrNumTracks:
		return "of"
	case bthal.AttrGenre:
		return "genre"
	case bthal.AttrPlayingTime:
		return "duration"
	}
	return fmt.Sprintf("attr(%d)", id)
}

func settingName(attr uint8) string {
	switch attr {
	case bthal.SettingEqualizer:
		return "equalizer"
	case bthal.SettingRepeat:
		return "repeat"
	case bthal.SettingShuffle:
		return "shuffle"
	case bthal.SettingScan:
		return "scan"
	}
	return fmt.Sprintf("setting(%d)", attr)
}

func keyName(key bthal.PassthroughKey) string {
	switch key {
	case bthal.KeyVolumeUp:
		return "volume-up"
	case bthal.KeyVolumeDown:
		return "volume-down"
	case bthal.KeyPlay:
		return "play"
	case bthal.KeyStop:
		return "stop"
	case bthal.KeyPause:
		return "pause"
	case bthal.KeyRewind:
		return "rewind"
	case bthal.KeyFastFwd:
		return "fast-forward"
	case bthal.KeyForward:
		return "forward"
	case bthal.KeyBackward:
		return "backward"
	}
	return fmt.Sprintf("key(0x%02x)", uint8(key))
}

func stateName(state bthal.KeyState) string {
	if state == bthal.KeyPressed {
		return "press"
	}
	return "release"
}
