//go:build linux

package bluez

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/btforge/bthal"
)

// controlBoundary drives the remote control profile, controller role.
// The daemon exposes the remote's player as a MediaPlayer1 object
// under the device path; browsing rides MediaFolder1 and MediaItem1
// on the same subtree. Passthrough keys map onto player methods, and
// listing entries get local uids because D-Bus identifies them by
// object path instead.
type controlBoundary struct {
	s *Stack

	mu         sync.Mutex
	sink       bthal.AVRCPHandler
	players    map[bthal.Address]*playerState
	listed     map[uint16]dbus.ObjectPath // ids handed out by GetPlayerList
	nextPlayer uint16
	unwatch    func()
	quit       chan struct{}
	done       chan struct{}
}

// playerState tracks the player object serving one remote device.
type playerState struct {
	path      dbus.ObjectPath
	id        uint16
	browsable bool
	duration  uint32 // last Duration seen, for position reports

	folder []dbus.ObjectPath // descent history below the root folder
	uids   map[dbus.ObjectPath]bthal.MediaUID
	paths  map[bthal.MediaUID]dbus.ObjectPath
	uidSeq uint64
}

// uidFor hands out a stable uid for a listed object path. Caller
// holds the boundary lock.
func (p *playerState) uidFor(path dbus.ObjectPath) bthal.MediaUID {
	if uid, ok := p.uids[path]; ok {
		return uid
	}
	p.uidSeq++
	var uid bthal.MediaUID
	binary.BigEndian.PutUint64(uid[:], p.uidSeq)
	p.uids[path] = uid
	p.paths[uid] = path
	return uid
}

func (b *controlBoundary) Init(sink bthal.AVRCPHandler) bthal.Status {
	ch := make(chan *dbus.Signal, 32)
	unwatch, err := b.s.watchBus(ch)
	if err != nil {
		b.s.log.Error("avrcp signal watch failed", "err", err)
		return bthal.StatusFail
	}

	quit := make(chan struct{})
	done := make(chan struct{})
	b.mu.Lock()
	b.sink = sink
	b.players = make(map[bthal.Address]*playerState)
	b.listed = make(map[uint16]dbus.ObjectPath)
	b.unwatch = unwatch
	b.quit = quit
	b.done = done
	b.mu.Unlock()

	go b.watch(ch, quit, done)
	b.prime()
	return bthal.StatusSuccess
}

func (b *controlBoundary) Cleanup() {
	b.mu.Lock()
	sink := b.sink
	b.sink = nil
	unwatch := b.unwatch
	b.unwatch = nil
	quit, done := b.quit, b.done
	b.quit, b.done = nil, nil
	b.players = nil
	b.listed = nil
	b.mu.Unlock()

	if sink == nil {
		return
	}
	if unwatch != nil {
		unwatch()
	}
	if quit != nil {
		close(quit)
		<-done
	}
}

func (b *controlBoundary) prime() {
	objs, err := b.s.managedObjects()
	if err != nil {
		b.s.log.Warn("avrcp prime failed", "err", err)
		return
	}
	for path, ifaces := range objs {
		if props, ok := ifaces[playerIface]; ok {
			b.addPlayer(path, props)
		}
	}
}

func (b *controlBoundary) watch(ch chan *dbus.Signal, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case sig := <-ch:
			if sig == nil {
				return
			}
			b.handle(sig)
		}
	}
}

func (b *controlBoundary) handle(sig *dbus.Signal) {
	switch sig.Name {
	case sigInterfacesAdded:
		if len(sig.Body) < 2 {
			return
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		if props, ok := ifaces[playerIface]; ok {
			b.addPlayer(path, props)
		}
	case sigInterfacesRemoved:
		if len(sig.Body) < 2 {
			return
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		for _, iface := range ifaces {
			if iface == playerIface {
				b.removePlayer(path)
				return
			}
		}
	case sigPropertiesChanged:
		if len(sig.Body) < 2 {
			return
		}
		iface, _ := sig.Body[0].(string)
		if iface != playerIface {
			return
		}
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		b.playerChanged(sig.Path, changed)
	}
}

func (b *controlBoundary) addPlayer(path dbus.ObjectPath, props map[string]dbus.Variant) {
	addr, ok := addrFromPath(path)
	if !ok {
		return
	}
	browsable, _ := varBool(props, "Browsable")

	b.mu.Lock()
	if b.players == nil {
		b.mu.Unlock()
		return
	}
	p, known := b.players[addr]
	if known {
		// The remote replaced its player object; keep our ids.
		p.path = path
		p.browsable = browsable
		b.mu.Unlock()
		return
	}
	b.nextPlayer++
	p = &playerState{
		path:      path,
		id:        b.nextPlayer,
		browsable: browsable,
		uids:      make(map[dbus.ObjectPath]bthal.MediaUID),
		paths:     make(map[bthal.MediaUID]dbus.ObjectPath),
	}
	b.players[addr] = p
	sink := b.sink
	b.mu.Unlock()

	if sink == nil {
		return
	}
	sink.ConnectionStateChanged(true, browsable, addr)
	features := bthal.FeatureMetadata
	if browsable {
		features |= bthal.FeatureBrowsing
	}
	sink.RemoteFeatures(addr, features)
	b.playerChanged(path, props)
}

func (b *controlBoundary) removePlayer(path dbus.ObjectPath) {
	addr, ok := addrFromPath(path)
	if !ok {
		return
	}
	b.mu.Lock()
	p := b.players[addr]
	if p == nil || p.path != path {
		b.mu.Unlock()
		return
	}
	delete(b.players, addr)
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink.ConnectionStateChanged(false, false, addr)
	}
}

// playerChanged fans a property change out to the matching handler
// callbacks.
func (b *controlBoundary) playerChanged(path dbus.ObjectPath, changed map[string]dbus.Variant) {
	addr, ok := addrFromPath(path)
	if !ok {
		return
	}
	b.mu.Lock()
	sink := b.sink
	p := b.players[addr]
	b.mu.Unlock()
	if sink == nil || p == nil {
		return
	}

	if status, ok := varString(changed, "Status"); ok {
		sink.PlayStatusChanged(addr, playStatusFrom(status))
	}
	if v, ok := changed["Track"]; ok {
		if track, ok := v.Value().(map[string]dbus.Variant); ok {
			if d, ok := varUint32(track, "Duration"); ok {
				b.mu.Lock()
				p.duration = d
				b.mu.Unlock()
			}
			sink.TrackChanged(addr, trackAttrs(track))
		}
	}
	if pos, ok := varUint32(changed, "Position"); ok {
		b.mu.Lock()
		duration := p.duration
		b.mu.Unlock()
		sink.PlayPositionChanged(addr, duration, pos)
	}
	if repeat, ok := varString(changed, "Repeat"); ok {
		sink.PlayerSettingsChanged(addr, []bthal.PlayerSetting{{Attr: bthal.SettingRepeat, Value: repeatValue(repeat)}})
	}
	if shuffle, ok := varString(changed, "Shuffle"); ok {
		sink.PlayerSettingsChanged(addr, []bthal.PlayerSetting{{Attr: bthal.SettingShuffle, Value: shuffleValue(shuffle)}})
	}
}

func (b *controlBoundary) fire(fn func(bthal.AVRCPHandler)) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		fn(sink)
	}
}

func (b *controlBoundary) player(addr bthal.Address) *playerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.players[addr]
}

func (b *controlBoundary) SendPassthrough(addr bthal.Address, key bthal.PassthroughKey, state bthal.KeyState) bthal.Status {
	if key == bthal.KeyVolumeUp || key == bthal.KeyVolumeDown {
		return b.volumeKey(addr, key, state)
	}
	p := b.player(addr)
	if p == nil {
		return bthal.StatusNotReady
	}
	if method, ok := passthroughMethod(key, state); ok {
		if call := b.s.bus.Object(bluezBus, p.path).Call(method, 0); call.Err != nil {
			b.s.log.Warn("avrcp passthrough failed", "addr", addr.String(), "key", uint8(key), "err", call.Err)
			return bthal.StatusFail
		}
	}
	// There is no passthrough response signal; answer once the
	// method call went through.
	b.fire(func(sink bthal.AVRCPHandler) { sink.PassthroughResponse(key, state) })
	return bthal.StatusSuccess
}

// volumeKey rides the MediaControl1 interface on the device path,
// the only volume surface the daemon offers a controller.
func (b *controlBoundary) volumeKey(addr bthal.Address, key bthal.PassthroughKey, state bthal.KeyState) bthal.Status {
	if state == bthal.KeyPressed {
		method := controlIface + ".VolumeUp"
		if key == bthal.KeyVolumeDown {
			method = controlIface + ".VolumeDown"
		}
		if call := b.s.bus.Object(bluezBus, b.s.devicePath(addr)).Call(method, 0); call.Err != nil {
			b.s.log.Warn("avrcp volume key failed", "addr", addr.String(), "err", call.Err)
			return bthal.StatusFail
		}
	}
	b.fire(func(sink bthal.AVRCPHandler) { sink.PassthroughResponse(key, state) })
	return bthal.StatusSuccess
}

// passthroughMethod maps a key event onto the player method serving
// it. Keys without a mapping complete locally. Seek keys run while
// held, so their release resumes playback.
func passthroughMethod(key bthal.PassthroughKey, state bthal.KeyState) (string, bool) {
	if state == bthal.KeyReleased {
		switch key {
		case bthal.KeyRewind, bthal.KeyFastFwd:
			return playerIface + ".Play", true
		}
		return "", false
	}
	switch key {
	case bthal.KeyPlay:
		return playerIface + ".Play", true
	case bthal.KeyPause:
		return playerIface + ".Pause", true
	case bthal.KeyStop:
		return playerIface + ".Stop", true
	case bthal.KeyForward:
		return playerIface + ".Next", true
	case bthal.KeyBackward:
		return playerIface + ".Previous", true
	case bthal.KeyRewind:
		return playerIface + ".Rewind", true
	case bthal.KeyFastFwd:
		return playerIface + ".FastForward", true
	}
	return "", false
}

// SendGroupNavigation is not expressible over the daemon's player
// interface.
func (b *controlBoundary) SendGroupNavigation(addr bthal.Address, key uint8, state bthal.KeyState) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *controlBoundary) SetPlayerSettings(addr bthal.Address, settings []bthal.PlayerSetting) bthal.Status {
	p := b.player(addr)
	if p == nil {
		return bthal.StatusNotReady
	}
	applied := 0
	for _, setting := range settings {
		var prop, value string
		switch setting.Attr {
		case bthal.SettingRepeat:
			prop, value = "Repeat", repeatName(setting.Value)
		case bthal.SettingShuffle:
			prop, value = "Shuffle", shuffleName(setting.Value)
		}
		if prop == "" || value == "" {
			continue
		}
		call := b.s.bus.Object(bluezBus, p.path).Call(propsIface+".Set", 0, playerIface, prop, dbus.MakeVariant(value))
		if call.Err != nil {
			b.s.log.Warn("avrcp set setting failed", "addr", addr.String(), "setting", prop, "err", call.Err)
			b.fire(func(sink bthal.AVRCPHandler) { sink.SetPlayerSettingsResponse(addr, false) })
			return bthal.StatusSuccess
		}
		applied++
	}
	if applied == 0 {
		return bthal.StatusUnsupported
	}
	b.fire(func(sink bthal.AVRCPHandler) { sink.SetPlayerSettingsResponse(addr, true) })
	return bthal.StatusSuccess
}

// SendAbsVolumeResponse is unsupported: absolute volume lives inside
// the daemon, which answers the remote itself.
func (b *controlBoundary) SendAbsVolumeResponse(addr bthal.Address, volume, label uint8) bthal.Status {
	return bthal.StatusUnsupported
}

// SendRegisterAbsVolResponse is unsupported for the same reason as
// SendAbsVolumeResponse.
func (b *controlBoundary) SendRegisterAbsVolResponse(addr bthal.Address, rspType bthal.NotificationType, volume, label uint8) bthal.Status {
	return bthal.StatusUnsupported
}

func (b *controlBoundary) GetNowPlayingList(addr bthal.Address, start, items uint8) bthal.Status {
	p := b.player(addr)
	if p == nil {
		return bthal.StatusNotReady
	}
	go func() {
		listing := b.listSubtree(p, string(p.path)+"/NowPlaying/", start, items)
		if len(listing) == 0 {
			// Remotes without browsing still expose the current
			// track as a player property.
			listing = b.nowPlayingFallback(p)
		}
		b.fire(func(sink bthal.AVRCPHandler) { sink.FolderItems(listing) })
	}()
	return bthal.StatusSuccess
}

func (b *controlBoundary) GetFolderList(addr bthal.Address, start, items uint8) bthal.Status {
	p := b.player(addr)
	if p == nil {
		return bthal.StatusNotReady
	}
	go func() {
		filter := map[string]dbus.Variant{}
		if items > 0 {
			filter["Start"] = dbus.MakeVariant(uint32(start))
			filter["End"] = dbus.MakeVariant(uint32(start) + uint32(items) - 1)
		}
		var listing []struct {
			Path  dbus.ObjectPath
			Props map[string]dbus.Variant
		}
		call := b.s.bus.Object(bluezBus, p.path).Call(folderIface+".ListItems", 0, filter)
		if call.Err != nil {
			b.s.log.Warn("avrcp list folder failed", "addr", addr.String(), "err", call.Err)
			return
		}
		if err := call.Store(&listing); err != nil {
			b.s.log.Warn("avrcp decode folder listing failed", "err", err)
			return
		}
		out := make([]bthal.MediaItem, 0, len(listing))
		b.mu.Lock()
		for _, entry := range listing {
			out = append(out, mediaItemFrom(p, entry.Path, entry.Props))
		}
		b.mu.Unlock()
		b.fire(func(sink bthal.AVRCPHandler) { sink.FolderItems(out) })
	}()
	return bthal.StatusSuccess
}

func (b *controlBoundary) GetPlayerList(addr bthal.Address, start, items uint8) bthal.Status {
	go func() {
		objs, err := b.s.managedObjects()
		if err != nil {
			b.s.log.Warn("avrcp list players failed", "err", err)
			return
		}
		prefix := string(b.s.devicePath(addr)) + "/"
		var paths []string
		for path, ifaces := range objs {
			if _, ok := ifaces[playerIface]; ok && strings.HasPrefix(string(path), prefix) {
				paths = append(paths, string(path))
			}
		}
		sort.Strings(paths)
		paths = window(paths, start, items)

		players := make([]bthal.PlayerInfo, 0, len(paths))
		b.mu.Lock()
		if b.listed == nil {
			b.mu.Unlock()
			return
		}
		for i, path := range paths {
			props := objs[dbus.ObjectPath(path)][playerIface]
			name, _ := varString(props, "Name")
			if name == "" {
				name = path[strings.LastIndexByte(path, '/')+1:]
			}
			status, _ := varString(props, "Status")
			id := uint16(int(start) + i + 1)
			b.listed[id] = dbus.ObjectPath(path)
			players = append(players, bthal.PlayerInfo{
				ID:         id,
				Name:       name,
				PlayStatus: playStatusFrom(status),
				MajorType:  1, // audio
			})
		}
		b.mu.Unlock()
		b.fire(func(sink bthal.AVRCPHandler) { sink.PlayerItems(players) })
	}()
	return bthal.StatusSuccess
}

func (b *controlBoundary) ChangeFolderPath(addr bthal.Address, direction bthal.FolderDirection, uid bthal.MediaUID) bthal.Status {
	p := b.player(addr)
	if p == nil {
		return bthal.StatusNotReady
	}

	b.mu.Lock()
	var target dbus.ObjectPath
	up := direction == bthal.FolderUp
	if up {
		if len(p.folder) == 0 {
			b.mu.Unlock()
			return bthal.StatusInvalidParam
		}
		if len(p.folder) == 1 {
			target = p.path
		} else {
			target = p.folder[len(p.folder)-2]
		}
	} else {
		target = p.paths[uid]
		if target == "" {
			b.mu.Unlock()
			return bthal.StatusInvalidParam
		}
	}
	b.mu.Unlock()

	go func() {
		obj := b.s.bus.Object(bluezBus, p.path)
		if call := obj.Call(folderIface+".ChangeFolder", 0, target); call.Err != nil {
			b.s.log.Warn("avrcp change folder failed", "addr", addr.String(), "err", call.Err)
			return
		}
		b.mu.Lock()
		if up {
			p.folder = p.folder[:len(p.folder)-1]
		} else {
			p.folder = append(p.folder, target)
		}
		b.mu.Unlock()

		count := b.folderItemCount(p.path)
		b.fire(func(sink bthal.AVRCPHandler) { sink.FolderPathChanged(count) })
	}()
	return bthal.StatusSuccess
}

func (b *controlBoundary) SetBrowsedPlayer(addr bthal.Address, playerID uint16) bthal.Status {
	b.mu.Lock()
	path, ok := b.listed[playerID]
	p := b.players[addr]
	if ok && p != nil {
		p.path = path
		p.folder = nil
	}
	b.mu.Unlock()
	if !ok || p == nil {
		return bthal.StatusInvalidParam
	}
	go func() {
		count := b.folderItemCount(path)
		b.fire(func(sink bthal.AVRCPHandler) { sink.BrowsedPlayerSet(count, 0) })
	}()
	return bthal.StatusSuccess
}

func (b *controlBoundary) PlayItem(addr bthal.Address, scope bthal.BrowseScope, uid bthal.MediaUID, uidCounter uint16) bthal.Status {
	p := b.player(addr)
	if p == nil {
		return bthal.StatusNotReady
	}
	b.mu.Lock()
	path := p.paths[uid]
	b.mu.Unlock()
	if path == "" {
		return bthal.StatusInvalidParam
	}
	// uidCounter guards against stale listings on the wire; object
	// paths cannot go stale the same way.
	go func() {
		if call := b.s.bus.Object(bluezBus, path).Call(itemIface+".Play", 0); call.Err != nil {
			b.s.log.Warn("avrcp play item failed", "addr", addr.String(), "err", call.Err)
		}
	}()
	return bthal.StatusSuccess
}

// listSubtree collects the media items below prefix, in path order.
func (b *controlBoundary) listSubtree(p *playerState, prefix string, start, items uint8) []bthal.MediaItem {
	objs, err := b.s.managedObjects()
	if err != nil {
		b.s.log.Warn("avrcp list items failed", "err", err)
		return nil
	}
	var paths []string
	for path, ifaces := range objs {
		if _, ok := ifaces[itemIface]; ok && strings.HasPrefix(string(path), prefix) {
			paths = append(paths, string(path))
		}
	}
	sort.Strings(paths)
	paths = window(paths, start, items)

	out := make([]bthal.MediaItem, 0, len(paths))
	b.mu.Lock()
	for _, path := range paths {
		out = append(out, mediaItemFrom(p, dbus.ObjectPath(path), objs[dbus.ObjectPath(path)][itemIface]))
	}
	b.mu.Unlock()
	return out
}

// nowPlayingFallback synthesizes a one entry listing from the Track
// property.
func (b *controlBoundary) nowPlayingFallback(p *playerState) []bthal.MediaItem {
	call := b.s.bus.Object(bluezBus, p.path).Call(propsIface+".Get", 0, playerIface, "Track")
	if call.Err != nil {
		return nil
	}
	var v dbus.Variant
	if err := call.Store(&v); err != nil {
		return nil
	}
	track, ok := v.Value().(map[string]dbus.Variant)
	if !ok || len(track) == 0 {
		return nil
	}
	b.mu.Lock()
	uid := p.uidFor(p.path + "/Track")
	b.mu.Unlock()
	return []bthal.MediaItem{{
		Type:     bthal.MediaItemMedia,
		UID:      uid,
		Playable: true,
		Attrs:    trackAttrs(track),
	}}
}

// folderItemCount reads how many entries the current folder holds.
func (b *controlBoundary) folderItemCount(path dbus.ObjectPath) uint8 {
	call := b.s.bus.Object(bluezBus, path).Call(propsIface+".Get", 0, folderIface, "NumberOfItems")
	if call.Err != nil {
		return 0
	}
	var v dbus.Variant
	if err := call.Store(&v); err != nil {
		return 0
	}
	n, ok := v.Value().(uint32)
	if !ok {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

// mediaItemFrom builds a listing entry for one MediaItem1 object.
// Caller holds the boundary lock.
func mediaItemFrom(p *playerState, path dbus.ObjectPath, props map[string]dbus.Variant) bthal.MediaItem {
	item := bthal.MediaItem{UID: p.uidFor(path)}
	typ, _ := varString(props, "Type")
	if typ == "folder" {
		item.Type = bthal.MediaItemFolder
	} else {
		item.Type = bthal.MediaItemMedia
	}
	item.Name, _ = varString(props, "Name")
	item.Playable, _ = varBool(props, "Playable")
	if v, ok := props["Metadata"]; ok {
		if meta, ok := v.Value().(map[string]dbus.Variant); ok {
			item.Attrs = trackAttrs(meta)
		}
	}
	return item
}

// window clamps a listing to the requested slice.
func window(paths []string, start, items uint8) []string {
	if int(start) >= len(paths) {
		return nil
	}
	paths = paths[start:]
	if items > 0 && int(items) < len(paths) {
		paths = paths[:items]
	}
	return paths
}

// trackAttrs folds a Track or Metadata dict into element attributes.
func trackAttrs(track map[string]dbus.Variant) []bthal.MediaAttribute {
	var attrs []bthal.MediaAttribute
	add := func(id uint32, text string) {
		if text != "" {
			attrs = append(attrs, bthal.MediaAttribute{ID: id, Text: text})
		}
	}
	if v, ok := varString(track, "Title"); ok {
		add(bthal.AttrTitle, v)
	}
	if v, ok := varString(track, "Artist"); ok {
		add(bthal.AttrArtist, v)
	}
	if v, ok := varString(track, "Album"); ok {
		add(bthal.AttrAlbum, v)
	}
	if v, ok := varString(track, "Genre"); ok {
		add(bthal.AttrGenre, v)
	}
	if v, ok := varUint32(track, "TrackNumber"); ok {
		add(bthal.AttrTrackNum, strconv.FormatUint(uint64(v), 10))
	}
	if v, ok := varUint32(track, "NumberOfTracks"); ok {
		add(bthal.AttrNumTracks, strconv.FormatUint(uint64(v), 10))
	}
	if v, ok := varUint32(track, "Duration"); ok {
		add(bthal.AttrPlayingTime, strconv.FormatUint(uint64(v), 10))
	}
	return attrs
}

func playStatusFrom(status string) bthal.PlayStatus {
	switch status {
	case "playing":
		return bthal.PlayStatusPlaying
	case "stopped":
		return bthal.PlayStatusStopped
	case "paused":
		return bthal.PlayStatusPaused
	case "forward-seek":
		return bthal.PlayStatusFwdSeek
	case "reverse-seek":
		return bthal.PlayStatusRevSeek
	}
	return bthal.PlayStatusError
}

func repeatName(value uint8) string {
	switch value {
	case bthal.RepeatOff:
		return "off"
	case bthal.RepeatSingle:
		return "singletrack"
	case bthal.RepeatAll:
		return "alltracks"
	case bthal.RepeatGroup:
		return "group"
	}
	return ""
}

func repeatValue(name string) uint8 {
	switch name {
	case "singletrack":
		return bthal.RepeatSingle
	case "alltracks":
		return bthal.RepeatAll
	case "group":
		return bthal.RepeatGroup
	}
	return bthal.RepeatOff
}

func shuffleName(value uint8) string {
	switch value {
	case bthal.ShuffleOff:
		return "off"
	case bthal.ShuffleAll:
		return "alltracks"
	case bthal.ShuffleGroup:
		return "group"
	}
	return ""
}

func shuffleValue(name string) uint8 {
	switch name {
	case "alltracks":
		return bthal.ShuffleAll
	case "group":
		return bthal.ShuffleGroup
	}
	return bthal.ShuffleOff
}
