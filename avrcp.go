package bthal

import (
	"fmt"
	"sync"
)

// PassthroughKey is an AVRCP passthrough operation id.
type PassthroughKey uint8

// Common passthrough keys. The full table is defined by AV/C; the
// stack forwards any id uninterpreted.
const (
	KeyVolumeUp   PassthroughKey = 0x41
	KeyVolumeDown PassthroughKey = 0x42
	KeyPlay       PassthroughKey = 0x44
	KeyStop       PassthroughKey = 0x45
	KeyPause      PassthroughKey = 0x46
	KeyRewind     PassthroughKey = 0x48
	KeyFastFwd    PassthroughKey = 0x49
	KeyForward    PassthroughKey = 0x4B
	KeyBackward   PassthroughKey = 0x4C
)

// KeyState is the press half of a passthrough command.
type KeyState uint8

const (
	KeyPressed  KeyState = 0
	KeyReleased KeyState = 1
)

// PlayStatus mirrors the stack's play status codes.
type PlayStatus uint8

const (
	PlayStatusStopped PlayStatus = 0x00
	PlayStatusPlaying PlayStatus = 0x01
	PlayStatusPaused  PlayStatus = 0x02
	PlayStatusFwdSeek PlayStatus = 0x03
	PlayStatusRevSeek PlayStatus = 0x04
	PlayStatusError   PlayStatus = 0xFF
)

func (s PlayStatus) String() string {
	switch s {
	case PlayStatusStopped:
		return "stopped"
	case PlayStatusPlaying:
		return "playing"
	case PlayStatusPaused:
		return "paused"
	case PlayStatusFwdSeek:
		return "fwd seek"
	case PlayStatusRevSeek:
		return "rev seek"
	case PlayStatusError:
		return "error"
	}
	return "unknown"
}

// AVRCPFeatures is the remote's feature bitmask.
type AVRCPFeatures uint8

const (
	FeatureMetadata       AVRCPFeatures = 0x01
	FeatureAbsoluteVolume AVRCPFeatures = 0x02
	FeatureBrowsing       AVRCPFeatures = 0x04
)

// NotificationType distinguishes interim from changed notification
// responses.
type NotificationType uint8

const (
	NotificationInterim NotificationType = 0
	NotificationChanged NotificationType = 1
)

// FolderDirection selects which way ChangeFolderPath moves.
type FolderDirection uint8

const (
	FolderUp   FolderDirection = 0
	FolderDown FolderDirection = 1
)

// BrowseScope selects which listing a browse operation addresses.
type BrowseScope uint8

const (
	ScopePlayerList BrowseScope = 0
	ScopeFileSystem BrowseScope = 1
	ScopeSearch     BrowseScope = 2
	ScopeNowPlaying BrowseScope = 3
)

// MediaUID identifies one element in a browse listing.
type MediaUID [8]byte

// MediaAttribute is one element attribute of a track, such as title or
// artist, with its text value.
type MediaAttribute struct {
	ID   uint32
	Text string
}

// Track attribute ids.
const (
	AttrTitle       uint32 = 0x01
	AttrArtist      uint32 = 0x02
	AttrAlbum       uint32 = 0x03
	AttrTrackNum    uint32 = 0x04
	AttrNumTracks   uint32 = 0x05
	AttrGenre       uint32 = 0x06
	AttrPlayingTime uint32 = 0x07
)

// PlayerSetting is one player application setting attribute with its
// current value.
type PlayerSetting struct {
	Attr  uint8
	Value uint8
}

// PlayerSettingMenu lists the values the player supports for one
// setting attribute.
type PlayerSettingMenu struct {
	Attr   uint8
	Values []uint8
}

// Player application setting attributes.
const (
	SettingEqualizer uint8 = 0x01
	SettingRepeat    uint8 = 0x02
	SettingShuffle   uint8 = 0x03
	SettingScan      uint8 = 0x04
)

// Values for SettingRepeat.
const (
	RepeatOff    uint8 = 0x01
	RepeatSingle uint8 = 0x02
	RepeatAll    uint8 = 0x03
	RepeatGroup  uint8 = 0x04
)

// Values for SettingShuffle.
const (
	ShuffleOff   uint8 = 0x01
	ShuffleAll   uint8 = 0x02
	ShuffleGroup uint8 = 0x03
)

// MediaItemType distinguishes entries in a browse listing.
type MediaItemType uint8

const (
	MediaItemPlayer MediaItemType = 0x01
	MediaItemFolder MediaItemType = 0x02
	MediaItemMedia  MediaItemType = 0x03
)

// MediaItem is one entry of a folder or now playing listing: a
// browsable folder or a playable media element.
type MediaItem struct {
	Type MediaItemType
	UID  MediaUID

	// Subtype is the stack's folder or media subtype code.
	Subtype uint8

	Name string

	// Playable is set for folder entries that can be played as a
	// whole.
	Playable bool

	// Attrs carries the element attributes of media entries.
	Attrs []MediaAttribute
}

// PlayerInfo is one entry of a player listing.
type PlayerInfo struct {
	ID         uint16
	Name       string
	Features   [16]byte
	PlayStatus PlayStatus
	MajorType  uint8
}

// AVRCPHandler receives remote control events. Calls arrive one at a
// time on the session dispatcher, in the order the stack raised them.
type AVRCPHandler interface {
	// PassthroughResponse reports the remote's answer to a
	// passthrough command.
	PassthroughResponse(key PassthroughKey, state KeyState)

	// GroupNavigationResponse reports the remote's answer to a group
	// navigation command.
	GroupNavigationResponse(key uint8, state KeyState)

	// ConnectionStateChanged reports the remote control and browsing
	// channels coming or going.
	ConnectionStateChanged(remoteControl, browsing bool, addr Address)

	// RemoteFeatures reports what the remote supports.
	RemoteFeatures(addr Address, features AVRCPFeatures)

	// SetPlayerSettingsResponse reports whether a setting change was
	// accepted.
	SetPlayerSettingsResponse(addr Address, accepted bool)

	// PlayerSettingsSupported delivers the setting menus the player
	// offers.
	PlayerSettingsSupported(addr Address, menus []PlayerSettingMenu)

	// PlayerSettingsChanged delivers the settings' current values.
	PlayerSettingsChanged(addr Address, settings []PlayerSetting)

	// SetAbsVolumeCommand asks the local side to change its volume
	// and answer with SendAbsVolumeResponse carrying the same label.
	SetAbsVolumeCommand(addr Address, volume, label uint8)

	// RegisterAbsVolNotification asks the local side to answer
	// volume changes with SendRegisterAbsVolResponse under label.
	RegisterAbsVolNotification(addr Address, label uint8)

	// TrackChanged delivers the element attributes of the new track.
	TrackChanged(addr Address, attrs []MediaAttribute)

	// PlayPositionChanged reports playback position, both in
	// milliseconds.
	PlayPositionChanged(addr Address, songLen, songPos uint32)

	// PlayStatusChanged reports the player's new status.
	PlayStatusChanged(addr Address, status PlayStatus)

	// FolderItems delivers a folder or now playing listing.
	FolderItems(items []MediaItem)

	// PlayerItems delivers a player listing.
	PlayerItems(players []PlayerInfo)

	// FolderPathChanged reports the item count of the folder entered
	// by ChangeFolderPath.
	FolderPathChanged(count uint8)

	// BrowsedPlayerSet reports the browsed player's folder depth and
	// item count after SetBrowsedPlayer.
	BrowsedPlayerSet(numItems, depth uint8)
}

// AVRCPBoundary is the remote control half of a stack backend. The
// operations mirror the native control interface one to one.
type AVRCPBoundary interface {
	Init(sink AVRCPHandler) Status
	Cleanup()

	SendPassthrough(addr Address, key PassthroughKey, state KeyState) Status
	SendGroupNavigation(addr Address, key uint8, state KeyState) Status
	SetPlayerSettings(addr Address, settings []PlayerSetting) Status
	SendAbsVolumeResponse(addr Address, volume, label uint8) Status
	SendRegisterAbsVolResponse(addr Address, rspType NotificationType, volume, label uint8) Status
	GetNowPlayingList(addr Address, start, items uint8) Status
	GetFolderList(addr Address, start, items uint8) Status
	GetPlayerList(addr Address, start, items uint8) Status
	ChangeFolderPath(addr Address, direction FolderDirection, uid MediaUID) Status
	SetBrowsedPlayer(addr Address, playerID uint16) Status
	PlayItem(addr Address, scope BrowseScope, uid MediaUID, uidCounter uint16) Status
}

// AVRCPController is the session's bridge to the remote control
// profile, controller role.
type AVRCPController struct {
	session *Session

	mu       sync.Mutex
	enabled  bool
	boundary AVRCPBoundary
	handler  AVRCPHandler
}

// Enable brings the profile up and registers handler for its events.
func (p *AVRCPController) Enable(handler AVRCPHandler) error {
	if handler == nil {
		return fmt.Errorf("bthal: avrcp: nil handler")
	}
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	boundary := p.session.stack.AVRCPController()
	if boundary == nil {
		return ErrProfileUnavailable
	}

	if p.teardown() {
		p.session.log.Warn("avrcp enabled twice, cleaning up first")
		p.session.dropEnabled(p)
	}

	status := boundary.Init(&avrcpSink{p})
	p.session.recordCall(ProfileAVRCPController, "init", nil, &status, 0)
	if !status.OK() {
		return statusErr("avrcp init", status)
	}

	p.mu.Lock()
	p.enabled = true
	p.boundary = boundary
	p.handler = handler
	p.mu.Unlock()
	p.session.pushEnabled(p)
	p.session.log.Info("avrcp controller enabled")
	return nil
}

// Disable tears the profile down.
func (p *AVRCPController) Disable() error {
	if err := p.session.checkOpen(); err != nil {
		return err
	}
	if p.teardown() {
		p.session.dropEnabled(p)
		p.session.log.Info("avrcp controller disabled")
	}
	return nil
}

func (p *AVRCPController) disableForClose() {
	p.teardown()
}

func (p *AVRCPController) teardown() bool {
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
	p.session.recordCall(ProfileAVRCPController, "cleanup", nil, nil, 0)
	return true
}

func (p *AVRCPController) armed() (AVRCPBoundary, error) {
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

// call runs one boundary operation with the shared enabled check and
// traffic record.
func (p *AVRCPController) call(op string, addr Address, fn func(AVRCPBoundary) Status) error {
	boundary, err := p.armed()
	if err != nil {
		return err
	}
	status := fn(boundary)
	p.session.recordCall(ProfileAVRCPController, op, &addr, &status, 0)
	return statusErr("avrcp "+op, status)
}

// SendPassthrough sends a passthrough key to the remote player. Press
// and release are separate commands.
func (p *AVRCPController) SendPassthrough(addr Address, key PassthroughKey, state KeyState) error {
	return p.call("passthrough", addr, func(b AVRCPBoundary) Status {
		return b.SendPassthrough(addr, key, state)
	})
}

// SendGroupNavigation sends a group navigation key to the remote
// player.
func (p *AVRCPController) SendGroupNavigation(addr Address, key uint8, state KeyState) error {
	return p.call("group_navigation", addr, func(b AVRCPBoundary) Status {
		return b.SendGroupNavigation(addr, key, state)
	})
}

// SetPlayerSettings asks the remote player to change application
// settings. The answer arrives as SetPlayerSettingsResponse.
func (p *AVRCPController) SetPlayerSettings(addr Address, settings []PlayerSetting) error {
	return p.call("set_player_settings", addr, func(b AVRCPBoundary) Status {
		return b.SetPlayerSettings(addr, settings)
	})
}

// SendAbsVolumeResponse answers a SetAbsVolumeCommand with the volume
// actually applied.
func (p *AVRCPController) SendAbsVolumeResponse(addr Address, volume, label uint8) error {
	return p.call("abs_volume_rsp", addr, func(b AVRCPBoundary) Status {
		return b.SendAbsVolumeResponse(addr, volume, label)
	})
}

// SendRegisterAbsVolResponse answers a RegisterAbsVolNotification,
// interim first and changed whenever the local volume moves.
func (p *AVRCPController) SendRegisterAbsVolResponse(addr Address, rspType NotificationType, volume, label uint8) error {
	return p.call("register_abs_volume_rsp", addr, func(b AVRCPBoundary) Status {
		return b.SendRegisterAbsVolResponse(addr, rspType, volume, label)
	})
}

// GetNowPlayingList requests a slice of the now playing listing.
func (p *AVRCPController) GetNowPlayingList(addr Address, start, items uint8) error {
	return p.call("get_now_playing", addr, func(b AVRCPBoundary) Status {
		return b.GetNowPlayingList(addr, start, items)
	})
}

// GetFolderList requests a slice of the current folder listing.
func (p *AVRCPController) GetFolderList(addr Address, start, items uint8) error {
	return p.call("get_folder_list", addr, func(b AVRCPBoundary) Status {
		return b.GetFolderList(addr, start, items)
	})
}

// GetPlayerList requests a slice of the player listing.
func (p *AVRCPController) GetPlayerList(addr Address, start, items uint8) error {
	return p.call("get_player_list", addr, func(b AVRCPBoundary) Status {
		return b.GetPlayerList(addr, start, items)
	})
}

// ChangeFolderPath moves the browse position up or into the folder
// identified by uid.
func (p *AVRCPController) ChangeFolderPath(addr Address, direction FolderDirection, uid MediaUID) error {
	return p.call("change_folder_path", addr, func(b AVRCPBoundary) Status {
		return b.ChangeFolderPath(addr, direction, uid)
	})
}

// SetBrowsedPlayer selects which player the browse operations address.
func (p *AVRCPController) SetBrowsedPlayer(addr Address, playerID uint16) error {
	return p.call("set_browsed_player", addr, func(b AVRCPBoundary) Status {
		return b.SetBrowsedPlayer(addr, playerID)
	})
}

// PlayItem starts playback of the element identified by uid within
// scope.
func (p *AVRCPController) PlayItem(addr Address, scope BrowseScope, uid MediaUID, uidCounter uint16) error {
	return p.call("play_item", addr, func(b AVRCPBoundary) Status {
		return b.PlayItem(addr, scope, uid, uidCounter)
	})
}

func (p *AVRCPController) deliver(op string, addr *Address, fn func(AVRCPHandler)) {
	p.session.recordEvent(ProfileAVRCPController, op, addr, nil, 0)
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

// avrcpSink receives boundary callbacks on stack goroutines.
type avrcpSink struct {
	p *AVRCPController
}

func (s *avrcpSink) PassthroughResponse(key PassthroughKey, state KeyState) {
	s.p.deliver("passthrough_rsp", nil, func(h AVRCPHandler) {
		h.PassthroughResponse(key, state)
	})
}

func (s *avrcpSink) GroupNavigationResponse(key uint8, state KeyState) {
	s.p.deliver("group_navigation_rsp", nil, func(h AVRCPHandler) {
		h.GroupNavigationResponse(key, state)
	})
}

func (s *avrcpSink) ConnectionStateChanged(remoteControl, browsing bool, addr Address) {
	s.p.deliver("connection_state", &addr, func(h AVRCPHandler) {
		h.ConnectionStateChanged(remoteControl, browsing, addr)
	})
}

func (s *avrcpSink) RemoteFeatures(addr Address, features AVRCPFeatures) {
	s.p.deliver("remote_features", &addr, func(h AVRCPHandler) {
		h.RemoteFeatures(addr, features)
	})
}

func (s *avrcpSink) SetPlayerSettingsResponse(addr Address, accepted bool) {
	s.p.deliver("set_player_settings_rsp", &addr, func(h AVRCPHandler) {
		h.SetPlayerSettingsResponse(addr, accepted)
	})
}

func (s *avrcpSink) PlayerSettingsSupported(addr Address, menus []PlayerSettingMenu) {
	s.p.deliver("player_settings_supported", &addr, func(h AVRCPHandler) {
		h.PlayerSettingsSupported(addr, menus)
	})
}

func (s *avrcpSink) PlayerSettingsChanged(addr Address, settings []PlayerSetting) {
	s.p.deliver("player_settings_changed", &addr, func(h AVRCPHandler) {
		h.PlayerSettingsChanged(addr, settings)
	})
}

func (s *avrcpSink) SetAbsVolumeCommand(addr Address, volume, label uint8) {
	s.p.deliver("set_abs_volume", &addr, func(h AVRCPHandler) {
		h.SetAbsVolumeCommand(addr, volume, label)
	})
}

func (s *avrcpSink) RegisterAbsVolNotification(addr Address, label uint8) {
	s.p.deliver("register_abs_volume", &addr, func(h AVRCPHandler) {
		h.RegisterAbsVolNotification(addr, label)
	})
}

func (s *avrcpSink) TrackChanged(addr Address, attrs []MediaAttribute) {
	s.p.deliver("track_changed", &addr, func(h AVRCPHandler) {
		h.TrackChanged(addr, attrs)
	})
}

func (s *avrcpSink) PlayPositionChanged(addr Address, songLen, songPos uint32) {
	s.p.deliver("play_position", &addr, func(h AVRCPHandler) {
		h.PlayPositionChanged(addr, songLen, songPos)
	})
}

func (s *avrcpSink) PlayStatusChanged(addr Address, status PlayStatus) {
	s.p.deliver("play_status", &addr, func(h AVRCPHandler) {
		h.PlayStatusChanged(addr, status)
	})
}

func (s *avrcpSink) FolderItems(items []MediaItem) {
	s.p.deliver("folder_items", nil, func(h AVRCPHandler) {
		h.FolderItems(items)
	})
}

func (s *avrcpSink) PlayerItems(players []PlayerInfo) {
	s.p.deliver("player_items", nil, func(h AVRCPHandler) {
		h.PlayerItems(players)
	})
}

func (s *avrcpSink) FolderPathChanged(count uint8) {
	s.p.deliver("folder_path_changed", nil, func(h AVRCPHandler) {
		h.FolderPathChanged(count)
	})
}

func (s *avrcpSink) BrowsedPlayerSet(numItems, depth uint8) {
	s.p.deliver("browsed_player_set", nil, func(h AVRCPHandler) {
		h.BrowsedPlayerSet(numItems, depth)
	})
}

// AVRCPHandlerBase implements AVRCPHandler with empty methods. Embed
// it in a handler that only cares about a subset of the events.
type AVRCPHandlerBase struct{}

func (*AVRCPHandlerBase) PassthroughResponse(key PassthroughKey, state KeyState) {}
func (*AVRCPHandlerBase) GroupNavigationResponse(key uint8, state KeyState) {}
func (*AVRCPHandlerBase) ConnectionStateChanged(remoteControl, browsing bool, addr Address) {}
func (*AVRCPHandlerBase) RemoteFeatures(addr Address, features AVRCPFeatures) {}
func (*AVRCPHandlerBase) SetPlayerSettingsResponse(addr Address, accepted bool) {}
func (*AVRCPHandlerBase) PlayerSettingsSupported(addr Address, menus []PlayerSettingMenu) {}
func (*AVRCPHandlerBase) PlayerSettingsChanged(addr Address, settings []PlayerSetting) {}
func (*AVRCPHandlerBase) SetAbsVolumeCommand(addr Address, volume, label uint8) {}
func (*AVRCPHandlerBase) RegisterAbsVolNotification(addr Address, label uint8) {}
func (*AVRCPHandlerBase) TrackChanged(addr Address, attrs []MediaAttribute) {}
func (*AVRCPHandlerBase) PlayPositionChanged(addr Address, songLen, songPos uint32) {}
func (*AVRCPHandlerBase) PlayStatusChanged(addr Address, status PlayStatus) {}
func (*AVRCPHandlerBase) FolderItems(items []MediaItem) {}
func (*AVRCPHandlerBase) PlayerItems(players []PlayerInfo) {}
func (*AVRCPHandlerBase) FolderPathChanged(count uint8) {}
func (*AVRCPHandlerBase) BrowsedPlayerSet(numItems, depth uint8) {}
