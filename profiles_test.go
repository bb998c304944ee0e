package bthal_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btforge/bthal"
	"github.com/btforge/bthal/fakestack"
)

// avrcpEvents funnels remote control callbacks into a channel.
type avrcpEvents struct {
	ch chan string
}

func newAVRCPEvents() *avrcpEvents {
	return &avrcpEvents{ch: make(chan string, 32)}
}

func (h *avrcpEvents) push(format string, args ...any) {
	h.ch <- fmt.Sprintf(format, args...)
}

func (h *avrcpEvents) PassthroughResponse(key bthal.PassthroughKey, state bthal.KeyState) {
	h.push("passthrough %#x %d", uint8(key), state)
}

func (h *avrcpEvents) GroupNavigationResponse(key uint8, state bthal.KeyState) {
	h.push("groupnav %d %d", key, state)
}

func (h *avrcpEvents) ConnectionStateChanged(remoteControl, browsing bool, addr bthal.Address) {
	h.push("connection %v %v %s", remoteControl, browsing, addr)
}

func (h *avrcpEvents) RemoteFeatures(addr bthal.Address, features bthal.AVRCPFeatures) {
	h.push("features %s %#x", addr, uint8(features))
}

func (h *avrcpEvents) SetPlayerSettingsResponse(addr bthal.Address, accepted bool) {
	h.push("settings rsp %v", accepted)
}

func (h *avrcpEvents) PlayerSettingsSupported(addr bthal.Address, menus []bthal.PlayerSettingMenu) {
	h.push("settings menus %d", len(menus))
}

func (h *avrcpEvents) PlayerSettingsChanged(addr bthal.Address, settings []bthal.PlayerSetting) {
	h.push("settings changed %d", len(settings))
}

func (h *avrcpEvents) SetAbsVolumeCommand(addr bthal.Address, volume, label uint8) {
	h.push("abs volume %d %d", volume, label)
}

func (h *avrcpEvents) RegisterAbsVolNotification(addr bthal.Address, label uint8) {
	h.push("abs volume reg %d", label)
}

func (h *avrcpEvents) TrackChanged(addr bthal.Address, attrs []bthal.MediaAttribute) {
	h.push("track %d attrs", len(attrs))
}

func (h *avrcpEvents) PlayPositionChanged(addr bthal.Address, songLen, songPos uint32) {
	h.push("position %d/%d", songPos, songLen)
}

func (h *avrcpEvents) PlayStatusChanged(addr bthal.Address, status bthal.PlayStatus) {
	h.push("play status %s", status)
}

func (h *avrcpEvents) FolderItems(items []bthal.MediaItem) {
	h.push("folder items %d", len(items))
}

func (h *avrcpEvents) PlayerItems(players []bthal.PlayerInfo) {
	names := ""
	for _, p := range players {
		names += " " + p.Name
	}
	h.push("players%s", names)
}

func (h *avrcpEvents) FolderPathChanged(count uint8) {
	h.push("folder path %d", count)
}

func (h *avrcpEvents) BrowsedPlayerSet(numItems, depth uint8) {
	h.push("browsed player %d %d", numItems, depth)
}

func openAutoFake(t *testing.T) (*bthal.Session, *fakestack.Stack) {
	t.Helper()
	fs := fakestack.New()
	fs.AutoRespond(true)
	s, err := bthal.Open(testConfig(), fs)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, fs
}

func TestAVRCPPassthroughFlow(t *testing.T) {
	s, _ := openAutoFake(t)
	events := newAVRCPEvents()
	require.NoError(t, s.AVRCPController().Enable(events))

	addr := mustAddr(t, "00:11:22:33:44:55")
	require.NoError(t, s.AVRCPController().SendPassthrough(addr, bthal.KeyPlay, bthal.KeyPressed))
	assert.Equal(t, "passthrough 0x44 0", waitEvent(t, events.ch))

	require.NoError(t, s.AVRCPController().SendPassthrough(addr, bthal.KeyPlay, bthal.KeyReleased))
	assert.Equal(t, "passthrough 0x44 1", waitEvent(t, events.ch))
}

func TestAVRCPBrowseFlow(t *testing.T) {
	s, _ := openAutoFake(t)
	events := newAVRCPEvents()
	require.NoError(t, s.AVRCPController().Enable(events))

	addr := mustAddr(t, "00:11:22:33:44:55")

	require.NoError(t, s.AVRCPController().GetPlayerList(addr, 0, 10))
	assert.Equal(t, "players fake player", waitEvent(t, events.ch))

	require.NoError(t, s.AVRCPController().SetBrowsedPlayer(addr, 1))
	assert.Equal(t, "browsed player 2 1", waitEvent(t, events.ch))

	require.NoError(t, s.AVRCPController().GetFolderList(addr, 0, 10))
	assert.Equal(t, "folder items 2", waitEvent(t, events.ch))

	require.NoError(t, s.AVRCPController().PlayItem(addr, bthal.ScopeFileSystem, bthal.MediaUID{0, 0, 0, 0, 0, 0, 0, 3}, 0))
	assert.Equal(t, "play status playing", waitEvent(t, events.ch))
}

// gattcEvents funnels GATT client callbacks into a channel.
type gattcEvents struct {
	ch chan string
}

func newGATTClientEvents() *gattcEvents {
	return &gattcEvents{ch: make(chan string, 32)}
}

func (h *gattcEvents) push(format string, args ...any) {
	h.ch <- fmt.Sprintf(format, args...)
}

func (h *gattcEvents) ClientRegistered(status bthal.Status, clientIf int32, appUUID bthal.UUID) {
	h.push("registered %s if=%d", status, clientIf)
}

func (h *gattcEvents) ScanResult(addr bthal.Address, rssi int16, eir []byte) {
	fields := bthal.ExtractAdvertisement(eir)
	h.push("scan %s %d %q", addr, rssi, fields.LocalName)
}

func (h *gattcEvents) Connected(connID bthal.ConnID, status bthal.Status, clientIf int32, addr bthal.Address) {
	h.push("connected conn=%d %s", connID, addr)
}

func (h *gattcEvents) Disconnected(connID bthal.ConnID, status bthal.Status, clientIf int32, addr bthal.Address) {
	h.push("disconnected conn=%d %s", connID, addr)
}

func (h *gattcEvents) SearchComplete(connID bthal.ConnID, status bthal.Status) {
	h.push("search complete %s", status)
}

func (h *gattcEvents) NotificationRegistered(connID bthal.ConnID, registered bool, status bthal.Status, handle bthal.AttrHandle) {
	h.push("notif reg %v %#x", registered, uint16(handle))
}

func (h *gattcEvents) Notified(connID bthal.ConnID, addr bthal.Address, handle bthal.AttrHandle, isNotify bool, value []byte) {
	h.push("notify %#x % x", uint16(handle), value)
}

func (h *gattcEvents) CharacteristicRead(connID bthal.ConnID, status bthal.Status, handle bthal.AttrHandle, value []byte) {
	h.push("char read %#x % x", uint16(handle), value)
}

func (h *gattcEvents) CharacteristicWritten(connID bthal.ConnID, status bthal.Status, handle bthal.AttrHandle) {
	h.push("char written %#x", uint16(handle))
}

func (h *gattcEvents) DescriptorRead(connID bthal.ConnID, status bthal.Status, handle bthal.AttrHandle, value []byte) {
	h.push("desc read %#x % x", uint16(handle), value)
}

func (h *gattcEvents) DescriptorWritten(connID bthal.ConnID, status bthal.Status, handle bthal.AttrHandle) {
	h.push("desc written %#x", uint16(handle))
}

func (h *gattcEvents) ExecuteWriteComplete(connID bthal.ConnID, status bthal.Status) {
	h.push("exec write %s", status)
}

func (h *gattcEvents) RemoteRSSI(clientIf int32, addr bthal.Address, rssi int16, status bthal.Status) {
	h.push("rssi %s %d", addr, rssi)
}

func (h *gattcEvents) MTUChanged(connID bthal.ConnID, status bthal.Status, mtu int) {
	h.push("mtu %d", mtu)
}

func (h *gattcEvents) GattDB(connID bthal.ConnID, db []bthal.GattDBElement) {
	h.push("db %d elements", len(db))
}

func TestGATTClientScanFlow(t *testing.T) {
	s, fs := openAutoFake(t)
	fs.AddDevice(fakestack.Device{
		Addr: mustAddr(t, "AA:BB:CC:DD:EE:FF"),
		Name: "thermo",
		RSSI: -42,
	})

	events := newGATTClientEvents()
	require.NoError(t, s.GATTClient().Enable(events))

	require.NoError(t, s.GATTClient().StartScan())
	assert.Equal(t, `scan AA:BB:CC:DD:EE:FF -42 "thermo"`, waitEvent(t, events.ch))
	require.NoError(t, s.GATTClient().StopScan())
}

func TestGATTClientConnectReadFlow(t *testing.T) {
	s, _ := openAutoFake(t)
	events := newGATTClientEvents()
	require.NoError(t, s.GATTClient().Enable(events))

	require.NoError(t, s.GATTClient().RegisterApp(bthal.PackUUID(0, 1)))
	assert.Equal(t, "registered success if=1", waitEvent(t, events.ch))

	addr := mustAddr(t, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, s.GATTClient().Connect(1, addr, true, bthal.TransportLE))
	assert.Equal(t, "connected conn=1 AA:BB:CC:DD:EE:FF", waitEvent(t, events.ch))

	require.NoError(t, s.GATTClient().SearchService(1, nil))
	assert.Equal(t, "search complete success", waitEvent(t, events.ch))

	require.NoError(t, s.GATTClient().GetGattDB(1))
	assert.Equal(t, "db 3 elements", waitEvent(t, events.ch))

	require.NoError(t, s.GATTClient().ReadCharacteristic(1, 0x0012, bthal.AuthNone))
	assert.Equal(t, "char read 0x12 64", waitEvent(t, events.ch))

	require.NoError(t, s.GATTClient().ConfigureMTU(1, 185))
	assert.Equal(t, "mtu 185", waitEvent(t, events.ch))

	require.NoError(t, s.GATTClient().Disconnect(1, addr, 1))
	assert.Equal(t, "disconnected conn=1 AA:BB:CC:DD:EE:FF", waitEvent(t, events.ch))
}

// gattsEvents funnels GATT server callbacks into a channel.
type gattsEvents struct {
	ch chan string
}

func newGATTServerEvents() *gattsEvents {
	return &gattsEvents{ch: make(chan string, 32)}
}

func (h *gattsEvents) push(format string, args ...any) {
	h.ch <- fmt.Sprintf(format, args...)
}

func (h *gattsEvents) ServerRegistered(status bthal.Status, serverIf int32, appUUID bthal.UUID) {
	h.push("registered %s if=%d", status, serverIf)
}

func (h *gattsEvents) ClientConnected(addr bthal.Address, connected bool, connID bthal.ConnID, serverIf int32) {
	h.push("client %s connected=%v", addr, connected)
}

func (h *gattsEvents) ServiceAdded(status bthal.Status, serverIf int32, service []bthal.GattDBElement) {
	if len(service) == 0 {
		h.push("service added empty")
		return
	}
	h.push("service added %d rows at %#x", len(service), uint16(service[0].Handle))
}

func (h *gattsEvents) ServiceStopped(status bthal.Status, serverIf int32, serviceHandle bthal.AttrHandle) {
	h.push("service stopped %#x", uint16(serviceHandle))
}

func (h *gattsEvents) ServiceDeleted(status bthal.Status, serverIf int32, serviceHandle bthal.AttrHandle) {
	h.push("service deleted %#x", uint16(serviceHandle))
}

func (h *gattsEvents) CharacteristicReadRequest(connID bthal.ConnID, transID int32, addr bthal.Address, handle bthal.AttrHandle, offset int, isLong bool) {
	h.push("read req %#x trans=%d", uint16(handle), transID)
}

func (h *gattsEvents) DescriptorReadRequest(connID bthal.ConnID, transID int32, addr bthal.Address, handle bthal.AttrHandle, offset int, isLong bool) {
	h.push("desc read req %#x", uint16(handle))
}

func (h *gattsEvents) CharacteristicWriteRequest(connID bthal.ConnID, transID int32, addr bthal.Address, handle bthal.AttrHandle, offset int, needResponse, isPrepare bool, value []byte) {
	h.push("write req %#x % x", uint16(handle), value)
}

func (h *gattsEvents) DescriptorWriteRequest(connID bthal.ConnID, transID int32, addr bthal.Address, handle bthal.AttrHandle, offset int, needResponse, isPrepare bool, value []byte) {
	h.push("desc write req %#x", uint16(handle))
}

func (h *gattsEvents) ExecuteWriteRequest(connID bthal.ConnID, transID int32, addr bthal.Address, execute bool) {
	h.push("exec write req %v", execute)
}

func (h *gattsEvents) ResponseConfirmed(status bthal.Status, handle bthal.AttrHandle) {
	h.push("response confirmed %#x", uint16(handle))
}

func (h *gattsEvents) NotificationSent(connID bthal.ConnID, status bthal.Status) {
	h.push("notification sent %s", status)
}

func (h *gattsEvents) MTUChanged(connID bthal.ConnID, mtu int) {
	h.push("mtu %d", mtu)
}

func TestGATTServerServiceFlow(t *testing.T) {
	s, _ := openAutoFake(t)
	events := newGATTServerEvents()
	require.NoError(t, s.GATTServer().Enable(events))

	require.NoError(t, s.GATTServer().RegisterServer(bthal.PackUUID(0, 2)))
	assert.Equal(t, "registered success if=1", waitEvent(t, events.ch))

	service := []bthal.GattDBElement{
		{UUID: bthal.New16BitUUID(0x180F), Type: bthal.DBPrimaryService},
		{UUID: bthal.New16BitUUID(0x2A19), Type: bthal.DBCharacteristic, Properties: 0x12},
	}
	require.NoError(t, s.GATTServer().AddService(1, service))
	assert.Equal(t, "service added 2 rows at 0x100", waitEvent(t, events.ch))

	require.NoError(t, s.GATTServer().SendNotification(1, 0x0101, 1, false, []byte{0x64}))
	assert.Equal(t, "notification sent success", waitEvent(t, events.ch))

	require.NoError(t, s.GATTServer().SendResponse(1, 7, bthal.StatusSuccess, 0x0101, 0, []byte{0x64}))
	assert.Equal(t, "response confirmed 0x101", waitEvent(t, events.ch))
}

func TestGATTServerRequestScripting(t *testing.T) {
	s, fs := openFake(t)
	events := newGATTServerEvents()
	require.NoError(t, s.GATTServer().Enable(events))

	sink := fs.GATTServerSink()
	require.NotNil(t, sink)

	addr := mustAddr(t, "00:11:22:33:44:55")
	sink.CharacteristicReadRequest(1, 42, addr, 0x0101, 0, false)
	assert.Equal(t, "read req 0x101 trans=42", waitEvent(t, events.ch))

	sink.CharacteristicWriteRequest(1, 43, addr, 0x0101, 0, true, false, []byte{0x01})
	assert.Equal(t, "write req 0x101 01", waitEvent(t, events.ch))
}

// advEvents funnels advertiser callbacks into a channel.
type advEvents struct {
	ch chan string
}

func newAdvEvents() *advEvents {
	return &advEvents{ch: make(chan string, 32)}
}

func (h *advEvents) push(format string, args ...any) {
	h.ch <- fmt.Sprintf(format, args...)
}

func (h *advEvents) AdvertiserRegistered(status bthal.Status, advID uint8, appUUID bthal.UUID) {
	h.push("registered %s id=%d", status, advID)
}

func (h *advEvents) ParamsSet(advID uint8, status bthal.Status) {
	h.push("params %s", status)
}

func (h *advEvents) DataSet(advID uint8, status bthal.Status) {
	h.push("data %s", status)
}

func (h *advEvents) AdvertisingEnabled(advID uint8, enabled bool, status bthal.Status) {
	h.push("enabled=%v %s", enabled, status)
}

func TestAdvertiserFlow(t *testing.T) {
	s, _ := openAutoFake(t)
	events := newAdvEvents()
	require.NoError(t, s.Advertiser().Enable(events))

	require.NoError(t, s.Advertiser().RegisterAdvertiser(bthal.PackUUID(0, 3)))
	assert.Equal(t, "registered success id=1", waitEvent(t, events.ch))

	params := bthal.AdvertiseParams{
		MinInterval: bthal.NewAdvertiseInterval(100),
		MaxInterval: bthal.NewAdvertiseInterval(150),
		Type:        bthal.AdvInd,
		ChannelMap:  0x07,
	}
	require.NoError(t, s.Advertiser().SetParams(1, params))
	assert.Equal(t, "params success", waitEvent(t, events.ch))

	data := bthal.AdvertiseData{
		IncludeName:      true,
		ManufacturerData: []byte{0xFF, 0xFF, 0x01},
	}
	require.NoError(t, s.Advertiser().SetData(1, false, data))
	assert.Equal(t, "data success", waitEvent(t, events.ch))

	require.NoError(t, s.Advertiser().EnableAdvertising(1, true, 0))
	assert.Equal(t, "enabled=true success", waitEvent(t, events.ch))

	require.NoError(t, s.Advertiser().EnableAdvertising(1, false, 0))
	assert.Equal(t, "enabled=false success", waitEvent(t, events.ch))
}
