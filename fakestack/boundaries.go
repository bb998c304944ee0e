package fakestack

import (
	"sync"

	"github.com/btforge/bthal"
)

type a2dpBoundary struct {
	s    *Stack
	mu   sync.Mutex
	sink bthal.A2DPHandler
}

func (b *a2dpBoundary) snapshot() bthal.A2DPHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

func (b *a2dpBoundary) Init(sink bthal.A2DPHandler) bthal.Status {
	st := b.s.record(bthal.ProfileA2DP, "init", nil)
	if !st.OK() {
		return st
	}
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
	return st
}

func (b *a2dpBoundary) Cleanup() {
	b.s.record(bthal.ProfileA2DP, "cleanup", nil)
	b.mu.Lock()
	b.sink = nil
	b.mu.Unlock()
}

func (b *a2dpBoundary) Connect(addr bthal.Address) bthal.Status {
	st := b.s.record(bthal.ProfileA2DP, "connect", &addr)
	if st.OK() && b.s.autoOn() {
		b.s.async(func() {
			if sink := b.snapshot(); sink != nil {
				sink.ConnectionStateChanged(addr, bthal.A2DPConnecting)
				sink.ConnectionStateChanged(addr, bthal.A2DPConnected)
			}
		})
	}
	return st
}

func (b *a2dpBoundary) Disconnect(addr bthal.Address) bthal.Status {
	st := b.s.record(bthal.ProfileA2DP, "disconnect", &addr)
	if st.OK() && b.s.autoOn() {
		b.s.async(func() {
			if sink := b.snapshot(); sink != nil {
				sink.ConnectionStateChanged(addr, bthal.A2DPDisconnecting)
				sink.ConnectionStateChanged(addr, bthal.A2DPDisconnected)
			}
		})
	}
	return st
}

type avrcpBoundary struct {
	s    *Stack
	mu   sync.Mutex
	sink bthal.AVRCPHandler
}

func (b *avrcpBoundary) snapshot() bthal.AVRCPHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

func (b *avrcpBoundary) Init(sink bthal.AVRCPHandler) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "init", nil)
	if !st.OK() {
		return st
	}
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
	return st
}

func (b *avrcpBoundary) Cleanup() {
	b.s.record(bthal.ProfileAVRCPController, "cleanup", nil)
	b.mu.Lock()
	b.sink = nil
	b.mu.Unlock()
}

// respond fires fn against the current sink when auto-responses are
// on and the triggering call succeeded.
func (b *avrcpBoundary) respond(st bthal.Status, fn func(bthal.AVRCPHandler)) {
	if !st.OK() || !b.s.autoOn() {
		return
	}
	b.s.async(func() {
		if sink := b.snapshot(); sink != nil {
			fn(sink)
		}
	})
}

func (b *avrcpBoundary) SendPassthrough(addr bthal.Address, key bthal.PassthroughKey, state bthal.KeyState) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "send_pass_through", &addr)
	b.respond(st, func(sink bthal.AVRCPHandler) {
		sink.PassthroughResponse(key, state)
	})
	return st
}

func (b *avrcpBoundary) SendGroupNavigation(addr bthal.Address, key uint8, state bthal.KeyState) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "send_group_navigation", &addr)
	b.respond(st, func(sink bthal.AVRCPHandler) {
		sink.GroupNavigationResponse(key, state)
	})
	return st
}

func (b *avrcpBoundary) SetPlayerSettings(addr bthal.Address, settings []bthal.PlayerSetting) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "set_player_app_setting_values", &addr)
	b.respond(st, func(sink bthal.AVRCPHandler) {
		sink.SetPlayerSettingsResponse(addr, true)
	})
	return st
}

func (b *avrcpBoundary) SendAbsVolumeResponse(addr bthal.Address, volume, label uint8) bthal.Status {
	return b.s.record(bthal.ProfileAVRCPController, "send_abs_vol_rsp", &addr)
}

func (b *avrcpBoundary) SendRegisterAbsVolResponse(addr bthal.Address, rspType bthal.NotificationType, volume, label uint8) bthal.Status {
	return b.s.record(bthal.ProfileAVRCPController, "send_register_abs_vol_rsp", &addr)
}

func (b *avrcpBoundary) GetNowPlayingList(addr bthal.Address, start, items uint8) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "get_now_playing_list", &addr)
	b.respond(st, func(sink bthal.AVRCPHandler) {
		sink.FolderItems([]bthal.MediaItem{{
			Type: bthal.MediaItemMedia,
			UID:  bthal.MediaUID{0, 0, 0, 0, 0, 0, 0, 1},
			Name: "fake track",
			Attrs: []bthal.MediaAttribute{
				{ID: bthal.AttrTitle, Text: "fake track"},
				{ID: bthal.AttrArtist, Text: "fake artist"},
			},
		}})
	})
	return st
}

func (b *avrcpBoundary) GetFolderList(addr bthal.Address, start, items uint8) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "get_folder_list", &addr)
	b.respond(st, func(sink bthal.AVRCPHandler) {
		sink.FolderItems([]bthal.MediaItem{
			{
				Type:     bthal.MediaItemFolder,
				UID:      bthal.MediaUID{0, 0, 0, 0, 0, 0, 0, 2},
				Name:     "albums",
				Playable: true,
			},
			{
				Type: bthal.MediaItemMedia,
				UID:  bthal.MediaUID{0, 0, 0, 0, 0, 0, 0, 3},
				Name: "fake track",
			},
		})
	})
	return st
}

func (b *avrcpBoundary) GetPlayerList(addr bthal.Address, start, items uint8) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "get_player_list", &addr)
	b.respond(st, func(sink bthal.AVRCPHandler) {
		sink.PlayerItems([]bthal.PlayerInfo{{
			ID:         1,
			Name:       "fake player",
			PlayStatus: bthal.PlayStatusStopped,
			MajorType:  1,
		}})
	})
	return st
}

func (b *avrcpBoundary) ChangeFolderPath(addr bthal.Address, direction bthal.FolderDirection, uid bthal.MediaUID) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "change_folder_path", &addr)
	b.respond(st, func(sink bthal.AVRCPHandler) {
		sink.FolderPathChanged(2)
	})
	return st
}

func (b *avrcpBoundary) SetBrowsedPlayer(addr bthal.Address, playerID uint16) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "set_browsed_player", &addr)
	b.respond(st, func(sink bthal.AVRCPHandler) {
		sink.BrowsedPlayerSet(2, 1)
	})
	return st
}

func (b *avrcpBoundary) PlayItem(addr bthal.Address, scope bthal.BrowseScope, uid bthal.MediaUID, uidCounter uint16) bthal.Status {
	st := b.s.record(bthal.ProfileAVRCPController, "play_item", &addr)
	b.respond(st, func(sink bthal.AVRCPHandler) {
		sink.PlayStatusChanged(addr, bthal.PlayStatusPlaying)
	})
	return st
}

type gattcBoundary struct {
	s    *Stack
	mu   sync.Mutex
	sink bthal.GATTClientHandler
}

func (b *gattcBoundary) snapshot() bthal.GATTClientHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

func (b *gattcBoundary) Init(sink bthal.GATTClientHandler) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "init", nil)
	if !st.OK() {
		return st
	}
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
	return st
}

func (b *gattcBoundary) Cleanup() {
	b.s.record(bthal.ProfileGATTClient, "cleanup", nil)
	b.mu.Lock()
	b.sink = nil
	b.mu.Unlock()
}

func (b *gattcBoundary) respond(st bthal.Status, fn func(bthal.GATTClientHandler)) {
	if !st.OK() || !b.s.autoOn() {
		return
	}
	b.s.async(func() {
		if sink := b.snapshot(); sink != nil {
			fn(sink)
		}
	})
}

func (b *gattcBoundary) RegisterApp(appUUID bthal.UUID) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "register_app", nil)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.ClientRegistered(bthal.StatusSuccess, b.s.claimIf(), appUUID)
	})
	return st
}

func (b *gattcBoundary) UnregisterApp(clientIf int32) bthal.Status {
	return b.s.record(bthal.ProfileGATTClient, "unregister_app", nil)
}

func (b *gattcBoundary) Scan(start bool) bthal.Status {
	op := "scan_stop"
	if start {
		op = "scan_start"
	}
	st := b.s.record(bthal.ProfileGATTClient, op, nil)
	if start {
		b.respond(st, func(sink bthal.GATTClientHandler) {
			for _, d := range b.s.snapshotDevices() {
				eir, err := (bthal.AdvertisementFields{
					Flags:     0x06,
					LocalName: d.Name,
				}).Marshal()
				if err != nil {
					continue
				}
				sink.ScanResult(d.Addr, d.RSSI, eir)
			}
		})
	}
	return st
}

func (b *gattcBoundary) Connect(clientIf int32, addr bthal.Address, direct bool, transport bthal.Transport) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "connect", &addr)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.Connected(b.s.connFor(addr), bthal.StatusSuccess, clientIf, addr)
	})
	return st
}

func (b *gattcBoundary) Disconnect(clientIf int32, addr bthal.Address, connID bthal.ConnID) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "disconnect", &addr)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.Disconnected(connID, bthal.StatusSuccess, clientIf, addr)
	})
	return st
}

func (b *gattcBoundary) Refresh(clientIf int32, addr bthal.Address) bthal.Status {
	return b.s.record(bthal.ProfileGATTClient, "refresh", &addr)
}

func (b *gattcBoundary) SearchService(connID bthal.ConnID, filter *bthal.UUID) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "search_service", nil)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.SearchComplete(connID, bthal.StatusSuccess)
	})
	return st
}

func (b *gattcBoundary) GetGattDB(connID bthal.ConnID) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "get_gatt_db", nil)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.GattDB(connID, []bthal.GattDBElement{
			{
				ID:          1,
				UUID:        bthal.New16BitUUID(0x180F),
				Type:        bthal.DBPrimaryService,
				Handle:      0x0010,
				StartHandle: 0x0010,
				EndHandle:   0x0013,
			},
			{
				ID:         2,
				UUID:       bthal.New16BitUUID(0x2A19),
				Type:       bthal.DBCharacteristic,
				Handle:     0x0012,
				Properties: 0x12,
			},
			{
				ID:     3,
				UUID:   bthal.New16BitUUID(0x2902),
				Type:   bthal.DBDescriptor,
				Handle: 0x0013,
			},
		})
	})
	return st
}

func (b *gattcBoundary) ReadCharacteristic(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "read_characteristic", nil)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.CharacteristicRead(connID, bthal.StatusSuccess, handle, []byte{0x64})
	})
	return st
}

func (b *gattcBoundary) WriteCharacteristic(connID bthal.ConnID, handle bthal.AttrHandle, writeType bthal.WriteType, auth bthal.AuthReq, value []byte) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "write_characteristic", nil)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.CharacteristicWritten(connID, bthal.StatusSuccess, handle)
	})
	return st
}

func (b *gattcBoundary) ReadDescriptor(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "read_descriptor", nil)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.DescriptorRead(connID, bthal.StatusSuccess, handle, []byte{0x00, 0x00})
	})
	return st
}

func (b *gattcBoundary) WriteDescriptor(connID bthal.ConnID, handle bthal.AttrHandle, auth bthal.AuthReq, value []byte) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "write_descriptor", nil)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.DescriptorWritten(connID, bthal.StatusSuccess, handle)
	})
	return st
}

func (b *gattcBoundary) ExecuteWrite(connID bthal.ConnID, execute bool) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "execute_write", nil)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.ExecuteWriteComplete(connID, bthal.StatusSuccess)
	})
	return st
}

func (b *gattcBoundary) RegisterForNotification(clientIf int32, addr bthal.Address, handle bthal.AttrHandle, enable bool) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "register_for_notification", &addr)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.NotificationRegistered(b.s.connFor(addr), enable, bthal.StatusSuccess, handle)
	})
	return st
}

func (b *gattcBoundary) ReadRemoteRSSI(clientIf int32, addr bthal.Address) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "read_remote_rssi", &addr)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		rssi := int16(-50)
		for _, d := range b.s.snapshotDevices() {
			if d.Addr == addr {
				rssi = d.RSSI
				break
			}
		}
		sink.RemoteRSSI(clientIf, addr, rssi, bthal.StatusSuccess)
	})
	return st
}

func (b *gattcBoundary) ConfigureMTU(connID bthal.ConnID, mtu int) bthal.Status {
	st := b.s.record(bthal.ProfileGATTClient, "configure_mtu", nil)
	b.respond(st, func(sink bthal.GATTClientHandler) {
		sink.MTUChanged(connID, bthal.StatusSuccess, mtu)
	})
	return st
}

func (b *gattcBoundary) ConnectionParameterUpdate(addr bthal.Address, minInterval, maxInterval, latency, timeout int) bthal.Status {
	return b.s.record(bthal.ProfileGATTClient, "conn_parameter_update", &addr)
}

type gattsBoundary struct {
	s    *Stack
	mu   sync.Mutex
	sink bthal.GATTServerHandler
}

func (b *gattsBoundary) snapshot() bthal.GATTServerHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

func (b *gattsBoundary) Init(sink bthal.GATTServerHandler) bthal.Status {
	st := b.s.record(bthal.ProfileGATTServer, "init", nil)
	if !st.OK() {
		return st
	}
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
	return st
}

func (b *gattsBoundary) Cleanup() {
	b.s.record(bthal.ProfileGATTServer, "cleanup", nil)
	b.mu.Lock()
	b.sink = nil
	b.mu.Unlock()
}

func (b *gattsBoundary) respond(st bthal.Status, fn func(bthal.GATTServerHandler)) {
	if !st.OK() || !b.s.autoOn() {
		return
	}
	b.s.async(func() {
		if sink := b.snapshot(); sink != nil {
			fn(sink)
		}
	})
}

func (b *gattsBoundary) RegisterServer(appUUID bthal.UUID) bthal.Status {
	st := b.s.record(bthal.ProfileGATTServer, "register_server", nil)
	b.respond(st, func(sink bthal.GATTServerHandler) {
		sink.ServerRegistered(bthal.StatusSuccess, b.s.claimIf(), appUUID)
	})
	return st
}

func (b *gattsBoundary) UnregisterServer(serverIf int32) bthal.Status {
	return b.s.record(bthal.ProfileGATTServer, "unregister_server", nil)
}

func (b *gattsBoundary) Connect(serverIf int32, addr bthal.Address, direct bool, transport bthal.Transport) bthal.Status {
	st := b.s.record(bthal.ProfileGATTServer, "connect", &addr)
	b.respond(st, func(sink bthal.GATTServerHandler) {
		sink.ClientConnected(addr, true, b.s.connFor(addr), serverIf)
	})
	return st
}

func (b *gattsBoundary) Disconnect(serverIf int32, addr bthal.Address, connID bthal.ConnID) bthal.Status {
	st := b.s.record(bthal.ProfileGATTServer, "disconnect", &addr)
	b.respond(st, func(sink bthal.GATTServerHandler) {
		sink.ClientConnected(addr, false, connID, serverIf)
	})
	return st
}

func (b *gattsBoundary) AddService(serverIf int32, service []bthal.GattDBElement) bthal.Status {
	st := b.s.record(bthal.ProfileGATTServer, "add_service", nil)
	b.respond(st, func(sink bthal.GATTServerHandler) {
		added := make([]bthal.GattDBElement, len(service))
		copy(added, service)
		base := b.s.claimHandles(len(added))
		for i := range added {
			added[i].Handle = base + bthal.AttrHandle(i)
		}
		if len(added) > 0 {
			added[0].StartHandle = added[0].Handle
			added[0].EndHandle = added[len(added)-1].Handle
		}
		sink.ServiceAdded(bthal.StatusSuccess, serverIf, added)
	})
	return st
}

func (b *gattsBoundary) StopService(serverIf int32, serviceHandle bthal.AttrHandle) bthal.Status {
	st := b.s.record(bthal.ProfileGATTServer, "stop_service", nil)
	b.respond(st, func(sink bthal.GATTServerHandler) {
		sink.ServiceStopped(bthal.StatusSuccess, serverIf, serviceHandle)
	})
	return st
}

func (b *gattsBoundary) DeleteService(serverIf int32, serviceHandle bthal.AttrHandle) bthal.Status {
	st := b.s.record(bthal.ProfileGATTServer, "delete_service", nil)
	b.respond(st, func(sink bthal.GATTServerHandler) {
		sink.ServiceDeleted(bthal.StatusSuccess, serverIf, serviceHandle)
	})
	return st
}

func (b *gattsBoundary) SendNotification(serverIf int32, handle bthal.AttrHandle, connID bthal.ConnID, confirm bool, value []byte) bthal.Status {
	st := b.s.record(bthal.ProfileGATTServer, "send_notification", nil)
	b.respond(st, func(sink bthal.GATTServerHandler) {
		sink.NotificationSent(connID, bthal.StatusSuccess)
	})
	return st
}

func (b *gattsBoundary) SendResponse(connID bthal.ConnID, transID int32, status bthal.Status, handle bthal.AttrHandle, offset int, value []byte) bthal.Status {
	st := b.s.record(bthal.ProfileGATTServer, "send_response", nil)
	b.respond(st, func(sink bthal.GATTServerHandler) {
		sink.ResponseConfirmed(bthal.StatusSuccess, handle)
	})
	return st
}

type advBoundary struct {
	s    *Stack
	mu   sync.Mutex
	sink bthal.AdvertiserHandler
}

func (b *advBoundary) snapshot() bthal.AdvertiserHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

func (b *advBoundary) Init(sink bthal.AdvertiserHandler) bthal.Status {
	st := b.s.record(bthal.ProfileAdvertiser, "init", nil)
	if !st.OK() {
		return st
	}
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
	return st
}

func (b *advBoundary) Cleanup() {
	b.s.record(bthal.ProfileAdvertiser, "cleanup", nil)
	b.mu.Lock()
	b.sink = nil
	b.mu.Unlock()
}

func (b *advBoundary) respond(st bthal.Status, fn func(bthal.AdvertiserHandler)) {
	if !st.OK() || !b.s.autoOn() {
		return
	}
	b.s.async(func() {
		if sink := b.snapshot(); sink != nil {
			fn(sink)
		}
	})
}

func (b *advBoundary) RegisterAdvertiser(appUUID bthal.UUID) bthal.Status {
	st := b.s.record(bthal.ProfileAdvertiser, "register_advertiser", nil)
	b.respond(st, func(sink bthal.AdvertiserHandler) {
		sink.AdvertiserRegistered(bthal.StatusSuccess, b.s.claimAdv(), appUUID)
	})
	return st
}

func (b *advBoundary) UnregisterAdvertiser(advID uint8) bthal.Status {
	return b.s.record(bthal.ProfileAdvertiser, "unregister_advertiser", nil)
}

func (b *advBoundary) SetParams(advID uint8, params bthal.AdvertiseParams) bthal.Status {
	st := b.s.record(bthal.ProfileAdvertiser, "set_params", nil)
	b.respond(st, func(sink bthal.AdvertiserHandler) {
		sink.ParamsSet(advID, bthal.StatusSuccess)
	})
	return st
}

func (b *advBoundary) SetData(advID uint8, scanResponse bool, data bthal.AdvertiseData) bthal.Status {
	st := b.s.record(bthal.ProfileAdvertiser, "set_data", nil)
	b.respond(st, func(sink bthal.AdvertiserHandler) {
		sink.DataSet(advID, bthal.StatusSuccess)
	})
	return st
}

func (b *advBoundary) EnableAdvertising(advID uint8, enable bool, timeoutSecs int) bthal.Status {
	st := b.s.record(bthal.ProfileAdvertiser, "enable_advertising", nil)
	b.respond(st, func(sink bthal.AdvertiserHandler) {
		sink.AdvertisingEnabled(advID, enable, bthal.StatusSuccess)
	})
	return st
}
