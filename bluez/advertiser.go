//go:build linux

package bluez

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez/profile/advertising"

	"github.com/btforge/bthal"
)

// advertiserBoundary drives LE advertising. The daemon owns the radio
// schedule, so the interval, channel map and tx power level in the
// parameters cannot be applied; the PDU type and the payload can.
// There is no separate scan response either, both payloads fold into
// the one advertisement the daemon builds.
type advertiserBoundary struct {
	s *Stack

	mu     sync.Mutex
	sink   bthal.AdvertiserHandler
	nextID uint8
	sets   map[uint8]*advSet
}

type advSet struct {
	params  bthal.AdvertiseParams
	data    bthal.AdvertiseData
	scanRsp bthal.AdvertiseData
	cancel  func()
	timer   *time.Timer
}

func (b *advertiserBoundary) Init(sink bthal.AdvertiserHandler) bthal.Status {
	b.mu.Lock()
	b.sink = sink
	b.sets = make(map[uint8]*advSet)
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) Cleanup() {
	b.mu.Lock()
	b.sink = nil
	sets := b.sets
	b.sets = nil
	b.mu.Unlock()
	for _, set := range sets {
		stopSet(set)
	}
}

func stopSet(set *advSet) {
	if set.timer != nil {
		set.timer.Stop()
		set.timer = nil
	}
	if set.cancel != nil {
		set.cancel()
		set.cancel = nil
	}
}

func (b *advertiserBoundary) fire(fn func(bthal.AdvertiserHandler)) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		fn(sink)
	}
}

func (b *advertiserBoundary) set(advID uint8) *advSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sets == nil {
		return nil
	}
	return b.sets[advID]
}

func (b *advertiserBoundary) RegisterAdvertiser(appUUID bthal.UUID) bthal.Status {
	b.mu.Lock()
	if b.sets == nil {
		b.mu.Unlock()
		return bthal.StatusNotReady
	}
	b.nextID++
	id := b.nextID
	b.sets[id] = &advSet{}
	b.mu.Unlock()
	b.fire(func(sink bthal.AdvertiserHandler) {
		sink.AdvertiserRegistered(bthal.StatusSuccess, id, appUUID)
	})
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) UnregisterAdvertiser(advID uint8) bthal.Status {
	b.mu.Lock()
	var set *advSet
	if b.sets != nil {
		set = b.sets[advID]
		delete(b.sets, advID)
	}
	b.mu.Unlock()
	if set == nil {
		return bthal.StatusInvalidParam
	}
	b.mu.Lock()
	stopSet(set)
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) SetParams(advID uint8, params bthal.AdvertiseParams) bthal.Status {
	set := b.set(advID)
	if set == nil {
		return bthal.StatusInvalidParam
	}
	b.mu.Lock()
	set.params = params
	b.mu.Unlock()
	b.fire(func(sink bthal.AdvertiserHandler) {
		sink.ParamsSet(advID, bthal.StatusSuccess)
	})
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) SetData(advID uint8, scanResponse bool, data bthal.AdvertiseData) bthal.Status {
	set := b.set(advID)
	if set == nil {
		return bthal.StatusInvalidParam
	}
	b.mu.Lock()
	if scanResponse {
		set.scanRsp = data
	} else {
		set.data = data
	}
	b.mu.Unlock()
	b.fire(func(sink bthal.AdvertiserHandler) {
		sink.DataSet(advID, bthal.StatusSuccess)
	})
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) EnableAdvertising(advID uint8, enable bool, timeoutSecs int) bthal.Status {
	set := b.set(advID)
	if set == nil {
		return bthal.StatusInvalidParam
	}

	if !enable {
		b.mu.Lock()
		stopSet(set)
		b.mu.Unlock()
		b.fire(func(sink bthal.AdvertiserHandler) {
			sink.AdvertisingEnabled(advID, false, bthal.StatusSuccess)
		})
		return bthal.StatusSuccess
	}

	b.mu.Lock()
	stopSet(set)
	props := b.advProps(set)
	b.mu.Unlock()

	go func() {
		cancel, err := api.ExposeAdvertisement(b.s.id, props, uint32(timeoutSecs))
		if err != nil {
			b.s.log.Warn("expose advertisement failed", "adv", advID, "err", err)
			b.fire(func(sink bthal.AdvertiserHandler) {
				sink.AdvertisingEnabled(advID, false, bthal.StatusFail)
			})
			return
		}
		b.mu.Lock()
		set.cancel = cancel
		if timeoutSecs > 0 {
			set.timer = time.AfterFunc(time.Duration(timeoutSecs)*time.Second, func() {
				b.expire(advID, set)
			})
		}
		b.mu.Unlock()
		b.fire(func(sink bthal.AdvertiserHandler) {
			sink.AdvertisingEnabled(advID, true, bthal.StatusSuccess)
		})
	}()
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) expire(advID uint8, set *advSet) {
	b.mu.Lock()
	set.timer = nil
	stopSet(set)
	b.mu.Unlock()
	b.fire(func(sink bthal.AdvertiserHandler) {
		sink.AdvertisingEnabled(advID, false, bthal.StatusSuccess)
	})
}

// advProps builds the advertisement the daemon will broadcast from
// the stored parameters and payloads. Caller holds the lock.
func (b *advertiserBoundary) advProps(set *advSet) *advertising.LEAdvertisement1Properties {
	props := &advertising.LEAdvertisement1Properties{
		Type:    advertising.AdvertisementTypeBroadcast,
		Timeout: 1<<16 - 1,
	}
	if set.params.Type == bthal.AdvInd || set.params.Type == bthal.AdvDirectInd {
		props.Type = advertising.AdvertisementTypePeripheral
	}

	for _, data := range []bthal.AdvertiseData{set.data, set.scanRsp} {
		if data.IncludeName && props.LocalName == "" {
			if alias, err := b.s.adapter.GetAlias(); err == nil {
				props.LocalName = alias
			}
		}
		if data.IncludeTxPower {
			props.Includes = append(props.Includes, "tx-power")
		}
		if data.Appearance != 0 && props.Appearance == 0 {
			props.Appearance = data.Appearance
		}
		for blob := data.ServiceUUID; len(blob) >= 16; blob = blob[16:] {
			uuid, err := bthal.UUIDFromBytes(blob[:16])
			if err != nil {
				continue
			}
			props.ServiceUUIDs = append(props.ServiceUUIDs, uuid.String())
		}
		if len(data.ManufacturerData) >= 2 {
			company := binary.LittleEndian.Uint16(data.ManufacturerData)
			if props.ManufacturerData == nil {
				props.ManufacturerData = make(map[uint16]interface{})
			}
			props.ManufacturerData[company] = append([]byte(nil), data.ManufacturerData[2:]...)
		}
		if len(data.ServiceData) >= 2 {
			uuid := bthal.New16BitUUID(binary.LittleEndian.Uint16(data.ServiceData))
			if props.ServiceData == nil {
				props.ServiceData = make(map[string]interface{})
			}
			props.ServiceData[uuid.String()] = append([]byte(nil), data.ServiceData[2:]...)
		}
	}
	return props
}
