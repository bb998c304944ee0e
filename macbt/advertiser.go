//go:build darwin

package macbt

import (
	"sync"
	"time"

	"github.com/JuulLabs-OSS/cbgo"

	"github.com/btforge/bthal"
)

// advertiserBoundary drives LE advertising over the shared peripheral
// manager. CoreBluetooth advertises one payload at a time and only
// lets applications set the local name and service UUIDs; parameters
// and the rest of the payload are stored but cannot reach the radio.
type advertiserBoundary struct {
	s *Stack

	mu     sync.Mutex
	sink   bthal.AdvertiserHandler
	nextID uint8
	active uint8
	sets   map[uint8]*advSet
	timer  *time.Timer
}

type advSet struct {
	params  bthal.AdvertiseParams
	data    bthal.AdvertiseData
	scanRsp bthal.AdvertiseData
}

func (b *advertiserBoundary) Init(sink bthal.AdvertiserHandler) bthal.Status {
	b.s.peripheralManager()
	b.mu.Lock()
	b.sink = sink
	b.sets = make(map[uint8]*advSet)
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) Cleanup() {
	b.mu.Lock()
	active := b.active
	b.sink = nil
	b.sets = nil
	b.active = 0
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
	if active != 0 {
		b.s.peripheralManager().StopAdvertising()
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
	stop := false
	if b.sets != nil {
		set = b.sets[advID]
		delete(b.sets, advID)
	}
	if b.active == advID && advID != 0 {
		b.active = 0
		stop = true
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	}
	b.mu.Unlock()
	if set == nil {
		return bthal.StatusInvalidParam
	}
	if stop {
		b.s.peripheralManager().StopAdvertising()
	}
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
	pm := b.s.peripheralManager()

	if !enable {
		b.mu.Lock()
		wasActive := b.active == advID
		if wasActive {
			b.active = 0
		}
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.mu.Unlock()
		if wasActive {
			pm.StopAdvertising()
		}
		b.fire(func(sink bthal.AdvertiserHandler) {
			sink.AdvertisingEnabled(advID, false, bthal.StatusSuccess)
		})
		return bthal.StatusSuccess
	}

	b.mu.Lock()
	if b.active != 0 && b.active != advID {
		b.mu.Unlock()
		return bthal.StatusBusy
	}
	b.active = advID
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if timeoutSecs > 0 {
		b.timer = time.AfterFunc(time.Duration(timeoutSecs)*time.Second, func() {
			b.expire(advID)
		})
	}
	ad := b.advData(set)
	b.mu.Unlock()

	pm.StartAdvertising(ad)
	return bthal.StatusSuccess
}

// started completes an EnableAdvertising call.
func (b *advertiserBoundary) started(err error) {
	b.mu.Lock()
	advID := b.active
	status := bthal.StatusSuccess
	if err != nil {
		b.active = 0
		status = bthal.StatusFail
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	}
	b.mu.Unlock()
	if advID == 0 {
		return
	}
	if err != nil {
		b.s.log.Warn("start advertising failed", "adv", advID, "err", err)
	}
	b.fire(func(sink bthal.AdvertiserHandler) {
		sink.AdvertisingEnabled(advID, status == bthal.StatusSuccess, status)
	})
}

func (b *advertiserBoundary) expire(advID uint8) {
	b.mu.Lock()
	if b.active != advID {
		b.mu.Unlock()
		return
	}
	b.active = 0
	b.timer = nil
	b.mu.Unlock()
	b.s.peripheralManager().StopAdvertising()
	b.fire(func(sink bthal.AdvertiserHandler) {
		sink.AdvertisingEnabled(advID, false, bthal.StatusSuccess)
	})
}

// advData folds both payloads into the one advertisement
// CoreBluetooth accepts. Caller holds the lock.
func (b *advertiserBoundary) advData(set *advSet) cbgo.AdvData {
	var ad cbgo.AdvData
	for _, data := range []bthal.AdvertiseData{set.data, set.scanRsp} {
		if data.IncludeName && ad.LocalName == "" {
			ad.LocalName = b.s.name
		}
		for blob := data.ServiceUUID; len(blob) >= 16; blob = blob[16:] {
			uuid, err := bthal.UUIDFromBytes(blob[:16])
			if err != nil {
				continue
			}
			ad.ServiceUUIDs = append(ad.ServiceUUIDs, cbUUID(uuid))
		}
	}
	return ad
}
