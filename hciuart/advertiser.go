package hciuart

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/btforge/bthal"
)

// advertiserBoundary implements LE advertising with the legacy
// advertising commands. The controller carries a single advertising
// state, so one set is on the air at a time; enabling while any set
// is live reports busy, and the caller disables first.
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
	b.mu.Lock()
	b.sink = sink
	b.sets = make(map[uint8]*advSet)
	b.nextID = 0
	b.active = 0
	b.mu.Unlock()
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) Cleanup() {
	b.mu.Lock()
	b.sink = nil
	b.sets = nil
	wasActive := b.active != 0
	b.active = 0
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
	if wasActive {
		if err := b.s.hci.leSetAdvertiseEnable(false); err != nil {
			b.s.log.Warn("can't stop advertising during cleanup", "err", err)
		}
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

func (b *advertiserBoundary) RegisterAdvertiser(appUUID bthal.UUID) bthal.Status {
	b.mu.Lock()
	if b.sink == nil || b.sets == nil {
		b.mu.Unlock()
		return bthal.StatusNotReady
	}
	b.nextID++
	if b.nextID == 0 {
		b.nextID = 1
	}
	advID := b.nextID
	b.sets[advID] = &advSet{}
	b.mu.Unlock()

	b.fire(func(h bthal.AdvertiserHandler) {
		h.AdvertiserRegistered(bthal.StatusSuccess, advID, appUUID)
	})
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) UnregisterAdvertiser(advID uint8) bthal.Status {
	b.mu.Lock()
	if b.sets == nil {
		b.mu.Unlock()
		return bthal.StatusNotReady
	}
	delete(b.sets, advID)
	wasActive := b.active == advID
	if wasActive {
		b.active = 0
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	}
	b.mu.Unlock()
	if wasActive {
		if err := b.s.hci.leSetAdvertiseEnable(false); err != nil {
			b.s.log.Warn("can't stop advertising", "err", err)
		}
	}
	return bthal.StatusSuccess
}

// SetParams stores the set's radio parameters. They reach the
// controller when the set is enabled.
func (b *advertiserBoundary) SetParams(advID uint8, params bthal.AdvertiseParams) bthal.Status {
	b.mu.Lock()
	set, ok := b.sets[advID]
	if !ok {
		b.mu.Unlock()
		return bthal.StatusInvalidParam
	}
	set.params = params
	b.mu.Unlock()

	b.fire(func(h bthal.AdvertiserHandler) {
		h.ParamsSet(advID, bthal.StatusSuccess)
	})
	return bthal.StatusSuccess
}

// SetData stores a payload. Assembly and the length check happen when
// the set is enabled, with a failure surfacing on AdvertisingEnabled.
func (b *advertiserBoundary) SetData(advID uint8, scanResponse bool, data bthal.AdvertiseData) bthal.Status {
	b.mu.Lock()
	set, ok := b.sets[advID]
	if !ok {
		b.mu.Unlock()
		return bthal.StatusInvalidParam
	}
	stored := data
	stored.ManufacturerData = append([]byte(nil), data.ManufacturerData...)
	stored.ServiceData = append([]byte(nil), data.ServiceData...)
	stored.ServiceUUID = append([]byte(nil), data.ServiceUUID...)
	if scanResponse {
		set.scanRsp = stored
	} else {
		set.data = stored
	}
	b.mu.Unlock()

	b.fire(func(h bthal.AdvertiserHandler) {
		h.DataSet(advID, bthal.StatusSuccess)
	})
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) EnableAdvertising(advID uint8, enable bool, timeoutSecs int) bthal.Status {
	b.mu.Lock()
	if b.sink == nil || b.sets == nil {
		b.mu.Unlock()
		return bthal.StatusNotReady
	}
	set, ok := b.sets[advID]
	if !ok {
		b.mu.Unlock()
		return bthal.StatusInvalidParam
	}

	if !enable {
		wasActive := b.active == advID
		if wasActive {
			b.active = 0
			if b.timer != nil {
				b.timer.Stop()
				b.timer = nil
			}
		}
		b.mu.Unlock()
		go b.stop(advID, wasActive)
		return bthal.StatusSuccess
	}

	if b.active != 0 {
		b.mu.Unlock()
		return bthal.StatusBusy
	}
	b.active = advID
	snap := *set
	b.mu.Unlock()

	go b.start(advID, snap, timeoutSecs)
	return bthal.StatusSuccess
}

func (b *advertiserBoundary) start(advID uint8, set advSet, timeoutSecs int) {
	if err := b.program(set); err != nil {
		b.s.log.Warn("can't start advertising", "err", err)
		b.mu.Lock()
		if b.active == advID {
			b.active = 0
		}
		b.mu.Unlock()
		b.fire(func(h bthal.AdvertiserHandler) {
			h.AdvertisingEnabled(advID, false, bthal.StatusFail)
		})
		return
	}
	if timeoutSecs > 0 {
		b.mu.Lock()
		if b.active == advID {
			b.timer = time.AfterFunc(time.Duration(timeoutSecs)*time.Second, func() {
				b.expire(advID)
			})
		}
		b.mu.Unlock()
	}
	b.fire(func(h bthal.AdvertiserHandler) {
		h.AdvertisingEnabled(advID, true, bthal.StatusSuccess)
	})
}

func (b *advertiserBoundary) stop(advID uint8, wasActive bool) {
	if wasActive {
		if err := b.s.hci.leSetAdvertiseEnable(false); err != nil {
			b.s.log.Warn("can't stop advertising", "err", err)
		}
	}
	b.fire(func(h bthal.AdvertiserHandler) {
		h.AdvertisingEnabled(advID, false, bthal.StatusSuccess)
	})
}

// expire turns a timed set off when its window ends.
func (b *advertiserBoundary) expire(advID uint8) {
	b.mu.Lock()
	if b.active != advID {
		b.mu.Unlock()
		return
	}
	b.active = 0
	b.timer = nil
	b.mu.Unlock()
	if err := b.s.hci.leSetAdvertiseEnable(false); err != nil {
		b.s.log.Warn("can't stop advertising", "err", err)
	}
	b.fire(func(h bthal.AdvertiserHandler) {
		h.AdvertisingEnabled(advID, false, bthal.StatusSuccess)
	})
}

// program pushes one set's full state to the controller: the radio
// parameters, both payloads, then the enable.
func (b *advertiserBoundary) program(set advSet) error {
	h := b.s.hci

	p := set.params
	min := clampInterval(p.MinInterval)
	max := clampInterval(p.MaxInterval)
	if min == 0 {
		min = uint16(bthal.NewAdvertiseInterval(100))
	}
	if max < min {
		max = min
	}
	chanMap := p.ChannelMap
	if chanMap == 0 {
		chanMap = 0x07
	}
	if err := h.leSetAdvertisingParameters(min, max, byte(p.Type), chanMap); err != nil {
		return err
	}

	adv, err := b.payload(set.data, set.params, true)
	if err != nil {
		return err
	}
	if err := h.leSetAdvertisingData(adv); err != nil {
		return err
	}

	// The scan response is set even when empty so a stale payload
	// from an earlier set never lingers.
	rsp, err := b.payload(set.scanRsp, set.params, false)
	if err != nil {
		return err
	}
	if err := h.leSetScanResponseData(rsp); err != nil {
		return err
	}

	return h.leSetAdvertiseEnable(true)
}

// clampInterval bounds an interval to the 0x0020..0x4000 range legacy
// advertising accepts. Zero stays zero so the caller can substitute a
// default.
func clampInterval(i bthal.AdvertiseInterval) uint16 {
	switch {
	case i == 0:
		return 0
	case i < 0x0020:
		return 0x0020
	case i > 0x4000:
		return 0x4000
	}
	return uint16(i)
}

// payload assembles one raw payload. The primary payload carries the
// flags structure; the scan response does not.
func (b *advertiserBoundary) payload(data bthal.AdvertiseData, params bthal.AdvertiseParams, primary bool) ([]byte, error) {
	var f bthal.AdvertisementFields
	if primary {
		// General discoverable, BR/EDR not supported.
		f.Flags = 0x06
	}
	if data.IncludeName {
		f.LocalName = b.s.name
	}
	if data.IncludeTxPower {
		// The requested level; the controller's actual level is not
		// read back.
		tx := params.TxPower
		f.TxPower = &tx
	}
	for rest := data.ServiceUUID; len(rest) >= 16; rest = rest[16:] {
		u, err := bthal.UUIDFromBytes(rest[:16])
		if err != nil {
			return nil, err
		}
		f.ServiceUUIDs = append(f.ServiceUUIDs, u)
	}
	f.ManufacturerData = data.ManufacturerData

	raw, err := f.Marshal()
	if err != nil {
		return nil, err
	}
	if data.Appearance != 0 {
		var ap [2]byte
		binary.LittleEndian.PutUint16(ap[:], data.Appearance)
		raw = bthal.AppendADStructure(raw, bthal.ADAppearance, ap[:])
	}
	if len(data.ServiceData) >= 2 {
		raw = bthal.AppendADStructure(raw, bthal.ADServiceData16, data.ServiceData)
	}
	if len(raw) > bthal.MaxEIRLength {
		return nil, fmt.Errorf("hciuart: advertising payload too long: %d bytes", len(raw))
	}
	return raw, nil
}
