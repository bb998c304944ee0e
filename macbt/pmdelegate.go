//go:build darwin

// Implements the PeripheralManagerDelegate interface. The peripheral
// manager is shared: service and attribute callbacks route to the
// GATT server boundary, advertising callbacks to the advertiser.

package macbt

import (
	"github.com/JuulLabs-OSS/cbgo"
)

type pmDelegate struct {
	cbgo.PeripheralManagerDelegateBase
	s *Stack
}

func (d *pmDelegate) DidAddService(pmgr cbgo.PeripheralManager, svc cbgo.Service, err error) {
	d.s.gatts.serviceAdded(svc, err)
}

func (d *pmDelegate) DidStartAdvertising(pmgr cbgo.PeripheralManager, err error) {
	d.s.adv.started(err)
}

func (d *pmDelegate) DidReceiveReadRequest(pmgr cbgo.PeripheralManager, cbreq cbgo.ATTRequest) {
	d.s.gatts.readRequest(cbreq)
}

func (d *pmDelegate) DidReceiveWriteRequests(pmgr cbgo.PeripheralManager, cbreqs []cbgo.ATTRequest) {
	d.s.gatts.writeRequests(cbreqs)
}

func (d *pmDelegate) CentralDidSubscribe(pmgr cbgo.PeripheralManager, cent cbgo.Central, cbchr cbgo.Characteristic) {
	d.s.gatts.subscribed(cent, cbchr)
}

func (d *pmDelegate) IsReadyToUpdateSubscribers(pmgr cbgo.PeripheralManager) {
	d.s.gatts.flushUpdates()
}
