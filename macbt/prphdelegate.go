//go:build darwin

// Implements the PeripheralDelegate interface for connected
// peripherals. Discovery callbacks complete the synchronous walk in
// gattc.go through the connection's discovery channel; value and
// write callbacks fan out to the handler.

package macbt

import (
	"github.com/JuulLabs-OSS/cbgo"
)

type prphDelegate struct {
	cbgo.PeripheralDelegateBase
	c *clientBoundary
}

func (d *prphDelegate) DidDiscoverServices(prph cbgo.Peripheral, err error) {
	d.c.discoveryDone(prph, err)
}

func (d *prphDelegate) DidDiscoverCharacteristics(prph cbgo.Peripheral, svc cbgo.Service, err error) {
	d.c.discoveryDone(prph, err)
}

func (d *prphDelegate) DidDiscoverDescriptors(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	d.c.discoveryDone(prph, err)
}

func (d *prphDelegate) DidUpdateValueForCharacteristic(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	d.c.characteristicValue(prph, chr, err)
}

func (d *prphDelegate) DidWriteValueForCharacteristic(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	d.c.characteristicWritten(prph, chr, err)
}

func (d *prphDelegate) DidUpdateValueForDescriptor(prph cbgo.Peripheral, dsc cbgo.Descriptor, err error) {
	d.c.descriptorValue(prph, dsc, err)
}

func (d *prphDelegate) DidWriteValueForDescriptor(prph cbgo.Peripheral, dsc cbgo.Descriptor, err error) {
	d.c.descriptorWritten(prph, dsc, err)
}

func (d *prphDelegate) DidUpdateNotificationState(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	d.c.notifyState(prph, chr, err)
}

func (d *prphDelegate) DidReadRSSI(prph cbgo.Peripheral, rssi int, err error) {
	d.c.rssiRead(prph, rssi, err)
}
