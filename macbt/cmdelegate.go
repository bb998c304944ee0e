//go:build darwin

// Implements the CentralManagerDelegate interface. CoreBluetooth
// communicates events asynchronously via callbacks; this file routes
// them onto the client boundary.

package macbt

import (
	"github.com/JuulLabs-OSS/cbgo"
)

type cmDelegate struct {
	cbgo.CentralManagerDelegateBase
	c *clientBoundary
}

func (d *cmDelegate) DidDiscoverPeripheral(cmgr cbgo.CentralManager, prph cbgo.Peripheral,
	advFields cbgo.AdvFields, rssi int) {
	d.c.report(prph, advFields, rssi)
}

func (d *cmDelegate) DidConnectPeripheral(cmgr cbgo.CentralManager, prph cbgo.Peripheral) {
	d.c.connected(prph)
}

func (d *cmDelegate) DidFailToConnectPeripheral(cmgr cbgo.CentralManager, prph cbgo.Peripheral, err error) {
	d.c.connectFailed(prph, err)
}

func (d *cmDelegate) DidDisconnectPeripheral(cmgr cbgo.CentralManager, prph cbgo.Peripheral, err error) {
	d.c.disconnected(prph)
}
