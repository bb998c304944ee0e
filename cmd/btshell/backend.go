package main

import (
	"fmt"

	"github.com/btforge/bthal"
	"github.com/btforge/bthal/fakestack"
)

// newFakeStack builds the default in-memory backend with a few seeded
// remotes so scanning has something to find.
func newFakeStack() *fakestack.Stack {
	f := fakestack.New()
	f.AutoRespond(true)
	f.AddDevice(fakestack.Device{
		Addr: bthal.Address{0xC4, 0x47, 0x2E, 0x11, 0x5D, 0x01},
		Name: "kitchen speaker",
		RSSI: -52,
	})
	f.AddDevice(fakestack.Device{
		Addr: bthal.Address{0xC4, 0x47, 0x2E, 0x11, 0x5D, 0x02},
		Name: "wrist sensor",
		RSSI: -71,
	})
	f.AddDevice(fakestack.Device{
		Addr: bthal.Address{0x60, 0x8C, 0x4A, 0xB0, 0x33, 0x7F},
		RSSI: -88,
	})
	return f
}

func unknownBackend(name string) error {
	return fmt.Errorf("unknown backend %q (available: %s)", name, backendNames)
}
