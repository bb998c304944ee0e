package main

import (
	"github.com/btforge/bthal"
	"github.com/btforge/bthal/bluez"
	"github.com/btforge/bthal/hciuart"
)

const backendNames = "fake, bluez, hciuart"

func newBackend(cfg bthal.Config, name string) (bthal.Stack, error) {
	switch cfg.Backend {
	case "", "fake":
		return newFakeStack(), nil
	case "bluez":
		return bluez.New(bluez.Options{
			AdapterID: cfg.Adapter,
			Logger:    cfg.Logger,
		})
	case "hciuart":
		return hciuart.New(hciuart.Options{
			Port:      cfg.Adapter,
			LocalName: name,
			Pool:      cfg.Pool,
			Logger:    cfg.Logger,
		})
	}
	return nil, unknownBackend(cfg.Backend)
}
