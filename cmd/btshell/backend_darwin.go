package main

import (
	"github.com/btforge/bthal"
	"github.com/btforge/bthal/hciuart"
	"github.com/btforge/bthal/macbt"
)

const backendNames = "fake, macbt, hciuart"

func newBackend(cfg bthal.Config, name string) (bthal.Stack, error) {
	switch cfg.Backend {
	case "", "fake":
		return newFakeStack(), nil
	case "macbt":
		return macbt.New(macbt.Options{
			LocalName: name,
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
