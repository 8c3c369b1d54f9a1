//go:build linux

package main

import (
	"busmux-go/services/busmux"
	"busmux-go/services/busmux/periphbus"
)

func hardwareI2C(adapters []i2cAdapter) (busmux.I2CFactory, error) {
	out := make([]periphbus.Adapter, len(adapters))
	for i, a := range adapters {
		out[i] = periphbus.Adapter{SDA: a.sda, SCL: a.scl, Name: a.name}
	}
	return periphbus.NewI2C(out...)
}
