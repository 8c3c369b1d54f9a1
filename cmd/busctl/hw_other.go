//go:build !linux

package main

import (
	"errors"

	"busmux-go/services/busmux"
)

func hardwareI2C([]i2cAdapter) (busmux.I2CFactory, error) {
	return nil, errors.New("i2c-dev adapters need a Linux host")
}
