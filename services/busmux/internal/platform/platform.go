// Package platform supplies the peripheral drivers behind the bus
// controllers: recording fakes on hosts, machine-backed drivers on RP2.
package platform

import "busmux-go/services/busmux/internal/core"

// Platform bundles the driver factories and board facts one Router needs.
type Platform struct {
	OneWire core.OneWireFactory
	I2C     core.I2CFactory
	SPI     core.SPIFactory
	MAC     core.MACSource
	// Pins is the number of GPIOs the pin registry hands out.
	Pins int
}
