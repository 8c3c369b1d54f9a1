package setups

import "busmux-go/types"

// PicoRichDev: SHTC3 and LTC4015 share i2c0, a DS18B20 probe on GP22 and SPI
// flash on spi0.
var PicoRichDev = Plan{
	Board: "pico_rich_dev",
	Devices: []Named{
		{"env_core", types.I2C(types.I2CConfig{Addr: 0x70, SDA: 12, SCL: 13, SpeedHz: 400_000})},
		{"charger", types.I2C(types.I2CConfig{Addr: 0x68, SDA: 12, SCL: 13, CmdBytes: 1, SpeedHz: 400_000})},
		{"probe_tank", types.OneWire(types.OneWireConfig{ROM: 0x28FF8CA7741604DB, Pin: 22, CmdBytes: 1, CRCCheck: true})},
		{"flash", types.SPI(types.SPIConfig{MOSI: 19, MISO: 16, SCLK: 18, CS: 17, CmdBits: 8, AddrBits: 24, ClockHz: 8_000_000})},
	},
}
