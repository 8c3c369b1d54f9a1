package config

// -----------------------------------------------------------------------------
// Embedded plans
//
// Key: board name as given to busctl -board.
// Val: YAML plan.
// -----------------------------------------------------------------------------

const planPicoRichDev = `
mac: "24:6f:28:00:00:01"
devices:
  - name: env_core
    bus: i2c
    i2c: {addr: 0x70, sda: 12, scl: 13, speed_hz: 400000}
  - name: charger
    bus: i2c
    i2c: {addr: 0x68, sda: 12, scl: 13, cmd_bytes: 1, speed_hz: 400000}
  - name: probe_tank
    bus: onewire
    onewire: {rom: 0x28FF8CA7741604DB, pin: 22, cmd_bytes: 1, crc_check: true}
  - name: flash
    bus: spi
    spi: {mosi: 19, miso: 16, sclk: 18, cs: 17, cmd_bits: 8, addr_bits: 24, clock_hz: 8000000}
`

var embeddedPlans = map[string][]byte{
	"pico_rich_dev": []byte(planPicoRichDev),
}
