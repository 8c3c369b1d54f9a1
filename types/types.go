package types

// ---- Bus taxonomy ----

// BusType tags a device configuration and a handle with the protocol that
// serves it.
type BusType uint8

const (
	BusOneWire BusType = iota // Dallas 1-Wire
	BusI2C
	BusSPI
)

func (b BusType) String() string {
	switch b {
	case BusOneWire:
		return "1wire"
	case BusI2C:
		return "i2c"
	case BusSPI:
		return "spi"
	default:
		return "unknown"
	}
}

// ParseBusType accepts the names produced by String.
func ParseBusType(s string) (BusType, bool) {
	switch s {
	case "1wire", "onewire":
		return BusOneWire, true
	case "i2c":
		return BusI2C, true
	case "spi":
		return BusSPI, true
	}
	return 0, false
}

// ---- Device configuration (tagged union) ----

// DeviceConfig selects exactly one protocol variant by Bus. The variant that
// matches Bus must be non-nil; the others are ignored.
type DeviceConfig struct {
	Bus     BusType        `yaml:"-" json:"bus"`
	OneWire *OneWireConfig `yaml:"onewire,omitempty" json:"onewire,omitempty"`
	I2C     *I2CConfig     `yaml:"i2c,omitempty" json:"i2c,omitempty"`
	SPI     *SPIConfig     `yaml:"spi,omitempty" json:"spi,omitempty"`
}

// OneWireConfig describes one 1-Wire slave.
type OneWireConfig struct {
	// host order, family code in the MSB
	ROM       uint64 `yaml:"rom" json:"rom"`
	// data GPIO
	Pin       uint8  `yaml:"pin" json:"pin"`
	// 0..2
	CmdBytes  uint8  `yaml:"cmd_bytes" json:"cmd_bytes"`
	// 0..8
	AddrBytes uint8  `yaml:"addr_bytes" json:"addr_bytes"`
	CRCCheck  bool   `yaml:"crc_check" json:"crc_check"`
}

// I2CConfig describes one I2C target.
type I2CConfig struct {
	// 7 or 10 bit
	Addr            uint16 `yaml:"addr" json:"addr"`
	TenBit          bool   `yaml:"ten_bit" json:"ten_bit"`
	SCL             uint8  `yaml:"scl" json:"scl"`
	SDA             uint8  `yaml:"sda" json:"sda"`
	// 0..2
	CmdBytes        uint8  `yaml:"cmd_bytes" json:"cmd_bytes"`
	// 0..8
	AddrBytes       uint8  `yaml:"addr_bytes" json:"addr_bytes"`
	DisableAckCheck bool   `yaml:"disable_ack_check" json:"disable_ack_check"`
	SpeedHz         uint32 `yaml:"speed_hz" json:"speed_hz"`
	// 1..15
	TimeoutMS       uint8  `yaml:"timeout_ms" json:"timeout_ms"`
}

// SPIFlag values are OR-ed into SPIConfig.Flags and passed to the driver.
// RP2 blocks reject SPI3Wire and mirror received bytes in software when the
// receive bit order differs from the transmit order.
type SPIFlag uint32

const (
	SPITxLSBFirst SPIFlag = 1 << iota
	SPIRxLSBFirst
	SPI3Wire
	SPIPositiveCS
	SPIFullDuplex // default is half duplex
)

// SPIConfig describes one SPI device (one chip select).
type SPIConfig struct {
	MOSI         uint8   `yaml:"mosi" json:"mosi"`
	MISO         uint8   `yaml:"miso" json:"miso"`
	SCLK         uint8   `yaml:"sclk" json:"sclk"`
	CS           uint8   `yaml:"cs" json:"cs"`
	// after command/address phase
	DummyBits    uint8   `yaml:"dummy_bits" json:"dummy_bits"`
	// 0..16
	CmdBits      uint8   `yaml:"cmd_bits" json:"cmd_bits"`
	// 0..64
	AddrBits     uint8   `yaml:"addr_bits" json:"addr_bits"`
	// 0..3
	Mode         uint8   `yaml:"mode" json:"mode"`
	// CS setup cycles 0..16
	PreTrans     uint8   `yaml:"pretrans" json:"pretrans"`
	// CS hold cycles 0..16
	PostTrans    uint8   `yaml:"posttrans" json:"posttrans"`
	InputDelayNS uint8   `yaml:"input_delay_ns" json:"input_delay_ns"`
	ClockHz      uint32  `yaml:"clock_hz" json:"clock_hz"`
	Flags        SPIFlag `yaml:"flags" json:"flags"`
}

// OneWire builds a tagged 1-Wire configuration.
func OneWire(c OneWireConfig) DeviceConfig { return DeviceConfig{Bus: BusOneWire, OneWire: &c} }

// I2C builds a tagged I2C configuration.
func I2C(c I2CConfig) DeviceConfig { return DeviceConfig{Bus: BusI2C, I2C: &c} }

// SPI builds a tagged SPI configuration.
func SPI(c SPIConfig) DeviceConfig { return DeviceConfig{Bus: BusSPI, SPI: &c} }

// ---- Transactions ----

// Transaction is one device operation. Cmd and Reg are sent MSB first using the
// device's configured command and address widths. len(W) bytes are written and
// len(R) bytes are read into R.
type Transaction struct {
	Cmd uint16
	Reg uint64
	W   []byte
	R   []byte
}
