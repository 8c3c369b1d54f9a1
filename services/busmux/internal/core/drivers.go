package core

// Peripheral driver boundary. Controllers own the sharing policy; drivers
// own timing, DMA and the hardware instance. A driver reports a transfer
// deadline with errcode.Timeout (possibly wrapped); any other error counts
// as "other".

// ---- 1-Wire ----

type OneWireFactory interface {
	// Open creates a bus on the data pin. The pin is already reserved.
	Open(pin uint8) (OneWireBus, error)
}

type OneWireBus interface {
	// Channels reports the transmit/receive channel pair bound to the pin.
	Channels() (tx, rx uint8)
	// Reset issues a reset pulse and fails when no presence pulse is seen.
	Reset() error
	// Tx writes w, then reads len(r) bytes.
	Tx(w, r []byte) error
	// Search returns up to max ROM codes in host order.
	Search(max int) ([]uint64, error)
	Close() error
}

// ---- I2C ----

type I2CFactory interface {
	// Open creates a master bus on the pin pair and assigns it a port.
	Open(sda, scl uint8) (I2CBus, error)
}

type I2CDeviceConfig struct {
	Addr            uint16
	TenBit          bool
	SpeedHz         uint32
	DisableAckCheck bool
}

type I2CBus interface {
	Port() uint8
	AddDevice(cfg I2CDeviceConfig) (I2CDevice, error)
	// Probe checks for an acknowledge at addr.
	Probe(addr uint16, timeoutMS int) error
	Close() error
}

type I2CDevice interface {
	// Tx transmits w (if any) then receives len(r) bytes (if any) as one
	// bus transaction with a repeated start.
	Tx(w, r []byte, timeoutMS int) error
	Close() error
}

// ---- SPI ----

type SPIBusConfig struct {
	MOSI, MISO, SCLK uint8
	MaxTransfer      int
}

type SPIDeviceConfig struct {
	CS           uint8
	Mode         uint8
	CmdBits      uint8
	AddrBits     uint8
	DummyBits    uint8
	PreTrans     uint8
	PostTrans    uint8
	InputDelayNS uint8
	ClockHz      uint32
	Flags        uint32
}

// SPITransaction mirrors a host transaction descriptor. Command and address
// travel in their own fields. Writes of up to four bytes are inlined in
// TxData with UseTxData set; longer writes use Tx.
type SPITransaction struct {
	Cmd       uint16
	Addr      uint64
	TxData    [4]byte
	UseTxData bool
	Tx        []byte
	Rx        []byte
	Length    int // write phase bits, or RxLength for a pure read
	RxLength  int // read phase bits
}

type SPIFactory interface {
	// HostCount is the number of hardware hosts; host 0 is reserved.
	HostCount() int
	Open(host uint8, cfg SPIBusConfig) (SPIBus, error)
	// AllocDMA returns a 4-byte aligned, DMA-capable buffer of n bytes.
	AllocDMA(n int) ([]byte, error)
	FreeDMA(buf []byte)
}

type SPIBus interface {
	AddDevice(cfg SPIDeviceConfig) (SPIDevice, error)
	Close() error
}

type SPIDevice interface {
	Transmit(t *SPITransaction) error
	Close() error
}
