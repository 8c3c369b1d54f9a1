// services/busmux/internal/platform/factories_rp2xxx.go
//go:build rp2040 || rp2350

package platform

import (
	"encoding/binary"
	"machine"
	"sync"

	"tinygo.org/x/drivers/onewire"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
	"busmux-go/types"
	"busmux-go/x/mathx"
)

// Default wires the RP2 peripherals: bit-banged 1-Wire on any GPIO, the two
// I2C blocks and the two user SPI blocks. GP0..GP29 are handed out.
func Default() Platform {
	return Platform{
		OneWire: &rp2OneWire{},
		I2C:     &rp2I2C{},
		SPI:     &rp2SPI{},
		MAC:     rp2MAC{},
		Pins:    30,
	}
}

// Fast-mode plus is the RP2 ceiling; 0 keeps the bus rate.
const (
	minI2CHz = 10_000
	maxI2CHz = 1_000_000
)

// rp2MAC derives a stable 6-byte seed from the flash unique ID.
type rp2MAC struct{}

func (rp2MAC) MAC() [6]byte {
	var m [6]byte
	id := machine.DeviceID()
	if len(id) >= 6 {
		copy(m[:], id[len(id)-6:])
	}
	return m
}

// -----------------------------------------------------------------------------
// 1-Wire (bit-banged, one lane per data pin)
// -----------------------------------------------------------------------------

const rp2OneWireLanes = 4

type rp2OneWire struct {
	mu    sync.Mutex
	lanes [rp2OneWireLanes]bool
}

func (f *rp2OneWire) Open(pin uint8) (core.OneWireBus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.lanes {
		if !f.lanes[i] {
			f.lanes[i] = true
			return &rp2OneWireBus{f: f, lane: uint8(i), pin: machine.Pin(pin), dev: onewire.New(machine.Pin(pin))}, nil
		}
	}
	return nil, errcode.NoMemory
}

type rp2OneWireBus struct {
	f    *rp2OneWire
	lane uint8
	pin  machine.Pin
	dev  onewire.Device
}

// Channels reports the lane for both directions; the line is half duplex.
func (b *rp2OneWireBus) Channels() (uint8, uint8) { return b.lane, b.lane }

func (b *rp2OneWireBus) Reset() error { return b.dev.Reset() }

func (b *rp2OneWireBus) Tx(w, r []byte) error {
	for _, c := range w {
		b.dev.Write(c)
	}
	for i := range r {
		r[i] = b.dev.Read()
	}
	return nil
}

// Search converts wire-order ROM bytes to host order.
func (b *rp2OneWireBus) Search(max int) ([]uint64, error) {
	ids, err := b.dev.Search(onewire.SEARCH_ROM)
	if err != nil && len(ids) == 0 {
		return nil, err
	}
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if len(out) == max {
			break
		}
		if len(id) == 8 {
			out = append(out, binary.BigEndian.Uint64(id))
		}
	}
	return out, nil
}

func (b *rp2OneWireBus) Close() error {
	b.pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	b.f.mu.Lock()
	b.f.lanes[b.lane] = false
	b.f.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------
// I²C (one worker per block)
// -----------------------------------------------------------------------------

// i2cBlock maps a pin pair to its I2C block. SDA sits on even pins, SCL on
// odd pins, and the block alternates every two pins.
func i2cBlock(sda, scl uint8) (uint8, bool) {
	if sda%2 != 0 || scl%2 != 1 {
		return 0, false
	}
	blk := (sda >> 1) & 1
	return blk, (scl>>1)&1 == blk
}

type rp2I2C struct {
	mu     sync.Mutex
	owners [2]*i2cOwner
}

func (f *rp2I2C) Open(sda, scl uint8) (core.I2CBus, error) {
	blk, ok := i2cBlock(sda, scl)
	if !ok {
		return nil, errcode.New(errcode.InvalidArgument, "i2c", "pins not on one i2c block")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[blk] != nil {
		return nil, errcode.InvalidState
	}
	hw := machine.I2C0
	if blk == 1 {
		hw = machine.I2C1
	}
	if err := hw.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.Pin(sda),
		SCL:       machine.Pin(scl),
	}); err != nil {
		return nil, err
	}
	o := newI2COwner(hw, 400*machine.KHz)
	f.owners[blk] = o
	return &rp2I2CBus{f: f, blk: blk, o: o}, nil
}

type rp2I2CBus struct {
	f    *rp2I2C
	blk  uint8
	o    *i2cOwner
	mu   sync.Mutex
	devs int
}

func (b *rp2I2CBus) Port() uint8 { return b.blk }

// AddDevice binds a target. The RP2 port has no ack-check bypass, so
// DisableAckCheck is accepted and ignored.
func (b *rp2I2CBus) AddDevice(cfg core.I2CDeviceConfig) (core.I2CDevice, error) {
	if cfg.TenBit {
		return nil, errcode.New(errcode.NotSupported, "i2c", "10-bit addressing")
	}
	hz := cfg.SpeedHz
	if hz != 0 {
		hz = mathx.Clamp(hz, minI2CHz, maxI2CHz)
	}
	b.mu.Lock()
	b.devs++
	b.mu.Unlock()
	return &rp2I2CDevice{b: b, addr: cfg.Addr, hz: hz}, nil
}

func (b *rp2I2CBus) Probe(addr uint16, timeoutMS int) error {
	var one [1]byte
	if err := b.o.do(addr, 0, nil, one[:], timeoutMS); err != nil {
		if errcode.Of(err) == errcode.Timeout {
			return err
		}
		return errcode.NotFound
	}
	return nil
}

func (b *rp2I2CBus) Close() error {
	b.mu.Lock()
	n := b.devs
	b.mu.Unlock()
	if n != 0 {
		return errcode.InvalidState
	}
	b.o.stop()
	b.f.mu.Lock()
	b.f.owners[b.blk] = nil
	b.f.mu.Unlock()
	return nil
}

type rp2I2CDevice struct {
	b    *rp2I2CBus
	addr uint16
	hz   uint32
}

func (d *rp2I2CDevice) Tx(w, r []byte, timeoutMS int) error {
	return d.b.o.do(d.addr, d.hz, w, r, timeoutMS)
}

func (d *rp2I2CDevice) Close() error {
	d.b.mu.Lock()
	d.b.devs--
	d.b.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------
// SPI (two user blocks; host 0 stands for the flash QSPI)
// -----------------------------------------------------------------------------

// spiBlock maps bus pins to an SPI block: RX on 4n, SCK on 4n+2, TX on 4n+3,
// block alternating every eight pins.
func spiBlock(mosi, miso, sclk uint8) (uint8, bool) {
	if miso%4 != 0 || sclk%4 != 2 || mosi%4 != 3 {
		return 0, false
	}
	blk := (sclk >> 3) & 1
	return blk, (mosi>>3)&1 == blk && (miso>>3)&1 == blk
}

type rp2SPI struct {
	mu     sync.Mutex
	blocks [2]*rp2SPIBus
}

func (f *rp2SPI) HostCount() int { return 3 }

// Open claims the block the pins belong to. host is the caller's slot number;
// a block already serving another host reports InvalidState.
func (f *rp2SPI) Open(host uint8, cfg core.SPIBusConfig) (core.SPIBus, error) {
	blk, ok := spiBlock(cfg.MOSI, cfg.MISO, cfg.SCLK)
	if !ok || host == 0 {
		return nil, errcode.New(errcode.InvalidArgument, "spi", "pins not on one spi block")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocks[blk] != nil {
		return nil, errcode.InvalidState
	}
	hw := machine.SPI0
	if blk == 1 {
		hw = machine.SPI1
	}
	b := &rp2SPIBus{f: f, blk: blk, hw: hw, pins: cfg}
	if err := b.configure(machine.SPIConfig{Frequency: 1000000}); err != nil {
		return nil, err
	}
	f.blocks[blk] = b
	return b, nil
}

func (f *rp2SPI) AllocDMA(n int) ([]byte, error) { return make([]byte, (n+3)&^3)[:n], nil }
func (f *rp2SPI) FreeDMA([]byte)                 {}

type rp2SPIBus struct {
	f    *rp2SPI
	blk  uint8
	hw   *machine.SPI
	pins core.SPIBusConfig
	mu   sync.Mutex
	cur  machine.SPIConfig
	devs int
}

// configure applies per-device clock, mode and bit order; the pins are fixed.
func (b *rp2SPIBus) configure(c machine.SPIConfig) error {
	c.SCK = machine.Pin(b.pins.SCLK)
	c.SDO = machine.Pin(b.pins.MOSI)
	c.SDI = machine.Pin(b.pins.MISO)
	if c == b.cur {
		return nil
	}
	if err := b.hw.Configure(c); err != nil {
		return err
	}
	b.cur = c
	return nil
}

func (b *rp2SPIBus) AddDevice(cfg core.SPIDeviceConfig) (core.SPIDevice, error) {
	// The PL022 blocks have no bidirectional data line.
	if err := spiFlags(cfg.Flags).check(); err != nil {
		return nil, err
	}
	cs := machine.Pin(cfg.CS)
	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	d := &rp2SPIDevice{b: b, cs: cs, cfg: cfg}
	d.selectChip(false)
	b.mu.Lock()
	b.devs++
	b.mu.Unlock()
	return d, nil
}

func (b *rp2SPIBus) Close() error {
	b.mu.Lock()
	n := b.devs
	b.mu.Unlock()
	if n != 0 {
		return errcode.InvalidState
	}
	b.f.mu.Lock()
	b.f.blocks[b.blk] = nil
	b.f.mu.Unlock()
	return nil
}

type rp2SPIDevice struct {
	b   *rp2SPIBus
	cs  machine.Pin
	cfg core.SPIDeviceConfig
}

func (d *rp2SPIDevice) selectChip(on bool) {
	activeHigh := spiFlags(d.cfg.Flags).has(types.SPIPositiveCS)
	d.cs.Set(on == activeHigh)
}

// Transmit clocks command, address and dummy phases MSB first, then the write
// phase, then the read phase, all under one chip select. In full duplex the
// read phase is sampled while the write phase is clocked. The hardware bit
// order follows the transmit flag; received bytes are mirrored in software
// when the receive flag differs. CS setup and hold cycles are not honoured
// by this port.
func (d *rp2SPIDevice) Transmit(t *core.SPITransaction) error {
	b := d.b
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.configure(machine.SPIConfig{
		Frequency: d.cfg.ClockHz,
		Mode:      d.cfg.Mode,
		LSBFirst:  spiFlags(d.cfg.Flags).has(types.SPITxLSBFirst),
	})
	if err != nil {
		return err
	}

	var hdr [2 + 8 + 32]byte
	n := core.PutPrefix(hdr[:], t.Cmd, int(d.cfg.CmdBits)/8, t.Addr, int(d.cfg.AddrBits)/8)
	n += int(d.cfg.DummyBits) / 8

	var w []byte
	switch {
	case t.UseTxData:
		w = t.TxData[:t.Length/8]
	case t.Tx != nil:
		w = t.Tx
	}

	d.selectChip(true)
	defer d.selectChip(false)
	if n > 0 {
		if err := b.hw.Tx(hdr[:n], nil); err != nil {
			return err
		}
	}
	fl := spiFlags(d.cfg.Flags)
	rx := t.Rx[:t.RxLength/8]
	if fl.duplex(w, rx) {
		var wb, rb [core.MaxFrame]byte
		ww, rw := padDuplex(&wb, &rb, w, rx)
		if err = b.hw.Tx(ww, rw); err == nil {
			copy(rx, rw)
		}
	} else {
		if len(w) > 0 {
			err = b.hw.Tx(w, nil)
		}
		if err == nil && len(rx) > 0 {
			err = b.hw.Tx(nil, rx)
		}
	}
	if err != nil {
		return err
	}
	if fl.mirrorRx() {
		mirror(rx)
	}
	return nil
}

func (d *rp2SPIDevice) Close() error {
	d.cs.Configure(machine.PinConfig{Mode: machine.PinInput})
	d.b.mu.Lock()
	d.b.devs--
	d.b.mu.Unlock()
	return nil
}
