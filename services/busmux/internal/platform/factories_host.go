// services/busmux/internal/platform/factories_host.go
//go:build !rp2040 && !rp2350

package platform

import (
	"sync"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
)

// Default builds an inert host platform. Tests and the busctl plan checker
// use it; nothing here touches hardware.
func Default() Platform {
	return Platform{
		OneWire: NewHostOneWire(),
		I2C:     NewHostI2C(2),
		SPI:     NewHostSPI(3),
		MAC:     core.FixedMAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		Pins:    40,
	}
}

// Frame is one recorded transfer.
type Frame struct {
	W  []byte
	RN int
}

// ----------------------------- 1-Wire (host) ---------------------------------

const hostOneWireChannels = 4

// HostOneWire emulates a channel-limited 1-Wire peripheral. ROM codes added
// with AddROM answer searches on their pin.
type HostOneWire struct {
	mu     sync.Mutex
	chans  [hostOneWireChannels]bool
	buses  map[uint8]*HostOneWireBus
	roms   map[uint8][]uint64
	Opened int
	Closed int

	// Failure injection and replies.
	OpenErr  error
	ResetErr error
	TxErr    error
	Respond  func(pin uint8, w, r []byte)
}

func NewHostOneWire() *HostOneWire {
	return &HostOneWire{buses: map[uint8]*HostOneWireBus{}, roms: map[uint8][]uint64{}}
}

func (f *HostOneWire) AddROM(pin uint8, rom uint64) {
	f.mu.Lock()
	f.roms[pin] = append(f.roms[pin], rom)
	f.mu.Unlock()
}

// Bus returns the live bus on pin, or nil.
func (f *HostOneWire) Bus(pin uint8) *HostOneWireBus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buses[pin]
}

// Live is the number of open buses.
func (f *HostOneWire) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buses)
}

func (f *HostOneWire) Open(pin uint8) (core.OneWireBus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	if _, dup := f.buses[pin]; dup {
		return nil, errcode.InvalidState
	}
	for i := range f.chans {
		if !f.chans[i] {
			f.chans[i] = true
			b := &HostOneWireBus{f: f, pin: pin, tx: uint8(i), rx: uint8(i + hostOneWireChannels)}
			f.buses[pin] = b
			f.Opened++
			return b, nil
		}
	}
	return nil, errcode.NoMemory
}

type HostOneWireBus struct {
	f      *HostOneWire
	pin    uint8
	tx, rx uint8
	mu     sync.Mutex
	log    []Frame
	resets int
}

func (b *HostOneWireBus) Channels() (uint8, uint8) { return b.tx, b.rx }

func (b *HostOneWireBus) Reset() error {
	b.mu.Lock()
	b.resets++
	b.mu.Unlock()
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	return b.f.ResetErr
}

func (b *HostOneWireBus) Tx(w, r []byte) error {
	b.f.mu.Lock()
	err, respond := b.f.TxErr, b.f.Respond
	b.f.mu.Unlock()
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.log = append(b.log, Frame{W: append([]byte(nil), w...), RN: len(r)})
	b.mu.Unlock()
	if respond != nil {
		respond(b.pin, w, r)
	}
	return nil
}

func (b *HostOneWireBus) Search(max int) ([]uint64, error) {
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	if b.f.ResetErr != nil {
		return nil, b.f.ResetErr
	}
	roms := b.f.roms[b.pin]
	if len(roms) > max {
		roms = roms[:max]
	}
	return append([]uint64(nil), roms...), nil
}

func (b *HostOneWireBus) Close() error {
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	b.f.chans[b.tx] = false
	delete(b.f.buses, b.pin)
	b.f.Closed++
	return nil
}

// Frames returns a copy of the recorded transfers.
func (b *HostOneWireBus) Frames() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Frame(nil), b.log...)
}

func (b *HostOneWireBus) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// ----------------------------- I²C (host) ------------------------------------

// Target is a simulated I2C device. tinygo.org/x/drivers/tester mock devices
// satisfy it.
type Target interface {
	Tx(w, r []byte) error
}

type pinPair struct{ sda, scl uint8 }

// HostI2C emulates a port-limited I2C master peripheral.
type HostI2C struct {
	mu      sync.Mutex
	ports   []bool
	buses   map[pinPair]*HostI2CBus
	targets map[pinPair]map[uint16]Target
	Opened  int
	Closed  int

	OpenErr error
	AddErr  error
	TxErr   error
}

func NewHostI2C(ports int) *HostI2C {
	return &HostI2C{
		ports:   make([]bool, ports),
		buses:   map[pinPair]*HostI2CBus{},
		targets: map[pinPair]map[uint16]Target{},
	}
}

// AddTarget places a simulated device on the wire formed by sda/scl.
func (f *HostI2C) AddTarget(sda, scl uint8, addr uint16, t Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := pinPair{sda, scl}
	if f.targets[k] == nil {
		f.targets[k] = map[uint16]Target{}
	}
	f.targets[k][addr] = t
}

func (f *HostI2C) Bus(sda, scl uint8) *HostI2CBus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buses[pinPair{sda, scl}]
}

func (f *HostI2C) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buses)
}

func (f *HostI2C) Open(sda, scl uint8) (core.I2CBus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	k := pinPair{sda, scl}
	if _, dup := f.buses[k]; dup {
		return nil, errcode.InvalidState
	}
	for i := range f.ports {
		if !f.ports[i] {
			f.ports[i] = true
			b := &HostI2CBus{f: f, key: k, port: uint8(i), devs: map[*HostI2CDevice]bool{}}
			f.buses[k] = b
			f.Opened++
			return b, nil
		}
	}
	return nil, errcode.NotFound
}

func (f *HostI2C) target(k pinPair, addr uint16) Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets[k][addr]
}

type HostI2CBus struct {
	f    *HostI2C
	key  pinPair
	port uint8
	mu   sync.Mutex
	devs map[*HostI2CDevice]bool
	log  []Frame
}

func (b *HostI2CBus) Port() uint8 { return b.port }

func (b *HostI2CBus) AddDevice(cfg core.I2CDeviceConfig) (core.I2CDevice, error) {
	b.f.mu.Lock()
	err := b.f.AddErr
	b.f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	d := &HostI2CDevice{bus: b, cfg: cfg}
	b.mu.Lock()
	b.devs[d] = true
	b.mu.Unlock()
	return d, nil
}

func (b *HostI2CBus) Probe(addr uint16, _ int) error {
	if b.f.target(b.key, addr) == nil {
		return errcode.NotFound
	}
	return nil
}

// Close mirrors master-bus deletion: it refuses while devices remain.
func (b *HostI2CBus) Close() error {
	b.mu.Lock()
	n := len(b.devs)
	b.mu.Unlock()
	if n != 0 {
		return errcode.InvalidState
	}
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	b.f.ports[b.port] = false
	delete(b.f.buses, b.key)
	b.f.Closed++
	return nil
}

func (b *HostI2CBus) Devices() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.devs)
}

func (b *HostI2CBus) Frames() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Frame(nil), b.log...)
}

type HostI2CDevice struct {
	bus *HostI2CBus
	cfg core.I2CDeviceConfig
}

func (d *HostI2CDevice) Tx(w, r []byte, _ int) error {
	d.bus.f.mu.Lock()
	err := d.bus.f.TxErr
	d.bus.f.mu.Unlock()
	if err != nil {
		return err
	}
	d.bus.mu.Lock()
	d.bus.log = append(d.bus.log, Frame{W: append([]byte(nil), w...), RN: len(r)})
	d.bus.mu.Unlock()
	t := d.bus.f.target(d.bus.key, d.cfg.Addr)
	if t == nil {
		if d.cfg.DisableAckCheck {
			return nil
		}
		return errcode.New(errcode.Error, "i2c", "nack")
	}
	return t.Tx(w, r)
}

func (d *HostI2CDevice) Close() error {
	d.bus.mu.Lock()
	delete(d.bus.devs, d)
	d.bus.mu.Unlock()
	return nil
}

// ----------------------------- SPI (host) ------------------------------------

// HostSPI emulates a host-limited SPI master with DMA buffer accounting.
type HostSPI struct {
	mu       sync.Mutex
	hosts    int
	buses    map[uint8]*HostSPIBus
	dmaLive  int
	Opened   int
	Closed   int
	Sent     []core.SPITransaction
	OpenErr  error
	AddErr   error
	TxErr    error
	AllocErr error
	Respond  func(cs uint8, t *core.SPITransaction)
}

func NewHostSPI(hosts int) *HostSPI {
	return &HostSPI{hosts: hosts, buses: map[uint8]*HostSPIBus{}}
}

func (f *HostSPI) HostCount() int { return f.hosts }

func (f *HostSPI) Open(host uint8, cfg core.SPIBusConfig) (core.SPIBus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	if int(host) >= f.hosts || host == 0 {
		return nil, errcode.InvalidArgument
	}
	if _, busy := f.buses[host]; busy {
		return nil, errcode.InvalidState
	}
	b := &HostSPIBus{f: f, host: host, cfg: cfg, devs: map[*HostSPIDevice]bool{}}
	f.buses[host] = b
	f.Opened++
	return b, nil
}

func (f *HostSPI) AllocDMA(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AllocErr != nil {
		return nil, f.AllocErr
	}
	f.dmaLive++
	return make([]byte, (n+3)&^3)[:n], nil
}

func (f *HostSPI) FreeDMA([]byte) {
	f.mu.Lock()
	f.dmaLive--
	f.mu.Unlock()
}

// DMALive is the number of DMA buffers not yet freed.
func (f *HostSPI) DMALive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dmaLive
}

func (f *HostSPI) Bus(host uint8) *HostSPIBus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buses[host]
}

func (f *HostSPI) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buses)
}

// Transactions returns a copy of every transmitted descriptor.
func (f *HostSPI) Transactions() []core.SPITransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.SPITransaction(nil), f.Sent...)
}

type HostSPIBus struct {
	f    *HostSPI
	host uint8
	cfg  core.SPIBusConfig
	mu   sync.Mutex
	devs map[*HostSPIDevice]bool
}

func (b *HostSPIBus) Config() core.SPIBusConfig { return b.cfg }

func (b *HostSPIBus) AddDevice(cfg core.SPIDeviceConfig) (core.SPIDevice, error) {
	b.f.mu.Lock()
	err := b.f.AddErr
	b.f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	d := &HostSPIDevice{bus: b, cfg: cfg}
	b.mu.Lock()
	b.devs[d] = true
	b.mu.Unlock()
	return d, nil
}

// Close mirrors bus release: it refuses while devices remain.
func (b *HostSPIBus) Close() error {
	b.mu.Lock()
	n := len(b.devs)
	b.mu.Unlock()
	if n != 0 {
		return errcode.InvalidState
	}
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	delete(b.f.buses, b.host)
	b.f.Closed++
	return nil
}

func (b *HostSPIBus) Devices() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.devs)
}

type HostSPIDevice struct {
	bus *HostSPIBus
	cfg core.SPIDeviceConfig
}

func (d *HostSPIDevice) Config() core.SPIDeviceConfig { return d.cfg }

func (d *HostSPIDevice) Transmit(t *core.SPITransaction) error {
	f := d.bus.f
	f.mu.Lock()
	err, respond := f.TxErr, f.Respond
	if err == nil {
		c := *t
		c.Tx = append([]byte(nil), t.Tx...)
		f.Sent = append(f.Sent, c)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if respond != nil {
		respond(d.cfg.CS, t)
	}
	return nil
}

func (d *HostSPIDevice) Close() error {
	d.bus.mu.Lock()
	delete(d.bus.devs, d)
	d.bus.mu.Unlock()
	return nil
}
