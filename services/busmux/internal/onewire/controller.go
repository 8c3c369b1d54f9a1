// Package onewire shares 1-Wire data pins between ROM-addressed devices.
package onewire

import (
	"sync"
	"sync/atomic"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
	"busmux-go/types"
	"busmux-go/x/conv"
	"busmux-go/x/mathx"
)

const (
	matchROM  = 0x55
	// opcode + 8 ROM bytes
	selectLen = 9
	owner     = "1wire"
	maxSearch = 64
)

// bus is one initialised data pin. Reset, select and transfer run under mu
// so two devices on the same pin never interleave.
type bus struct {
	mu  sync.Mutex
	drv core.OneWireBus
	pin uint8
}

type device struct {
	id        uint32
	bus       *bus
	rom       uint64
	cmdBytes  int
	addrBytes int
	crc       bool
	stats     core.Counters
	detached  atomic.Bool
}

// Controller is the 1-Wire protocol controller.
type Controller struct {
	mu    sync.Mutex
	f     core.OneWireFactory
	pins  core.PinReserver
	mac   [6]byte
	devs  map[uint32]*device
	order []uint32 // newest first
}

func New(f core.OneWireFactory, pins core.PinReserver, mac core.MACSource) *Controller {
	return &Controller{f: f, pins: pins, mac: mac.MAC(), devs: make(map[uint32]*device)}
}

func (c *Controller) Bus() types.BusType { return types.BusOneWire }

// Identity packs discriminator(16) | pin(7) | tx channel(4) | rx channel(4).
func identity(disc uint16, pin, tx, rx uint8) uint32 {
	return uint32(disc) | uint32(pin&0x7F)<<16 | uint32(tx&0x0F)<<23 | uint32(rx&0x0F)<<27
}

func variant(op string, cfg types.DeviceConfig) (*types.OneWireConfig, error) {
	if cfg.Bus != types.BusOneWire || cfg.OneWire == nil {
		return nil, errcode.New(errcode.InvalidArgument, op, "not a 1-wire configuration")
	}
	oc := cfg.OneWire
	if core.PinBit(oc.Pin) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, op, "pin out of range")
	}
	return oc, nil
}

// busFor returns the live bus on pin by looking for a device that uses it.
func (c *Controller) busFor(pin uint8) *bus {
	for _, d := range c.devs {
		if d.bus.pin == pin {
			return d.bus
		}
	}
	return nil
}

// open reserves pin and creates a bus on it; the caller holds c.mu.
func (c *Controller) open(op string, pin uint8) (*bus, error) {
	if !c.pins.Reserve(core.PinBit(pin), owner) {
		return nil, errcode.New(errcode.NotAllowed, op, "pin in use")
	}
	drv, err := c.f.Open(pin)
	if err != nil {
		c.pins.Release(core.PinBit(pin))
		return nil, errcode.Wrap(errcode.Of(err), op, err)
	}
	return &bus{drv: drv, pin: pin}, nil
}

func (c *Controller) close(b *bus) error {
	b.mu.Lock()
	err := b.drv.Close()
	b.mu.Unlock()
	c.pins.Release(core.PinBit(b.pin))
	return err
}

func (c *Controller) Attach(cfg types.DeviceConfig) (*core.Handle, error) {
	oc, err := variant("attach", cfg)
	if err != nil {
		return nil, err
	}
	if oc.CmdBytes > 2 || oc.AddrBytes > 8 {
		return nil, errcode.New(errcode.InvalidArgument, "attach", "prefix too wide")
	}
	if oc.CRCCheck && !core.ROMValid(oc.ROM) {
		return nil, errcode.New(errcode.InvalidArgument, "attach", "rom crc mismatch")
	}
	disc := core.Discriminator(c.mac, oc.ROM)

	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.busFor(oc.Pin)
	fresh := b == nil
	if fresh {
		if b, err = c.open("attach", oc.Pin); err != nil {
			return nil, err
		}
	}
	tx, rx := b.drv.Channels()
	id := identity(disc, oc.Pin, tx, rx)
	if _, dup := c.devs[id]; dup {
		if fresh {
			_ = c.close(b)
		}
		return nil, errcode.New(errcode.NotSupported, "attach", "duplicate device")
	}

	d := &device{
		id:        id,
		bus:       b,
		rom:       oc.ROM,
		cmdBytes:  int(oc.CmdBytes),
		addrBytes: int(oc.AddrBytes),
		crc:       oc.CRCCheck,
	}
	c.devs[id] = d
	c.order = append([]uint32{id}, c.order...)
	return &core.Handle{Bus: types.BusOneWire, ID: id, Device: d}, nil
}

func (c *Controller) Detach(h *core.Handle) error {
	if h == nil || h.Device == nil || h.Bus != types.BusOneWire {
		return errcode.New(errcode.InvalidArgument, "detach", "not a 1-wire handle")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devs[h.ID]
	if !ok || core.Device(d) != h.Device {
		return errcode.New(errcode.NotFound, "detach", "device not attached")
	}
	delete(c.devs, h.ID)
	c.order = removeID(c.order, h.ID)
	d.detached.Store(true)
	if c.busFor(d.bus.pin) != nil {
		return nil
	}
	if err := c.close(d.bus); err != nil {
		return errcode.Wrap(errcode.Error, "detach", err)
	}
	return nil
}

// withBus runs fn on the live bus for pin, or on a temporary one that is torn
// down before returning.
func (c *Controller) withBus(op string, pin uint8, fn func(b *bus) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.busFor(pin); b != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		return fn(b)
	}
	b, err := c.open(op, pin)
	if err != nil {
		return err
	}
	err = fn(b)
	_ = c.close(b)
	return err
}

// Scan searches the pin for ROM codes, independent of attached devices.
// With crc_check set, codes that fail their CRC are dropped.
func (c *Controller) Scan(cfg types.DeviceConfig, capacity int) ([]uint64, error) {
	oc, err := variant("scan", cfg)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		return nil, errcode.New(errcode.InvalidArgument, "scan", "zero capacity")
	}
	out := make([]uint64, 0, mathx.Min(capacity, maxSearch))
	err = c.withBus("scan", oc.Pin, func(b *bus) error {
		roms, err := b.drv.Search(maxSearch)
		if err != nil {
			return errcode.Wrap(errcode.MapDriverErr(err), "scan", err)
		}
		for _, r := range roms {
			if len(out) == capacity {
				break
			}
			if oc.CRCCheck && !core.ROMValid(r) {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Probe reports whether the configured ROM code answers a search.
func (c *Controller) Probe(cfg types.DeviceConfig) error {
	oc, err := variant("probe", cfg)
	if err != nil {
		return err
	}
	return c.withBus("probe", oc.Pin, func(b *bus) error {
		roms, err := b.drv.Search(maxSearch)
		if err != nil {
			return errcode.Wrap(errcode.MapDriverErr(err), "probe", err)
		}
		for _, r := range roms {
			if r == oc.ROM {
				return nil
			}
		}
		return errcode.New(errcode.NotFound, "probe", "rom not present")
	})
}

func (c *Controller) Devices() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.order...)
}

func removeID(ids []uint32, id uint32) []uint32 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// ---- Device capability ----

func (d *device) Read(tx *types.Transaction) error {
	return d.transfer("read", tx)
}

func (d *device) Write(tx *types.Transaction) error {
	return d.transfer("write", tx)
}

func (d *device) WriteRead(tx *types.Transaction) error {
	return d.transfer("wr", tx)
}

// transfer frames [MATCH ROM][rom][cmd][addr][w], then reads len(r) bytes.
func (d *device) transfer(op string, tx *types.Transaction) error {
	if tx == nil {
		return errcode.New(errcode.InvalidArgument, op, "nil transaction")
	}
	var w, r []byte
	if op != "read" {
		w = tx.W
	}
	if op != "write" {
		r = tx.R
	}
	if err := core.CheckLengths(op, len(w), len(r)); err != nil {
		return err
	}
	hdr := selectLen + d.cmdBytes + d.addrBytes
	if err := core.CheckFrame(op, hdr, len(w), len(r)); err != nil {
		return err
	}

	var frame [core.MaxFrame]byte
	frame[0] = matchROM
	core.PutROM(frame[1:selectLen], d.rom)
	n := selectLen + core.PutPrefix(frame[selectLen:], tx.Cmd, d.cmdBytes, tx.Reg, d.addrBytes)
	n += copy(frame[n:], w)

	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	if d.detached.Load() {
		return errcode.New(errcode.NotFound, op, "device detached")
	}
	if err := d.bus.drv.Reset(); err != nil {
		return d.stats.Fail(op, errcode.Wrap(errcode.Timeout, "reset", err))
	}
	if err := d.bus.drv.Tx(frame[:n], r); err != nil {
		return d.stats.Fail(op, err)
	}
	d.stats.Done(n, len(r))
	if d.crc && len(r) > 0 && core.CRC8(r[:len(r)-1]) != r[len(r)-1] {
		d.stats.CRCError()
		return errcode.New(errcode.CRC, op, "payload crc mismatch")
	}
	return nil
}

func (d *device) Reset() error {
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	if d.detached.Load() {
		return errcode.New(errcode.NotFound, "reset", "device detached")
	}
	if err := d.bus.drv.Reset(); err != nil {
		return d.stats.Fail("reset", errcode.Wrap(errcode.Timeout, "reset", err))
	}
	return nil
}

// Describe writes "ID 200423BE on 1-Wire TX00/RX04 with ROM 28FF8CA7741604DB on IO04"
// or, short, "28FF8CA7741604DB @ ow/p04".
func (d *device) Describe(buf []byte, long bool) (int, error) {
	if d.detached.Load() {
		return 0, errcode.New(errcode.NotFound, "desc", "device detached")
	}
	pin := uint64(d.id>>16) & 0x7F
	return core.Describe(buf, func(b []byte) []byte {
		if !long {
			b = conv.AppendHex(b, d.rom, 16)
			b = append(b, " @ ow/p"...)
			return conv.AppendUint(b, pin, 2)
		}
		b = append(b, "ID "...)
		b = conv.AppendHex(b, uint64(d.id), 8)
		b = append(b, " on 1-Wire TX"...)
		b = conv.AppendUint(b, uint64(d.id>>23)&0x0F, 2)
		b = append(b, "/RX"...)
		b = conv.AppendUint(b, uint64(d.id>>27)&0x0F, 2)
		b = append(b, " with ROM "...)
		b = conv.AppendHex(b, d.rom, 16)
		b = append(b, " on IO"...)
		return conv.AppendUint(b, pin, 2)
	})
}

func (d *device) StatsString(buf []byte) (int, error) {
	if d.detached.Load() {
		return 0, errcode.New(errcode.NotFound, "stats", "device detached")
	}
	return core.FormatStats(buf, d.stats.Snapshot())
}

func (d *device) Stats() core.Stats { return d.stats.Snapshot() }
