// Package spi shares SPI hosts between chip-select devices.
//
// Hosts come from a fixed slot table (host 0 is reserved for flash). A device
// whose MOSI/MISO/SCLK match a busy slot joins that host and reserves only its
// CS pin; otherwise it claims a free slot and reserves all four pins. The host
// is released when its last device detaches.
package spi

import (
	"sync"
	"sync/atomic"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
	"busmux-go/types"
	"busmux-go/x/conv"
)

const (
	owner       = "spi"
	anyHost     = 0xF
	pinBits     = 0x1FFFFF // mosi | miso | sclk
	maxTransfer = 128
	inlineMax   = 4
)

// slot is one hardware host. pins holds the bus pin bits while busy.
type slot struct {
	mu   sync.Mutex // serialises transfers and teardown on this host
	host uint8
	free bool
	pins uint32
	drv  core.SPIBus
}

type device struct {
	id       uint32
	slot     *slot
	drv      core.SPIDevice
	dma      core.SPIFactory
	pins     uint64 // mosi | miso | sclk | cs
	cs       uint64
	reserved int // command + address bytes sent ahead of the data phase
	stats    core.Counters
	detached atomic.Bool
}

type Controller struct {
	mu    sync.Mutex
	f     core.SPIFactory
	pins  core.PinReserver
	slots []*slot
	devs  map[uint32]*device
	order []uint32 // newest first
}

func New(f core.SPIFactory, pins core.PinReserver) *Controller {
	c := &Controller{f: f, pins: pins, devs: make(map[uint32]*device)}
	for h := 1; h < f.HostCount(); h++ {
		c.slots = append(c.slots, &slot{host: uint8(h), free: true})
	}
	return c
}

func (c *Controller) Bus() types.BusType { return types.BusSPI }

// ---- Identity ----

// identity packs mosi(7) | miso(7) | sclk(7) | cs(7) | host(4).
func identity(sc *types.SPIConfig, host uint8) uint32 {
	return uint32(sc.MOSI&0x7F) | uint32(sc.MISO&0x7F)<<7 | uint32(sc.SCLK&0x7F)<<14 |
		uint32(sc.CS&0x7F)<<21 | uint32(host&0xF)<<28
}

func idMOSI(id uint32) uint64 { return uint64(id & 0x7F) }
func idMISO(id uint32) uint64 { return uint64(id>>7) & 0x7F }
func idSCLK(id uint32) uint64 { return uint64(id>>14) & 0x7F }
func idCS(id uint32) uint64   { return uint64(id>>21) & 0x7F }
func idHost(id uint32) uint64 { return uint64(id>>28) & 0xF }
func busMask(sc *types.SPIConfig) uint64 {
	return core.PinBit(sc.MOSI) | core.PinBit(sc.MISO) | core.PinBit(sc.SCLK) | core.PinBit(sc.CS)
}

func variant(op string, cfg types.DeviceConfig) (*types.SPIConfig, error) {
	if cfg.Bus != types.BusSPI || cfg.SPI == nil {
		return nil, errcode.New(errcode.InvalidArgument, op, "not an spi configuration")
	}
	return cfg.SPI, nil
}

func validate(sc *types.SPIConfig) error {
	for _, p := range []uint8{sc.MOSI, sc.MISO, sc.SCLK, sc.CS} {
		if core.PinBit(p) == 0 {
			return errcode.New(errcode.InvalidArgument, "attach", "pin out of range")
		}
	}
	switch {
	case sc.CS == sc.MOSI || sc.CS == sc.MISO || sc.CS == sc.SCLK:
		return errcode.New(errcode.InvalidArgument, "attach", "cs shares a bus pin")
	case sc.CmdBits > 16 || sc.AddrBits > 64:
		return errcode.New(errcode.InvalidArgument, "attach", "prefix too wide")
	case sc.Mode > 3:
		return errcode.New(errcode.InvalidArgument, "attach", "bad mode")
	}
	return nil
}

// busySlot returns the busy host whose bus pins match id, ignoring CS and host.
func (c *Controller) busySlot(id uint32) *slot {
	for _, s := range c.slots {
		if !s.free && (id^s.pins)&pinBits == 0 {
			return s
		}
	}
	return nil
}

func (c *Controller) freeSlot() *slot {
	for _, s := range c.slots {
		if s.free {
			return s
		}
	}
	return nil
}

// release returns s to the pool, keeping only its host number.
func (s *slot) release() {
	s.free = true
	s.pins = 0
	s.drv = nil
}

func (c *Controller) Attach(cfg types.DeviceConfig) (*core.Handle, error) {
	sc, err := variant("attach", cfg)
	if err != nil {
		return nil, err
	}
	if err := validate(sc); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := identity(sc, anyHost)
	s := c.busySlot(id)
	if s != nil {
		id = identity(sc, s.host)
		if _, dup := c.devs[id]; dup {
			return nil, errcode.New(errcode.NotSupported, "attach", "duplicate device")
		}
	}

	fresh := s == nil
	csMask := core.PinBit(sc.CS)
	if fresh {
		if s = c.freeSlot(); s == nil {
			return nil, errcode.New(errcode.InvalidState, "attach", "no free spi host")
		}
		if !c.pins.Reserve(busMask(sc), owner) {
			return nil, errcode.New(errcode.NotAllowed, "attach", "pins in use")
		}
		drv, err := c.f.Open(s.host, core.SPIBusConfig{
			MOSI:        sc.MOSI,
			MISO:        sc.MISO,
			SCLK:        sc.SCLK,
			MaxTransfer: maxTransfer,
		})
		if err != nil {
			c.pins.Release(busMask(sc))
			code := errcode.Of(err)
			if code == errcode.InvalidState {
				code = errcode.NotFound
			}
			return nil, errcode.Wrap(code, "attach", err)
		}
		s.free, s.drv = false, drv
		s.pins = id & pinBits
		id = identity(sc, s.host)
	} else if !c.pins.Reserve(csMask, owner) {
		return nil, errcode.New(errcode.NotAllowed, "attach", "cs pin in use")
	}

	drv, err := s.drv.AddDevice(core.SPIDeviceConfig{
		CS:           sc.CS,
		Mode:         sc.Mode,
		CmdBits:      sc.CmdBits,
		AddrBits:     sc.AddrBits,
		DummyBits:    sc.DummyBits,
		PreTrans:     sc.PreTrans,
		PostTrans:    sc.PostTrans,
		InputDelayNS: sc.InputDelayNS,
		ClockHz:      sc.ClockHz,
		Flags:        uint32(sc.Flags),
	})
	if err != nil {
		if fresh {
			_ = s.drv.Close()
			s.release()
			c.pins.Release(busMask(sc))
		} else {
			c.pins.Release(csMask)
		}
		return nil, errcode.Wrap(errcode.Of(err), "attach", err)
	}

	d := &device{
		id:       id,
		slot:     s,
		drv:      drv,
		dma:      c.f,
		pins:     busMask(sc),
		cs:       csMask,
		reserved: (int(sc.CmdBits) + int(sc.AddrBits)) >> 3,
	}
	c.devs[id] = d
	c.order = append([]uint32{id}, c.order...)
	return &core.Handle{Bus: types.BusSPI, ID: id, Device: d}, nil
}

func (c *Controller) Detach(h *core.Handle) error {
	if h == nil || h.Device == nil || h.Bus != types.BusSPI {
		return errcode.New(errcode.InvalidArgument, "detach", "not an spi handle")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devs[h.ID]
	if !ok || core.Device(d) != h.Device {
		return errcode.New(errcode.NotFound, "detach", "device not attached")
	}
	s := d.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := d.drv.Close(); err != nil {
		return errcode.Wrap(errcode.Error, "detach", err)
	}
	delete(c.devs, h.ID)
	c.order = removeID(c.order, h.ID)
	d.detached.Store(true)

	for _, o := range c.devs {
		if o.slot == s {
			c.pins.Release(d.cs)
			return nil
		}
	}
	err := s.drv.Close()
	s.release()
	c.pins.Release(d.pins)
	if err != nil {
		return errcode.Wrap(errcode.Error, "detach", err)
	}
	return nil
}

// Scan is not meaningful on point-to-point SPI.
func (c *Controller) Scan(cfg types.DeviceConfig, _ int) ([]uint64, error) {
	if _, err := variant("scan", cfg); err != nil {
		return nil, err
	}
	return nil, errcode.New(errcode.Unsupported, "scan", "spi has no discovery")
}

func (c *Controller) Probe(cfg types.DeviceConfig) error {
	if _, err := variant("probe", cfg); err != nil {
		return err
	}
	return errcode.New(errcode.Unsupported, "probe", "spi has no presence check")
}

func (c *Controller) Devices() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.order...)
}

// Hosts reports the host number of every busy slot.
func (c *Controller) Hosts() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint8
	for _, s := range c.slots {
		if !s.free {
			out = append(out, s.host)
		}
	}
	return out
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

func (d *device) Read(tx *types.Transaction) error      { return d.transfer("read", tx) }
func (d *device) Write(tx *types.Transaction) error     { return d.transfer("write", tx) }
func (d *device) WriteRead(tx *types.Transaction) error { return d.transfer("wr", tx) }

// transfer issues one half-duplex transaction: command and address phases
// from their descriptor fields, then len(w) bytes out, then len(r) bytes in.
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
	if err := core.CheckFrame(op, d.reserved, len(w), len(r)); err != nil {
		return err
	}

	t := core.SPITransaction{
		Cmd:      tx.Cmd,
		Addr:     tx.Reg,
		Length:   len(w) * 8,
		RxLength: len(r) * 8,
	}
	if len(w) == 0 {
		t.Length = t.RxLength
	}
	if len(r) > 0 {
		t.Rx = r
	}
	switch {
	case len(w) == 0:
	case len(w) <= inlineMax:
		t.UseTxData = true
		copy(t.TxData[:], w)
	default:
		buf, err := d.dma.AllocDMA(len(w))
		if err != nil {
			return errcode.Wrap(errcode.NoMemory, op, err)
		}
		defer d.dma.FreeDMA(buf)
		copy(buf, w)
		t.Tx = buf
	}

	d.slot.mu.Lock()
	defer d.slot.mu.Unlock()
	if d.detached.Load() {
		return errcode.New(errcode.NotFound, op, "device detached")
	}
	if err := d.drv.Transmit(&t); err != nil {
		return d.stats.Fail(op, err)
	}
	d.stats.Done(d.reserved+len(w), len(r))
	return nil
}

// Reset is a no-op: SPI has no bus reset primitive.
func (d *device) Reset() error {
	if d.detached.Load() {
		return errcode.New(errcode.NotFound, "reset", "device detached")
	}
	return nil
}

// Describe writes "ID 11218203 on SPI01 with CS IO09, MOSI IO03, MISO IO04, SCLK IO06"
// or, short, "CS09 @ spi/p01cl06do03di04".
func (d *device) Describe(buf []byte, long bool) (int, error) {
	if d.detached.Load() {
		return 0, errcode.New(errcode.NotFound, "desc", "device detached")
	}
	id := d.id
	return core.Describe(buf, func(b []byte) []byte {
		if long {
			b = append(b, "ID "...)
			b = conv.AppendHex(b, uint64(id), 8)
			b = append(b, " on SPI"...)
			b = conv.AppendUint(b, idHost(id), 2)
			b = append(b, " with CS IO"...)
			b = conv.AppendUint(b, idCS(id), 2)
			b = append(b, ", MOSI IO"...)
			b = conv.AppendUint(b, idMOSI(id), 2)
			b = append(b, ", MISO IO"...)
			b = conv.AppendUint(b, idMISO(id), 2)
			b = append(b, ", SCLK IO"...)
			return conv.AppendUint(b, idSCLK(id), 2)
		}
		b = append(b, "CS"...)
		b = conv.AppendUint(b, idCS(id), 2)
		b = append(b, " @ spi/p"...)
		b = conv.AppendUint(b, idHost(id), 2)
		b = append(b, "cl"...)
		b = conv.AppendUint(b, idSCLK(id), 2)
		b = append(b, "do"...)
		b = conv.AppendUint(b, idMOSI(id), 2)
		b = append(b, "di"...)
		return conv.AppendUint(b, idMISO(id), 2)
	})
}

func (d *device) StatsString(buf []byte) (int, error) {
	if d.detached.Load() {
		return 0, errcode.New(errcode.NotFound, "stats", "device detached")
	}
	return core.FormatStats(buf, d.stats.Snapshot())
}

func (d *device) Stats() core.Stats { return d.stats.Snapshot() }
