// Package i2c shares I2C master buses between addressed targets. A bus is
// identified by its SDA/SCL pair; targets on the same pair share one port.
package i2c

import (
	"sync"
	"sync/atomic"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
	"busmux-go/types"
	"busmux-go/x/conv"
)

const (
	owner            = "i2c"
	defaultTimeoutMS = 10
	maxTimeoutMS     = 15

	// General-call and reserved ranges are skipped by Scan.
	scanFirst = 0x08
	scanLast  = 0x77
)

type bus struct {
	mu       sync.Mutex
	drv      core.I2CBus
	sda, scl uint8
}

func (b *bus) mask() uint64 { return core.PinBit(b.sda) | core.PinBit(b.scl) }

type device struct {
	id        uint32
	addr      uint16
	bus       *bus
	drv       core.I2CDevice
	cmdBytes  int
	addrBytes int
	timeoutMS int
	stats     core.Counters
	detached  atomic.Bool
}

type Controller struct {
	mu    sync.Mutex
	f     core.I2CFactory
	pins  core.PinReserver
	devs  map[uint32]*device
	order []uint32 // newest first
}

func New(f core.I2CFactory, pins core.PinReserver) *Controller {
	return &Controller{f: f, pins: pins, devs: make(map[uint32]*device)}
}

func (c *Controller) Bus() types.BusType { return types.BusI2C }

// identity packs addr(10) | port(2) | sda(7) | scl(7).
func identity(addr uint16, port, sda, scl uint8) uint32 {
	return uint32(addr&0x3FF) | uint32(port&0x3)<<10 | uint32(sda&0x7F)<<12 | uint32(scl&0x7F)<<19
}

func variant(op string, cfg types.DeviceConfig) (*types.I2CConfig, error) {
	if cfg.Bus != types.BusI2C || cfg.I2C == nil {
		return nil, errcode.New(errcode.InvalidArgument, op, "not an i2c configuration")
	}
	ic := cfg.I2C
	if ic.SDA == ic.SCL || core.PinBit(ic.SDA) == 0 || core.PinBit(ic.SCL) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, op, "bad sda/scl pins")
	}
	return ic, nil
}

func timeoutOf(ic *types.I2CConfig) int {
	if ic.TimeoutMS == 0 {
		return defaultTimeoutMS
	}
	return int(ic.TimeoutMS)
}

func (c *Controller) busFor(sda, scl uint8) *bus {
	for _, d := range c.devs {
		if d.bus.sda == sda && d.bus.scl == scl {
			return d.bus
		}
	}
	return nil
}

func (c *Controller) open(op string, sda, scl uint8) (*bus, error) {
	b := &bus{sda: sda, scl: scl}
	if !c.pins.Reserve(b.mask(), owner) {
		return nil, errcode.New(errcode.NotAllowed, op, "pins in use")
	}
	drv, err := c.f.Open(sda, scl)
	if err != nil {
		c.pins.Release(b.mask())
		return nil, errcode.Wrap(errcode.Of(err), op, err)
	}
	b.drv = drv
	return b, nil
}

func (c *Controller) close(b *bus) error {
	b.mu.Lock()
	err := b.drv.Close()
	b.mu.Unlock()
	c.pins.Release(b.mask())
	return err
}

func (c *Controller) Attach(cfg types.DeviceConfig) (*core.Handle, error) {
	ic, err := variant("attach", cfg)
	if err != nil {
		return nil, err
	}
	switch {
	case ic.CmdBytes > 2 || ic.AddrBytes > 8:
		return nil, errcode.New(errcode.InvalidArgument, "attach", "prefix too wide")
	case !ic.TenBit && ic.Addr > 0x7F, ic.Addr > 0x3FF:
		return nil, errcode.New(errcode.InvalidArgument, "attach", "address out of range")
	case ic.TimeoutMS > maxTimeoutMS:
		return nil, errcode.New(errcode.InvalidArgument, "attach", "timeout out of range")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.busFor(ic.SDA, ic.SCL)
	fresh := b == nil
	if fresh {
		if b, err = c.open("attach", ic.SDA, ic.SCL); err != nil {
			return nil, err
		}
	}
	// Undo a bus this call created.
	rollback := func() {
		if fresh {
			_ = c.close(b)
		}
	}

	id := identity(ic.Addr, b.drv.Port(), ic.SDA, ic.SCL)
	if _, dup := c.devs[id]; dup {
		rollback()
		return nil, errcode.New(errcode.NotSupported, "attach", "duplicate device")
	}
	drv, err := b.drv.AddDevice(core.I2CDeviceConfig{
		Addr:            ic.Addr,
		TenBit:          ic.TenBit,
		SpeedHz:         ic.SpeedHz,
		DisableAckCheck: ic.DisableAckCheck,
	})
	if err != nil {
		rollback()
		return nil, errcode.Wrap(errcode.Of(err), "attach", err)
	}

	d := &device{
		id:        id,
		addr:      ic.Addr,
		bus:       b,
		drv:       drv,
		cmdBytes:  int(ic.CmdBytes),
		addrBytes: int(ic.AddrBytes),
		timeoutMS: timeoutOf(ic),
	}
	c.devs[id] = d
	c.order = append([]uint32{id}, c.order...)
	return &core.Handle{Bus: types.BusI2C, ID: id, Device: d}, nil
}

func (c *Controller) Detach(h *core.Handle) error {
	if h == nil || h.Device == nil || h.Bus != types.BusI2C {
		return errcode.New(errcode.InvalidArgument, "detach", "not an i2c handle")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devs[h.ID]
	if !ok || core.Device(d) != h.Device {
		return errcode.New(errcode.NotFound, "detach", "device not attached")
	}

	// A transfer waiting on the bus sees detached once it gets the lock.
	d.bus.mu.Lock()
	err := d.drv.Close()
	if err == nil {
		d.detached.Store(true)
	}
	d.bus.mu.Unlock()
	if err != nil {
		return errcode.Wrap(errcode.Error, "detach", err)
	}
	delete(c.devs, h.ID)
	c.order = removeID(c.order, h.ID)

	if c.busFor(d.bus.sda, d.bus.scl) != nil {
		return nil
	}
	if err := c.close(d.bus); err != nil {
		return errcode.Wrap(errcode.Error, "detach", err)
	}
	return nil
}

func (c *Controller) withBus(op string, ic *types.I2CConfig, fn func(b *bus) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.busFor(ic.SDA, ic.SCL); b != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		return fn(b)
	}
	b, err := c.open(op, ic.SDA, ic.SCL)
	if err != nil {
		return err
	}
	err = fn(b)
	_ = c.close(b)
	return err
}

// Scan probes every unreserved 7-bit address on the pin pair and returns
// those that acknowledge, up to capacity.
func (c *Controller) Scan(cfg types.DeviceConfig, capacity int) ([]uint64, error) {
	ic, err := variant("scan", cfg)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		return nil, errcode.New(errcode.InvalidArgument, "scan", "zero capacity")
	}
	var out []uint64
	err = c.withBus("scan", ic, func(b *bus) error {
		for a := uint16(scanFirst); a <= scanLast && len(out) < capacity; a++ {
			if b.drv.Probe(a, timeoutOf(ic)) == nil {
				out = append(out, uint64(a))
			}
		}
		return nil
	})
	return out, err
}

func (c *Controller) Probe(cfg types.DeviceConfig) error {
	ic, err := variant("probe", cfg)
	if err != nil {
		return err
	}
	return c.withBus("probe", ic, func(b *bus) error {
		err := b.drv.Probe(ic.Addr, timeoutOf(ic))
		if err == nil {
			return nil
		}
		code := errcode.Of(err)
		if code != errcode.NotFound {
			code = errcode.MapDriverErr(err)
		}
		return errcode.Wrap(code, "probe", err)
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

func (d *device) Read(tx *types.Transaction) error      { return d.transfer("read", tx) }
func (d *device) Write(tx *types.Transaction) error     { return d.transfer("write", tx) }
func (d *device) WriteRead(tx *types.Transaction) error { return d.transfer("wr", tx) }

// transfer sends [cmd][addr][w] and receives len(r) bytes as one bus
// transaction. A read with no prefix is a bare receive.
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
	if err := core.CheckFrame(op, d.cmdBytes+d.addrBytes, len(w), len(r)); err != nil {
		return err
	}

	var frame [core.MaxFrame]byte
	n := core.PutPrefix(frame[:], tx.Cmd, d.cmdBytes, tx.Reg, d.addrBytes)
	n += copy(frame[n:], w)
	var out []byte
	if n > 0 {
		out = frame[:n]
	}

	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	if d.detached.Load() {
		return errcode.New(errcode.NotFound, op, "device detached")
	}
	if err := d.drv.Tx(out, r, d.timeoutMS); err != nil {
		return d.stats.Fail(op, err)
	}
	d.stats.Done(n, len(r))
	return nil
}

// Reset is a no-op: I2C has no bus-level reset primitive here.
func (d *device) Reset() error {
	if d.detached.Load() {
		return errcode.New(errcode.NotFound, "reset", "device detached")
	}
	return nil
}

// Describe writes "ID 00284048 on I2C00 addr 0x048 with SDA IO04, SCL IO05"
// or, short, "0x048 @ i2c/p00da04cl05".
func (d *device) Describe(buf []byte, long bool) (int, error) {
	if d.detached.Load() {
		return 0, errcode.New(errcode.NotFound, "desc", "device detached")
	}
	port := uint64(d.id>>10) & 0x3
	return core.Describe(buf, func(b []byte) []byte {
		if long {
			b = append(b, "ID "...)
			b = conv.AppendHex(b, uint64(d.id), 8)
			b = append(b, " on I2C"...)
			b = conv.AppendUint(b, port, 2)
			b = append(b, " addr 0x"...)
			b = conv.AppendHex(b, uint64(d.addr), 3)
			b = append(b, " with SDA IO"...)
			b = conv.AppendUint(b, uint64(d.bus.sda), 2)
			b = append(b, ", SCL IO"...)
			return conv.AppendUint(b, uint64(d.bus.scl), 2)
		}
		b = append(b, "0x"...)
		b = conv.AppendHex(b, uint64(d.addr), 3)
		b = append(b, " @ i2c/p"...)
		b = conv.AppendUint(b, port, 2)
		b = append(b, "da"...)
		b = conv.AppendUint(b, uint64(d.bus.sda), 2)
		b = append(b, "cl"...)
		return conv.AppendUint(b, uint64(d.bus.scl), 2)
	})
}

func (d *device) StatsString(buf []byte) (int, error) {
	if d.detached.Load() {
		return 0, errcode.New(errcode.NotFound, "stats", "device detached")
	}
	return core.FormatStats(buf, d.stats.Snapshot())
}

func (d *device) Stats() core.Stats { return d.stats.Snapshot() }
