//go:build linux

// Package periphbus backs the I2C controller with Linux i2c-dev adapters
// through periph. Each adapter is bound to the SDA/SCL pair a board plan
// uses for it, so plans written for the RP2 pinout run unchanged on a
// Linux host wired the same way.
package periphbus

import (
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
	"busmux-go/x/mathx"
)

// Adapter names the i2c-dev bus ("/dev/i2c-1", "1", "I2C1") wired to a pin pair.
type Adapter struct {
	SDA, SCL uint8
	Name     string
}

const (
	minHz = 10_000
	maxHz = 1_000_000
)

type opener func(name string) (i2c.BusCloser, error)

// I2C implements the controller's I2C factory. Ports follow adapter order.
type I2C struct {
	mu       sync.Mutex
	adapters []Adapter
	inUse    []bool
	open     opener
}

// NewI2C initialises the periph host drivers and returns a factory over
// adapters.
func NewI2C(adapters ...Adapter) (*I2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap(errcode.InvalidState, "periph", err)
	}
	return newI2C(i2creg.Open, adapters), nil
}

func newI2C(open opener, adapters []Adapter) *I2C {
	return &I2C{
		adapters: append([]Adapter(nil), adapters...),
		inUse:    make([]bool, len(adapters)),
		open:     open,
	}
}

func (f *I2C) Open(sda, scl uint8) (core.I2CBus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.adapters {
		if a.SDA != sda || a.SCL != scl {
			continue
		}
		if f.inUse[i] {
			return nil, errcode.InvalidState
		}
		bc, err := f.open(a.Name)
		if err != nil {
			return nil, errcode.Wrap(errcode.NotFound, "i2c", err)
		}
		f.inUse[i] = true
		return &bus{f: f, idx: i, bc: bc}, nil
	}
	return nil, errcode.New(errcode.InvalidArgument, "i2c", "no adapter on this pin pair")
}

type bus struct {
	f   *I2C
	idx int
	bc  i2c.BusCloser
}

func (b *bus) Port() uint8 { return uint8(b.idx) }

// AddDevice applies a non-zero speed to the whole adapter; i2c-dev has one
// clock per bus.
func (b *bus) AddDevice(cfg core.I2CDeviceConfig) (core.I2CDevice, error) {
	if cfg.TenBit {
		return nil, errcode.New(errcode.Unsupported, "i2c", "ten-bit addressing")
	}
	if cfg.SpeedHz != 0 {
		hz := mathx.Clamp(cfg.SpeedHz, minHz, maxHz)
		if err := b.bc.SetSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
			return nil, errcode.Wrap(errcode.Error, "i2c", err)
		}
	}
	return &device{dev: &i2c.Dev{Bus: b.bc, Addr: cfg.Addr}}, nil
}

// Probe reads one byte; the kernel reports a missing ACK as an error.
func (b *bus) Probe(addr uint16, _ int) error {
	var one [1]byte
	if err := b.bc.Tx(addr, nil, one[:]); err != nil {
		return errcode.Wrap(errcode.NotFound, "probe", err)
	}
	return nil
}

func (b *bus) Close() error {
	err := b.bc.Close()
	b.f.mu.Lock()
	b.f.inUse[b.idx] = false
	b.f.mu.Unlock()
	return err
}

type device struct {
	dev *i2c.Dev
}

// Tx ignores timeoutMS; i2c-dev applies the adapter's own timeout.
func (d *device) Tx(w, r []byte, _ int) error {
	if err := d.dev.Tx(w, r); err != nil {
		return errcode.Wrap(errcode.MapDriverErr(err), "i2c", err)
	}
	return nil
}

func (d *device) Close() error { return nil }
