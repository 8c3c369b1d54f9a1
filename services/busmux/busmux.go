// services/busmux/busmux.go

// Package busmux routes bus operations to the 1-Wire, I2C and SPI
// controllers. The Router does no sharing itself; each controller decides
// when a device can join an existing bus and when a bus must be torn down.
package busmux

import (
	"io"
	"log/slog"
	"sync"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
	"busmux-go/services/busmux/internal/i2c"
	"busmux-go/services/busmux/internal/onewire"
	"busmux-go/services/busmux/internal/pins"
	"busmux-go/services/busmux/internal/platform"
	"busmux-go/services/busmux/internal/spi"
	"busmux-go/types"
)

// -----------------------------------------------------------------------------
// Public aliases
// -----------------------------------------------------------------------------

type (
	Handle     = core.Handle
	Stats      = core.Stats
	Controller = core.Controller
	Platform   = platform.Platform
	I2CFactory = core.I2CFactory
)

// DefaultPlatform returns the drivers for the build target: machine-backed on
// RP2, inert recording fakes elsewhere.
func DefaultPlatform() Platform { return platform.Default() }

// PinReport maps an owner tag ("1wire", "i2c", "spi") to its reserved GPIO mask.
type PinReport map[string]uint64

// -----------------------------------------------------------------------------
// Router
// -----------------------------------------------------------------------------

type Option func(*Router)

// WithLogger sets the logger for attach/detach/scan outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

type Router struct {
	mu    sync.RWMutex
	ctrls map[types.BusType]Controller
	pins  *pins.Registry
	log   *slog.Logger
}

// New builds a Router with one controller per factory present in p. All
// controllers share one pin registry, so a GPIO held by one bus type is
// refused to the others.
func New(p Platform, opts ...Option) *Router {
	r := &Router{
		ctrls: make(map[types.BusType]Controller, 3),
		pins:  pins.New(p.Pins),
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(r)
	}
	mac := p.MAC
	if mac == nil {
		mac = core.FixedMAC{}
	}
	if p.OneWire != nil {
		r.Register(onewire.New(p.OneWire, r.pins, mac))
	}
	if p.I2C != nil {
		r.Register(i2c.New(p.I2C, r.pins))
	}
	if p.SPI != nil {
		r.Register(spi.New(p.SPI, r.pins))
	}
	return r
}

// Register installs c for its bus type, replacing any previous controller.
func (r *Router) Register(c Controller) {
	r.mu.Lock()
	r.ctrls[c.Bus()] = c
	r.mu.Unlock()
}

func (r *Router) controller(op string, bus types.BusType) (Controller, error) {
	r.mu.RLock()
	c, ok := r.ctrls[bus]
	r.mu.RUnlock()
	if !ok {
		return nil, errcode.New(errcode.BusUnsupported, op, "no controller for "+bus.String())
	}
	return c, nil
}

func (r *Router) fail(op string, bus types.BusType, err error) error {
	r.log.Warn(op+" failed", "bus", bus.String(), "code", string(errcode.Of(err)), "err", err)
	return err
}

func (r *Router) Attach(cfg types.DeviceConfig) (*Handle, error) {
	c, err := r.controller("attach", cfg.Bus)
	if err != nil {
		return nil, r.fail("attach", cfg.Bus, err)
	}
	h, err := c.Attach(cfg)
	if err != nil {
		return nil, r.fail("attach", cfg.Bus, err)
	}
	r.log.Debug("attached", "handle", h.String())
	return h, nil
}

func (r *Router) Detach(h *Handle) error {
	if h == nil {
		return r.fail("detach", 0, errcode.New(errcode.InvalidArgument, "detach", "nil handle"))
	}
	c, err := r.controller("detach", h.Bus)
	if err != nil {
		return r.fail("detach", h.Bus, err)
	}
	if err := c.Detach(h); err != nil {
		return r.fail("detach", h.Bus, err)
	}
	r.log.Debug("detached", "handle", h.String())
	return nil
}

// Scan lists devices present on the bus described by cfg, up to capacity.
func (r *Router) Scan(cfg types.DeviceConfig, capacity int) ([]uint64, error) {
	c, err := r.controller("scan", cfg.Bus)
	if err != nil {
		return nil, r.fail("scan", cfg.Bus, err)
	}
	found, err := c.Scan(cfg, capacity)
	if err != nil {
		return found, r.fail("scan", cfg.Bus, err)
	}
	r.log.Debug("scanned", "bus", cfg.Bus.String(), "found", len(found))
	return found, nil
}

func (r *Router) Probe(cfg types.DeviceConfig) error {
	c, err := r.controller("probe", cfg.Bus)
	if err != nil {
		return r.fail("probe", cfg.Bus, err)
	}
	if err := c.Probe(cfg); err != nil {
		return r.fail("probe", cfg.Bus, err)
	}
	return nil
}

// Devices lists attached identities on bus, newest first.
func (r *Router) Devices(bus types.BusType) []uint32 {
	c, err := r.controller("devices", bus)
	if err != nil {
		return nil
	}
	return c.Devices()
}

func (r *Router) Pins() PinReport {
	return PinReport(r.pins.ByOwner())
}
