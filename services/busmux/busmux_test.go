package busmux

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
	"busmux-go/services/busmux/internal/platform"
	"busmux-go/types"
)

const romA = 0x28FF8CA7741604DB

type hostRig struct {
	ow  *platform.HostOneWire
	i2c *platform.HostI2C
	spi *platform.HostSPI
}

func newRouter(t *testing.T, opts ...Option) (*Router, hostRig) {
	t.Helper()
	rig := hostRig{
		ow:  platform.NewHostOneWire(),
		i2c: platform.NewHostI2C(2),
		spi: platform.NewHostSPI(3),
	}
	r := New(Platform{
		OneWire: rig.ow,
		I2C:     rig.i2c,
		SPI:     rig.spi,
		MAC:     core.FixedMAC{0x24, 0x6F, 0x28, 0x12, 0x34, 0x56},
		Pins:    40,
	}, opts...)
	return r, rig
}

type echo struct{}

func (echo) Tx(w, r []byte) error {
	for i := range r {
		r[i] = byte(i + 1)
	}
	return nil
}

func TestDispatchByTag(t *testing.T) {
	r, rig := newRouter(t)
	rig.i2c.AddTarget(4, 5, 0x48, echo{})

	ow, err := r.Attach(types.OneWire(types.OneWireConfig{ROM: romA, Pin: 2, CmdBytes: 1}))
	require.NoError(t, err)
	ic, err := r.Attach(types.I2C(types.I2CConfig{Addr: 0x48, SDA: 4, SCL: 5, AddrBytes: 1}))
	require.NoError(t, err)
	sp, err := r.Attach(types.SPI(types.SPIConfig{MOSI: 10, MISO: 11, SCLK: 12, CS: 13, CmdBits: 8}))
	require.NoError(t, err)

	assert.Equal(t, types.BusOneWire, ow.Bus)
	assert.Equal(t, types.BusI2C, ic.Bus)
	assert.Equal(t, types.BusSPI, sp.Bus)
	assert.Equal(t, []uint32{ow.ID}, r.Devices(types.BusOneWire))
	assert.Equal(t, []uint32{ic.ID}, r.Devices(types.BusI2C))
	assert.Equal(t, []uint32{sp.ID}, r.Devices(types.BusSPI))

	pins := r.Pins()
	assert.Equal(t, uint64(1<<2), pins["1wire"])
	assert.Equal(t, uint64(1<<4|1<<5), pins["i2c"])
	assert.Equal(t, uint64(1<<10|1<<11|1<<12|1<<13), pins["spi"])

	require.NoError(t, r.Detach(ow))
	require.NoError(t, r.Detach(ic))
	require.NoError(t, r.Detach(sp))
	assert.Empty(t, r.Pins())
	assert.Zero(t, rig.ow.Live())
	assert.Zero(t, rig.i2c.Live())
	assert.Zero(t, rig.spi.Live())
}

func TestUnknownBus(t *testing.T) {
	r := New(Platform{I2C: platform.NewHostI2C(1), Pins: 40})

	_, err := r.Attach(types.OneWire(types.OneWireConfig{ROM: romA, Pin: 2}))
	assert.ErrorIs(t, err, errcode.BusUnsupported)

	_, err = r.Scan(types.SPI(types.SPIConfig{MOSI: 1, MISO: 2, SCLK: 3, CS: 4}), 4)
	assert.ErrorIs(t, err, errcode.BusUnsupported)

	err = r.Probe(types.DeviceConfig{Bus: types.BusType(7)})
	assert.ErrorIs(t, err, errcode.BusUnsupported)

	err = r.Detach(&Handle{Bus: types.BusSPI, ID: 1})
	assert.ErrorIs(t, err, errcode.BusUnsupported)

	assert.Nil(t, r.Devices(types.BusOneWire))
}

func TestDetachNil(t *testing.T) {
	r, _ := newRouter(t)
	assert.ErrorIs(t, r.Detach(nil), errcode.InvalidArgument)
}

// stub answers every call with a fixed outcome.
type stub struct {
	bus   types.BusType
	calls int
}

func (s *stub) Bus() types.BusType { return s.bus }
func (s *stub) Attach(types.DeviceConfig) (*core.Handle, error) {
	s.calls++
	return &core.Handle{Bus: s.bus, ID: 99}, nil
}
func (s *stub) Detach(*core.Handle) error { s.calls++; return nil }
func (s *stub) Scan(types.DeviceConfig, int) ([]uint64, error) {
	s.calls++
	return []uint64{1, 2}, nil
}
func (s *stub) Probe(types.DeviceConfig) error { s.calls++; return nil }
func (s *stub) Devices() []uint32             { return []uint32{99} }

func TestRegisterReplaces(t *testing.T) {
	r, _ := newRouter(t)
	s := &stub{bus: types.BusSPI}
	r.Register(s)

	h, err := r.Attach(types.SPI(types.SPIConfig{}))
	require.NoError(t, err)
	assert.Equal(t, uint32(99), h.ID)
	found, err := r.Scan(types.SPI(types.SPIConfig{}), 8)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, found)
	require.NoError(t, r.Probe(types.SPI(types.SPIConfig{})))
	require.NoError(t, r.Detach(h))
	assert.Equal(t, 4, s.calls)
	assert.Equal(t, []uint32{99}, r.Devices(types.BusSPI))
}

func TestPinsExclusiveAcrossBuses(t *testing.T) {
	r, rig := newRouter(t)

	ic, err := r.Attach(types.I2C(types.I2CConfig{Addr: 0x48, SDA: 4, SCL: 5}))
	require.NoError(t, err)

	_, err = r.Attach(types.OneWire(types.OneWireConfig{ROM: romA, Pin: 4}))
	assert.ErrorIs(t, err, errcode.NotAllowed)
	assert.Zero(t, rig.ow.Live())

	_, err = r.Attach(types.SPI(types.SPIConfig{MOSI: 5, MISO: 11, SCLK: 12, CS: 13}))
	assert.ErrorIs(t, err, errcode.NotAllowed)
	assert.Zero(t, rig.spi.Live())

	require.NoError(t, r.Detach(ic))
	ow, err := r.Attach(types.OneWire(types.OneWireConfig{ROM: romA, Pin: 4}))
	require.NoError(t, err)
	require.NoError(t, r.Detach(ow))
}

func TestEndToEndTransfer(t *testing.T) {
	r, rig := newRouter(t)
	rig.i2c.AddTarget(4, 5, 0x48, echo{})

	h, err := r.Attach(types.I2C(types.I2CConfig{Addr: 0x48, SDA: 4, SCL: 5, CmdBytes: 1, AddrBytes: 2}))
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Detach(h)) }()

	rd := make([]byte, 3)
	require.NoError(t, h.WriteRead(&types.Transaction{Cmd: 0x0A, Reg: 0x0102, W: []byte{0xFF}, R: rd}))
	assert.Equal(t, []byte{1, 2, 3}, rd)

	frames := rig.i2c.Bus(4, 5).Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x0A, 0x01, 0x02, 0xFF}, frames[0].W)
	assert.Equal(t, 3, frames[0].RN)

	st := h.Stats()
	assert.Equal(t, uint32(4), st.Sent)
	assert.Equal(t, uint32(3), st.Received)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r, _ := newRouter(t, WithLogger(log))

	h, err := r.Attach(types.I2C(types.I2CConfig{Addr: 0x48, SDA: 4, SCL: 5}))
	require.NoError(t, err)
	_, err = r.Attach(types.I2C(types.I2CConfig{Addr: 0x48, SDA: 4, SCL: 5}))
	require.Error(t, err)
	require.NoError(t, r.Detach(h))
	require.Error(t, r.Probe(types.I2C(types.I2CConfig{Addr: 0x50, SDA: 4, SCL: 5})))

	out := buf.String()
	assert.Contains(t, out, "msg=attached handle="+h.String())
	assert.Contains(t, out, "code=not_supported")
	assert.Contains(t, out, `msg="probe failed" bus=i2c code=not_found`)
	assert.True(t, strings.Contains(out, "msg=detached"))
}

// Two devices per bus type share one I2C pin pair, one 1-Wire pin and one
// SPI host while their goroutines attach, transfer and detach in a loop.
func TestConcurrentSharedBuses(t *testing.T) {
	r, rig := newRouter(t)
	rig.i2c.AddTarget(4, 5, 0x48, echo{})
	rig.i2c.AddTarget(4, 5, 0x49, echo{})

	cfgs := []types.DeviceConfig{
		types.I2C(types.I2CConfig{Addr: 0x48, SDA: 4, SCL: 5, CmdBytes: 1}),
		types.I2C(types.I2CConfig{Addr: 0x49, SDA: 4, SCL: 5, AddrBytes: 1}),
		types.OneWire(types.OneWireConfig{ROM: romA, Pin: 2, CmdBytes: 1}),
		types.OneWire(types.OneWireConfig{ROM: 0x28AA11223344556A, Pin: 2, CmdBytes: 1}),
		types.SPI(types.SPIConfig{MOSI: 10, MISO: 11, SCLK: 12, CS: 13, CmdBits: 8}),
		types.SPI(types.SPIConfig{MOSI: 10, MISO: 11, SCLK: 12, CS: 14, AddrBits: 16}),
	}
	const cycles = 200

	errs := make(chan error, len(cfgs))
	var wg sync.WaitGroup
	for _, cfg := range cfgs {
		wg.Add(1)
		go func(cfg types.DeviceConfig) {
			defer wg.Done()
			var buf [64]byte
			for range cycles {
				h, err := r.Attach(cfg)
				if err != nil {
					errs <- err
					return
				}
				steps := []func() error{
					func() error { return h.Write(&types.Transaction{Cmd: 0x01, Reg: 0x02, W: []byte{0xAA, 0xBB}}) },
					func() error { return h.Read(&types.Transaction{Cmd: 0x03, R: make([]byte, 4)}) },
					func() error { _, err := h.StatsString(buf[:]); return err },
					func() error { _, err := h.Describe(buf[:], true); return err },
					func() error { return r.Detach(h) },
				}
				for _, step := range steps {
					if err := step(); err != nil {
						errs <- err
						return
					}
				}
			}
		}(cfg)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Empty(t, r.Pins())
	assert.Zero(t, rig.ow.Live())
	assert.Zero(t, rig.i2c.Live())
	assert.Zero(t, rig.spi.Live())
	assert.Zero(t, rig.spi.DMALive())
}
