//go:build linux

package periphbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
)

// fakeBus answers at present addresses and fills reads with 0x5A.
type fakeBus struct {
	i2c.BusCloser
	name    string
	present map[uint16]bool
	speed   physic.Frequency
	writes  [][]byte
	closed  bool
}

func (b *fakeBus) String() string { return b.name }

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	if !b.present[addr] {
		return errors.New("i2c: nack")
	}
	b.writes = append(b.writes, append([]byte(nil), w...))
	for i := range r {
		r[i] = 0x5A
	}
	return nil
}

func (b *fakeBus) SetSpeed(f physic.Frequency) error { b.speed = f; return nil }
func (b *fakeBus) Close() error                      { b.closed = true; return nil }

func newFake(t *testing.T) (*I2C, map[string]*fakeBus) {
	t.Helper()
	buses := map[string]*fakeBus{}
	open := func(name string) (i2c.BusCloser, error) {
		if name == "missing" {
			return nil, errors.New("no such adapter")
		}
		b := &fakeBus{name: name, present: map[uint16]bool{0x48: true}}
		buses[name] = b
		return b, nil
	}
	f := newI2C(open, []Adapter{
		{SDA: 2, SCL: 3, Name: "/dev/i2c-1"},
		{SDA: 12, SCL: 13, Name: "/dev/i2c-3"},
		{SDA: 20, SCL: 21, Name: "missing"},
	})
	return f, buses
}

func TestOpenByPinPair(t *testing.T) {
	f, buses := newFake(t)

	b, err := f.Open(12, 13)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), b.Port())
	require.Contains(t, buses, "/dev/i2c-3")

	_, err = f.Open(12, 13)
	assert.ErrorIs(t, err, errcode.InvalidState)

	require.NoError(t, b.Close())
	assert.True(t, buses["/dev/i2c-3"].closed)

	b, err = f.Open(12, 13)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestOpenErrors(t *testing.T) {
	f, _ := newFake(t)

	_, err := f.Open(4, 5)
	assert.ErrorIs(t, err, errcode.InvalidArgument)

	_, err = f.Open(20, 21)
	assert.ErrorIs(t, err, errcode.NotFound)

	// A failed open leaves the adapter free.
	assert.False(t, f.inUse[2])
}

func TestDeviceTx(t *testing.T) {
	f, buses := newFake(t)
	b, err := f.Open(2, 3)
	require.NoError(t, err)
	defer b.Close()

	d, err := b.AddDevice(core.I2CDeviceConfig{Addr: 0x48, SpeedHz: 5_000_000})
	require.NoError(t, err)
	assert.Equal(t, physic.Frequency(maxHz)*physic.Hertz, buses["/dev/i2c-1"].speed)

	r := make([]byte, 2)
	require.NoError(t, d.Tx([]byte{0x01}, r, 10))
	assert.Equal(t, []byte{0x5A, 0x5A}, r)
	assert.Equal(t, [][]byte{{0x01}}, buses["/dev/i2c-1"].writes)

	gone, err := b.AddDevice(core.I2CDeviceConfig{Addr: 0x50})
	require.NoError(t, err)
	assert.ErrorIs(t, gone.Tx([]byte{0x00}, nil, 10), errcode.Error)
}

func TestTenBitUnsupported(t *testing.T) {
	f, _ := newFake(t)
	b, err := f.Open(2, 3)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.AddDevice(core.I2CDeviceConfig{Addr: 0x123, TenBit: true})
	assert.ErrorIs(t, err, errcode.Unsupported)
}

func TestProbe(t *testing.T) {
	f, _ := newFake(t)
	b, err := f.Open(2, 3)
	require.NoError(t, err)
	defer b.Close()

	assert.NoError(t, b.Probe(0x48, 10))
	assert.ErrorIs(t, b.Probe(0x49, 10), errcode.NotFound)
}
