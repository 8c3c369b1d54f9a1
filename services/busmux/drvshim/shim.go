// Package drvshim lets tinygo.org/x/drivers device drivers run over a busmux
// handle. The handle must be attached with no command or address prefix;
// drivers frame their own register bytes.
package drvshim

import (
	"tinygo.org/x/drivers"

	"busmux-go/errcode"
	"busmux-go/services/busmux"
	"busmux-go/types"
)

var (
	_ drivers.I2C = I2C{}
	_ drivers.SPI = SPI{}
)

// I2C adapts an I2C handle to the drivers.I2C Tx shape. The handle is bound
// to one target, so Tx rejects any other address.
type I2C struct {
	h    *busmux.Handle
	addr uint16
}

func NewI2C(h *busmux.Handle, addr uint16) I2C {
	return I2C{h: h, addr: addr}
}

func (s I2C) Tx(addr uint16, w, r []byte) error {
	if s.h == nil {
		return errcode.New(errcode.InvalidArgument, "i2c shim", "nil handle")
	}
	if addr != s.addr {
		return errcode.New(errcode.NotFound, "i2c shim", "address not bound to handle")
	}
	return tx(s.h, w, r)
}

// SPI adapts an SPI handle to drivers.SPI. Transfers are half duplex: w is
// clocked out first, then len(r) bytes are clocked in.
type SPI struct {
	h *busmux.Handle
}

func NewSPI(h *busmux.Handle) SPI { return SPI{h: h} }

func (s SPI) Tx(w, r []byte) error {
	if s.h == nil {
		return errcode.New(errcode.InvalidArgument, "spi shim", "nil handle")
	}
	return tx(s.h, w, r)
}

// Transfer writes b and returns the byte clocked in after it.
func (s SPI) Transfer(b byte) (byte, error) {
	var in [1]byte
	if err := s.Tx([]byte{b}, in[:]); err != nil {
		return 0, err
	}
	return in[0], nil
}

func tx(h *busmux.Handle, w, r []byte) error {
	t := &types.Transaction{W: w, R: r}
	switch {
	case len(w) > 0 && len(r) > 0:
		return h.WriteRead(t)
	case len(w) > 0:
		return h.Write(t)
	case len(r) > 0:
		return h.Read(t)
	}
	return errcode.New(errcode.InvalidArgument, "shim", "empty transfer")
}
