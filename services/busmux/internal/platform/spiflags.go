package platform

import (
	"math/bits"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
	"busmux-go/types"
)

// spiFlags reads SPIDeviceConfig.Flags for blocks that have one bit order
// and separate MOSI/MISO lines.
type spiFlags uint32

func (f spiFlags) has(x types.SPIFlag) bool { return uint32(f)&uint32(x) != 0 }

// check rejects modes the block cannot clock.
func (f spiFlags) check() error {
	if f.has(types.SPI3Wire) {
		return errcode.New(errcode.Unsupported, "spi", "3-wire mode")
	}
	return nil
}

// mirrorRx reports whether received bytes need their bit order reversed
// because the hardware was set up for the transmit order.
func (f spiFlags) mirrorRx() bool {
	return f.has(types.SPIRxLSBFirst) != f.has(types.SPITxLSBFirst)
}

func (f spiFlags) duplex(w, r []byte) bool {
	return f.has(types.SPIFullDuplex) && len(w) > 0 && len(r) > 0
}

func mirror(b []byte) {
	for i, v := range b {
		b[i] = bits.Reverse8(v)
	}
}

// padDuplex lays w out for one full-duplex exchange of max(len(w), len(r))
// bytes and returns the write and read windows.
func padDuplex(wb, rb *[core.MaxFrame]byte, w, r []byte) ([]byte, []byte) {
	n := copy(wb[:], w)
	if len(r) > n {
		n = len(r)
	}
	return wb[:n], rb[:n]
}
