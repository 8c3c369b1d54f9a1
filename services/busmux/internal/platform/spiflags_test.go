package platform

import (
	"bytes"
	"testing"

	"busmux-go/errcode"
	"busmux-go/services/busmux/internal/core"
	"busmux-go/types"
)

func TestSPIFlagsCheck(t *testing.T) {
	if err := spiFlags(types.SPI3Wire | types.SPITxLSBFirst).check(); errcode.Of(err) != errcode.Unsupported {
		t.Fatalf("3-wire: %v", err)
	}
	if err := spiFlags(types.SPIFullDuplex | types.SPIPositiveCS).check(); err != nil {
		t.Fatalf("full duplex: %v", err)
	}
}

func TestSPIFlagsMirror(t *testing.T) {
	cases := []struct {
		f    types.SPIFlag
		want bool
	}{
		{0, false},
		{types.SPITxLSBFirst | types.SPIRxLSBFirst, false},
		{types.SPIRxLSBFirst, true},
		{types.SPITxLSBFirst, true},
	}
	for _, c := range cases {
		if got := spiFlags(c.f).mirrorRx(); got != c.want {
			t.Errorf("flags %#x: mirrorRx = %v", c.f, got)
		}
	}

	b := []byte{0x01, 0x80, 0xF0, 0xA5}
	mirror(b)
	if !bytes.Equal(b, []byte{0x80, 0x01, 0x0F, 0xA5}) {
		t.Fatalf("mirror = % X", b)
	}
}

func TestSPIDuplexWindows(t *testing.T) {
	fd := spiFlags(types.SPIFullDuplex)
	if fd.duplex([]byte{1}, nil) || spiFlags(0).duplex([]byte{1}, make([]byte, 1)) {
		t.Fatal("duplex needs the flag and both phases")
	}

	var wb, rb [core.MaxFrame]byte
	w, r := padDuplex(&wb, &rb, []byte{0xAA, 0xBB}, make([]byte, 4))
	if len(w) != 4 || len(r) != 4 || !bytes.Equal(w, []byte{0xAA, 0xBB, 0, 0}) {
		t.Fatalf("w = % X, r len %d", w, len(r))
	}
	w, r = padDuplex(&wb, &rb, []byte{1, 2, 3}, make([]byte, 1))
	if len(w) != 3 || len(r) != 3 {
		t.Fatalf("write-longer windows: %d/%d", len(w), len(r))
	}
}
