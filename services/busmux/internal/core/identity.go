package core

import (
	"encoding/binary"
	"math/bits"
)

// SwapROM reverses the byte order of a ROM code. Configuration values keep
// the family code in the most significant byte; the wire sends it first.
func SwapROM(rom uint64) uint64 { return bits.ReverseBytes64(rom) }

// PutROM writes the 8 wire-order bytes of rom into dst.
func PutROM(dst []byte, rom uint64) {
	binary.LittleEndian.PutUint64(dst, SwapROM(rom))
}

// CRC8 is the Dallas/Maxim 1-Wire CRC (x^8 + x^5 + x^4 + 1, reflected).
// Running it over data that ends in its own CRC yields 0.
func CRC8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		for i := 0; i < 8; i++ {
			mix := (crc ^ b) & 1
			crc >>= 1
			if mix != 0 {
				crc ^= 0x8C
			}
			b >>= 1
		}
	}
	return crc
}

// ROMValid reports whether the last wire byte of rom is the CRC8 of the
// first seven.
func ROMValid(rom uint64) bool {
	var w [8]byte
	PutROM(w[:], rom)
	return CRC8(w[:]) == 0
}

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// Discriminator folds the factory MAC and the ROM code (wire order) into a
// 16-bit value. The same inputs always give the same result and byte order
// matters.
func Discriminator(mac [6]byte, rom uint64) uint16 {
	h := uint32(fnvOffset32)
	for _, b := range mac {
		h ^= uint32(b)
		h *= fnvPrime32
	}
	var w [8]byte
	PutROM(w[:], rom)
	for _, b := range w {
		h ^= uint32(b)
		h *= fnvPrime32
	}
	return uint16(h>>16) ^ uint16(h)
}

// PutPrefix writes the low cmdBytes of cmd and the low addrBytes of reg,
// both MSB first, and returns the number of bytes written.
func PutPrefix(dst []byte, cmd uint16, cmdBytes int, reg uint64, addrBytes int) int {
	n := 0
	for i := cmdBytes - 1; i >= 0; i-- {
		dst[n] = byte(cmd >> (uint(i) * 8))
		n++
	}
	for i := addrBytes - 1; i >= 0; i-- {
		dst[n] = byte(reg >> (uint(i) * 8))
		n++
	}
	return n
}
