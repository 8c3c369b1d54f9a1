package core

import (
	"sync/atomic"

	"busmux-go/errcode"
	"busmux-go/x/conv"
)

// Stats is a snapshot of one device's counters.
type Stats struct {
	Sent      uint32
	Received  uint32
	Timeouts  uint32
	CRCErrors uint32
	Other     uint32
}

// Counters accumulate for the lifetime of a device and are never reset.
type Counters struct {
	sent, rcvd           atomic.Uint32
	timeouts, crc, other atomic.Uint32
}

// Done records a successful transfer of the exact framed byte counts.
func (c *Counters) Done(sent, rcvd int) {
	c.sent.Add(uint32(sent))
	c.rcvd.Add(uint32(rcvd))
}

// CRCError records a payload that failed its checksum.
func (c *Counters) CRCError() { c.crc.Add(1) }

// Fail classifies a driver error, bumps exactly one counter and returns the
// error wrapped with its code.
func (c *Counters) Fail(op string, err error) error {
	code := errcode.MapDriverErr(err)
	if code == errcode.Timeout {
		c.timeouts.Add(1)
	} else {
		c.other.Add(1)
	}
	return errcode.Wrap(code, op, err)
}

func (c *Counters) Snapshot() Stats {
	return Stats{
		Sent:      c.sent.Load(),
		Received:  c.rcvd.Load(),
		Timeouts:  c.timeouts.Load(),
		CRCErrors: c.crc.Load(),
		Other:     c.other.Load(),
	}
}

// Append formats the snapshot:
//
//	RX Bytes 12 (0.01 KB), TX Bytes 40 (0.04 KB) Bus Errors CRC 0, Timeouts 1, Other 0
func (s Stats) Append(dst []byte) []byte {
	dst = append(dst, "RX Bytes "...)
	dst = appendVolume(dst, s.Received)
	dst = append(dst, ", TX Bytes "...)
	dst = appendVolume(dst, s.Sent)
	dst = append(dst, " Bus Errors CRC "...)
	dst = conv.AppendUint(dst, uint64(s.CRCErrors), 0)
	dst = append(dst, ", Timeouts "...)
	dst = conv.AppendUint(dst, uint64(s.Timeouts), 0)
	dst = append(dst, ", Other "...)
	dst = conv.AppendUint(dst, uint64(s.Other), 0)
	return dst
}

func appendVolume(dst []byte, n uint32) []byte {
	dst = conv.AppendUint(dst, uint64(n), 0)
	dst = append(dst, " ("...)
	if n > 1000000 {
		dst = conv.AppendFixed2(dst, uint64(n), 1000000, 4)
		dst = append(dst, " MB)"...)
	} else {
		dst = conv.AppendFixed2(dst, uint64(n), 1000, 4)
		dst = append(dst, " KB)"...)
	}
	return dst
}

// FormatStats writes the snapshot into buf, truncating to len(buf).
func FormatStats(buf []byte, s Stats) (int, error) {
	if len(buf) == 0 {
		return 0, errcode.New(errcode.InvalidSize, "stats", "empty buffer")
	}
	var tmp [160]byte
	return copy(buf, s.Append(tmp[:0])), nil
}
