package core

import "busmux-go/errcode"

// Describe runs build over a scratch buffer and copies the result into buf,
// truncated like snprintf. Buffers shorter than DescMin are refused.
func Describe(buf []byte, build func(dst []byte) []byte) (int, error) {
	if len(buf) < DescMin {
		return 0, errcode.New(errcode.InvalidSize, "desc", "buffer too small")
	}
	var tmp [96]byte
	return copy(buf, build(tmp[:0])), nil
}

// CheckFrame enforces the per-transaction bound: header, payload and the
// bytes to read must fit one MaxFrame buffer.
func CheckFrame(op string, header, w, r int) error {
	if header+w+r > MaxFrame {
		return errcode.New(errcode.InvalidSize, op, "frame exceeds 32 bytes")
	}
	return nil
}

// CheckLengths validates the transaction shape for op ("read", "write", "wr").
func CheckLengths(op string, w, r int) error {
	switch {
	case op == "read" && r == 0,
		op == "write" && w == 0,
		op == "wr" && (w == 0 || r == 0):
		return errcode.New(errcode.InvalidArgument, op, "zero-length transfer")
	}
	return nil
}
