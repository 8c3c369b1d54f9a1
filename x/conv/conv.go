// Package conv formats numbers into caller-owned buffers without fmt or
// strconv, so describe/stats strings stay cheap on MCU builds.
package conv

const hexd = "0123456789ABCDEF"

// AppendUint appends the base-10 form of n, left-padded with zeros to at
// least width digits.
func AppendUint(dst []byte, n uint64, width int) []byte {
	var tmp [20]byte
	i := len(tmp)
	if n == 0 {
		i--
		tmp[i] = '0'
	}
	for n > 0 {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
	}
	for pad := width - (len(tmp) - i); pad > 0; pad-- {
		dst = append(dst, '0')
	}
	return append(dst, tmp[i:]...)
}

// AppendHex appends exactly digits uppercase hex digits of n (no 0x prefix).
func AppendHex(dst []byte, n uint64, digits int) []byte {
	for j := digits - 1; j >= 0; j-- {
		dst = append(dst, hexd[(n>>(uint(j)*4))&0xF])
	}
	return dst
}

// AppendFixed2 appends num/div rounded half-up to two decimals, left-padded
// with spaces to width characters (like %width.2f).
func AppendFixed2(dst []byte, num, div uint64, width int) []byte {
	if div == 0 {
		return append(dst, "NaN"...)
	}
	scaled := (num*100 + div/2) / div
	whole, frac := scaled/100, scaled%100

	var tmp [24]byte
	s := AppendUint(tmp[:0], whole, 0)
	s = append(s, '.')
	s = AppendUint(s, frac, 2)
	for pad := width - len(s); pad > 0; pad-- {
		dst = append(dst, ' ')
	}
	return append(dst, s...)
}
