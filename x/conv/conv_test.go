package conv

import "testing"

func TestAppendUintPads(t *testing.T) {
	cases := []struct {
		n     uint64
		width int
		want  string
	}{
		{0, 0, "0"},
		{7, 2, "07"},
		{42, 2, "42"},
		{123, 2, "123"},
		{18446744073709551615, 0, "18446744073709551615"},
	}
	for _, c := range cases {
		if got := string(AppendUint(nil, c.n, c.width)); got != c.want {
			t.Fatalf("AppendUint(%d,%d) = %q, want %q", c.n, c.width, got, c.want)
		}
	}
}

func TestAppendHex(t *testing.T) {
	if got := string(AppendHex(nil, 0x28FF8CA7741604DB, 16)); got != "28FF8CA7741604DB" {
		t.Fatalf("got %q", got)
	}
	if got := string(AppendHex(nil, 0xAB, 8)); got != "000000AB" {
		t.Fatalf("got %q", got)
	}
	if got := string(AppendHex(nil, 0x1234, 2)); got != "34" {
		t.Fatalf("short width should keep the low digits, got %q", got)
	}
}

func TestAppendFixed2(t *testing.T) {
	cases := []struct {
		num, div uint64
		width    int
		want     string
	}{
		{0, 1000, 4, "0.00"},
		{1234, 1000, 4, "1.23"},
		{1235, 1000, 4, "1.24"},
		{5, 1000, 6, "  0.01"},
		{2500000, 1000000, 4, "2.50"},
	}
	for _, c := range cases {
		if got := string(AppendFixed2(nil, c.num, c.div, c.width)); got != c.want {
			t.Fatalf("AppendFixed2(%d/%d) = %q, want %q", c.num, c.div, got, c.want)
		}
	}
}
