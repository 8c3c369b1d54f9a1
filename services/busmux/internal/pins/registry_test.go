package pins

import "testing"

func TestReserveIsExclusive(t *testing.T) {
	r := New(40)
	if !r.Reserve(1<<4|1<<5, "i2c") {
		t.Fatal("first reservation failed")
	}
	if r.Reserve(1<<5, "spi") {
		t.Fatal("pin 5 handed out twice")
	}
	// All-or-nothing: pin 6 must not be taken by the failed call.
	if r.Reserve(1<<5|1<<6, "spi") {
		t.Fatal("overlapping mask accepted")
	}
	if r.Used() != 1<<4|1<<5 {
		t.Fatalf("used = %#x", r.Used())
	}
	if o, ok := r.Owner(4); !ok || o != "i2c" {
		t.Fatalf("owner(4) = %q %v", o, ok)
	}
}

func TestReleaseReturnsPins(t *testing.T) {
	r := New(40)
	r.Reserve(1<<12|1<<13, "1wire")
	r.Release(1 << 12)
	if r.Used() != 1<<13 {
		t.Fatalf("used = %#x", r.Used())
	}
	if _, ok := r.Owner(12); ok {
		t.Fatal("released pin still owned")
	}
	if !r.Reserve(1<<12, "spi") {
		t.Fatal("released pin not reusable")
	}
	got := r.ByOwner()
	if got["spi"] != 1<<12 || got["1wire"] != 1<<13 {
		t.Fatalf("by owner %v", got)
	}
}

func TestReserveRejectsMissingPins(t *testing.T) {
	r := New(29)
	if r.Reserve(1<<29, "i2c") {
		t.Fatal("pin beyond board range accepted")
	}
	if r.Reserve(0, "i2c") {
		t.Fatal("empty mask accepted")
	}
	if !New(64).Reserve(1<<63, "spi") {
		t.Fatal("pin 63 should exist on a 64-pin board")
	}
}
