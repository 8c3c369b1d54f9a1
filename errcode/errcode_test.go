package errcode

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCodesAreStableStrings(t *testing.T) {
	cases := map[string]Code{
		"invalid_argument": InvalidArgument,
		"invalid_size":     InvalidSize,
		"not_supported":    NotSupported,
		"not_found":        NotFound,
		"no_memory":        NoMemory,
		"not_allowed":      NotAllowed,
		"invalid_state":    InvalidState,
		"timeout":          Timeout,
		"crc_mismatch":     CRC,
		"bus_unsupported":  BusUnsupported,
		"error":            Error,
	}
	for want, c := range cases {
		if c.Error() != want {
			t.Fatalf("code %q mismatch: got %q", want, c.Error())
		}
	}
}

func TestOfUnwrapsWrappers(t *testing.T) {
	if Of(nil) != OK {
		t.Fatal("nil should map to ok")
	}
	if Of(NotFound) != NotFound {
		t.Fatal("bare code not returned")
	}
	e := New(NotSupported, "attach", "duplicate identity")
	if Of(e) != NotSupported {
		t.Fatalf("Of(*E) = %q", Of(e))
	}
	wrapped := fmt.Errorf("outer: %w", e)
	if Of(wrapped) != NotSupported {
		t.Fatalf("Of(wrapped *E) = %q", Of(wrapped))
	}
	if Of(fmt.Errorf("x: %w", Timeout)) != Timeout {
		t.Fatal("wrapped code not found")
	}
	if Of(errors.New("boom")) != Error {
		t.Fatal("unknown error should default to error")
	}
}

func TestErrorsIsMatchesCode(t *testing.T) {
	e := Wrap(Timeout, "read", errors.New("bus stuck"))
	if !errors.Is(e, Timeout) {
		t.Fatal("errors.Is should match the wrapped code")
	}
	if errors.Is(e, Error) {
		t.Fatal("errors.Is matched the wrong code")
	}
	if got, want := e.Error(), "read: timeout (bus stuck)"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestMapDriverErr(t *testing.T) {
	if MapDriverErr(nil) != OK {
		t.Fatal("nil")
	}
	if MapDriverErr(Timeout) != Timeout {
		t.Fatal("timeout code")
	}
	if MapDriverErr(fmt.Errorf("tx: %w", context.DeadlineExceeded)) != Timeout {
		t.Fatal("deadline exceeded should be a timeout")
	}
	if MapDriverErr(errors.New("nack")) != Error {
		t.Fatal("other failures should map to error")
	}
}
