package core

import (
	"busmux-go/types"
	"busmux-go/x/conv"
)

// MaxFrame bounds every assembled transaction (prefix + payload), across all
// protocols.
const MaxFrame = 32

// DescMin is the smallest buffer Describe accepts.
const DescMin = 34

// ---- Capability bound to a handle ----

// Device is the per-device operation set resolved at attach time. Every
// method is safe for concurrent use; a detached device answers NotFound.
type Device interface {
	Read(tx *types.Transaction) error
	Write(tx *types.Transaction) error
	WriteRead(tx *types.Transaction) error
	Reset() error
	// Describe writes a short or long identity string into buf, truncated to
	// len(buf). Buffers shorter than DescMin fail with InvalidSize.
	Describe(buf []byte, long bool) (int, error)
	// StatsString writes the formatted counters into buf, truncated to len(buf).
	StatsString(buf []byte) (int, error)
	Stats() Stats
}

// Handle is the caller-visible token returned by Attach. The caller owns it;
// the capability stays valid for as long as the device is attached.
type Handle struct {
	Bus types.BusType
	ID  uint32
	Device
}

// String renders "<bus>:<identity>", e.g. "i2c:00284048".
func (h *Handle) String() string {
	if h == nil {
		return "<nil>"
	}
	b := append([]byte(h.Bus.String()), ':')
	return string(conv.AppendHex(b, uint64(h.ID), 8))
}

// ---- Protocol controllers ----

// Controller serves one bus type. Implementations serialise attach, detach,
// scan and probe behind their own lock.
type Controller interface {
	Bus() types.BusType
	Attach(cfg types.DeviceConfig) (*Handle, error)
	Detach(h *Handle) error
	Scan(cfg types.DeviceConfig, capacity int) ([]uint64, error)
	Probe(cfg types.DeviceConfig) error
	// Devices lists attached identities, newest first.
	Devices() []uint32
}

// ---- Collaborators ----

// PinReserver grants exclusive use of GPIOs. A mask bit n stands for GPIO n.
type PinReserver interface {
	Reserve(mask uint64, owner string) bool
	Release(mask uint64)
}

// MACSource supplies the factory-assigned MAC used to seed 1-Wire
// discriminators.
type MACSource interface {
	MAC() [6]byte
}

// FixedMAC is a MACSource for hosts and tests.
type FixedMAC [6]byte

func (m FixedMAC) MAC() [6]byte { return [6]byte(m) }

// PinBit returns the reservation mask for one GPIO, or 0 when the pin is out
// of the 64-pin range.
func PinBit(pin uint8) uint64 {
	if pin >= 64 {
		return 0
	}
	return 1 << pin
}
