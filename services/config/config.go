package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"busmux-go/errcode"
	"busmux-go/types"
)

// -----------------------------------------------------------------------------
// Board plan
// -----------------------------------------------------------------------------

// Device is one plan entry. Exactly one of the variants must be set, and it
// must be the one named by Bus.
type Device struct {
	Name    string               `yaml:"name"`
	Bus     string               `yaml:"bus"`
	OneWire *types.OneWireConfig `yaml:"onewire,omitempty"`
	I2C     *types.I2CConfig     `yaml:"i2c,omitempty"`
	SPI     *types.SPIConfig     `yaml:"spi,omitempty"`
}

// Plan is a board's device inventory.
type Plan struct {
	// MAC seeds 1-Wire discriminators on hosts; "" leaves it zero.
	MAC     string   `yaml:"mac"`
	Devices []Device `yaml:"devices"`
}

// EmbeddedPlanLookup resolves a board name to a built-in YAML plan.
var EmbeddedPlanLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedPlans[board]
	return b, ok
}

// Load reads and validates a YAML plan file.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.NotFound, "config load", err)
	}
	return Parse(raw)
}

// Embedded parses the built-in plan for board.
func Embedded(board string) (*Plan, error) {
	raw, ok := EmbeddedPlanLookup(board)
	if !ok || len(raw) == 0 {
		return nil, errcode.New(errcode.NotFound, "config", "no embedded plan for board: "+board)
	}
	return Parse(raw)
}

// Parse decodes a YAML plan, rejecting unknown keys, and validates it.
func Parse(raw []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, errcode.Wrap(errcode.InvalidArgument, "config parse", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// HardwareAddr returns the parsed MAC, or zero when unset.
func (p *Plan) HardwareAddr() ([6]byte, error) {
	var out [6]byte
	if p.MAC == "" {
		return out, nil
	}
	hw, err := net.ParseMAC(p.MAC)
	if err != nil || len(hw) != 6 {
		return out, errcode.New(errcode.InvalidArgument, "config", "mac must be 6 bytes: "+p.MAC)
	}
	copy(out[:], hw)
	return out, nil
}

// Configs converts the plan into tagged device configurations, in plan order.
// Call Validate first.
func (p *Plan) Configs() []types.DeviceConfig {
	out := make([]types.DeviceConfig, 0, len(p.Devices))
	for i := range p.Devices {
		d := &p.Devices[i]
		bt, _ := types.ParseBusType(d.Bus)
		out = append(out, types.DeviceConfig{Bus: bt, OneWire: d.OneWire, I2C: d.I2C, SPI: d.SPI})
	}
	return out
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// Validate checks every entry before anything touches hardware and reports
// all problems at once.
func (p *Plan) Validate() error {
	var errs []error
	if _, err := p.HardwareAddr(); err != nil {
		errs = append(errs, err)
	}
	names := make(map[string]bool, len(p.Devices))
	for i := range p.Devices {
		d := &p.Devices[i]
		label := d.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		} else if names[label] {
			errs = append(errs, invalid(label, "duplicate name"))
		}
		names[label] = true
		if err := d.validate(label); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func invalid(label, msg string) error {
	return errcode.New(errcode.InvalidArgument, "config", label+": "+msg)
}

func (d *Device) validate(label string) error {
	bt, ok := types.ParseBusType(d.Bus)
	if !ok {
		return invalid(label, "unknown bus "+fmt.Sprintf("%q", d.Bus))
	}
	set := 0
	for _, present := range []bool{d.OneWire != nil, d.I2C != nil, d.SPI != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return invalid(label, "exactly one of onewire, i2c, spi must be set")
	}
	switch bt {
	case types.BusOneWire:
		if d.OneWire == nil {
			return invalid(label, "bus is 1wire but no onewire block")
		}
		return checkOneWire(label, d.OneWire)
	case types.BusI2C:
		if d.I2C == nil {
			return invalid(label, "bus is i2c but no i2c block")
		}
		return checkI2C(label, d.I2C)
	default:
		if d.SPI == nil {
			return invalid(label, "bus is spi but no spi block")
		}
		return checkSPI(label, d.SPI)
	}
}

func checkOneWire(label string, c *types.OneWireConfig) error {
	switch {
	case c.Pin >= 64:
		return invalid(label, "pin out of range")
	case c.CmdBytes > 2:
		return invalid(label, "cmd_bytes > 2")
	case c.AddrBytes > 8:
		return invalid(label, "addr_bytes > 8")
	}
	return nil
}

// checkI2C accepts timeout_ms 0, which selects the controller default.
func checkI2C(label string, c *types.I2CConfig) error {
	limit := uint16(0x7F)
	if c.TenBit {
		limit = 0x3FF
	}
	switch {
	case c.SDA >= 64 || c.SCL >= 64:
		return invalid(label, "pin out of range")
	case c.SDA == c.SCL:
		return invalid(label, "sda and scl must differ")
	case c.Addr > limit:
		return invalid(label, "address out of range")
	case c.CmdBytes > 2:
		return invalid(label, "cmd_bytes > 2")
	case c.AddrBytes > 8:
		return invalid(label, "addr_bytes > 8")
	case c.TimeoutMS > 15:
		return invalid(label, "timeout_ms > 15")
	}
	return nil
}

func checkSPI(label string, c *types.SPIConfig) error {
	pins := []uint8{c.MOSI, c.MISO, c.SCLK, c.CS}
	for _, p := range pins {
		if p >= 64 {
			return invalid(label, "pin out of range")
		}
	}
	switch {
	case c.CS == c.MOSI || c.CS == c.MISO || c.CS == c.SCLK:
		return invalid(label, "cs shares a bus pin")
	case c.CmdBits > 16:
		return invalid(label, "cmd_bits > 16")
	case c.AddrBits > 64:
		return invalid(label, "addr_bits > 64")
	case c.Mode > 3:
		return invalid(label, "mode > 3")
	case c.PreTrans > 16 || c.PostTrans > 16:
		return invalid(label, "pretrans/posttrans > 16")
	}
	return nil
}
