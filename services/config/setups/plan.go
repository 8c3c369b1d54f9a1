// Package setups holds board plans as Go literals for firmware builds, where
// parsing YAML at boot is not wanted. A build tag picks Selected.
package setups

import "busmux-go/types"

type Plan struct {
	Board   string
	Devices []Named
}

type Named struct {
	Name string
	Cfg  types.DeviceConfig
}

// Selected is the plan compiled into the firmware; zero when no board tag is
// given.
var Selected Plan
