//go:build pico_rich_dev

package setups

func init() { Selected = PicoRichDev }
