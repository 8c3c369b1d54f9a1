//go:build rp2040 || rp2350

// Command pico-busmux attaches the board plan compiled in by build tag,
// scans every configured bus and logs per-device counters to UART0.
package main

import (
	"log/slog"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"busmux-go/errcode"
	"busmux-go/services/busmux"
	"busmux-go/services/config/setups"
	"busmux-go/types"
	"busmux-go/x/conv"
)

const (
	logBaud    = 115_200
	statsEvery = 5 * time.Second
	scanMax    = 16
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)

	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{BaudRate: logBaud, TX: machine.UART0_TX_PIN, RX: machine.UART0_RX_PIN})
	log := slog.New(slog.NewTextHandler(u, &slog.HandlerOptions{Level: slog.LevelDebug}))
	log.Info("boot", "board", setups.Selected.Board, "devices", len(setups.Selected.Devices))

	r := busmux.New(busmux.DefaultPlatform(), busmux.WithLogger(log))

	type attached struct {
		name string
		h    *busmux.Handle
	}
	var devs []attached
	for _, d := range setups.Selected.Devices {
		if err := r.Probe(d.Cfg); err != nil && errcode.Of(err) != errcode.Unsupported {
			log.Warn("absent", "name", d.Name, "code", string(errcode.Of(err)))
		}
		h, err := r.Attach(d.Cfg)
		if err != nil {
			continue
		}
		devs = append(devs, attached{d.Name, h})
		log.Info("attached", "name", d.Name, "desc", describe(h))
	}

	scanned := map[string]bool{}
	for _, d := range setups.Selected.Devices {
		key := busKey(d.Cfg)
		if scanned[key] {
			continue
		}
		scanned[key] = true
		found, err := r.Scan(d.Cfg, scanMax)
		if err != nil {
			continue
		}
		for _, v := range found {
			log.Info("scan", "bus", key, "found", v)
		}
	}

	var buf [128]byte
	tick := time.NewTicker(statsEvery)
	defer tick.Stop()
	for range tick.C {
		for _, d := range devs {
			n, _ := d.h.StatsString(buf[:])
			log.Info("stats", "name", d.name, "stats", string(buf[:n]))
		}
	}
}

func describe(h *busmux.Handle) string {
	var buf [96]byte
	n, _ := h.Describe(buf[:], true)
	return string(buf[:n])
}

// busKey names the physical bus a configuration sits on.
func busKey(c types.DeviceConfig) string {
	var b []byte
	b = append(b, c.Bus.String()...)
	switch c.Bus {
	case types.BusOneWire:
		b = append(b, '/', 'p')
		b = conv.AppendUint(b, uint64(c.OneWire.Pin), 0)
	case types.BusI2C:
		b = append(b, '/')
		b = conv.AppendUint(b, uint64(c.I2C.SDA), 0)
		b = append(b, ',')
		b = conv.AppendUint(b, uint64(c.I2C.SCL), 0)
	case types.BusSPI:
		b = append(b, '/')
		b = conv.AppendUint(b, uint64(c.SPI.SCLK), 0)
	}
	return string(b)
}
