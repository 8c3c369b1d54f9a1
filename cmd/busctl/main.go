// Command busctl checks a board plan against the bus multiplexer on the host.
// It attaches every device, reports which buses are shared and who owns each
// GPIO, then detaches everything and confirms nothing leaked. With -i it
// keeps the plan attached and opens a shell for manual transfers.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"busmux-go/errcode"
	"busmux-go/services/busmux"
	"busmux-go/services/config"
	"busmux-go/types"
)

var version = "dev"

type fixedMAC [6]byte

func (m fixedMAC) MAC() [6]byte { return m }

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("busctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	planPath := fs.String("plan", "", "YAML board plan")
	board := fs.String("board", "", "embedded board plan name (used when -plan is empty)")
	logLevel := fs.String("log-level", "warn", "debug, info, warn or error")
	logFormat := fs.String("log-format", "text", "text or json")
	interactive := fs.Bool("i", false, "keep devices attached and open a shell")
	var adapters []i2cAdapter
	fs.Func("i2c-dev", "bind a Linux i2c-dev adapter to a pin pair, SDA:SCL=/dev/i2c-N (repeatable)", func(v string) error {
		a, err := parseAdapter(v)
		if err == nil {
			adapters = append(adapters, a)
		}
		return err
	})
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := newLogger(stderr, *logFormat, *logLevel, version)

	var (
		plan *config.Plan
		err  error
	)
	switch {
	case *planPath != "":
		plan, err = config.Load(*planPath)
	case *board != "":
		plan, err = config.Embedded(*board)
	default:
		err = errors.New("one of -plan or -board is required")
	}
	if err != nil {
		log.Error("plan rejected", "err", err)
		return 2
	}
	mac, _ := plan.HardwareAddr()

	p := busmux.DefaultPlatform()
	p.MAC = fixedMAC(mac)
	if len(adapters) != 0 {
		if p.I2C, err = hardwareI2C(adapters); err != nil {
			log.Error("i2c adapters", "err", err)
			return 1
		}
	}
	r := busmux.New(p, busmux.WithLogger(log))

	sess := newSession(r, plan)
	failed := sess.attachAll()
	sess.report(stdout)

	if *interactive {
		if err := sess.shell(stdin, stdout); err != nil {
			log.Error("shell", "err", err)
		}
	}

	if err := sess.detachAll(); err != nil {
		log.Error("teardown", "err", err)
		failed++
	}
	if left := r.Pins(); len(left) != 0 {
		fmt.Fprintf(stdout, "LEAK: pins still reserved: %v\n", left)
		failed++
	} else {
		fmt.Fprintln(stdout, "teardown clean")
	}
	if failed != 0 {
		return 1
	}
	return 0
}

// i2cAdapter binds a host I2C adapter to the pins a plan names for it.
type i2cAdapter struct {
	sda, scl uint8
	name     string
}

func parseAdapter(v string) (i2cAdapter, error) {
	pair, name, ok := strings.Cut(v, "=")
	sda, scl, ok2 := strings.Cut(pair, ":")
	if !ok || !ok2 || name == "" {
		return i2cAdapter{}, fmt.Errorf("want SDA:SCL=name, got %q", v)
	}
	a := i2cAdapter{name: name}
	for _, f := range []struct {
		s   string
		dst *uint8
	}{{sda, &a.sda}, {scl, &a.scl}} {
		n, err := strconv.ParseUint(f.s, 10, 6)
		if err != nil {
			return i2cAdapter{}, fmt.Errorf("pin %q: %w", f.s, err)
		}
		*f.dst = uint8(n)
	}
	return a, nil
}

// session tracks the plan's devices and their handles by name.
type session struct {
	r       *busmux.Router
	names   []string
	cfgs    map[string]types.DeviceConfig
	handles map[string]*busmux.Handle
	errs    map[string]error
}

func newSession(r *busmux.Router, plan *config.Plan) *session {
	s := &session{
		r:       r,
		cfgs:    make(map[string]types.DeviceConfig, len(plan.Devices)),
		handles: make(map[string]*busmux.Handle, len(plan.Devices)),
		errs:    make(map[string]error),
	}
	for i, cfg := range plan.Configs() {
		name := plan.Devices[i].Name
		if name == "" {
			name = fmt.Sprintf("dev%d", i)
		}
		s.names = append(s.names, name)
		s.cfgs[name] = cfg
	}
	return s
}

func (s *session) attachAll() (failed int) {
	for _, n := range s.names {
		h, err := s.r.Attach(s.cfgs[n])
		if err != nil {
			s.errs[n] = err
			failed++
			continue
		}
		s.handles[n] = h
	}
	return failed
}

func (s *session) detachAll() error {
	var errs []error
	for i := len(s.names) - 1; i >= 0; i-- {
		n := s.names[i]
		h, ok := s.handles[n]
		if !ok {
			continue
		}
		if err := s.r.Detach(h); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
			continue
		}
		delete(s.handles, n)
	}
	return errors.Join(errs...)
}

func (s *session) report(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Status", "Short", "Description"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	for _, n := range s.names {
		if err := s.errs[n]; err != nil {
			table.Rich([]string{n, string(errcode.Of(err)), "-", err.Error()},
				[]tablewriter.Colors{{}, {tablewriter.Normal, tablewriter.FgRedColor}})
			continue
		}
		h := s.handles[n]
		table.Append([]string{n, "ok", describe(h, false), describe(h, true)})
	}
	table.Render()

	for _, bt := range []types.BusType{types.BusOneWire, types.BusI2C, types.BusSPI} {
		fmt.Fprintf(w, "%s devices: %d\n", bt, len(s.r.Devices(bt)))
	}
	s.printPins(w)
}

func (s *session) printPins(w io.Writer) {
	pins := s.r.Pins()
	owners := make([]string, 0, len(pins))
	for o := range pins {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	for _, o := range owners {
		fmt.Fprintf(w, "pins %s: %s\n", o, gpioList(pins[o]))
	}
}

func gpioList(mask uint64) string {
	out := ""
	for n := 0; n < 64; n++ {
		if mask&(1<<n) == 0 {
			continue
		}
		if out != "" {
			out += ","
		}
		out += fmt.Sprintf("IO%02d", n)
	}
	return out
}

func describe(h *busmux.Handle, long bool) string {
	var buf [96]byte
	n, err := h.Describe(buf[:], long)
	if err != nil {
		return err.Error()
	}
	return string(buf[:n])
}
