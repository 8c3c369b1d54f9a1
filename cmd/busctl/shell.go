package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"busmux-go/errcode"
	"busmux-go/types"
)

var errQuit = errors.New("quit")

const shellHelp = `commands:
  list                                   devices and handles
  attach <name> | detach <name>
  read <name> <n> [cmd] [reg]            read n bytes
  write <name> <hex> [cmd] [reg]         write bytes, e.g. write flash "02 ff"
  wr <name> <hex> <n> [cmd] [reg]        write then read n bytes
  reset <name>
  scan <name> [max] | probe <name>       use the named device's bus
  desc <name> | stats <name> | pins
  quit`

// shell runs the interactive loop until EOF or quit.
func (s *session) shell(in io.Reader, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "busctl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		Stdin:           io.NopCloser(in),
		Stdout:          out,
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), shellHelp)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil
		}
		if err := s.exec(line, rl.Stdout()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(rl.Stdout(), "error: %v\n", err)
		}
	}
}

// exec runs one shell line.
func (s *session) exec(line string, w io.Writer) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(w, shellHelp)
		return nil
	case "quit", "exit", "q":
		return errQuit
	case "list", "ls":
		for _, n := range s.names {
			fmt.Fprintf(w, "%-12s %s\n", n, s.handles[n].String())
		}
		return nil
	case "pins":
		s.printPins(w)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("%s: device name required", cmd)
	}
	name, args := args[0], args[1:]
	cfg, ok := s.cfgs[name]
	if !ok {
		return fmt.Errorf("no device %q in plan", name)
	}

	switch cmd {
	case "attach":
		if s.handles[name] != nil {
			return fmt.Errorf("%s already attached", name)
		}
		h, err := s.r.Attach(cfg)
		if err != nil {
			return err
		}
		s.handles[name] = h
		fmt.Fprintln(w, h.String())
		return nil
	case "scan":
		limit := 16
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			limit = n
		}
		found, err := s.r.Scan(cfg, limit)
		if err != nil {
			return err
		}
		for _, v := range found {
			fmt.Fprintf(w, "%#x\n", v)
		}
		return nil
	case "probe":
		if err := s.r.Probe(cfg); err != nil {
			return err
		}
		fmt.Fprintln(w, "present")
		return nil
	}

	h := s.handles[name]
	if h == nil {
		return errcode.New(errcode.NotFound, cmd, name+" is not attached")
	}
	switch cmd {
	case "detach":
		if err := s.r.Detach(h); err != nil {
			return err
		}
		delete(s.handles, name)
		return nil
	case "reset":
		return h.Reset()
	case "desc":
		fmt.Fprintln(w, describe(h, false))
		fmt.Fprintln(w, describe(h, true))
		return nil
	case "stats":
		var buf [128]byte
		n, err := h.StatsString(buf[:])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(buf[:n]))
		return nil
	case "read":
		if len(args) < 1 {
			return errors.New("read: byte count required")
		}
		n, err := readCount(args[0])
		if err != nil {
			return err
		}
		tx, err := transaction(args[1:])
		if err != nil {
			return err
		}
		tx.R = make([]byte, n)
		if err := h.Read(tx); err != nil {
			return err
		}
		fmt.Fprintln(w, hex.EncodeToString(tx.R))
		return nil
	case "write":
		if len(args) < 1 {
			return errors.New("write: data required")
		}
		data, err := parseHex(args[0])
		if err != nil {
			return err
		}
		tx, err := transaction(args[1:])
		if err != nil {
			return err
		}
		tx.W = data
		return h.Write(tx)
	case "wr":
		if len(args) < 2 {
			return errors.New("wr: data and byte count required")
		}
		data, err := parseHex(args[0])
		if err != nil {
			return err
		}
		n, err := readCount(args[1])
		if err != nil {
			return err
		}
		tx, err := transaction(args[2:])
		if err != nil {
			return err
		}
		tx.W, tx.R = data, make([]byte, n)
		if err := h.WriteRead(tx); err != nil {
			return err
		}
		fmt.Fprintln(w, hex.EncodeToString(tx.R))
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// maxRead matches the controllers' frame bound.
const maxRead = 32

func readCount(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("byte count %q: %w", arg, err)
	}
	if n <= 0 || n > maxRead {
		return 0, fmt.Errorf("byte count %d out of range 1..%d", n, maxRead)
	}
	return n, nil
}

// transaction reads optional [cmd] [reg] arguments.
func transaction(args []string) (*types.Transaction, error) {
	tx := &types.Transaction{}
	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return nil, fmt.Errorf("cmd: %w", err)
		}
		tx.Cmd = uint16(v)
	}
	if len(args) > 1 {
		v, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("reg: %w", err)
		}
		tx.Reg = v
	}
	return tx, nil
}

// parseHex accepts "0aff", "0a ff" or "0a:ff".
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	return hex.DecodeString(s)
}
