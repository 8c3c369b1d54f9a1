package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busmux-go/errcode"
	"busmux-go/services/busmux"
	"busmux-go/services/config"
)

func TestRunEmbeddedBoard(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-board", "pico_rich_dev"}, strings.NewReader(""), &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	s := out.String()
	assert.Contains(t, s, "env_core")
	assert.Contains(t, s, "CS17 @ spi/p01cl18do19di16")
	assert.Contains(t, s, "1wire devices: 1")
	assert.Contains(t, s, "i2c devices: 2")
	assert.Contains(t, s, "spi devices: 1")
	assert.Contains(t, s, "pins i2c: IO12,IO13")
	assert.Contains(t, s, "pins spi: IO16,IO17,IO18,IO19")
	assert.Contains(t, s, "teardown clean")
}

const conflictPlan = `
devices:
  - name: adc
    bus: i2c
    i2c: {addr: 0x48, sda: 4, scl: 5}
  - name: probe
    bus: onewire
    onewire: {rom: 0x28FF8CA7741604DB, pin: 4}
`

func TestRunReportsConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(conflictPlan), 0o600))

	var out, errOut bytes.Buffer
	code := run([]string{"-plan", path}, strings.NewReader(""), &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "not_allowed")
	assert.Contains(t, out.String(), "teardown clean")
}

func TestRunUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(nil, strings.NewReader(""), &out, &errOut))
	assert.Contains(t, errOut.String(), "one of -plan or -board is required")
	assert.Equal(t, 2, run([]string{"-nope"}, strings.NewReader(""), &out, &errOut))
}

func TestShellCommands(t *testing.T) {
	plan, err := config.Embedded("pico_rich_dev")
	require.NoError(t, err)
	r := busmux.New(busmux.DefaultPlatform())
	s := newSession(r, plan)
	require.Zero(t, s.attachAll())
	defer func() { require.NoError(t, s.detachAll()) }()

	var w bytes.Buffer
	require.NoError(t, s.exec("list", &w))
	assert.Contains(t, w.String(), "flash")

	w.Reset()
	require.NoError(t, s.exec(`write flash "0a 0b" 0x02 0x1000`, &w))
	require.NoError(t, s.exec("stats flash", &w))
	assert.Contains(t, w.String(), "TX Bytes 6")

	assert.Error(t, s.exec("read env_core 2", &w))
	for _, bad := range []string{"read env_core -1", "read env_core 0", "read env_core 33", "wr flash 01 -4", "read env_core x"} {
		err := s.exec(bad, &w)
		require.Error(t, err, bad)
		assert.Contains(t, err.Error(), "byte count", bad)
	}
	assert.ErrorIs(t, s.exec("probe env_core", &w), errcode.NotFound)
	assert.ErrorIs(t, s.exec("scan flash", &w), errcode.Unsupported)

	require.NoError(t, s.exec("detach flash", &w))
	assert.ErrorIs(t, s.exec("read flash 1", &w), errcode.NotFound)
	w.Reset()
	require.NoError(t, s.exec("attach flash", &w))
	assert.Contains(t, w.String(), "spi:")

	assert.ErrorIs(t, s.exec("quit", &w), errQuit)
	assert.Error(t, s.exec("bogus env_core", &w))
	assert.Error(t, s.exec("desc nobody", &w))
	require.NoError(t, s.exec("", &w))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("loud").String())
}

func TestParseAdapter(t *testing.T) {
	a, err := parseAdapter("12:13=/dev/i2c-3")
	require.NoError(t, err)
	assert.Equal(t, i2cAdapter{sda: 12, scl: 13, name: "/dev/i2c-3"}, a)

	for _, bad := range []string{"12:13", "12=/dev/i2c-1", "12:64=/dev/i2c-1", "a:b=x", "1:2="} {
		_, err := parseAdapter(bad)
		assert.Error(t, err, bad)
	}

	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"-i2c-dev", "nope", "-board", "pico_rich_dev"}, strings.NewReader(""), &out, &errOut))
}
