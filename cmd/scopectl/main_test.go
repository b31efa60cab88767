package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rjboer/GoScope/internal/config"
	"github.com/rjboer/GoScope/internal/scope"
	"github.com/rjboer/GoScope/internal/tmc"
)

// scriptedScope answers queries from a fixed table.
type scriptedScope struct {
	mu      sync.Mutex
	replies map[string]string
	pending []string
	sent    []string
	closed  bool
}

func newScriptedScope(replies map[string]string) *scriptedScope {
	r := map[string]string{"*OPC?": "1", ":TRIG:STAT?": "RUN"}
	for k, v := range replies {
		r[k] = v
	}
	return &scriptedScope{replies: r}
}

func (f *scriptedScope) reply(cmd string) (string, bool) {
	f.sent = append(f.sent, cmd)
	r, ok := f.replies[cmd]
	return r, ok
}

func (f *scriptedScope) Write(_ context.Context, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reply(cmd); ok {
		f.pending = append(f.pending, r+"\n")
	}
	return nil
}

func (f *scriptedScope) Query(_ context.Context, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reply(cmd)
	if !ok {
		return "", errors.New("no reply scripted for " + cmd)
	}
	return r, nil
}

func (f *scriptedScope) ReadRaw(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, errors.New("read timeout")
	}
	r := f.pending[0]
	f.pending = f.pending[1:]
	return []byte(r), nil
}

func (f *scriptedScope) QueryBinary(ctx context.Context, cmd string) ([]byte, error) {
	r, err := f.Query(ctx, cmd)
	if err != nil {
		return nil, err
	}
	blk, err := tmc.ParseBlock([]byte(r))
	if err != nil {
		return nil, err
	}
	return blk.Payload, nil
}

func (f *scriptedScope) WriteBinary(context.Context, string, []byte) error { return nil }
func (f *scriptedScope) SetTimeout(time.Duration)                          {}
func (f *scriptedScope) Close() error                                      { f.closed = true; return nil }

type harness struct {
	cli      *cli
	fake     *scriptedScope
	resource string
	opts     scope.Options
	out      bytes.Buffer
}

func newHarness(t *testing.T, env map[string]string, replies map[string]string) *harness {
	t.Helper()
	h := &harness{fake: newScriptedScope(replies)}
	h.cli = newCLI(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	h.cli.stderr = &bytes.Buffer{}
	h.cli.open = func(_ context.Context, resource string, opts scope.Options) (*scope.Scope, error) {
		h.resource = resource
		h.opts = opts
		opts.CommandDelay = time.Millisecond
		return scope.New(h.fake, opts), nil
	}
	return h
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	root := h.cli.root()
	root.SetOut(&h.out)
	root.SetErr(&h.out)
	cfgPath := filepath.Join(t.TempDir(), "scopectl.yaml")
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	return root.ExecuteContext(context.Background())
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	h := newHarness(t, map[string]string{
		"SCOPE_RESOURCE": "TCPIP0::10.0.0.1::5555::SOCKET",
		"SCOPE_TIMEOUT":  "4s",
	}, nil)
	if err := h.run(t, "status"); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if h.resource != "TCPIP0::10.0.0.1::5555::SOCKET" || h.opts.Timeout != 4*time.Second {
		t.Fatalf("env not applied: %q %v", h.resource, h.opts.Timeout)
	}

	h = newHarness(t, map[string]string{"SCOPE_RESOURCE": "TCPIP0::10.0.0.1::5555::SOCKET"}, nil)
	if err := h.run(t, "--resource", "USB0::0x1AB1::0x04CE::DS1ZA1::INSTR", "--timeout", "2s", "status"); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if h.resource != "USB0::0x1AB1::0x04CE::DS1ZA1::INSTR" || h.opts.Timeout != 2*time.Second {
		t.Fatalf("flags not applied: %q %v", h.resource, h.opts.Timeout)
	}
	if got := strings.TrimSpace(h.out.String()); got != "running" {
		t.Fatalf("status printed %q", got)
	}
	if !h.fake.closed {
		t.Fatalf("instrument left open")
	}
}

func TestInvalidLogLevelFlag(t *testing.T) {
	h := newHarness(t, nil, nil)
	if err := h.run(t, "--log-level", "chatty", "status"); err == nil {
		t.Fatalf("invalid log level accepted")
	}
	if h.resource != "" || h.fake.sent != nil {
		t.Fatalf("instrument opened despite bad config")
	}
}

func TestInfo(t *testing.T) {
	h := newHarness(t, nil, map[string]string{
		"*IDN?":       "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA000000001,00.04.04.SP3",
		":TRIG:STAT?": "TD",
		":ACQ:MDEP?":  "12000",
		":ACQ:SRAT?":  "1.000000e+09",
	})
	if err := h.run(t, "info"); err != nil {
		t.Fatalf("info failed: %v", err)
	}
	for _, want := range []string{"Model: DS1104Z", "Trigger: triggered", "Memory depth: 12000", "Sample rate: 1E9Sa/s"} {
		if !strings.Contains(h.out.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, h.out.String())
		}
	}
}

func TestMeasure(t *testing.T) {
	h := newHarness(t, nil, map[string]string{
		":MEAS:ITEM? VPP,CHAN2":  "3.200000e+00",
		":MEAS:ITEM? FREQ,CHAN2": "1.000000e+03",
	})
	if err := h.run(t, "measure", "-c", "2", "peak_to_peak_voltage", "FREQ"); err != nil {
		t.Fatalf("measure failed: %v", err)
	}
	want := "Channel 2 peak_to_peak_voltage value is 3.2 Volts\nChannel 2 frequency value is 1E3 Hz\n"
	if h.out.String() != want {
		t.Fatalf("got %q, want %q", h.out.String(), want)
	}
}

func TestDepthSet(t *testing.T) {
	h := newHarness(t, nil, map[string]string{":ACQ:MDEP?": "AUTO"})
	if err := h.run(t, "depth", "set", "auto"); err != nil {
		t.Fatalf("depth set failed: %v", err)
	}
	if strings.TrimSpace(h.out.String()) != "AUTO" {
		t.Fatalf("printed %q", h.out.String())
	}
}

func TestMeasurementsNeedsNoInstrument(t *testing.T) {
	h := newHarness(t, nil, nil)
	if err := h.run(t, "measurements", "--dual"); err != nil {
		t.Fatalf("measurements failed: %v", err)
	}
	if !strings.Contains(h.out.String(), "RDEL") || strings.Contains(h.out.String(), "VMAX") {
		t.Fatalf("unexpected listing:\n%s", h.out.String())
	}
	if h.resource != "" {
		t.Fatalf("instrument opened")
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scopectl.yaml")
	h := newHarness(t, nil, nil)
	root := h.cli.root()
	root.SetOut(&h.out)
	root.SetArgs([]string{"--config", path, "config", "init"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Acquisition.Channel != 1 {
		t.Fatalf("unexpected config %#v", cfg)
	}

	root = h.cli.root()
	root.SetOut(&h.out)
	root.SetArgs([]string{"--config", path, "config", "init"})
	if err := root.Execute(); err == nil {
		t.Fatalf("existing config overwritten without --force")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}
