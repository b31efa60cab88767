package scope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/tmc"
)

var errLinkDown = errors.New("link down")

// fakeInstrument simulates the parts of a DS1054Z the core talks to. Every
// command is recorded in order.
type fakeInstrument struct {
	mu sync.Mutex

	commands []string
	pending  [][]byte

	// *OPC? replies are taken from opc in order; the last one repeats.
	opc     []string
	opcErrs int
	// opcFailAt makes the nth successful *OPC? (1-based) fail instead.
	opcFailAt int
	opcSeen   int

	trig string

	depth    string
	accepts  func(n int) bool
	memory   []byte
	star     int
	stop     int
	mode     string
	windows  [][2]int
	emptyAt  int    // 1-based window index from which :WAV:DATA? is empty
	rawBlock []byte // replaces every :WAV:DATA? reply when set
	ascii    []string

	replies map[string]string

	binaryCmd     string
	binaryPayload []byte
	timeout       time.Duration
	closed        bool
}

func newFakeInstrument() *fakeInstrument {
	return &fakeInstrument{
		opc:     []string{"1"},
		trig:    "RUN",
		depth:   "12000",
		accepts: func(int) bool { return true },
		mode:    "MAX",
		replies: map[string]string{},
	}
}

func (f *fakeInstrument) handle(cmd string) ([]byte, error) {
	f.commands = append(f.commands, cmd)
	verb, arg, _ := strings.Cut(cmd, " ")

	switch verb {
	case "*OPC?":
		if f.opcErrs > 0 {
			f.opcErrs--
			return nil, errLinkDown
		}
		if f.opcFailAt > 0 && f.opcSeen+1 == f.opcFailAt {
			f.opcFailAt = 0
			return nil, errLinkDown
		}
		reply := f.opc[min(f.opcSeen, len(f.opc)-1)]
		f.opcSeen++
		return []byte(reply + "\n"), nil
	case ":TRIG:STAT?":
		return []byte(f.trig + "\n"), nil
	case ":STOP":
		f.trig = "STOP"
	case ":RUN":
		f.trig = "RUN"
	case ":SING":
		f.trig = "WAIT"
	case ":TFOR":
		f.trig = "TD"
	case ":ACQ:MDEP":
		if strings.EqualFold(arg, "AUTO") {
			f.depth = "AUTO"
			break
		}
		n, err := strconv.Atoi(arg)
		if err == nil && f.accepts(n) {
			f.depth = arg
		}
	case ":ACQ:MDEP?":
		return []byte(f.depth + "\n"), nil
	case ":WAV:MODE":
		f.mode = arg
	case ":WAV:FORM":
		if arg == "ASC" {
			f.mode = "ASC"
		}
	case ":WAV:STAR":
		f.star, _ = strconv.Atoi(arg)
	case ":WAV:STOP":
		f.stop, _ = strconv.Atoi(arg)
	case ":WAV:DATA?":
		return f.waveData(), nil
	default:
		if strings.HasSuffix(verb, "?") {
			if r, ok := f.replies[cmd]; ok {
				return []byte(r), nil
			}
			return nil, fmt.Errorf("unscripted query %q", cmd)
		}
	}
	return nil, nil
}

func (f *fakeInstrument) waveData() []byte {
	if f.mode == "ASC" {
		if len(f.ascii) == 0 {
			return append(tmc.EncodeBlock(nil), '\n')
		}
		next := f.ascii[0]
		f.ascii = f.ascii[1:]
		return append(tmc.EncodeBlock([]byte(next)), '\n')
	}
	f.windows = append(f.windows, [2]int{f.star, f.stop})
	if f.rawBlock != nil {
		return f.rawBlock
	}
	if f.emptyAt > 0 && len(f.windows) >= f.emptyAt {
		return append(tmc.EncodeBlock(nil), '\n')
	}
	lo, hi := f.star-1, min(f.stop, len(f.memory))
	if lo < 0 || lo >= hi {
		return append(tmc.EncodeBlock(nil), '\n')
	}
	return append(tmc.EncodeBlock(f.memory[lo:hi]), '\n')
}

func (f *fakeInstrument) Write(_ context.Context, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply, err := f.handle(cmd)
	if err != nil {
		return err
	}
	if reply != nil {
		f.pending = append(f.pending, reply)
	}
	return nil
}

func (f *fakeInstrument) ReadRaw(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, errors.New("read timeout")
	}
	reply := f.pending[0]
	f.pending = f.pending[1:]
	return reply, nil
}

func (f *fakeInstrument) Query(_ context.Context, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply, err := f.handle(cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(reply)), nil
}

func (f *fakeInstrument) QueryBinary(_ context.Context, cmd string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply, err := f.handle(cmd)
	if err != nil {
		return nil, err
	}
	blk, err := tmc.ParseBlock(reply)
	if err != nil {
		return nil, err
	}
	return blk.Payload, nil
}

func (f *fakeInstrument) WriteBinary(_ context.Context, cmd string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	f.binaryCmd = cmd
	f.binaryPayload = append([]byte(nil), payload...)
	return nil
}

func (f *fakeInstrument) SetTimeout(d time.Duration) { f.timeout = d }

func (f *fakeInstrument) Close() error {
	f.closed = true
	return nil
}

// sent returns the recorded commands, optionally only those with prefix.
func (f *fakeInstrument) sent(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func fastOptions() Options {
	return Options{
		Timeout:          time.Second,
		ConnectBaseDelay: time.Millisecond,
		PollInterval:     time.Millisecond,
		RetryDelay:       time.Millisecond,
		TriggerWait:      50 * time.Millisecond,
		SettleDelay:      time.Millisecond,
		ResetDelay:       time.Millisecond,
		TransferDelay:    time.Millisecond,
		RestoreDelay:     time.Millisecond,
		CommandDelay:     time.Millisecond,
		DiscoveryTimeout: time.Millisecond,
		Logger:           logging.New(logging.Debug, logging.Text, io.Discard),
	}
}

func newTestScope(t *testing.T) (*Scope, *fakeInstrument) {
	t.Helper()
	f := newFakeInstrument()
	return New(f, fastOptions()), f
}
