package app

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/scope"
	"github.com/rjboer/GoScope/internal/telemetry"
)

type fakeInstrument struct {
	samples  []byte
	rate     float64
	rateErr  error
	readErr  error
	singles  int
	requests []scope.WaveformRequest
}

func (f *fakeInstrument) Single(context.Context) (bool, error) {
	f.singles++
	return f.singles%2 == 1, nil
}

func (f *fakeInstrument) ReadRawWaveform(_ context.Context, req scope.WaveformRequest) (*scope.Waveform, error) {
	f.requests = append(f.requests, req)
	if f.readErr != nil {
		return nil, f.readErr
	}
	return &scope.Waveform{Channel: req.Channel, Depth: len(f.samples), Samples: f.samples, Windows: 1}, nil
}

func (f *fakeInstrument) SampleRate(context.Context) (float64, error) {
	return f.rate, f.rateErr
}

type recordingReporter struct {
	captures []telemetry.Capture
}

func (r *recordingReporter) ReportCapture(c telemetry.Capture) {
	r.captures = append(r.captures, c)
}

func sine(n, cycles int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(128 + 90*math.Sin(2*math.Pi*float64(cycles*i)/float64(n)))
	}
	return out
}

func quietLogger() logging.Logger {
	return logging.New(logging.Debug, logging.Text, io.Discard)
}

func TestMonitorReportsCount(t *testing.T) {
	inst := &fakeInstrument{samples: sine(1000, 50), rate: 1e6}
	rep := &recordingReporter{}
	mon := NewMonitor(inst, rep, quietLogger(), Config{Channel: 2, Interval: time.Millisecond, Count: 3})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mon.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(rep.captures) != 3 || mon.Captures() != 3 {
		t.Fatalf("expected 3 captures, got %d", len(rep.captures))
	}
	c := rep.captures[0]
	if c.Channel != 2 || c.Samples != 1000 || c.Stats.Count != 1000 {
		t.Fatalf("unexpected capture %+v", c)
	}
	// 50 cycles over 1000 samples at 1 MSa/s
	if math.Abs(c.DominantHz-50e3) > 1e-6 {
		t.Fatalf("dominant frequency %.1f", c.DominantHz)
	}
	if inst.requests[0].Scale != scope.ScaleUint8 {
		t.Fatalf("unexpected scale %q", inst.requests[0].Scale)
	}
}

func TestMonitorWithoutSampleRate(t *testing.T) {
	inst := &fakeInstrument{samples: sine(64, 4), rateErr: errors.New("timeout")}
	rep := &recordingReporter{}
	mon := NewMonitor(inst, rep, quietLogger(), Config{Interval: time.Millisecond, Count: 1})
	if err := mon.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rep.captures[0].DominantHz != 0 {
		t.Fatalf("expected no frequency without a sample rate")
	}
}

func TestMonitorStopsOnReadError(t *testing.T) {
	readErr := errors.New("block truncated")
	inst := &fakeInstrument{rate: 1e6, readErr: readErr}
	mon := NewMonitor(inst, nil, quietLogger(), Config{Interval: time.Millisecond})
	if err := mon.Run(context.Background()); !errors.Is(err, readErr) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestMonitorCancel(t *testing.T) {
	inst := &fakeInstrument{samples: []byte{1, 2, 3}, rate: 1e6}
	mon := NewMonitor(inst, nil, quietLogger(), Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := mon.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mon.Captures() != 1 {
		t.Fatalf("expected exactly one capture before cancel, got %d", mon.Captures())
	}
}
