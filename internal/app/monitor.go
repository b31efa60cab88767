package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rjboer/GoScope/internal/dsp"
	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/scope"
	"github.com/rjboer/GoScope/internal/telemetry"
)

// Instrument is the part of *scope.Scope the monitor drives.
type Instrument interface {
	Single(ctx context.Context) (bool, error)
	ReadRawWaveform(ctx context.Context, req scope.WaveformRequest) (*scope.Waveform, error)
	SampleRate(ctx context.Context) (float64, error)
}

// Config captures monitor settings.
type Config struct {
	Channel  int
	Interval time.Duration
	// Count stops the monitor after that many captures; zero runs until
	// the context is canceled.
	Count int
	Range *scope.SampleRange
	// SampleRate in Sa/s; zero reads it from the instrument once.
	SampleRate float64
}

// Monitor repeatedly arms a single acquisition, reads the waveform and
// reports a summary of it.
type Monitor struct {
	inst     Instrument
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config

	captures int
}

// NewMonitor builds a capture monitor.
func NewMonitor(inst Instrument, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Channel == 0 {
		cfg.Channel = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Monitor{
		inst:     inst,
		reporter: reporter,
		logger:   logger.With(logging.F("subsystem", "monitor")),
		cfg:      cfg,
	}
}

// Captures returns the number of captures reported so far.
func (m *Monitor) Captures() int { return m.captures }

// Run loops until ctx is done or Count captures have been reported.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.SampleRate == 0 {
		rate, err := m.inst.SampleRate(ctx)
		if err != nil {
			m.logger.Warn("sample rate unavailable, dominant frequency disabled", logging.F("error", err))
		} else {
			m.cfg.SampleRate = rate
		}
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := m.captureOnce(ctx); err != nil {
			return err
		}
		if m.cfg.Count > 0 && m.captures >= m.cfg.Count {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) captureOnce(ctx context.Context) error {
	started := time.Now()
	triggered, err := m.inst.Single(ctx)
	if err != nil {
		return fmt.Errorf("single trigger: %w", err)
	}
	if !triggered {
		m.logger.Warn("no trigger observed, reading the last acquisition", logging.F("channel", m.cfg.Channel))
	}

	wf, err := m.inst.ReadRawWaveform(ctx, scope.WaveformRequest{
		Channel: m.cfg.Channel,
		Range:   m.cfg.Range,
		Scale:   scope.ScaleUint8,
	})
	if err != nil {
		return fmt.Errorf("read waveform: %w", err)
	}

	capture := telemetry.Capture{
		Timestamp: time.Now(),
		Channel:   wf.Channel,
		Depth:     wf.Depth,
		Samples:   len(wf.Samples),
		Windows:   wf.Windows,
		Truncated: wf.Truncated,
		Duration:  time.Since(started),
		Stats:     dsp.Summarize(wf.Samples),
	}
	if m.cfg.SampleRate > 0 && len(wf.Samples) > 1 {
		bin, _ := dsp.DominantBin(wf.Samples)
		capture.DominantHz = dsp.BinFrequency(bin, len(wf.Samples), m.cfg.SampleRate)
	}

	m.captures++
	if m.reporter != nil {
		m.reporter.ReportCapture(capture)
	}
	return nil
}
