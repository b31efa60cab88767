package scope

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/tmc"
)

// MaxRead is the largest number of BYTE samples one :WAV:DATA? returns.
const MaxRead = 250000

// Channels on the DS1000Z.
const (
	MinChannel = 1
	MaxChannel = 4
)

var ErrInvalidChannel = errors.New("scope: channel out of range")

func checkChannel(ch int) error {
	if ch < MinChannel || ch > MaxChannel {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	return nil
}

// Scale selects how raw waveform bytes are returned.
type Scale string

const (
	// ScaleRaw returns codes as sent, 255 being the lowest voltage.
	ScaleRaw Scale = "raw"
	// ScaleUint8 is the default. It also passes bytes through unchanged.
	ScaleUint8 Scale = "uint8"
	// ScaleVolts would return physical units and is not supported.
	ScaleVolts Scale = "volts"
)

// ParseScale accepts "raw", "uint8" and "volts"; empty means uint8.
func ParseScale(s string) (Scale, error) {
	switch Scale(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScaleUint8:
		return ScaleUint8, nil
	case ScaleRaw:
		return ScaleRaw, nil
	case ScaleVolts:
		return ScaleVolts, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScale, s)
	}
}

// SampleRange is a half-open, zero-based sample index range.
type SampleRange struct {
	Lo, Hi int
}

func (r SampleRange) Len() int {
	if r.Hi <= r.Lo {
		return 0
	}
	return r.Hi - r.Lo
}

func (r SampleRange) String() string { return fmt.Sprintf("[%d,%d)", r.Lo, r.Hi) }

// ParseSampleRange accepts "n" for [0,n) or "lo:hi".
func ParseSampleRange(s string) (SampleRange, error) {
	s = strings.TrimSpace(s)
	loStr, hiStr, found := strings.Cut(s, ":")
	if !found {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return SampleRange{}, fmt.Errorf("invalid sample range %q", s)
		}
		return SampleRange{Lo: 0, Hi: n}, nil
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(loStr))
	hi, err2 := strconv.Atoi(strings.TrimSpace(hiStr))
	if err1 != nil || err2 != nil || lo < 0 || hi < lo {
		return SampleRange{}, fmt.Errorf("invalid sample range %q", s)
	}
	return SampleRange{Lo: lo, Hi: hi}, nil
}

// WaveformRequest describes one binary waveform read. A nil Range reads
// the whole memory.
type WaveformRequest struct {
	Channel int
	Range   *SampleRange
	Scale   Scale
}

// Waveform is the assembled sample buffer of one channel.
type Waveform struct {
	Channel   int
	Depth     int
	Range     SampleRange
	Scale     Scale
	Samples   []byte
	Windows   int
	Truncated bool
}

// window is one :WAV:STAR/:WAV:STOP pair in device addressing
// (1-indexed, inclusive).
type window struct {
	start, stop int
}

// planWindows splits r into reads of at most MaxRead samples, clipped to
// depth.
func planWindows(r SampleRange, depth int) []window {
	var out []window
	for lo := r.Lo; lo < r.Hi; lo += MaxRead {
		hi := min(depth, r.Hi, lo+MaxRead)
		if lo >= hi {
			break
		}
		out = append(out, window{start: lo + 1, stop: hi})
	}
	return out
}

func sourceCommand(ch int) string {
	return fmt.Sprintf(":WAV:SOUR: CHAN%d", ch)
}

// ReadRawWaveform stops the instrument and reads BYTE samples of one
// channel in windows of MaxRead. An empty block ends the transfer early
// and is reported through Waveform.Truncated rather than as an error.
func (s *Scope) ReadRawWaveform(ctx context.Context, req WaveformRequest) (*Waveform, error) {
	scale, err := ParseScale(string(req.Scale))
	if err != nil {
		return nil, err
	}
	if scale == ScaleVolts {
		return nil, fmt.Errorf("%w: voltage scaling is not implemented", ErrUnsupportedScale)
	}
	if err := checkChannel(req.Channel); err != nil {
		return nil, err
	}
	if err := s.Stop(ctx); err != nil {
		return nil, err
	}
	for _, cmd := range []string{sourceCommand(req.Channel), ":WAV:FORM BYTE", ":WAV:MODE MAX"} {
		if err := s.write(ctx, cmd); err != nil {
			return nil, err
		}
	}
	if _, err := s.Wait(ctx, 0); err != nil {
		return nil, err
	}
	depth, err := s.MemoryDepth(ctx)
	if err != nil {
		return nil, err
	}

	r := SampleRange{Lo: 0, Hi: depth}
	if req.Range != nil {
		r = *req.Range
	}
	wf := &Waveform{Channel: req.Channel, Depth: depth, Range: r, Scale: scale}
	windows := planWindows(r, depth)
	wf.Samples = make([]byte, 0, min(r.Len(), depth))

	for _, w := range windows {
		if err := s.write(ctx, ":WAV:STAR "+strconv.Itoa(w.start)); err != nil {
			return nil, err
		}
		if err := s.write(ctx, ":WAV:STOP "+strconv.Itoa(w.stop)); err != nil {
			return nil, err
		}
		seg, err := s.t.QueryBinary(ctx, ":WAV:DATA?")
		if err != nil {
			return nil, fmt.Errorf(":WAV:DATA? [%d,%d]: %w", w.start, w.stop, err)
		}
		if len(seg) == 0 {
			s.log.Warn("waveform ended early", logging.F("channel", req.Channel),
				logging.F("start", w.start), logging.F("samples", len(wf.Samples)))
			break
		}
		wf.Samples = append(wf.Samples, seg...)
		wf.Windows++
	}
	expected := min(r.Hi, depth) - r.Lo
	wf.Truncated = len(wf.Samples) < expected

	s.log.Info("waveform read", logging.F("channel", req.Channel), logging.F("samples", len(wf.Samples)),
		logging.F("windows", wf.Windows), logging.F("depth", depth))
	return wf, nil
}

// WriteWaveformCSV streams the screen waveform of channel in ASCII form to
// w, one reading per line, and returns the number of readings written.
// The instrument is read until it sends an empty or unparsable block.
func (s *Scope) WriteWaveformCSV(ctx context.Context, channel int, w io.Writer) (int, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	if err := s.write(ctx, sourceCommand(channel)); err != nil {
		return 0, err
	}
	if err := sleep(ctx, s.opts.CommandDelay); err != nil {
		return 0, err
	}
	for _, cmd := range []string{":WAV:MODE NORM", ":WAV:FORM ASC"} {
		if err := s.write(ctx, cmd); err != nil {
			return 0, err
		}
	}
	depth, err := s.MemoryDepth(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info("saving ascii waveform", logging.F("channel", channel), logging.F("depth", depth))

	bw := bufio.NewWriter(w)
	count := 0
	for {
		if err := s.write(ctx, ":WAV:DATA?"); err != nil {
			return count, err
		}
		raw, err := s.t.ReadRaw(ctx)
		if err != nil {
			return count, fmt.Errorf(":WAV:DATA?: %w", err)
		}
		blk, err := tmc.ParseBlock(raw)
		if err != nil {
			s.log.Debug("ascii transfer ended on unparsable reply", logging.F("error", err))
			break
		}
		if blk.Empty() {
			break
		}
		text := firstLine(string(blk.Payload))
		for _, field := range strings.Split(text, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			if _, err := bw.WriteString(field + "\n"); err != nil {
				return count, err
			}
			count++
		}
	}
	if err := bw.Flush(); err != nil {
		return count, err
	}
	return count, nil
}
