package scope

import (
	"context"
	"fmt"
	"io"

	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/tmc"
)

// readBlob writes cmd and returns the block reply with its 11-byte header
// and trailing terminator removed.
func (s *Scope) readBlob(ctx context.Context, cmd string) ([]byte, error) {
	if err := s.write(ctx, cmd); err != nil {
		return nil, err
	}
	raw, err := s.t.ReadRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	blk, err := tmc.ParseBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	return blk.Payload, nil
}

// ScreenCapture writes the current display as PNG to w.
func (s *Scope) ScreenCapture(ctx context.Context, w io.Writer) (int, error) {
	png, err := s.readBlob(ctx, ":DISP:DATA? ON,OFF,PNG")
	if err != nil {
		return 0, err
	}
	n, err := w.Write(png)
	if err != nil {
		return n, err
	}
	s.log.Info("screen captured", logging.F("bytes", n))
	return n, sleep(ctx, s.opts.TransferDelay)
}

// SaveSettings writes the instrument setup blob (.stp) to w.
func (s *Scope) SaveSettings(ctx context.Context, w io.Writer) (int, error) {
	blob, err := s.readBlob(ctx, ":SYST:SET?")
	if err != nil {
		return 0, err
	}
	n, err := w.Write(blob)
	if err != nil {
		return n, err
	}
	s.log.Info("settings saved", logging.F("bytes", n))
	return n, sleep(ctx, s.opts.TransferDelay)
}

// RestoreSettings sends a blob produced by SaveSettings back to the
// instrument.
func (s *Scope) RestoreSettings(ctx context.Context, r io.Reader) error {
	blob, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if len(blob) == 0 {
		return fmt.Errorf("scope: empty settings blob")
	}
	if err := s.t.WriteBinary(ctx, ":SYST:SET ", blob); err != nil {
		return fmt.Errorf(":SYST:SET: %w", err)
	}
	s.log.Info("settings restored", logging.F("bytes", len(blob)))
	return sleep(ctx, s.opts.RestoreDelay)
}
