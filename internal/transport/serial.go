package transport

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"
)

// serialLink adapts a serial port to Link. Serial ports only know a
// per-read timeout, so deadlines are converted on every Read.
type serialLink struct {
	port     serial.Port
	deadline time.Time
}

func openSerial(_ context.Context, res Resource, _ time.Duration) (Link, error) {
	mode := &serial.Mode{
		BaudRate: res.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(res.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", res.Path, err)
	}
	// Drop whatever a previous session left unread.
	_ = port.ResetInputBuffer()
	return &serialLink{port: port}, nil
}

func (s *serialLink) Read(p []byte) (int, error) {
	timeout := serial.NoTimeout
	if !s.deadline.IsZero() {
		timeout = time.Until(s.deadline)
		if timeout <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	n, err := s.port.Read(p)
	if n == 0 && err == nil {
		// go.bug.st/serial reports an expired timeout as an empty read.
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (s *serialLink) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *serialLink) Close() error { return s.port.Close() }

func (s *serialLink) SetReadDeadline(t time.Time) error {
	s.deadline = t
	return nil
}

// SetWriteDeadline is a no-op: serial writes complete once the driver
// has queued the bytes.
func (s *serialLink) SetWriteDeadline(time.Time) error { return nil }
