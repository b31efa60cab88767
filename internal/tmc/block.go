// Package tmc handles the definite-length binary block framing used by
// IEEE 488.2 / TMC instruments:
//
//	'#' <N> <N ASCII digits = L> <L payload bytes> [terminator]
//
// The DS1000Z always sends N=9, so its header is HeaderLen bytes wide.
package tmc

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// Marker opens every binary block.
	Marker = '#'
	// HeaderLen is the fixed header width used by the DS1000Z (marker, count digit, 9 length digits).
	HeaderLen = 11
	// lengthDigits is the digit count written by EncodeBlock.
	lengthDigits = 9
	// MaxPayload bounds a declared block length: a full 24M-sample
	// memory plus headroom for screen images and setup blobs.
	MaxPayload = 32 << 20
)

var (
	ErrMalformedHeader = errors.New("tmc: malformed block header")
	ErrTruncatedBlock  = errors.New("tmc: truncated block")
)

// Block is one parsed binary transfer unit.
type Block struct {
	Declared int
	Payload  []byte
}

// Empty reports whether the device signalled "no more data".
func (b Block) Empty() bool { return b.Declared == 0 }

// ParseBlock decodes the header of raw and slices exactly the declared
// number of payload bytes. Bytes after the payload (usually '\n') are ignored.
func ParseBlock(raw []byte) (Block, error) {
	digits, err := headerDigits(raw)
	if err != nil {
		return Block{}, err
	}
	if len(raw) < 2+digits {
		return Block{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncatedBlock, 2+digits, len(raw))
	}
	declared, err := parseLength(raw[2 : 2+digits])
	if err != nil {
		return Block{}, err
	}
	start := 2 + digits
	if len(raw) < start+declared {
		return Block{}, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrTruncatedBlock, declared, len(raw)-start)
	}
	return Block{Declared: declared, Payload: raw[start : start+declared]}, nil
}

// ReadBlock reads one complete block (header and payload) from r and
// returns the raw framed bytes. It never reads past the payload.
func ReadBlock(r io.Reader) ([]byte, error) {
	var lead [2]byte
	if _, err := io.ReadFull(r, lead[:]); err != nil {
		return nil, wrapShort(err)
	}
	digits, err := headerDigits(lead[:])
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 2+digits)
	copy(raw, lead[:])
	if _, err := io.ReadFull(r, raw[2:]); err != nil {
		return nil, wrapShort(err)
	}
	declared, err := parseLength(raw[2:])
	if err != nil {
		return nil, err
	}
	if declared == 0 {
		return raw, nil
	}
	out := make([]byte, len(raw)+declared)
	copy(out, raw)
	if _, err := io.ReadFull(r, out[len(raw):]); err != nil {
		return nil, wrapShort(err)
	}
	return out, nil
}

// EncodeBlock frames payload with a 9-digit definite-length header.
func EncodeBlock(payload []byte) []byte {
	out := make([]byte, 0, HeaderLen+len(payload))
	out = append(out, Marker, '0'+lengthDigits)
	out = append(out, fmt.Sprintf("%0*d", lengthDigits, len(payload))...)
	return append(out, payload...)
}

// headerDigits validates the marker and returns the digit count N.
func headerDigits(raw []byte) (int, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("%w: %d header bytes", ErrTruncatedBlock, len(raw))
	}
	if raw[0] != Marker {
		return 0, fmt.Errorf("%w: marker %q", ErrMalformedHeader, raw[0])
	}
	n := raw[1]
	if n < '1' || n > '9' {
		return 0, fmt.Errorf("%w: digit count %q", ErrMalformedHeader, n)
	}
	return int(n - '0'), nil
}

func parseLength(field []byte) (int, error) {
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: length field %q", ErrMalformedHeader, field)
		}
	}
	n, err := strconv.Atoi(string(field))
	if err != nil {
		return 0, fmt.Errorf("%w: length field %q", ErrMalformedHeader, field)
	}
	if n > MaxPayload {
		return 0, fmt.Errorf("%w: declared length %d exceeds %d", ErrMalformedHeader, n, MaxPayload)
	}
	return n, nil
}

func wrapShort(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrTruncatedBlock, err)
	}
	return err
}
