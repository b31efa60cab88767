package tmc

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseBlock(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    []byte
		wantErr error
	}{
		{name: "payload with terminator", raw: []byte("#9000000005hello\n"), want: []byte("hello")},
		{name: "payload without terminator", raw: []byte("#9000000003abc"), want: []byte("abc")},
		{name: "short digit count", raw: []byte("#14data"), want: []byte("data")},
		{name: "zero length", raw: []byte("#9000000000\n"), want: []byte{}},
		{name: "truncated payload", raw: []byte("#9000000005abc"), wantErr: ErrTruncatedBlock},
		{name: "truncated header", raw: []byte("#90000"), wantErr: ErrTruncatedBlock},
		{name: "single byte", raw: []byte("#"), wantErr: ErrTruncatedBlock},
		{name: "bad marker", raw: []byte("X9000000003abc"), wantErr: ErrMalformedHeader},
		{name: "bad digit count", raw: []byte("#A000000003abc"), wantErr: ErrMalformedHeader},
		{name: "indefinite length", raw: []byte("#0abc\n"), wantErr: ErrMalformedHeader},
		{name: "non numeric length", raw: []byte("#900000x003abc"), wantErr: ErrMalformedHeader},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blk, err := ParseBlock(tc.raw)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(blk.Payload, tc.want) {
				t.Fatalf("payload %q, want %q", blk.Payload, tc.want)
			}
			if blk.Declared != len(tc.want) {
				t.Fatalf("declared %d, want %d", blk.Declared, len(tc.want))
			}
		})
	}
}

func TestParseBlockEmptySignalsEnd(t *testing.T) {
	blk, err := ParseBlock([]byte("#9000000000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !blk.Empty() {
		t.Fatalf("expected empty block")
	}
}

func TestReadBlockStopsAtPayload(t *testing.T) {
	stream := bytes.NewBufferString("#9000000004wave\nNEXT")
	raw, err := ReadBlock(stream)
	if err != nil {
		t.Fatalf("ReadBlock failed: %v", err)
	}
	if string(raw) != "#9000000004wave" {
		t.Fatalf("unexpected raw block %q", raw)
	}
	if rest := stream.String(); rest != "\nNEXT" {
		t.Fatalf("ReadBlock consumed too much, left %q", rest)
	}
}

func TestReadBlockTruncated(t *testing.T) {
	_, err := ReadBlock(bytes.NewBufferString("#9000000010short"))
	if !errors.Is(err, ErrTruncatedBlock) {
		t.Fatalf("expected ErrTruncatedBlock, got %v", err)
	}
}

func TestReadBlockRejectsOversizedLength(t *testing.T) {
	_, err := ReadBlock(bytes.NewBufferString("#9999999999abc"))
	if !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
	if _, err := ParseBlock([]byte("#9999999999abc")); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("ParseBlock: expected ErrMalformedHeader, got %v", err)
	}
	// 24M samples fit under the limit.
	if _, err := ParseBlock([]byte("#9024000000")); !errors.Is(err, ErrTruncatedBlock) {
		t.Fatalf("full-memory header rejected: %v", err)
	}
}

func TestEncodeBlockRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0xff, '#', '\n'}
	framed := EncodeBlock(payload)
	if len(framed) != HeaderLen+len(payload) {
		t.Fatalf("framed length %d", len(framed))
	}
	if string(framed[:HeaderLen]) != "#9000000004" {
		t.Fatalf("unexpected header %q", framed[:HeaderLen])
	}
	blk, err := ParseBlock(framed)
	if err != nil {
		t.Fatalf("ParseBlock failed: %v", err)
	}
	if !bytes.Equal(blk.Payload, payload) {
		t.Fatalf("payload mismatch: %v", blk.Payload)
	}
}
