package usbtmc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Bulk message IDs from the USBTMC class specification.
const (
	msgDevDepOut   = 1
	msgRequestIn   = 2
	headerLen      = 12
	attrEOM        = 0x01
	transferAlign  = 4
	maxTransferLen = 1 << 20
)

var ErrBadHeader = errors.New("usbtmc: bad bulk-in header")

// tagger hands out bTag values 1..255; zero is reserved.
type tagger struct{ last byte }

func (t *tagger) next() byte {
	t.last++
	if t.last == 0 {
		t.last = 1
	}
	return t.last
}

func putHeader(b []byte, id, tag byte, size uint32, attrs byte) {
	b[0] = id
	b[1] = tag
	b[2] = ^tag
	b[3] = 0
	binary.LittleEndian.PutUint32(b[4:8], size)
	b[8] = attrs
	b[9], b[10], b[11] = 0, 0, 0
}

// encodeOut frames payload as a single DEV_DEP_MSG_OUT transfer with EOM
// set, padded to a multiple of four bytes.
func encodeOut(tag byte, payload []byte) []byte {
	n := headerLen + len(payload)
	if rem := n % transferAlign; rem != 0 {
		n += transferAlign - rem
	}
	msg := make([]byte, n)
	putHeader(msg, msgDevDepOut, tag, uint32(len(payload)), attrEOM)
	copy(msg[headerLen:], payload)
	return msg
}

// encodeRequestIn asks the device to send up to max bytes.
func encodeRequestIn(tag byte, max int) []byte {
	msg := make([]byte, headerLen)
	putHeader(msg, msgRequestIn, tag, uint32(max), 0)
	return msg
}

type inHeader struct {
	tag  byte
	size int
	eom  bool
}

func parseInHeader(b []byte, wantTag byte) (inHeader, error) {
	if len(b) < headerLen {
		return inHeader{}, fmt.Errorf("%w: %d bytes", ErrBadHeader, len(b))
	}
	if b[0] != msgRequestIn {
		return inHeader{}, fmt.Errorf("%w: message id %d", ErrBadHeader, b[0])
	}
	if b[1] != wantTag || b[2] != ^wantTag {
		return inHeader{}, fmt.Errorf("%w: tag %d, want %d", ErrBadHeader, b[1], wantTag)
	}
	return inHeader{
		tag:  b[1],
		size: int(binary.LittleEndian.Uint32(b[4:8])),
		eom:  b[8]&attrEOM != 0,
	}, nil
}
