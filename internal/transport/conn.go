package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/tmc"
)

// DefaultTimeout bounds every read and write when the caller sets none.
const DefaultTimeout = 5 * time.Second

// maxLineLen caps a single ASCII reply; ASCII waveform data always comes
// framed as a block, so real replies are far shorter.
const maxLineLen = 1 << 20

// Conn is a stream transport over a Link.
type Conn struct {
	Resource string
	Timeout  time.Duration
	Logger   logging.Logger

	link   Link
	reader *bufio.Reader
}

// NewConn attaches a Conn to an already opened link.
func NewConn(link Link, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Conn{
		Timeout: timeout,
		link:    link,
		reader:  bufio.NewReaderSize(link, 64*1024),
	}
}

// ---------- Construction / lifecycle ----------

func openTCP(ctx context.Context, res Resource, timeout time.Duration) (Link, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", res.Address())
	if err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	return c, nil
}

func (c *Conn) Close() error {
	if c == nil || c.link == nil {
		return nil
	}
	err := c.link.Close()
	c.link = nil
	return err
}

func (c *Conn) SetTimeout(d time.Duration) {
	if d > 0 {
		c.Timeout = d
	}
}

func (c *Conn) log() logging.Logger {
	if c.Logger == nil {
		return logging.Default()
	}
	return c.Logger
}

// ---------- Deadlines ----------

// deadline picks the earlier of the context deadline and now+Timeout.
func (c *Conn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

func (c *Conn) ready(ctx context.Context) error {
	if c == nil || c.link == nil {
		return ErrNotConnected
	}
	return ctx.Err()
}

// ---------- Raw I/O ----------

// writeAll writes the full buffer, handling short writes.
func (c *Conn) writeAll(ctx context.Context, b []byte) error {
	_ = c.link.SetWriteDeadline(c.deadline(ctx))
	for len(b) > 0 {
		n, err := c.link.Write(b)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		b = b[n:]
	}
	return nil
}

// skipLineEndings drops CR/LF left over from a previous reply, typically
// the terminator following a binary block.
func (c *Conn) skipLineEndings() error {
	for {
		b, err := c.reader.Peek(1)
		if err != nil {
			return err
		}
		if b[0] != '\n' && b[0] != '\r' {
			return nil
		}
		if _, err := c.reader.Discard(1); err != nil {
			return err
		}
	}
}

// readLine reads a single LF-terminated line, terminator included.
func (c *Conn) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
		if len(line) > maxLineLen {
			return line, fmt.Errorf("reply exceeds %d bytes without newline", maxLineLen)
		}
	}
}

// ---------- Transport ----------

func hasLineEnding(s string) bool {
	return strings.HasSuffix(s, "\n") || strings.HasSuffix(s, "\r")
}

// Write sends one command, appending a newline when missing.
func (c *Conn) Write(ctx context.Context, cmd string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	c.log().Debug("tx", logging.F("cmd", cmd))
	if !hasLineEnding(cmd) {
		cmd += "\n"
	}
	return c.writeAll(ctx, []byte(cmd))
}

// ReadRaw reads one complete reply: either a binary block with its header
// or a single text line with its terminator.
func (c *Conn) ReadRaw(ctx context.Context) ([]byte, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	_ = c.link.SetReadDeadline(c.deadline(ctx))

	if err := c.skipLineEndings(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	first, err := c.reader.Peek(1)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if first[0] != tmc.Marker {
		line, err := c.readLine()
		if err != nil {
			return nil, fmt.Errorf("read line: %w", err)
		}
		return line, nil
	}

	raw, err := tmc.ReadBlock(c.reader)
	if err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}
	// The terminator is consumed only when it already arrived; otherwise
	// skipLineEndings drops it on the next read.
	if c.reader.Buffered() > 0 {
		if b, _ := c.reader.Peek(1); len(b) == 1 && b[0] == '\n' {
			_, _ = c.reader.Discard(1)
			raw = append(raw, '\n')
		}
	}
	if l := c.log(); logging.Enabled(l, logging.Debug) {
		l.Debug("rx block", logging.F("bytes", len(raw)), logging.F("head", raw[:min(len(raw), tmc.HeaderLen)]))
	}
	return raw, nil
}

// Query writes cmd and returns the trimmed text reply.
func (c *Conn) Query(ctx context.Context, cmd string) (string, error) {
	if err := c.Write(ctx, cmd); err != nil {
		return "", err
	}
	raw, err := c.ReadRaw(ctx)
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(string(raw))
	c.log().Debug("rx", logging.F("cmd", cmd), logging.F("reply", reply))
	return reply, nil
}

// QueryBinary writes cmd and returns the payload of the binary block reply.
func (c *Conn) QueryBinary(ctx context.Context, cmd string) ([]byte, error) {
	if err := c.Write(ctx, cmd); err != nil {
		return nil, err
	}
	raw, err := c.ReadRaw(ctx)
	if err != nil {
		return nil, err
	}
	blk, err := tmc.ParseBlock(raw)
	if err != nil {
		return nil, err
	}
	return blk.Payload, nil
}

// WriteBinary sends cmd immediately followed by payload framed as a
// definite-length block, then a newline.
func (c *Conn) WriteBinary(ctx context.Context, cmd string, payload []byte) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	c.log().Debug("tx block", logging.F("cmd", cmd), logging.F("bytes", len(payload)))
	msg := make([]byte, 0, len(cmd)+tmc.HeaderLen+len(payload)+1)
	msg = append(msg, cmd...)
	msg = append(msg, tmc.EncodeBlock(payload)...)
	msg = append(msg, '\n')
	return c.writeAll(ctx, msg)
}
