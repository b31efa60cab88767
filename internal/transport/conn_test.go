package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rjboer/GoScope/internal/tmc"
)

type mockStep struct {
	name       string
	expectLine string
	response   []byte
}

type mockResponder struct {
	conn  net.Conn
	steps []mockStep
	done  chan struct{}
	errCh chan error
}

func newMockResponder(t *testing.T, steps []mockStep) (*Conn, *mockResponder) {
	t.Helper()

	client, server := net.Pipe()
	r := &mockResponder{
		conn:  server,
		steps: steps,
		done:  make(chan struct{}),
		errCh: make(chan error, 1),
	}
	go r.run()
	t.Cleanup(func() { _ = server.Close() })

	return NewConn(client, time.Second), r
}

func (r *mockResponder) run() {
	defer close(r.done)
	defer close(r.errCh)

	reader := bufio.NewReader(r.conn)
	for idx, step := range r.steps {
		line, err := reader.ReadString('\n')
		if err != nil {
			r.errCh <- fmt.Errorf("step %d (%s): read command: %w", idx, step.name, err)
			return
		}
		if step.expectLine != "" && line != step.expectLine {
			r.errCh <- fmt.Errorf("step %d (%s): unexpected command %q", idx, step.name, line)
			return
		}
		if len(step.response) > 0 {
			if _, err := r.conn.Write(step.response); err != nil {
				r.errCh <- fmt.Errorf("step %d (%s): write response: %w", idx, step.name, err)
				return
			}
		}
	}
}

func (r *mockResponder) wait(t *testing.T) {
	t.Helper()
	<-r.done
	if err := <-r.errCh; err != nil {
		t.Fatalf("mock responder error: %v", err)
	}
}

func TestQueryTrimsReply(t *testing.T) {
	c, r := newMockResponder(t, []mockStep{{
		name:       "status",
		expectLine: ":TRIG:STAT?\n",
		response:   []byte("STOP\r\n"),
	}})
	got, err := c.Query(context.Background(), ":TRIG:STAT?")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got != "STOP" {
		t.Fatalf("got %q", got)
	}
	r.wait(t)
}

func TestWriteKeepsExistingTerminator(t *testing.T) {
	c, r := newMockResponder(t, []mockStep{{name: "stop", expectLine: ":STOP\n"}})
	if err := c.Write(context.Background(), ":STOP\n"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	r.wait(t)
}

func TestQueryBinaryThenText(t *testing.T) {
	c, r := newMockResponder(t, []mockStep{
		{name: "data", expectLine: ":WAV:DATA?\n", response: []byte("#9000000004\x00\x01\n\xff\n")},
		{name: "depth", expectLine: ":ACQ:MDEP?\n", response: []byte("12000\n")},
	})
	ctx := context.Background()

	payload, err := c.QueryBinary(ctx, ":WAV:DATA?")
	if err != nil {
		t.Fatalf("QueryBinary failed: %v", err)
	}
	if !bytes.Equal(payload, []byte{0x00, 0x01, '\n', 0xff}) {
		t.Fatalf("unexpected payload %v", payload)
	}
	depth, err := c.Query(ctx, ":ACQ:MDEP?")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if depth != "12000" {
		t.Fatalf("terminator of previous block leaked into reply: %q", depth)
	}
	r.wait(t)
}

func TestReadRawKeepsFraming(t *testing.T) {
	c, r := newMockResponder(t, []mockStep{{
		name:       "settings",
		expectLine: ":SYST:SET?\n",
		response:   []byte("#9000000003abc\n"),
	}})
	ctx := context.Background()
	if err := c.Write(ctx, ":SYST:SET?"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	raw, err := c.ReadRaw(ctx)
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if string(raw) != "#9000000003abc\n" {
		t.Fatalf("unexpected raw reply %q", raw)
	}
	r.wait(t)
}

func TestWriteBinaryRegeneratesHeader(t *testing.T) {
	blob := []byte{1, 2, 3, 4, 5}
	client, server := net.Pipe()
	defer server.Close()
	c := NewConn(client, time.Second)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(":SYST:SET ")+tmc.HeaderLen+len(blob)+1)
		_, _ = io.ReadFull(server, buf)
		got <- buf
	}()
	if err := c.WriteBinary(context.Background(), ":SYST:SET ", blob); err != nil {
		t.Fatalf("WriteBinary failed: %v", err)
	}
	want := append([]byte(":SYST:SET #9000000005"), blob...)
	want = append(want, '\n')
	if frame := <-got; !bytes.Equal(frame, want) {
		t.Fatalf("frame %q, want %q", frame, want)
	}
}

func TestReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		_, _ = bufio.NewReader(server).ReadString('\n')
	}()
	c := NewConn(client, 50*time.Millisecond)

	start := time.Now()
	_, err := c.Query(context.Background(), "*OPC?")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected net timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not honoured")
	}
}

func TestClosedConn(t *testing.T) {
	c := NewConn(nil, time.Second)
	if err := c.Write(context.Background(), "*RST"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
