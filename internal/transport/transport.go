// Package transport carries SCPI command strings and replies between the
// host and one instrument. A Conn frames commands with a trailing newline
// and recognises the two reply shapes an instrument produces: a single
// ASCII line, or a TMC definite-length binary block.
//
// A Conn is not safe for concurrent use. Callers sharing one instrument
// between goroutines must serialise access themselves.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotConnected        = errors.New("transport: not connected")
	ErrUnsupportedResource = errors.New("transport: unsupported resource")
)

// Transport is the command/response surface consumed by the instrument core.
type Transport interface {
	Write(ctx context.Context, cmd string) error
	Query(ctx context.Context, cmd string) (string, error)
	ReadRaw(ctx context.Context) ([]byte, error)
	QueryBinary(ctx context.Context, cmd string) ([]byte, error)
	WriteBinary(ctx context.Context, cmd string, payload []byte) error
	SetTimeout(d time.Duration)
	Close() error
}

// Link is the byte pipe under a Conn. net.Conn satisfies it directly.
type Link interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Opener dials one resource family.
type Opener func(ctx context.Context, res Resource, timeout time.Duration) (Link, error)

// Lister enumerates locally attached instruments as resource strings.
type Lister func(ctx context.Context) ([]string, error)

var (
	registryMu sync.RWMutex
	openers    = map[Family]Opener{
		FamilyTCP:    openTCP,
		FamilySerial: openSerial,
	}
	listers []Lister
)

// Register installs the opener for a resource family, replacing any
// previous one. Driver packages call it from init.
func Register(f Family, o Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	openers[f] = o
}

// RegisterLister adds an enumerator consulted by List.
func RegisterLister(l Lister) {
	registryMu.Lock()
	defer registryMu.Unlock()
	listers = append(listers, l)
}

// Families returns the resource families that can currently be opened.
func Families() []Family {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Family, 0, len(openers))
	for f := range openers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open parses resource and dials it with the registered opener.
func Open(ctx context.Context, resource string, timeout time.Duration) (*Conn, error) {
	res, err := ParseResource(resource)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	opener, ok := openers[res.Family]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no driver for %s resources (%s)", ErrUnsupportedResource, res.Family, resource)
	}
	link, err := opener(ctx, res, timeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", res, err)
	}
	c := NewConn(link, timeout)
	c.Resource = res.String()
	return c, nil
}

// List asks every registered lister for attached instruments. A failing
// lister does not hide the results of the others.
func List(ctx context.Context) ([]string, error) {
	registryMu.RLock()
	ls := append([]Lister(nil), listers...)
	registryMu.RUnlock()

	var (
		out  []string
		errs []error
	)
	for _, l := range ls {
		found, err := l(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, found...)
	}
	return out, errors.Join(errs...)
}
