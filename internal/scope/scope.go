// Package scope drives a Rigol DS1000Z oscilloscope over a transport:
// operation-complete and trigger-state synchronization, memory depth
// negotiation, windowed binary waveform transfer and the SCPI value codec.
//
// A Scope is not safe for concurrent use. Exactly one command may be
// outstanding per instrument; callers sharing a Scope between goroutines
// must serialise access themselves.
package scope

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/mdns"
	"github.com/rjboer/GoScope/internal/transport"
)

// Options tunes timing and collaborators. Zero fields take the defaults
// of DefaultOptions.
type Options struct {
	Timeout time.Duration

	ConnectAttempts  int
	ConnectBaseDelay time.Duration

	PollInterval  time.Duration
	RetryDelay    time.Duration
	TriggerWait   time.Duration
	SettleDelay   time.Duration
	ResetDelay    time.Duration
	TransferDelay time.Duration
	RestoreDelay  time.Duration
	CommandDelay  time.Duration

	DiscoveryTimeout time.Duration
	// DiscoveryServices overrides the mDNS service types browsed.
	DiscoveryServices []string

	Logger logging.Logger
}

// DefaultOptions returns the timings the DS1000Z is known to tolerate.
func DefaultOptions() Options {
	return Options{
		Timeout:          transport.DefaultTimeout,
		ConnectAttempts:  3,
		ConnectBaseDelay: 2 * time.Second,
		PollInterval:     500 * time.Millisecond,
		RetryDelay:       time.Second,
		TriggerWait:      3 * time.Second,
		SettleDelay:      3 * time.Second,
		ResetDelay:       5 * time.Second,
		TransferDelay:    5 * time.Second,
		RestoreDelay:     8 * time.Second,
		CommandDelay:     100 * time.Millisecond,
		DiscoveryTimeout: 3 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	setDur := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setDur(&o.Timeout, d.Timeout)
	setDur(&o.ConnectBaseDelay, d.ConnectBaseDelay)
	setDur(&o.PollInterval, d.PollInterval)
	setDur(&o.RetryDelay, d.RetryDelay)
	setDur(&o.TriggerWait, d.TriggerWait)
	setDur(&o.SettleDelay, d.SettleDelay)
	setDur(&o.ResetDelay, d.ResetDelay)
	setDur(&o.TransferDelay, d.TransferDelay)
	setDur(&o.RestoreDelay, d.RestoreDelay)
	setDur(&o.CommandDelay, d.CommandDelay)
	setDur(&o.DiscoveryTimeout, d.DiscoveryTimeout)
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = d.ConnectAttempts
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	return o
}

// Scope is one instrument session.
type Scope struct {
	t    transport.Transport
	opts Options
	log  logging.Logger
}

// New wraps an already open transport.
func New(t transport.Transport, opts Options) *Scope {
	opts = opts.withDefaults()
	t.SetTimeout(opts.Timeout)
	return &Scope{
		t:    t,
		opts: opts,
		log:  opts.Logger.With(logging.F("subsystem", "scope")),
	}
}

// Seams for tests.
var (
	openTransport = func(ctx context.Context, resource string, timeout time.Duration) (transport.Transport, error) {
		return transport.Open(ctx, resource, timeout)
	}
	listLocal   = transport.List
	discoverLAN = mdns.Discover
)

// Open connects to resource. An empty resource selects the first
// instrument found on USB, then on the LAN.
func Open(ctx context.Context, resource string, opts Options) (*Scope, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(logging.F("subsystem", "scope"))

	if resource == "" {
		found, err := FindInstrument(ctx, opts)
		if err != nil {
			return nil, err
		}
		resource = found
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.ConnectBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = opts.ConnectBaseDelay << uint(opts.ConnectAttempts)
	b.MaxElapsedTime = 0
	var retries backoff.BackOff = &backoff.StopBackOff{}
	if opts.ConnectAttempts > 1 {
		// WithMaxRetries treats zero as unlimited.
		retries = backoff.WithMaxRetries(b, uint64(opts.ConnectAttempts-1))
	}
	policy := backoff.WithContext(retries, ctx)

	var t transport.Transport
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		conn, err := openTransport(ctx, resource, opts.Timeout)
		if err != nil {
			log.Warn("open failed", logging.F("resource", resource), logging.F("attempt", attempt), logging.F("error", err))
			return err
		}
		t = conn
		return nil
	}, policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrConnectionFailed, resource, attempt, err)
	}
	log.Info("connected", logging.F("resource", resource))
	return New(t, opts), nil
}

// FindInstrument returns the resource string of the first reachable
// instrument: USB devices first, then LAN instruments advertised over mDNS.
func FindInstrument(ctx context.Context, opts Options) (string, error) {
	opts = opts.withDefaults()
	local, err := listLocal(ctx)
	if err != nil {
		opts.Logger.Debug("local enumeration incomplete", logging.F("error", err))
	}
	for _, r := range local {
		if strings.HasPrefix(r, string(transport.FamilyUSB)) || strings.HasPrefix(r, string(transport.FamilyTCP)) {
			return r, nil
		}
	}
	hosts, err := discoverLAN(ctx, opts.DiscoveryTimeout, opts.DiscoveryServices...)
	if err != nil {
		opts.Logger.Debug("mdns discovery failed", logging.F("error", err))
	}
	if len(hosts) > 0 {
		return hosts[0].Resource(), nil
	}
	return "", ErrNoInstrumentFound
}

// Close releases the transport.
func (s *Scope) Close() error {
	s.log.Debug("closing session")
	return s.t.Close()
}

// Transport exposes the underlying transport.
func (s *Scope) Transport() transport.Transport { return s.t }

// ---------- Command helpers ----------

func (s *Scope) write(ctx context.Context, cmd string) error {
	s.log.Debug("write", logging.F("cmd", cmd))
	if err := s.t.Write(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func (s *Scope) query(ctx context.Context, cmd string) (string, error) {
	reply, err := s.t.Query(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	s.log.Debug("query", logging.F("cmd", cmd), logging.F("reply", reply))
	return reply, nil
}

func (s *Scope) queryFloat(ctx context.Context, cmd string) (float64, error) {
	reply, err := s.query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := ParseAs(reply, KindFloat)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	return v.Float, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get queries datum, appending "?" when missing, and infers the reply type.
func (s *Scope) Get(ctx context.Context, datum string) (Value, error) {
	if !strings.Contains(datum, "?") {
		datum += "?"
	}
	if err := sleep(ctx, s.opts.CommandDelay); err != nil {
		return Value{}, err
	}
	reply, err := s.query(ctx, datum)
	if err != nil {
		return Value{}, err
	}
	if err := sleep(ctx, s.opts.CommandDelay); err != nil {
		return Value{}, err
	}
	return ParseReply(reply), nil
}

// Identity is the parsed *IDN? reply.
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

func (id Identity) String() string {
	return strings.Join([]string{id.Manufacturer, id.Model, id.Serial, id.Firmware}, ",")
}

// Identify waits for the instrument to settle and reads *IDN?.
func (s *Scope) Identify(ctx context.Context) (Identity, error) {
	if _, err := s.Wait(ctx, 0); err != nil {
		return Identity{}, err
	}
	if err := s.write(ctx, "*IDN?"); err != nil {
		return Identity{}, err
	}
	raw, err := s.t.ReadRaw(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("*IDN?: %w", err)
	}
	line := firstLine(string(raw))
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return Identity{}, &ProtocolError{Op: "*IDN?", Got: line}
	}
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	id := Identity{
		Manufacturer: strings.TrimSpace(parts[0]),
		Model:        strings.TrimSpace(parts[1]),
		Serial:       strings.TrimSpace(parts[2]),
		Firmware:     strings.TrimSpace(strings.Join(parts[3:], ",")),
	}
	s.log.Info("instrument identified", logging.F("model", id.Model), logging.F("serial", id.Serial))
	return id, nil
}
