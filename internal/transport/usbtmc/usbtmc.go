// Package usbtmc registers a USB Test & Measurement Class driver with the
// transport package. Importing it for side effects makes USB0::...::INSTR
// resources openable and lets transport.List enumerate attached scopes.
package usbtmc

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/rjboer/GoScope/internal/transport"
)

const (
	// RigolVendorID and DS1000ZProductID identify the DS1054Z family.
	RigolVendorID    = 0x1AB1
	DS1000ZProductID = 0x04CE

	classApplication = gousb.Class(0xFE)
	subclassTMC      = gousb.Class(0x03)
)

func init() {
	transport.Register(transport.FamilyUSB, Open)
	transport.RegisterLister(List)
}

// Link is a claimed USBTMC interface.
type Link struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	done func()
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint

	mu            sync.Mutex
	tags          tagger
	pending       []byte
	readDeadline  time.Time
	writeDeadline time.Time
}

// tmcSetting locates the first USBTMC alternate setting of a device.
type tmcSetting struct {
	config, iface, alt int
}

func findTMC(desc *gousb.DeviceDesc) (tmcSetting, bool) {
	for cfgNum, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == classApplication && alt.SubClass == subclassTMC {
					return tmcSetting{config: cfgNum, iface: intf.Number, alt: alt.Alternate}, true
				}
			}
		}
	}
	return tmcSetting{}, false
}

func bulkEndpoints(s gousb.InterfaceSetting) (in, out int, err error) {
	in, out = -1, -1
	for _, ep := range s.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && in < 0 {
			in = ep.Number
		}
		if ep.Direction == gousb.EndpointDirectionOut && out < 0 {
			out = ep.Number
		}
	}
	if in < 0 || out < 0 {
		return 0, 0, fmt.Errorf("usbtmc: interface %d has no bulk endpoint pair", s.Number)
	}
	return in, out, nil
}

// Open claims the USBTMC interface of the device matching res.
func Open(_ context.Context, res transport.Resource, _ time.Duration) (transport.Link, error) {
	uctx := gousb.NewContext()
	devs, err := uctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) != res.VendorID || uint16(desc.Product) != res.ProductID {
			return false
		}
		_, ok := findTMC(desc)
		return ok
	})
	if err != nil && len(devs) == 0 {
		uctx.Close()
		return nil, fmt.Errorf("enumerate usb devices: %w", err)
	}

	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil && serialMatches(d, res.Serial) {
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		uctx.Close()
		return nil, fmt.Errorf("usbtmc: no device %s", res)
	}

	l, err := claim(uctx, dev)
	if err != nil {
		dev.Close()
		uctx.Close()
		return nil, err
	}
	return l, nil
}

func serialMatches(d *gousb.Device, want string) bool {
	if want == "" {
		return true
	}
	got, err := d.SerialNumber()
	return err == nil && got == want
}

func claim(uctx *gousb.Context, dev *gousb.Device) (*Link, error) {
	setting, ok := findTMC(dev.Desc)
	if !ok {
		return nil, fmt.Errorf("usbtmc: %s is not a test and measurement device", dev)
	}
	// The kernel usbtmc driver grabs the interface on Linux.
	_ = dev.SetAutoDetach(true)

	cfg, err := dev.Config(setting.config)
	if err != nil {
		return nil, fmt.Errorf("usbtmc: config %d: %w", setting.config, err)
	}
	intf, err := cfg.Interface(setting.iface, setting.alt)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("usbtmc: claim interface %d: %w", setting.iface, err)
	}
	done := func() {
		intf.Close()
		cfg.Close()
	}

	inNum, outNum, err := bulkEndpoints(intf.Setting)
	if err != nil {
		done()
		return nil, err
	}
	in, err := intf.InEndpoint(inNum)
	if err != nil {
		done()
		return nil, fmt.Errorf("usbtmc: bulk in endpoint: %w", err)
	}
	out, err := intf.OutEndpoint(outNum)
	if err != nil {
		done()
		return nil, fmt.Errorf("usbtmc: bulk out endpoint: %w", err)
	}
	return &Link{ctx: uctx, dev: dev, done: done, in: in, out: out}, nil
}

// List returns resource strings for every attached USBTMC device.
func List(_ context.Context) ([]string, error) {
	uctx := gousb.NewContext()
	defer uctx.Close()

	devs, err := uctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := findTMC(desc)
		return ok
	})
	var out []string
	for _, d := range devs {
		serial, _ := d.SerialNumber()
		res := transport.Resource{
			Family:    transport.FamilyUSB,
			VendorID:  uint16(d.Desc.Vendor),
			ProductID: uint16(d.Desc.Product),
			Serial:    serial,
		}
		out = append(out, res.String())
		d.Close()
	}
	if err != nil {
		return out, fmt.Errorf("usbtmc: enumerate: %w", err)
	}
	return out, nil
}

func (l *Link) opContext(deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}

// Write sends p as one device-dependent message.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, cancel := l.opContext(l.writeDeadline)
	defer cancel()
	msg := encodeOut(l.tags.next(), p)
	if _, err := l.out.WriteContext(ctx, msg); err != nil {
		return 0, deadlineErr(ctx, err)
	}
	return len(p), nil
}

// Read returns payload bytes, requesting a new transfer from the device
// whenever the previous one has been consumed.
func (l *Link) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		if err := l.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *Link) fill() error {
	ctx, cancel := l.opContext(l.readDeadline)
	defer cancel()

	tag := l.tags.next()
	if _, err := l.out.WriteContext(ctx, encodeRequestIn(tag, maxTransferLen)); err != nil {
		return deadlineErr(ctx, err)
	}

	buf := make([]byte, headerLen+maxTransferLen+transferAlign)
	got := 0
	want := -1
	for want < 0 || got < want {
		n, err := l.in.ReadContext(ctx, buf[got:])
		if err != nil {
			return deadlineErr(ctx, err)
		}
		got += n
		if want < 0 && got >= headerLen {
			h, err := parseInHeader(buf[:got], tag)
			if err != nil {
				return err
			}
			want = headerLen + h.size
		}
		if n == 0 {
			break
		}
	}
	if want < 0 || got < want {
		return fmt.Errorf("%w: short transfer", ErrBadHeader)
	}
	l.pending = buf[headerLen:want]
	return nil
}

func deadlineErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return os.ErrDeadlineExceeded
	}
	return err
}

func (l *Link) SetReadDeadline(t time.Time) error {
	l.mu.Lock()
	l.readDeadline = t
	l.mu.Unlock()
	return nil
}

func (l *Link) SetWriteDeadline(t time.Time) error {
	l.mu.Lock()
	l.writeDeadline = t
	l.mu.Unlock()
	return nil
}

func (l *Link) Close() error {
	l.done()
	err := l.dev.Close()
	if cerr := l.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}
