package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/rjboer/GoScope/internal/transport"
)

// Services advertised by LAN-connected SCPI instruments.
const (
	ServiceSCPIRaw = "_scpi-raw._tcp"
	ServiceLXI     = "_lxi._tcp"
)

// DefaultServices is what Discover browses when no service is named.
var DefaultServices = []string{ServiceSCPIRaw, ServiceLXI}

// Host represents a discovered instrument
type Host struct {
	Instance  string // Advertised name: "RIGOL DS1104Z Plus"
	Hostname  string // DNS hostname: "DS1ZA0000001.local."
	Service   string
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Resource returns the raw socket resource for the host. LXI records
// advertise the web port, so those fall back to the SCPI socket port.
func (h Host) Resource() string {
	port := h.Port
	if h.Service != ServiceSCPIRaw || port <= 0 {
		port = transport.DefaultSocketPort
	}
	host := strings.TrimSuffix(h.Hostname, ".")
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(h.Addresses) > 0 {
		host = h.Addresses[0].String()
	}
	return transport.Resource{Family: transport.FamilyTCP, Host: host, Port: port}.String()
}

// Discover performs a blocking mDNS browse of the given services for up
// to timeout. Hosts seen under several services are reported once,
// preferring the raw SCPI record.
func Discover(ctx context.Context, timeout time.Duration, services ...string) ([]Host, error) {
	if len(services) == 0 {
		services = DefaultServices
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		resultMap = make(map[string]Host)
		wg        sync.WaitGroup
	)
	for _, svc := range services {
		// A zeroconf resolver serves a single browse.
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("resolver error: %w", err)
		}
		entries := make(chan *zeroconf.ServiceEntry)

		wg.Add(1)
		go func(svc string) {
			defer wg.Done()
			for {
				select {
				case e, ok := <-entries:
					if !ok {
						return
					}
					if e == nil {
						continue
					}
					h := hostFromEntry(svc, e)
					key := strings.ToLower(h.Hostname)
					mu.Lock()
					if prev, seen := resultMap[key]; !seen || prev.Service != ServiceSCPIRaw {
						resultMap[key] = h
					}
					mu.Unlock()
				case <-ctx.Done():
					return
				}
			}
		}(svc)

		if err := resolver.Browse(ctx, svc, "local.", entries); err != nil {
			cancel()
			wg.Wait()
			return nil, fmt.Errorf("browse %s: %w", svc, err)
		}
	}

	wg.Wait()

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func hostFromEntry(svc string, e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Service:   svc,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
