package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Family identifies how a resource is reached.
type Family string

const (
	FamilyTCP    Family = "TCPIP"
	FamilySerial Family = "ASRL"
	FamilyUSB    Family = "USB"
)

const (
	// DefaultSocketPort is the raw SCPI socket of the DS1000Z.
	DefaultSocketPort = 5555
	DefaultBaudRate   = 115200
)

// Resource is a parsed instrument address.
type Resource struct {
	Family Family

	// TCPIP
	Host string
	Port int

	// ASRL
	Path string
	Baud int

	// USB
	VendorID  uint16
	ProductID uint16
	Serial    string
}

// String renders the canonical VISA-style form.
func (r Resource) String() string {
	switch r.Family {
	case FamilyTCP:
		return fmt.Sprintf("TCPIP0::%s::%d::SOCKET", r.Host, r.Port)
	case FamilySerial:
		return fmt.Sprintf("ASRL%s::INSTR", r.Path)
	case FamilyUSB:
		return fmt.Sprintf("USB0::0x%04X::0x%04X::%s::INSTR", r.VendorID, r.ProductID, r.Serial)
	default:
		return string(r.Family)
	}
}

// Address returns host:port for TCPIP resources.
func (r Resource) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// ParseResource understands the VISA resource strings an oscilloscope
// user is likely to paste plus a few URL shorthands:
//
//	TCPIP0::192.168.1.50::5555::SOCKET
//	TCPIP::scope.local::SOCKET
//	192.168.1.50:5555, tcp://scope.local:5555
//	ASRL/dev/ttyUSB0::INSTR, serial:///dev/ttyUSB0?baud=9600
//	USB0::0x1AB1::0x04CE::DS1ZA000000001::INSTR
func ParseResource(s string) (Resource, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Resource{}, fmt.Errorf("%w: empty resource", ErrUnsupportedResource)
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "tcp://"):
		return parseHostPort(s[len("tcp://"):], s)
	case strings.HasPrefix(lower, "serial://"):
		return parseSerialURL(s)
	case strings.Contains(s, "::"):
		return parseVISA(s)
	}
	if _, _, err := net.SplitHostPort(s); err == nil {
		return parseHostPort(s, s)
	}
	return Resource{}, fmt.Errorf("%w: %q", ErrUnsupportedResource, s)
}

func parseHostPort(hostport, orig string) (Resource, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		host, portStr = hostport, ""
	}
	if host == "" {
		return Resource{}, fmt.Errorf("%w: missing host in %q", ErrUnsupportedResource, orig)
	}
	port := DefaultSocketPort
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return Resource{}, fmt.Errorf("%w: bad port in %q", ErrUnsupportedResource, orig)
		}
	}
	return Resource{Family: FamilyTCP, Host: host, Port: port}, nil
}

func parseSerialURL(s string) (Resource, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %v", ErrUnsupportedResource, err)
	}
	path := u.Host + u.Path
	if path == "" {
		return Resource{}, fmt.Errorf("%w: missing serial device in %q", ErrUnsupportedResource, s)
	}
	baud := DefaultBaudRate
	if b := u.Query().Get("baud"); b != "" {
		baud, err = strconv.Atoi(b)
		if err != nil || baud <= 0 {
			return Resource{}, fmt.Errorf("%w: bad baud rate %q", ErrUnsupportedResource, b)
		}
	}
	return Resource{Family: FamilySerial, Path: path, Baud: baud}, nil
}

func parseVISA(s string) (Resource, error) {
	parts := strings.Split(s, "::")
	head := strings.ToUpper(parts[0])
	tail := strings.ToUpper(parts[len(parts)-1])

	switch {
	case strings.HasPrefix(head, "TCPIP"):
		if tail != "SOCKET" {
			return Resource{}, fmt.Errorf("%w: only raw ::SOCKET TCPIP resources are supported, got %q", ErrUnsupportedResource, s)
		}
		switch len(parts) {
		case 3:
			return parseHostPort(parts[1], s)
		case 4:
			return parseHostPort(net.JoinHostPort(parts[1], parts[2]), s)
		}
	case strings.HasPrefix(head, "ASRL"):
		path := parts[0][len("ASRL"):]
		if path == "" {
			break
		}
		if _, err := strconv.Atoi(path); err == nil {
			path = "COM" + path
		}
		return Resource{Family: FamilySerial, Path: path, Baud: DefaultBaudRate}, nil
	case strings.HasPrefix(head, "USB"):
		if len(parts) < 4 {
			break
		}
		vid, err := strconv.ParseUint(parts[1], 0, 16)
		if err != nil {
			return Resource{}, fmt.Errorf("%w: bad vendor id in %q", ErrUnsupportedResource, s)
		}
		pid, err := strconv.ParseUint(parts[2], 0, 16)
		if err != nil {
			return Resource{}, fmt.Errorf("%w: bad product id in %q", ErrUnsupportedResource, s)
		}
		serial := parts[3]
		if strings.EqualFold(serial, "INSTR") {
			serial = ""
		}
		return Resource{Family: FamilyUSB, VendorID: uint16(vid), ProductID: uint16(pid), Serial: serial}, nil
	}
	return Resource{}, fmt.Errorf("%w: %q", ErrUnsupportedResource, s)
}
