package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultSTUNPort is used for STUN servers configured without a port.
const DefaultSTUNPort = 3478

// Address is a reachability endpoint. IP may hold a hostname when the address
// names a STUN server.
type Address struct {
	IP   string
	Port uint16
}

// String returns the address in host:port form, bracketing IPv6 literals.
func (a Address) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

// IsZero reports whether the address has neither an IP nor a port.
func (a Address) IsZero() bool {
	return a.IP == "" && a.Port == 0
}

// UDPAddr converts the address to a *net.UDPAddr. It returns nil when IP is
// not a literal address.
func (a Address) UDPAddr() *net.UDPAddr {
	ip := net.ParseIP(a.IP)
	if ip == nil {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: int(a.Port)}
}

// AddressFromUDP converts a UDP address into an Address.
func AddressFromUDP(addr *net.UDPAddr) Address {
	if addr == nil {
		return Address{}
	}
	ip := addr.IP
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return Address{IP: ip.String(), Port: uint16(addr.Port)}
}

// ParseAddress parses an "ip:port" string.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, s, err)
	}
	if host == "" {
		return Address{}, fmt.Errorf("%w %q: empty host", ErrInvalidAddress, s)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, s, err)
	}
	return Address{IP: host, Port: port}, nil
}

// ParseSTUNServer parses a "host" or "host:port" STUN server entry. A missing
// port defaults to DefaultSTUNPort.
func ParseSTUNServer(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty STUN server", ErrInvalidAddress)
	}

	// Bare hostnames and bare IPv6 literals carry no port.
	if !strings.Contains(s, ":") || (net.ParseIP(s) != nil && !strings.HasPrefix(s, "[")) {
		return Address{IP: s, Port: DefaultSTUNPort}, nil
	}

	return ParseAddress(s)
}

// ParseSTUNServers parses an ordered STUN server list, failing on the first
// malformed entry.
func ParseSTUNServers(servers []string) ([]Address, error) {
	parsed := make([]Address, 0, len(servers))
	for _, s := range servers {
		addr, err := ParseSTUNServer(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, addr)
	}
	return parsed, nil
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number", s)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return uint16(port), nil
}
