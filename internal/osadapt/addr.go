package osadapt

import (
	"fmt"
	"net"
)

// Family identifies the address family of a Sockaddr. Only the families
// named in scope (§1 Non-goals) are supported; anything else is a
// programming error, not a runtime condition.
type Family int

const (
	AFInet Family = iota
	AFInet6
)

// Sockaddr is the parsed form of a socket address, covering IPv4 and IPv6
// only -- the two families this adaptation layer supports end to end.
type Sockaddr struct {
	Family Family
	IP     net.IP
	Port   int
}

// IsAny reports whether this is the wildcard ("any") address for its
// family, used by the datagram endpoint's auto-bind policy.
func (s Sockaddr) IsAny() bool {
	switch s.Family {
	case AFInet:
		return s.IP.Equal(net.IPv4zero)
	case AFInet6:
		return s.IP.Equal(net.IPv6unspecified)
	}
	return false
}

// AnyAddr returns the wildcard address for the given family, port 0.
func AnyAddr(family Family) Sockaddr {
	switch family {
	case AFInet:
		return Sockaddr{Family: AFInet, IP: net.IPv4zero}
	case AFInet6:
		return Sockaddr{Family: AFInet6, IP: net.IPv6unspecified}
	}
	panic(fmt.Sprintf("osadapt: unsupported address family %v", family))
}

// ParseSockaddr converts a printable "host:port" (or "[ipv6]:port") string
// into a Sockaddr. Any family other than IPv4/IPv6 is an assertion
// failure in the source design; here it surfaces as an error instead,
// since Go has no direct analogue to a debug assert that is always
// compiled in.
func ParseSockaddr(hostport string) (Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Sockaddr{}, fmt.Errorf("osadapt: invalid address %q: %w", hostport, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Sockaddr{}, fmt.Errorf("osadapt: invalid IP %q", host)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Sockaddr{}, fmt.Errorf("osadapt: invalid port %q", portStr)
	}
	family := AFInet
	if ip.To4() == nil {
		family = AFInet6
	}
	return Sockaddr{Family: family, IP: ip, Port: port}, nil
}

// String renders the Sockaddr the way net.JoinHostPort would.
func (s Sockaddr) String() string {
	return net.JoinHostPort(s.IP.String(), fmt.Sprintf("%d", s.Port))
}

// ToUDPAddr / ToTCPAddr convert to the standard library's representations,
// the boundary at which this package hands off to net.Dial/net.ListenUDP.
func (s Sockaddr) ToUDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: s.IP, Port: s.Port}
}

func (s Sockaddr) ToTCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: s.IP, Port: s.Port}
}
