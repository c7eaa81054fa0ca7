package transport

import (
	"net"
	"strings"
)

// Topology describes where a peer sits relative to us.
type Topology uint8

const (
	// TopologyRemote means the peer is on another network and needs hole punching.
	TopologyRemote Topology = iota
	// TopologyLoopback means both endpoints run on the same host.
	TopologyLoopback
	// TopologySameSubnet means both endpoints share a /24 IPv4 subnet.
	TopologySameSubnet
)

func (t Topology) String() string {
	switch t {
	case TopologyLoopback:
		return "loopback"
	case TopologySameSubnet:
		return "same_subnet"
	default:
		return "remote"
	}
}

// ClassifyTopology compares our private IP with the peer's private IP.
func ClassifyTopology(localIP, peerIP string) Topology {
	if IsLoopback(localIP) && IsLoopback(peerIP) {
		return TopologyLoopback
	}
	if IsSameSubnet(localIP, peerIP) {
		return TopologySameSubnet
	}
	return TopologyRemote
}

// IsLoopback reports whether ip names the local host.
func IsLoopback(ip string) bool {
	if ip == "localhost" || strings.HasPrefix(ip, "127.") {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// IsSameSubnet reports whether two dotted IPv4 addresses share their first
// three octets.
func IsSameSubnet(a, b string) bool {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	if len(pa) != 4 || len(pb) != 4 {
		return false
	}
	return pa[0] == pb[0] && pa[1] == pb[1] && pa[2] == pb[2]
}
