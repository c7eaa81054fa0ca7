package meshlink

import "github.com/opd-ai/meshlink/transport"

// PeerDescriptor describes a remote endpoint's candidate addresses. It is
// supplied by mesh membership and never modified here.
type PeerDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PublicIP    string `json:"publicIp"`
	PublicPort  uint16 `json:"publicPort"`
	PrivateIP   string `json:"privateIp"`
	PrivatePort uint16 `json:"privatePort"`
}

// PublicAddress returns the peer's public candidate.
func (p PeerDescriptor) PublicAddress() transport.Address {
	return transport.Address{IP: p.PublicIP, Port: p.PublicPort}
}

// PrivateAddress returns the peer's private candidate.
func (p PeerDescriptor) PrivateAddress() transport.Address {
	return transport.Address{IP: p.PrivateIP, Port: p.PrivatePort}
}

// ResolvedPath is the outcome of a successful connectivity attempt, handed to
// the encrypted transport's dial step.
type ResolvedPath struct {
	Address transport.Address `json:"address"`
	// IsDirect is true for loopback and same-subnet paths, false for paths
	// opened by hole punching.
	IsDirect bool `json:"isDirect"`
}

// String returns the path's address as "ip:port".
func (r *ResolvedPath) String() string {
	return r.Address.String()
}

// ConnectionInfo is the self-description advertised to peers.
type ConnectionInfo struct {
	PublicIP    string `json:"publicIp"`
	PublicPort  uint16 `json:"publicPort"`
	PrivateIP   string `json:"privateIp"`
	PrivatePort uint16 `json:"privatePort"`
}
