package transport

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// LoopbackIP is the private address fallback when no local IP is known.
const LoopbackIP = "127.0.0.1"

// PublicAddressSource resolves the caller's public address. STUNClient
// implements it.
type PublicAddressSource interface {
	DiscoverPublicAddress(ctx context.Context) (Address, error)
}

// Discovery memoizes our own public and private addresses. One Discovery is
// shared by everything that needs to know where this agent is reachable.
type Discovery struct {
	source     PublicAddressSource
	listenPort uint16
	overrideIP string // environment-style override, takes precedence

	mu         sync.Mutex
	public     *Address
	private    *Address
	detectedIP string

	group singleflight.Group
}

// NewDiscovery returns a Discovery that asks source for the public address
// and pairs the private IP with listenPort. overrideIP, when set, always wins
// over IPs reported through SetLocalIP.
func NewDiscovery(source PublicAddressSource, listenPort uint16, overrideIP string) *Discovery {
	return &Discovery{
		source:     source,
		listenPort: listenPort,
		overrideIP: overrideIP,
	}
}

// DiscoverPublicAddress returns the memoized public address, running one
// discovery sweep on first use. Concurrent first callers share a sweep; the
// sweep is detached from their contexts and bounded by the per-server STUN
// timeout, while each caller stops waiting when its own ctx is done.
// Failures are not memoized.
func (d *Discovery) DiscoverPublicAddress(ctx context.Context) (Address, error) {
	d.mu.Lock()
	if d.public != nil {
		addr := *d.public
		d.mu.Unlock()
		return addr, nil
	}
	d.mu.Unlock()

	sweepCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan("public", func() (interface{}, error) {
		d.mu.Lock()
		if d.public != nil {
			addr := *d.public
			d.mu.Unlock()
			return addr, nil
		}
		d.mu.Unlock()

		addr, err := d.source.DiscoverPublicAddress(sweepCtx)
		if err != nil {
			return Address{}, err
		}
		d.mu.Lock()
		d.public = &addr
		d.mu.Unlock()
		return addr, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Address{}, res.Err
		}
		return res.Val.(Address), nil
	case <-ctx.Done():
		return Address{}, ctx.Err()
	}
}

// PrivateAddress returns our private address. It never fails: without an
// override or a detected IP it falls back to loopback.
func (d *Discovery) PrivateAddress() Address {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.private != nil {
		return *d.private
	}

	ip := LoopbackIP
	switch {
	case d.overrideIP != "":
		ip = d.overrideIP
	case d.detectedIP != "":
		ip = d.detectedIP
	}

	d.private = &Address{IP: ip, Port: d.listenPort}
	return *d.private
}

// SetLocalIP records an externally detected local IP and invalidates both
// memoized addresses, so the next public lookup repeats the STUN sweep. Empty
// and unspecified IPs are ignored.
func (d *Discovery) SetLocalIP(ip string) bool {
	if ip == "" || ip == "0.0.0.0" || ip == "::" {
		return false
	}

	d.mu.Lock()
	d.detectedIP = ip
	d.private = nil
	d.public = nil
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"component": "Discovery",
		"local_ip":  ip,
	}).Info("Detected local IP for P2P")
	return true
}

// ListenPort returns the port paired with the private IP.
func (d *Discovery) ListenPort() uint16 {
	return d.listenPort
}
