package meshlink

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/meshlink/cache"
	"github.com/opd-ai/meshlink/metrics"
	"github.com/opd-ai/meshlink/transport"
)

const (
	// DefaultP2PPort is the fixed port peers punch and connect toward.
	DefaultP2PPort = 17778
	// DefaultConnectTimeout bounds one TryP2PConnection call.
	DefaultConnectTimeout = 10 * time.Second
)

// Options contains configuration for a Manager.
type Options struct {
	// STUNServers is an ordered list of "host" or "host:port" entries.
	STUNServers []string
	// P2PPort is the advertised listening port. It is validated when the
	// listener is started.
	P2PPort int
	// LocalIP overrides any detected local IP.
	LocalIP string
	// PunchLocalPort binds the public punch association when non-zero.
	PunchLocalPort uint16

	STUNTimeout    time.Duration
	PunchTimeout   time.Duration
	PunchInterval  time.Duration
	PunchAttempts  int
	ProbeTimeout   time.Duration
	ConnectTimeout time.Duration
	CacheStaleness time.Duration
	CacheCapacity  int

	// TLSConfig secures the inbound listener. Nil serves plain HTTP.
	TLSConfig *tls.Config

	// Dialer opens UDP associations. Nil selects transport.UDPDialer.
	Dialer transport.Dialer
	// Clock drives cache staleness, probe latency and punch timing.
	Clock clock.Clock
	// Metrics receives instrumentation. Nil disables it.
	Metrics *metrics.Collector

	// Listen and ListenPacket open the inbound sockets. Nil selects
	// net.Listen and net.ListenPacket.
	Listen       func(network, address string) (net.Listener, error)
	ListenPacket func(network, address string) (net.PacketConn, error)
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		STUNServers:    append([]string(nil), transport.DefaultSTUNServers...),
		P2PPort:        DefaultP2PPort,
		STUNTimeout:    transport.DefaultSTUNTimeout,
		PunchTimeout:   transport.DefaultPunchTimeout,
		PunchInterval:  transport.DefaultPunchInterval,
		PunchAttempts:  transport.DefaultPunchAttempts,
		ProbeTimeout:   transport.DefaultProbeTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		CacheStaleness: cache.DefaultStaleness,
		CacheCapacity:  cache.DefaultCapacity,
	}
}
