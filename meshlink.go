package meshlink

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/meshlink/cache"
	"github.com/opd-ai/meshlink/metrics"
	"github.com/opd-ai/meshlink/transport"
	"github.com/sirupsen/logrus"
)

// Manager establishes peer-to-peer paths: it classifies the topology toward
// a peer, picks a direct path or hole punching, and caches the outcome.
type Manager struct {
	options   *Options
	discovery *transport.Discovery
	puncher   *transport.HolePuncher
	prober    *transport.Prober
	cache     *cache.ConnectionCache
	metrics   *metrics.Collector

	listenMu  sync.Mutex
	listening bool
	server    *http.Server
	responder *transport.Responder
}

// New creates a Manager. A malformed STUN server entry fails here rather than
// during a connection attempt.
func New(options *Options) (*Manager, error) {
	if options == nil {
		options = NewOptions()
	}
	opts := *options
	applyOptionDefaults(&opts)

	stunClient, err := transport.NewSTUNClient(opts.STUNServers, opts.Dialer)
	if err != nil {
		return nil, fmt.Errorf("invalid STUN configuration: %w", err)
	}
	stunClient.SetTimeout(opts.STUNTimeout)
	stunClient.SetRecorder(opts.Metrics)

	puncher := transport.NewHolePuncher(opts.Dialer)
	puncher.SetClock(opts.Clock)
	puncher.SetTimeout(opts.PunchTimeout)
	puncher.SetInterval(opts.PunchInterval)
	puncher.SetMaxAttempts(opts.PunchAttempts)
	puncher.SetRecorder(opts.Metrics)

	prober := transport.NewProber(opts.Dialer)
	prober.SetClock(opts.Clock)
	prober.SetTimeout(opts.ProbeTimeout)
	prober.SetRecorder(opts.Metrics)

	connCache, err := cache.New(opts.CacheCapacity, opts.CacheStaleness, opts.Clock)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		options:   &opts,
		discovery: transport.NewDiscovery(stunClient, portOrZero(opts.P2PPort), opts.LocalIP),
		puncher:   puncher,
		prober:    prober,
		cache:     connCache,
		metrics:   opts.Metrics,
	}

	servers := make([]string, 0, len(stunClient.Servers()))
	for _, s := range stunClient.Servers() {
		servers = append(servers, s.String())
	}
	logrus.WithFields(logrus.Fields{
		"function":     "New",
		"stun_servers": strings.Join(servers, ", "),
		"p2p_port":     opts.P2PPort,
	}).Info("P2P manager initialized")

	return m, nil
}

func applyOptionDefaults(opts *Options) {
	defaults := NewOptions()
	if len(opts.STUNServers) == 0 {
		opts.STUNServers = defaults.STUNServers
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.NewUDPDialer()
	}
	if opts.Listen == nil {
		opts.Listen = net.Listen
	}
	if opts.ListenPacket == nil {
		opts.ListenPacket = net.ListenPacket
	}
}

func portOrZero(port int) uint16 {
	if port <= 0 || port > 65535 {
		return 0
	}
	return uint16(port)
}

// DiscoverPublicAddress returns our memoized public address, querying STUN on
// first use.
func (m *Manager) DiscoverPublicAddress(ctx context.Context) (transport.Address, error) {
	return m.discovery.DiscoverPublicAddress(ctx)
}

// SetLocalIP records an externally detected local IP and invalidates the
// memoized private and public addresses. The next remote connection attempt,
// or GetConnectionInfo call, repeats the STUN sweep.
func (m *Manager) SetLocalIP(ip string) {
	m.discovery.SetLocalIP(ip)
}

// GetConnectionInfo returns the addresses to advertise to peers. The public
// port is always the configured P2P port, never the ephemeral port seen by
// the STUN server, so peers punch toward the fixed listening port.
func (m *Manager) GetConnectionInfo(ctx context.Context) (*ConnectionInfo, error) {
	public, err := m.discovery.DiscoverPublicAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover public address: %w", err)
	}
	private := m.discovery.PrivateAddress()

	logrus.WithFields(logrus.Fields{
		"function": "GetConnectionInfo",
		"public":   public.String(),
		"private":  private.String(),
	}).Debug("Resolved own addresses")

	if public.IP == "" {
		return nil, ErrNoPublicAddress
	}
	if private.IP == "" || private.Port == 0 {
		return nil, ErrNoPrivateAddress
	}

	return &ConnectionInfo{
		PublicIP:    public.IP,
		PublicPort:  m.discovery.ListenPort(),
		PrivateIP:   private.IP,
		PrivatePort: private.Port,
	}, nil
}

type resolution struct {
	path     *ResolvedPath
	strategy string
	err      error
}

// TryP2PConnection resolves a path to peer. It returns nil when no path
// could be established in time; the caller is expected to fall back to the
// relay.
func (m *Manager) TryP2PConnection(ctx context.Context, peer PeerDescriptor) *ResolvedPath {
	logger := logrus.WithFields(logrus.Fields{
		"function":  "TryP2PConnection",
		"peer_id":   peer.ID,
		"peer_name": peer.Name,
	})

	if peer.ID == "" {
		logger.WithError(ErrInvalidPeer).Error("P2P connection failed")
		return nil
	}

	logger.Info("Attempting P2P connection")

	if path := m.GetP2PConnection(peer.ID); path != nil {
		logger.WithField("address", path.String()).Debug("Reusing cached P2P connection")
		m.metrics.Connection("cache", true)
		return path
	}

	ctx, cancel := context.WithTimeout(ctx, m.options.ConnectTimeout)
	defer cancel()

	done := make(chan resolution, 1)
	go func() {
		done <- m.resolve(ctx, peer)
	}()

	select {
	case r := <-done:
		if r.err != nil {
			logger.WithFields(logrus.Fields{
				"strategy": r.strategy,
				"error":    r.err.Error(),
			}).Error("P2P connection failed")
			m.metrics.Connection(r.strategy, false)
			return nil
		}

		m.cache.Put(peer.ID, r.path.Address, r.path.IsDirect)
		m.metrics.Connection(r.strategy, true)
		logger.WithFields(logrus.Fields{
			"strategy":  r.strategy,
			"address":   r.path.String(),
			"is_direct": r.path.IsDirect,
		}).Info("P2P connection established")
		return r.path

	case <-ctx.Done():
		logger.WithField("timeout", m.options.ConnectTimeout.String()).Warn("P2P connection timed out")
		m.metrics.Connection("timeout", false)
		return nil
	}
}

// resolve runs the strategy for peer's topology. Direct paths are computed
// from the peer's private address without any socket I/O.
func (m *Manager) resolve(ctx context.Context, peer PeerDescriptor) resolution {
	private := m.discovery.PrivateAddress()
	topology := transport.ClassifyTopology(private.IP, peer.PrivateIP)

	logger := logrus.WithFields(logrus.Fields{
		"function": "resolve",
		"peer_id":  peer.ID,
		"topology": topology.String(),
	})

	switch topology {
	case transport.TopologyLoopback, transport.TopologySameSubnet:
		logger.Info("Using direct connection to peer private address")
		return resolution{
			path:     &ResolvedPath{Address: peer.PrivateAddress(), IsDirect: true},
			strategy: topology.String(),
		}
	}

	strategy := "hole_punch"

	public, err := m.discovery.DiscoverPublicAddress(ctx)
	if err != nil {
		return resolution{strategy: strategy, err: fmt.Errorf("failed to discover public address: %w", err)}
	}

	logger.WithFields(logrus.Fields{
		"our_public":   public.String(),
		"our_private":  private.String(),
		"peer_public":  peer.PublicAddress().String(),
		"peer_private": peer.PrivateAddress().String(),
	}).Info("Endpoints on different networks, using UDP hole punching")

	attempt, err := m.puncher.Establish(ctx, peer.PublicAddress(), peer.PrivateAddress(), m.options.PunchLocalPort)
	if err != nil {
		return resolution{strategy: strategy, err: err}
	}

	return resolution{
		path:     &ResolvedPath{Address: attempt.RemoteAddr, IsDirect: false},
		strategy: strategy,
	}
}

// GetP2PConnection returns the cached path to peerID without network access.
// Entries older than the staleness window are evicted and reported as nil.
func (m *Manager) GetP2PConnection(peerID string) *ResolvedPath {
	entry, ok := m.cache.Get(peerID)
	m.metrics.CacheLookup(ok)
	if !ok {
		return nil
	}
	return &ResolvedPath{Address: entry.Address, IsDirect: entry.IsDirect}
}

// TestP2PConnection probes the cached path to peerID. An unreachable path is
// evicted immediately.
func (m *Manager) TestP2PConnection(ctx context.Context, peerID string) bool {
	entry, ok := m.cache.Get(peerID)
	if !ok {
		return false
	}

	result := m.prober.TestConnectivity(ctx, entry.Address)
	if !result.Reachable {
		m.cache.Delete(peerID)
		logrus.WithFields(logrus.Fields{
			"function": "TestP2PConnection",
			"peer_id":  peerID,
			"address":  entry.Address.String(),
		}).Info("P2P connection is dead, removing")
		return false
	}
	return true
}

// Close stops the inbound listener and responder, if running.
func (m *Manager) Close() error {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()

	var firstErr error
	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
		cancel()
		m.server = nil
	}
	if m.responder != nil {
		if err := m.responder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.responder = nil
	}
	m.listening = false
	return firstErr
}
