// Package meshlink establishes direct peer-to-peer paths between mesh
// endpoints that are otherwise reachable only through a relay hub.
//
// A Manager resolves its own addresses (public via STUN, private from
// configuration), classifies where a peer sits relative to it, and picks a
// strategy:
//
//   - loopback or same /24 subnet: the peer's private address is used
//     directly, without any socket I/O
//   - different networks: simultaneous UDP hole punching toward the peer's
//     public and private candidates
//
// Resolved paths are cached per peer for five minutes. Callers hand the
// returned address to the encrypted transport; when TryP2PConnection returns
// nil they fall back to the relay.
//
// # Getting Started
//
//	options := meshlink.NewOptions()
//	options.STUNServers = []string{"stun.l.google.com:19302"}
//
//	manager, err := meshlink.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Close()
//
//	// Advertise ourselves through mesh membership.
//	info, err := manager.GetConnectionInfo(ctx)
//
//	// Accept unsolicited peer connections.
//	manager.StartP2PListener(handler)
//
//	// Try to reach a peer directly.
//	if path := manager.TryP2PConnection(ctx, peer); path != nil {
//	    dial(path.String())
//	}
//
// # Configuration
//
// Config loads the same settings from YAML, with LOCAL_IP, P2P_PORT,
// STUN_SERVERS and LOG_LEVEL environment overrides:
//
//	p2p:
//	  stun_servers: ["stun.l.google.com", "stun1.l.google.com:19302"]
//	  port: 17778
//	  punch_timeout: 10s
//	cache:
//	  staleness: 5m
//	log:
//	  level: info
//	  format: json
//
// # Testing
//
// Options.Dialer accepts transport.MockDialer, which scripts STUN replies
// and punch acknowledgements per remote address and counts every datagram.
package meshlink
