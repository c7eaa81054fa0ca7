// Package transport implements the connectivity-establishment primitives of a
// mesh agent: public address discovery over STUN, liveness probing, and UDP
// hole punching between endpoints that sit behind independent NATs.
//
// # Architecture
//
// All socket I/O goes through the Dialer interface, which opens one connected
// UDP association per attempt:
//
//	type Dialer interface {
//	    DialUDP(ctx context.Context, remote Address, localPort uint16) (PacketConn, error)
//	}
//
// UDPDialer is the production implementation. MockDialer scripts replies per
// remote address and counts datagrams, so the higher layers can be tested
// without touching the network.
//
// # Address Discovery
//
//	client, err := NewSTUNClient([]string{"stun.l.google.com", "stun.example.org:3479"}, dialer)
//	discovery := NewDiscovery(client, 17778, "")
//	public, err := discovery.DiscoverPublicAddress(ctx)
//	private := discovery.PrivateAddress()
//
// Servers are consulted in order with a per-server timeout. The first usable
// reply is memoized for the lifetime of the Discovery.
//
// # Hole Punching
//
//	puncher := NewHolePuncher(dialer)
//	result, err := puncher.Establish(ctx, peerPublic, peerPrivate, 0)
//
// One association is opened toward each candidate address before the first
// PUNCH datagram is sent. The candidate that acknowledges first wins; the
// sender loop stops after MaxAttempts rounds and the whole attempt is bounded
// by a single timeout.
//
// # Liveness
//
//	prober := NewProber(dialer)
//	result := prober.TestConnectivity(ctx, addr)
//
// A probe never fails: a missing PONG is reported as Reachable=false with
// PacketLoss=1.
//
// # Wire Markers
//
// The punch and probe "protocols" are fixed ASCII markers carried in UDP
// datagrams (PUNCH, PUNCH_ACK, PING, PONG). Responder answers PUNCH and PING
// on an agent's advertised port and never answers an acknowledgement.
package transport
