package transport

import (
	"context"
	"time"
)

// PacketConn is one connected UDP association. A *net.UDPConn returned by
// net.Dial satisfies it.
type PacketConn interface {
	// Read blocks until a datagram arrives, the read deadline passes or the
	// association is closed.
	Read(b []byte) (int, error)

	// Write sends one datagram to the remote end.
	Write(b []byte) (int, error)

	// SetReadDeadline bounds the next Read calls.
	SetReadDeadline(t time.Time) error

	// Close disposes the association and unblocks pending reads.
	Close() error
}

// Dialer opens UDP associations toward remote endpoints.
type Dialer interface {
	// DialUDP opens an association to remote. When localPort is non-zero the
	// association is bound to that local port.
	DialUDP(ctx context.Context, remote Address, localPort uint16) (PacketConn, error)
}

// Recorder receives connectivity events for instrumentation.
// metrics.Collector implements it.
type Recorder interface {
	STUNQuery(server string, ok bool)
	PunchRound()
	PunchResult(ok bool, attempts int)
	Probe(reachable bool, latency time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) STUNQuery(string, bool) {}
func (nopRecorder) PunchRound() {}
func (nopRecorder) PunchResult(bool, int) {}
func (nopRecorder) Probe(bool, time.Duration) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
