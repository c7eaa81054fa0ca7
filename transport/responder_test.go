package transport

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestResponder(t *testing.T) (*Responder, Address) {
	t.Helper()
	r, err := ListenResponder("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, AddressFromUDP(r.LocalAddr().(*net.UDPAddr))
}

func TestReplyFor(t *testing.T) {
	assert.Equal(t, ProbeAckMarker, replyFor([]byte("PING")))
	assert.Equal(t, PunchAckMarker, replyFor([]byte("PUNCH")))
	assert.Equal(t, PunchAckMarker, replyFor([]byte("PUNCH\n")))
	assert.Nil(t, replyFor([]byte("PUNCH_ACK")))
	assert.Nil(t, replyFor([]byte("PONG")))
	assert.Nil(t, replyFor(nil))
}

func TestResponder_AnswersProbeOverUDP(t *testing.T) {
	_, addr := startTestResponder(t)

	prober := NewProber(NewUDPDialer())
	prober.SetTimeout(2 * time.Second)

	result := prober.TestConnectivity(context.Background(), addr)
	assert.True(t, result.Reachable)
	assert.Zero(t, result.PacketLoss)
}

func TestResponder_AnswersPunchOverUDP(t *testing.T) {
	_, addr := startTestResponder(t)

	hp := NewHolePuncher(NewUDPDialer())
	hp.SetInterval(20 * time.Millisecond)
	hp.SetTimeout(2 * time.Second)

	attempt, err := hp.Establish(context.Background(), addr, Address{}, 0)
	require.NoError(t, err)
	assert.Equal(t, addr, attempt.RemoteAddr)
}

func TestResponder_CloseIsIdempotent(t *testing.T) {
	r, err := ListenResponder("127.0.0.1:0")
	require.NoError(t, err)

	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}

func TestListenResponder_InvalidAddress(t *testing.T) {
	_, err := ListenResponder("256.0.0.1:99999")
	assert.Error(t, err)
}

// countingPacketConn counts datagrams written through it.
type countingPacketConn struct {
	net.PacketConn
	writes atomic.Int64
}

func (c *countingPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.writes.Add(1)
	return c.PacketConn.WriteTo(b, addr)
}

func listenCounting(t *testing.T) *countingPacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	return &countingPacketConn{PacketConn: pc}
}

func TestResponder_PeersDoNotFeedEachOther(t *testing.T) {
	connA := listenCounting(t)
	connB := listenCounting(t)

	a := NewResponder(connA)
	t.Cleanup(func() { a.Close() })
	b := NewResponder(connB)
	t.Cleanup(func() { b.Close() })

	// A single punch from B's port toward A's port.
	_, err := connB.PacketConn.WriteTo(PunchMarker, connA.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return connA.writes.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, int64(1), connA.writes.Load(), "A acknowledges the punch once")
	assert.Equal(t, int64(0), connB.writes.Load(), "B never answers an acknowledgement")
}
