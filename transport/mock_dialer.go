package transport

import (
	"context"
	"net"
	"os"
	"sync"
	"time"
)

// MockResponder computes the datagrams a mock remote sends back after
// receiving payload.
type MockResponder func(payload []byte) [][]byte

// MockDial records one DialUDP call.
type MockDial struct {
	Remote    Address
	LocalPort uint16
}

// MockDialer implements Dialer without sockets. Remotes are scripted with
// Respond, Preload and FailDial; every dial and datagram is counted.
type MockDialer struct {
	mu         sync.Mutex
	responders map[string]MockResponder
	preloaded  map[string][][]byte
	failures   map[string]error
	dials      []MockDial
	sent       map[string]int
	conns      []*MockConn
}

// NewMockDialer creates an empty mock dialer. Unscripted remotes accept
// datagrams and never answer.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		responders: make(map[string]MockResponder),
		preloaded:  make(map[string][][]byte),
		failures:   make(map[string]error),
		sent:       make(map[string]int),
	}
}

// Respond scripts remote to answer each datagram with r's replies.
func (d *MockDialer) Respond(remote Address, r MockResponder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responders[remote.String()] = r
}

// Preload queues datagrams that arrive as soon as an association toward
// remote is opened, before anything is written.
func (d *MockDialer) Preload(remote Address, payloads ...[]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preloaded[remote.String()] = append(d.preloaded[remote.String()], payloads...)
}

// FailDial makes dials toward remote fail with err.
func (d *MockDialer) FailDial(remote Address, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[remote.String()] = err
}

// DialUDP implements Dialer.
func (d *MockDialer) DialUDP(ctx context.Context, remote Address, localPort uint16) (PacketConn, error) {
	if err := checkContextCancellation(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := remote.String()
	d.dials = append(d.dials, MockDial{Remote: remote, LocalPort: localPort})
	if err, ok := d.failures[key]; ok {
		return nil, newNetError("dial", key, err)
	}

	conn := &MockConn{
		dialer: d,
		remote: remote,
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	for _, p := range d.preloaded[key] {
		conn.inbox <- append([]byte(nil), p...)
	}
	delete(d.preloaded, key)
	d.conns = append(d.conns, conn)

	return conn, nil
}

// Dials returns every recorded dial in order.
func (d *MockDialer) Dials() []MockDial {
	d.mu.Lock()
	defer d.mu.Unlock()
	dials := make([]MockDial, len(d.dials))
	copy(dials, d.dials)
	return dials
}

// DialCount returns the number of dials, failed ones included.
func (d *MockDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

// Sent returns how many datagrams were written toward remote.
func (d *MockDialer) Sent(remote Address) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[remote.String()]
}

// SentTotal returns how many datagrams were written in total.
func (d *MockDialer) SentTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.sent {
		total += n
	}
	return total
}

// OpenConns returns how many associations have not been closed.
func (d *MockDialer) OpenConns() int {
	d.mu.Lock()
	conns := make([]*MockConn, len(d.conns))
	copy(conns, d.conns)
	d.mu.Unlock()

	open := 0
	for _, c := range conns {
		if !c.isClosed() {
			open++
		}
	}
	return open
}

func (d *MockDialer) recordWrite(remote Address) MockResponder {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[remote.String()]++
	return d.responders[remote.String()]
}

// MockConn is the PacketConn handed out by MockDialer.
type MockConn struct {
	dialer *MockDialer
	remote Address
	inbox  chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	deadline time.Time
	writes   [][]byte
}

// Read implements PacketConn. The deadline is sampled when Read starts.
func (c *MockConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case p := <-c.inbox:
		return copy(b, p), nil
	case <-c.closed:
		return 0, net.ErrClosed
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}
}

// Write implements PacketConn and triggers the remote's scripted replies.
func (c *MockConn) Write(b []byte) (int, error) {
	if c.isClosed() {
		return 0, net.ErrClosed
	}

	payload := append([]byte(nil), b...)
	c.mu.Lock()
	c.writes = append(c.writes, payload)
	c.mu.Unlock()

	if responder := c.dialer.recordWrite(c.remote); responder != nil {
		for _, reply := range responder(payload) {
			c.Deliver(reply)
		}
	}
	return len(b), nil
}

// SetReadDeadline implements PacketConn.
func (c *MockConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

// Close implements PacketConn. It is idempotent.
func (c *MockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Deliver injects a datagram as if the remote had sent it. It reports false
// when the association is closed or its queue is full.
func (c *MockConn) Deliver(payload []byte) bool {
	if c.isClosed() {
		return false
	}
	select {
	case c.inbox <- append([]byte(nil), payload...):
		return true
	default:
		return false
	}
}

// Writes returns the datagrams written on this association.
func (c *MockConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	writes := make([][]byte, len(c.writes))
	copy(writes, c.writes)
	return writes
}

// Remote returns the address this association was dialed toward.
func (c *MockConn) Remote() Address {
	return c.remote
}

func (c *MockConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ReplyWith returns a responder that answers every datagram with reply.
func ReplyWith(reply []byte) MockResponder {
	return func([]byte) [][]byte {
		return [][]byte{reply}
	}
}

// STUNResponder returns a responder that answers Binding Requests with a
// Binding Success carrying mapped.
func STUNResponder(mapped Address) MockResponder {
	return func(payload []byte) [][]byte {
		resp, err := EncodeBindingSuccess(payload, mapped)
		if err != nil {
			return nil
		}
		return [][]byte{resp}
	}
}
