package transport

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Responder answers probes and punches on a UDP port so that the agent is
// reachable by peers running Prober and HolePuncher against it.
type Responder struct {
	conn net.PacketConn

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewResponder starts a responder on an existing packet socket.
func NewResponder(conn net.PacketConn) *Responder {
	r := &Responder{
		conn: conn,
		done: make(chan struct{}),
	}
	go r.serve()

	logrus.WithFields(logrus.Fields{
		"component":  "Responder",
		"local_addr": conn.LocalAddr().String(),
	}).Info("UDP responder started")

	return r
}

// ListenResponder binds a UDP socket on addr and starts a responder on it.
func ListenResponder(addr string) (*Responder, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, newNetError("listen", addr, err)
	}
	return NewResponder(conn), nil
}

func (r *Responder) serve() {
	defer close(r.done)
	buf := make([]byte, 1500)

	for {
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			if r.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"component": "Responder",
				"error":     err.Error(),
			}).Debug("Error reading datagram")
			continue
		}

		reply := replyFor(buf[:n])
		if reply == nil {
			continue
		}
		if _, err := r.conn.WriteTo(reply, addr); err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "Responder",
				"remote":    addr.String(),
				"error":     err.Error(),
			}).Debug("Failed to answer datagram")
		}
	}
}

// replyFor maps an inbound marker to its answer, or nil to stay silent.
// Acknowledgements are never answered, so two responders cannot feed each
// other.
func replyFor(payload []byte) []byte {
	switch {
	case isPunchAck(payload):
		return nil
	case hasMarker(payload, ProbeMarker):
		return ProbeAckMarker
	case hasMarker(payload, PunchMarker):
		return PunchAckMarker
	default:
		return nil
	}
}

func (r *Responder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// LocalAddr returns the bound address.
func (r *Responder) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Close stops the responder and waits for its loop to exit.
func (r *Responder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.conn.Close()
	<-r.done
	return err
}
