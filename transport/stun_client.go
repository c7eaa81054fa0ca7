// Package transport implements connectivity establishment for the mesh agent.
//
// This file implements the STUN client used for public address discovery:
// an ordered sweep over the configured servers until one reports our mapped
// address.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSTUNTimeout bounds a single server attempt.
const DefaultSTUNTimeout = 5 * time.Second

// DefaultSTUNServers is used when no servers are configured.
var DefaultSTUNServers = []string{
	"stun.l.google.com",
	"stun1.l.google.com",
	"stun2.l.google.com",
}

// STUNClient queries STUN servers for the caller's public address.
type STUNClient struct {
	servers  []Address
	timeout  time.Duration
	dialer   Dialer
	recorder Recorder
}

// NewSTUNClient parses servers and returns a client that dials through
// dialer. A malformed server entry is a configuration error.
func NewSTUNClient(servers []string, dialer Dialer) (*STUNClient, error) {
	if dialer == nil {
		return nil, errors.New("dialer cannot be nil")
	}
	if len(servers) == 0 {
		servers = DefaultSTUNServers
	}

	parsed, err := ParseSTUNServers(servers)
	if err != nil {
		return nil, err
	}

	return &STUNClient{
		servers:  parsed,
		timeout:  DefaultSTUNTimeout,
		dialer:   dialer,
		recorder: nopRecorder{},
	}, nil
}

// DiscoverPublicAddress tries each server in order and returns the first
// mapped address. It does not memoize; see Discovery.
func (sc *STUNClient) DiscoverPublicAddress(ctx context.Context) (Address, error) {
	if len(sc.servers) == 0 {
		return Address{}, ErrNoSTUNServers
	}

	var lastErr error
	for _, server := range sc.servers {
		addr, err := sc.querySTUNServer(ctx, server)
		sc.recorder.STUNQuery(server.String(), err == nil)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"component":   "STUNClient",
				"server":      server.String(),
				"public_addr": addr.String(),
			}).Info("Discovered public address")
			return addr, nil
		}
		lastErr = err

		logrus.WithFields(logrus.Fields{
			"component": "STUNClient",
			"server":    server.String(),
			"error":     err.Error(),
		}).Warn("STUN server failed, trying next")

		if err := checkContextCancellation(ctx); err != nil {
			return Address{}, err
		}
	}

	return Address{}, fmt.Errorf("%w, last error: %v", ErrSTUNExhausted, lastErr)
}

// querySTUNServer runs one Binding exchange over an isolated association.
// Exactly one reply datagram is consulted.
func (sc *STUNClient) querySTUNServer(ctx context.Context, server Address) (Address, error) {
	if err := checkContextCancellation(ctx); err != nil {
		return Address{}, err
	}

	qctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	conn, err := sc.dialer.DialUDP(qctx, server, 0)
	if err != nil {
		return Address{}, err
	}
	defer conn.Close()

	// Unblock the read if the caller gives up before the deadline.
	go func() {
		<-qctx.Done()
		conn.Close()
	}()

	deadline := time.Now().Add(sc.timeout)
	if d, ok := qctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	request, transactionID, err := encodeBindingRequest()
	if err != nil {
		return Address{}, err
	}
	if _, err := conn.Write(request); err != nil {
		return Address{}, newNetError("stun", server.String(), fmt.Errorf("failed to send STUN request: %w", err))
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return Address{}, ctx.Err()
		}
		return Address{}, newNetError("stun", server.String(), fmt.Errorf("STUN request timeout: %w", err))
	}

	reply, err := decodeBindingResponse(buf[:n])
	if err != nil {
		return Address{}, newNetError("stun", server.String(), err)
	}
	// Isolated sockets make a stray reply unlikely, but a mismatched id still
	// fails the attempt.
	if reply.TransactionID != transactionID {
		return Address{}, newNetError("stun", server.String(), fmt.Errorf("%w: transaction id mismatch", ErrInvalidSTUNResponse))
	}

	return reply.MappedAddress, nil
}

// checkContextCancellation verifies the context is not cancelled before proceeding.
func checkContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Servers returns the parsed server list in consultation order.
func (sc *STUNClient) Servers() []Address {
	servers := make([]Address, len(sc.servers))
	copy(servers, sc.servers)
	return servers
}

// SetTimeout sets the per-server timeout.
func (sc *STUNClient) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		sc.timeout = timeout
	}
}

// SetRecorder installs an instrumentation sink.
func (sc *STUNClient) SetRecorder(r Recorder) {
	sc.recorder = recorderOrNop(r)
}
