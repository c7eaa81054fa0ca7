package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// DefaultProbeTimeout bounds one liveness probe.
const DefaultProbeTimeout = 3 * time.Second

// ProbeResult reports the outcome of a liveness probe. An unreachable target
// is a normal result, not an error.
type ProbeResult struct {
	Reachable  bool
	Latency    time.Duration
	PacketLoss float64
}

// Prober sends PING datagrams and waits for PONG.
type Prober struct {
	dialer   Dialer
	clock    clock.Clock
	timeout  time.Duration
	recorder Recorder
}

// NewProber creates a prober with the default timeout.
func NewProber(dialer Dialer) *Prober {
	return &Prober{
		dialer:   dialer,
		clock:    clock.New(),
		timeout:  DefaultProbeTimeout,
		recorder: nopRecorder{},
	}
}

// TestConnectivity probes addr once. It never fails; dial errors, send
// errors and timeouts all report Reachable=false with PacketLoss=1.
func (p *Prober) TestConnectivity(ctx context.Context, addr Address) ProbeResult {
	result := p.probe(ctx, addr)
	p.recorder.Probe(result.Reachable, result.Latency)

	logrus.WithFields(logrus.Fields{
		"component": "Prober",
		"target":    addr.String(),
		"reachable": result.Reachable,
		"latency":   result.Latency.String(),
	}).Debug("Liveness probe finished")

	return result
}

func (p *Prober) probe(ctx context.Context, addr Address) ProbeResult {
	unreachable := ProbeResult{Reachable: false, Latency: 0, PacketLoss: 1}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialUDP(ctx, addr, 0)
	if err != nil {
		return unreachable
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	sent := p.clock.Now()
	if _, err := conn.Write(ProbeMarker); err != nil {
		return unreachable
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || isTimeout(err) {
				return unreachable
			}
			// ICMP unreachable on a connected socket; the deadline still bounds us.
			continue
		}
		if hasMarker(buf[:n], ProbeAckMarker) {
			return ProbeResult{Reachable: true, Latency: p.clock.Since(sent), PacketLoss: 0}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SetTimeout sets the probe timeout.
func (p *Prober) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		p.timeout = timeout
	}
}

// SetClock replaces the clock used for latency measurement.
func (p *Prober) SetClock(c clock.Clock) {
	if c != nil {
		p.clock = c
	}
}

// SetRecorder installs an instrumentation sink.
func (p *Prober) SetRecorder(r Recorder) {
	p.recorder = recorderOrNop(r)
}
