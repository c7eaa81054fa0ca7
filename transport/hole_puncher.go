// Package transport implements connectivity establishment for the mesh agent.
//
// This file implements simultaneous UDP hole punching toward a peer's public
// and private candidate addresses.
package transport

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPunchTimeout bounds one Establish call.
	DefaultPunchTimeout = 10 * time.Second
	// DefaultPunchInterval separates punch rounds.
	DefaultPunchInterval = 500 * time.Millisecond
	// DefaultPunchAttempts caps the number of punch rounds.
	DefaultPunchAttempts = 20
)

// HolePuncher drives hole-punch attempts. It holds no per-attempt state and
// is safe for concurrent use.
type HolePuncher struct {
	dialer      Dialer
	clock       clock.Clock
	timeout     time.Duration
	interval    time.Duration
	maxAttempts int
	recorder    Recorder
}

// HolePunchAttempt is the outcome of a successful Establish call.
type HolePunchAttempt struct {
	// RemoteAddr is the candidate that acknowledged first.
	RemoteAddr Address
	// Attempts is the number of punch rounds sent before resolution.
	Attempts int
	// RTT spans the first round to the winning acknowledgement.
	RTT time.Duration
}

type punchCandidate struct {
	addr Address
	conn PacketConn
}

// NewHolePuncher creates a hole puncher with default timing.
func NewHolePuncher(dialer Dialer) *HolePuncher {
	return &HolePuncher{
		dialer:      dialer,
		clock:       clock.New(),
		timeout:     DefaultPunchTimeout,
		interval:    DefaultPunchInterval,
		maxAttempts: DefaultPunchAttempts,
		recorder:    nopRecorder{},
	}
}

// Establish punches toward peerPublic and, when its IP differs, peerPrivate.
// The association toward peerPublic is bound to localPort when non-zero.
// It returns ErrConnectionTimeout if no candidate acknowledges in time.
func (hp *HolePuncher) Establish(ctx context.Context, peerPublic, peerPrivate Address, localPort uint16) (*HolePunchAttempt, error) {
	if peerPublic.IP == "" || peerPublic.Port == 0 {
		return nil, newNetError("punch", peerPublic.String(), ErrInvalidAddress)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	candidates, err := hp.openCandidates(ctx, peerPublic, peerPrivate, localPort)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component":  "HolePuncher",
		"public":     peerPublic.String(),
		"private":    peerPrivate.String(),
		"candidates": len(candidates),
		"local_port": localPort,
	}).Info("Starting UDP hole punching")

	won := make(chan Address, 1)
	var (
		rounds  atomic.Int32
		claimed atomic.Bool
	)
	start := hp.clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			hp.listen(gctx, c, &claimed, won)
			return nil
		})
	}
	g.Go(func() error {
		hp.sendPunches(gctx, candidates, &rounds)
		return nil
	})

	timer := hp.clock.Timer(hp.timeout)
	defer timer.Stop()

	var winner Address
	select {
	case winner = <-won:
	case <-timer.C:
		err = ErrConnectionTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Teardown: stop the sender, unblock the listeners, then join them.
	cancel()
	closeCandidates(candidates)
	g.Wait()

	attempts := int(rounds.Load())
	hp.recorder.PunchResult(err == nil, attempts)

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "HolePuncher",
			"public":    peerPublic.String(),
			"attempts":  attempts,
			"error":     err.Error(),
		}).Warn("Hole punching failed")
		return nil, newNetError("punch", peerPublic.String(), err)
	}

	attempt := &HolePunchAttempt{
		RemoteAddr: winner,
		Attempts:   attempts,
		RTT:        hp.clock.Since(start),
	}

	logrus.WithFields(logrus.Fields{
		"component": "HolePuncher",
		"winner":    winner.String(),
		"attempts":  attempt.Attempts,
		"rtt":       attempt.RTT.String(),
	}).Info("Hole punching succeeded")

	return attempt, nil
}

// openCandidates opens one association per candidate. A candidate whose
// dial fails is skipped; the call fails only if none could be opened.
func (hp *HolePuncher) openCandidates(ctx context.Context, public, private Address, localPort uint16) ([]punchCandidate, error) {
	targets := []struct {
		addr Address
		bind uint16
	}{{public, localPort}}
	if private.IP != "" && private.Port != 0 && private.IP != public.IP {
		// Unbound, so it cannot collide with the public association's port.
		targets = append(targets, struct {
			addr Address
			bind uint16
		}{private, 0})
	}

	var (
		candidates []punchCandidate
		lastErr    error
	)
	for _, t := range targets {
		conn, err := hp.dialer.DialUDP(ctx, t.addr, t.bind)
		if err != nil {
			lastErr = err
			logrus.WithFields(logrus.Fields{
				"component": "HolePuncher",
				"candidate": t.addr.String(),
				"error":     err.Error(),
			}).Warn("Failed to open punch association")
			continue
		}
		candidates = append(candidates, punchCandidate{addr: t.addr, conn: conn})
	}

	if len(candidates) == 0 {
		return nil, lastErr
	}
	return candidates, nil
}

// listen resolves won with c.addr on the first datagram carrying a punch or
// punch acknowledgement. Later datagrams are never consulted.
func (hp *HolePuncher) listen(ctx context.Context, c punchCandidate, claimed *atomic.Bool, won chan<- Address) {
	buf := make([]byte, 1500)
	failures := 0

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// Connected UDP sockets surface ICMP unreachable as read errors.
			failures++
			if failures > hp.maxAttempts {
				return
			}
			logrus.WithFields(logrus.Fields{
				"component": "HolePuncher",
				"candidate": c.addr.String(),
				"error":     err.Error(),
			}).Debug("Read error on punch association")
			continue
		}

		if !isPunch(buf[:n]) {
			continue
		}

		if claimed.CompareAndSwap(false, true) {
			// Acknowledge once, before teardown can close the association, so a
			// peer whose sender already stopped sees us too.
			if _, err := c.conn.Write(PunchAckMarker); err != nil {
				logrus.WithFields(logrus.Fields{
					"component": "HolePuncher",
					"candidate": c.addr.String(),
					"error":     err.Error(),
				}).Debug("Failed to send punch acknowledgement")
			}
			won <- c.addr
		}
		return
	}
}

// sendPunches fires one punch round per interval, at most maxAttempts
// rounds, stopping early when ctx is done.
func (hp *HolePuncher) sendPunches(ctx context.Context, candidates []punchCandidate, rounds *atomic.Int32) {
	ticker := hp.clock.Ticker(hp.interval)
	defer ticker.Stop()

	for round := 1; round <= hp.maxAttempts; round++ {
		if ctx.Err() != nil {
			return
		}

		for _, c := range candidates {
			if _, err := c.conn.Write(PunchMarker); err != nil {
				logrus.WithFields(logrus.Fields{
					"component": "HolePuncher",
					"candidate": c.addr.String(),
					"round":     round,
					"error":     err.Error(),
				}).Debug("Failed to send punch packet")
			}
		}
		rounds.Store(int32(round))
		hp.recorder.PunchRound()

		if round == hp.maxAttempts {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func closeCandidates(candidates []punchCandidate) {
	for _, c := range candidates {
		c.conn.Close()
	}
}

// SetClock replaces the clock driving the punch ticker and overall timer.
func (hp *HolePuncher) SetClock(c clock.Clock) {
	if c != nil {
		hp.clock = c
	}
}

// SetTimeout sets the overall timeout of one Establish call.
func (hp *HolePuncher) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		hp.timeout = timeout
	}
}

// SetInterval sets the delay between punch rounds.
func (hp *HolePuncher) SetInterval(interval time.Duration) {
	if interval > 0 {
		hp.interval = interval
	}
}

// SetMaxAttempts sets the maximum number of punch rounds.
func (hp *HolePuncher) SetMaxAttempts(attempts int) {
	if attempts > 0 {
		hp.maxAttempts = attempts
	}
}

// SetRecorder installs an instrumentation sink.
func (hp *HolePuncher) SetRecorder(r Recorder) {
	hp.recorder = recorderOrNop(r)
}
