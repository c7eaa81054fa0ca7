package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrSTUNExhausted indicates every configured STUN server failed.
	ErrSTUNExhausted = errors.New("all STUN servers exhausted")

	// ErrNoSTUNServers indicates discovery was attempted with an empty server list.
	ErrNoSTUNServers = errors.New("no STUN servers configured")

	// ErrInvalidSTUNResponse indicates a reply that was not a usable Binding Response.
	ErrInvalidSTUNResponse = errors.New("invalid STUN response")

	// ErrConnectionTimeout indicates no candidate acknowledged a hole punch in time.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrInvalidAddress indicates a malformed ip:port or host:port string.
	ErrInvalidAddress = errors.New("invalid address")
)

// NetError carries the operation and remote address of a failed network step.
type NetError struct {
	Op   string // operation that failed ("dial", "stun", "punch", ...)
	Addr string // remote address if relevant
	Err  error  // underlying error
}

func (e *NetError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

func newNetError(op, addr string, err error) *NetError {
	return &NetError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
