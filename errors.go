package meshlink

import "errors"

var (
	// ErrInvalidPort indicates a P2P port outside 1-65535.
	ErrInvalidPort = errors.New("invalid P2P port")

	// ErrNoPublicAddress indicates discovery produced no usable public IP.
	ErrNoPublicAddress = errors.New("invalid public address")

	// ErrNoPrivateAddress indicates the private address lacks an IP or port.
	ErrNoPrivateAddress = errors.New("invalid private address")

	// ErrInvalidPeer indicates a peer descriptor without an id.
	ErrInvalidPeer = errors.New("invalid peer descriptor")
)
