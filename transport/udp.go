package transport

import (
	"context"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// UDPDialer opens real UDP sockets.
type UDPDialer struct{}

// NewUDPDialer returns the production Dialer.
func NewUDPDialer() *UDPDialer {
	return &UDPDialer{}
}

// DialUDP implements Dialer.
func (d *UDPDialer) DialUDP(ctx context.Context, remote Address, localPort uint16) (PacketConn, error) {
	dialer := &net.Dialer{}
	if localPort > 0 {
		dialer.LocalAddr = &net.UDPAddr{IP: net.IPv4zero, Port: int(localPort)}
	}

	conn, err := dialer.DialContext(ctx, "udp", remote.String())
	if err != nil {
		return nil, newNetError("dial", remote.String(), err)
	}

	logrus.WithFields(logrus.Fields{
		"component":  "UDPDialer",
		"remote":     remote.String(),
		"local_addr": conn.LocalAddr().String(),
		"bind_port":  strconv.Itoa(int(localPort)),
	}).Debug("Opened UDP association")

	return conn, nil
}
