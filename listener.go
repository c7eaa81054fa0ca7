package meshlink

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	"github.com/opd-ai/meshlink/transport"
	"github.com/sirupsen/logrus"
)

// StartP2PListener registers handler for inbound peer connections on the P2P
// port and starts the UDP responder on the same port number. It runs at most
// once; later calls are no-ops. An invalid port or a failed listen is logged
// and leaves the manager unregistered.
func (m *Manager) StartP2PListener(handler http.Handler) {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()

	if m.listening {
		return
	}

	port := m.options.P2PPort
	logger := logrus.WithFields(logrus.Fields{
		"function": "StartP2PListener",
		"port":     port,
	})
	logger.Info("Starting P2P listener")

	if port <= 0 || port > 65535 {
		logger.WithError(ErrInvalidPort).Error("Invalid P2P port")
		return
	}
	addr := fmt.Sprintf("0.0.0.0:%d", port)

	ln, err := m.options.Listen("tcp", addr)
	if err != nil {
		logger.WithError(err).Error("Failed to start P2P listener")
		return
	}
	if m.options.TLSConfig != nil {
		ln = tls.NewListener(ln, m.options.TLSConfig)
	} else {
		logger.Warn("No TLS configuration, serving P2P listener in plain HTTP")
	}

	server := &http.Server{Handler: handler}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("P2P listener stopped")
		}
	}()

	pc, err := m.options.ListenPacket("udp", addr)
	if err != nil {
		logger.WithError(err).Warn("Failed to start UDP responder, peers cannot probe or punch this port")
	} else {
		m.responder = transport.NewResponder(pc)
	}

	m.server = server
	m.listening = true
	logger.WithField("addr", ln.Addr().String()).Info("P2P listener started")
}

// Listening reports whether StartP2PListener has registered a listener.
func (m *Manager) Listening() bool {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	return m.listening
}
