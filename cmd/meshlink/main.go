// Command meshlink discovers addresses, probes peers and establishes direct
// paths from the command line, or serves the P2P port of an agent.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/meshlink"
	"github.com/opd-ai/meshlink/metrics"
	"github.com/opd-ai/meshlink/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app        = kingpin.New("meshlink", "Peer-to-peer connectivity for mesh endpoints.")
	configFile = app.Flag("config.file", "Path to configuration file.").String()
	logLevel   = app.Flag("log.level", "Log level (overrides config).").String()

	discoverCmd = app.Command("discover", "Print our public address as seen by STUN.")

	infoCmd = app.Command("info", "Print the connection info advertised to peers.")

	probeCmd    = app.Command("probe", "Send a liveness probe to ip:port.")
	probeTarget = probeCmd.Arg("target", "Target ip:port.").Required().String()

	connectCmd     = app.Command("connect", "Try to establish a direct path to a peer.")
	connectID      = connectCmd.Flag("id", "Peer endpoint id.").Required().String()
	connectName    = connectCmd.Flag("name", "Peer display name.").String()
	connectPublic  = connectCmd.Flag("public", "Peer public ip:port.").Required().String()
	connectPrivate = connectCmd.Flag("private", "Peer private ip:port.").String()

	serveCmd      = app.Command("serve", "Serve the P2P port and expose metrics.")
	listenAddress = serveCmd.Flag("web.listen-address", "Address to listen on for telemetry.").Default(":9090").String()
	telemetryPath = serveCmd.Flag("web.telemetry-path", "Path under which to expose metrics.").Default("/metrics").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := run(command); err != nil {
		logrus.WithError(err).Error("meshlink failed")
		os.Exit(1)
	}
}

// run executes command. Deferred cleanup runs before main exits.
func run(command string) error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := meshlink.ConfigureLogging(config.Log); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	collector := metrics.NewCollector()
	options := config.Options()
	options.Metrics = collector

	manager, err := meshlink.New(options)
	if err != nil {
		return fmt.Errorf("failed to create P2P manager: %w", err)
	}
	defer manager.Close()

	switch command {
	case discoverCmd.FullCommand():
		return runDiscover(ctx, manager)
	case infoCmd.FullCommand():
		return runInfo(ctx, manager)
	case probeCmd.FullCommand():
		return runProbe(ctx, options)
	case connectCmd.FullCommand():
		return runConnect(ctx, manager)
	case serveCmd.FullCommand():
		return runServe(ctx, manager, collector)
	}
	return fmt.Errorf("unknown command %q", command)
}

func loadConfig() (*meshlink.Config, error) {
	var (
		config *meshlink.Config
		err    error
	)
	if *configFile != "" {
		config, err = meshlink.LoadConfig(*configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = meshlink.DefaultConfig()
	}

	if *logLevel != "" {
		config.Log.Level = *logLevel
	}
	return config, config.Validate()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logrus.Info("Received shutdown signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runDiscover(ctx context.Context, manager *meshlink.Manager) error {
	addr, err := manager.DiscoverPublicAddress(ctx)
	if err != nil {
		return err
	}
	fmt.Println(addr.String())
	return nil
}

func runInfo(ctx context.Context, manager *meshlink.Manager) error {
	info, err := manager.GetConnectionInfo(ctx)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func runProbe(ctx context.Context, options *meshlink.Options) error {
	target, err := transport.ParseAddress(*probeTarget)
	if err != nil {
		return err
	}

	prober := transport.NewProber(transport.NewUDPDialer())
	prober.SetTimeout(options.ProbeTimeout)
	prober.SetRecorder(options.Metrics)

	result := prober.TestConnectivity(ctx, target)
	return printJSON(struct {
		Target     string  `json:"target"`
		Reachable  bool    `json:"reachable"`
		LatencyMs  int64   `json:"latencyMs"`
		PacketLoss float64 `json:"packetLoss"`
	}{target.String(), result.Reachable, result.Latency.Milliseconds(), result.PacketLoss})
}

func runConnect(ctx context.Context, manager *meshlink.Manager) error {
	public, err := transport.ParseAddress(*connectPublic)
	if err != nil {
		return err
	}
	peer := meshlink.PeerDescriptor{
		ID:         *connectID,
		Name:       *connectName,
		PublicIP:   public.IP,
		PublicPort: public.Port,
	}
	if *connectPrivate != "" {
		private, err := transport.ParseAddress(*connectPrivate)
		if err != nil {
			return err
		}
		peer.PrivateIP = private.IP
		peer.PrivatePort = private.Port
	}

	path := manager.TryP2PConnection(ctx, peer)
	if path == nil {
		return errors.New("no direct path, fall back to relay")
	}
	return printJSON(path)
}

func runServe(ctx context.Context, manager *meshlink.Manager, collector *metrics.Collector) error {
	manager.StartP2PListener(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := manager.GetConnectionInfo(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}))
	if !manager.Listening() {
		return errors.New("P2P listener was not registered")
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(*telemetryPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: *listenAddress, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logrus.WithFields(logrus.Fields{
		"address": *listenAddress,
		"path":    *telemetryPath,
	}).Info("Serving metrics")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
