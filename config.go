package meshlink

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/meshlink/cache"
	"github.com/opd-ai/meshlink/transport"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk agent configuration.
type Config struct {
	P2P   P2PConfig   `yaml:"p2p"`
	Cache CacheConfig `yaml:"cache"`
	Log   LogConfig   `yaml:"log"`
}

// P2PConfig configures discovery and connectivity establishment.
type P2PConfig struct {
	STUNServers    []string      `yaml:"stun_servers"`    // "host" or "host:port", consulted in order
	Port           int           `yaml:"port"`            // advertised listening port
	LocalIP        string        `yaml:"local_ip"`        // overrides interface detection
	PunchLocalPort uint16        `yaml:"punch_local_port"` // 0 lets the OS choose
	STUNTimeout    time.Duration `yaml:"stun_timeout"`
	PunchTimeout   time.Duration `yaml:"punch_timeout"`
	PunchInterval  time.Duration `yaml:"punch_interval"`
	PunchAttempts  int           `yaml:"punch_attempts"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// CacheConfig configures the connection cache.
type CacheConfig struct {
	Staleness time.Duration `yaml:"staleness"`
	Capacity  int           `yaml:"capacity"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// LoadConfig reads a YAML file, applies defaults and environment overrides,
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()
	config.ApplyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// DefaultConfig returns a Config with defaults and environment overrides
// applied.
func DefaultConfig() *Config {
	config := &Config{}
	config.SetDefaults()
	config.ApplyEnvOverrides()
	return config
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if len(c.P2P.STUNServers) == 0 {
		c.P2P.STUNServers = append([]string(nil), transport.DefaultSTUNServers...)
	}
	if c.P2P.Port == 0 {
		c.P2P.Port = DefaultP2PPort
	}
	if c.P2P.STUNTimeout == 0 {
		c.P2P.STUNTimeout = transport.DefaultSTUNTimeout
	}
	if c.P2P.PunchTimeout == 0 {
		c.P2P.PunchTimeout = transport.DefaultPunchTimeout
	}
	if c.P2P.PunchInterval == 0 {
		c.P2P.PunchInterval = transport.DefaultPunchInterval
	}
	if c.P2P.PunchAttempts == 0 {
		c.P2P.PunchAttempts = transport.DefaultPunchAttempts
	}
	if c.P2P.ProbeTimeout == 0 {
		c.P2P.ProbeTimeout = transport.DefaultProbeTimeout
	}
	if c.P2P.ConnectTimeout == 0 {
		c.P2P.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Cache.Staleness == 0 {
		c.Cache.Staleness = cache.DefaultStaleness
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = cache.DefaultCapacity
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// ApplyEnvOverrides applies LOCAL_IP, P2P_PORT, STUN_SERVERS and LOG_LEVEL.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LOCAL_IP"); v != "" {
		c.P2P.LocalIP = v
	}
	if v := os.Getenv("P2P_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.P2P.Port = port
		} else {
			logrus.WithField("value", v).Warn("Ignoring non-numeric P2P_PORT")
		}
	}
	if v := os.Getenv("STUN_SERVERS"); v != "" {
		var servers []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		if len(servers) > 0 {
			c.P2P.STUNServers = servers
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects configuration errors: malformed STUN servers, an out of
// range port, or an unknown log level.
func (c *Config) Validate() error {
	if _, err := transport.ParseSTUNServers(c.P2P.STUNServers); err != nil {
		return fmt.Errorf("invalid stun_servers: %w", err)
	}
	if c.P2P.Port <= 0 || c.P2P.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.P2P.Port)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

// Options converts the configuration into Manager options.
func (c *Config) Options() *Options {
	opts := NewOptions()
	opts.STUNServers = append([]string(nil), c.P2P.STUNServers...)
	opts.P2PPort = c.P2P.Port
	opts.LocalIP = c.P2P.LocalIP
	opts.PunchLocalPort = c.P2P.PunchLocalPort
	opts.STUNTimeout = c.P2P.STUNTimeout
	opts.PunchTimeout = c.P2P.PunchTimeout
	opts.PunchInterval = c.P2P.PunchInterval
	opts.PunchAttempts = c.P2P.PunchAttempts
	opts.ProbeTimeout = c.P2P.ProbeTimeout
	opts.ConnectTimeout = c.P2P.ConnectTimeout
	opts.CacheStaleness = c.Cache.Staleness
	opts.CacheCapacity = c.Cache.Capacity
	return opts
}

// ConfigureLogging applies the log level and format to the standard logrus
// logger.
func ConfigureLogging(cfg LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
