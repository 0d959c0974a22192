package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a WEFT controller.
type Config struct {
	// Listen is the southbound listen address (host:port).
	Listen string `yaml:"listen"`

	// StateDir is the directory holding the persisted device inventory.
	StateDir string `yaml:"state_dir"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`

	TLS TLSConfig `yaml:"tls"`

	// Quota is the global notification quota shared across all device
	// sessions. Each session's advisory inbound rate is quota divided by
	// the session count, floored at the per-session minimum.
	Quota int64 `yaml:"quota"`

	Barrier BarrierConfig `yaml:"barrier"`

	// FlushTimeout bounds the inventory flush on device teardown. A flush
	// still running when the timeout fires is cancelled.
	FlushTimeout time.Duration `yaml:"flush_timeout"`

	// StatsInterval is how often the counter report is logged.
	StatsInterval time.Duration `yaml:"stats_interval"`

	Discovery DiscoveryConfig `yaml:"discovery"`
}

// TLSConfig contains the server certificate settings.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// ClientCAFile is the CA bundle for verifying device certificates.
	ClientCAFile string `yaml:"client_ca_file"`

	// RequireClientCert rejects devices that present no certificate.
	// Requires ClientCAFile.
	RequireClientCert bool `yaml:"require_client_cert"`
}

// BarrierConfig controls outbound queue batching.
type BarrierConfig struct {
	// CountLimit is the number of queued frames that forces a flush.
	CountLimit int `yaml:"count_limit"`

	// Interval is the maximum time a queued frame waits before a flush.
	Interval time.Duration `yaml:"interval"`
}

// DiscoveryConfig controls mDNS advertisement.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Instance is the advertised mDNS instance name.
	Instance string `yaml:"instance"`

	// Interface restricts advertisement to one network interface.
	// Empty means all interfaces.
	Interface string `yaml:"interface"`
}

// Config errors.
var (
	ErrInvalidListen    = errors.New("invalid listen address")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidQuota     = errors.New("quota must be positive")
	ErrInvalidBarrier   = errors.New("invalid barrier settings")
	ErrInvalidTimeout   = errors.New("invalid timeout")
	ErrIncompleteTLS    = errors.New("cert_file and key_file must be set together")
	ErrClientCARequired = errors.New("require_client_cert needs client_ca_file")
)

// Default returns a Config with the controller defaults.
func Default() *Config {
	return &Config{
		Listen:   ":9143",
		StateDir: "weft-data",
		LogLevel: "info",
		Quota:    131072,
		Barrier: BarrierConfig{
			CountLimit: 25600,
			Interval:   500 * time.Millisecond,
		},
		FlushTimeout:  10 * time.Second,
		StatsInterval: 10 * time.Second,
		Discovery: DiscoveryConfig{
			Enabled:  false,
			Instance: "weft-controller",
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults.
// A missing file returns the defaults; any other read or parse failure
// is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return ErrInvalidListen
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Quota <= 0 {
		return ErrInvalidQuota
	}
	if c.Barrier.CountLimit <= 0 || c.Barrier.Interval <= 0 {
		return ErrInvalidBarrier
	}
	if c.FlushTimeout <= 0 || c.StatsInterval <= 0 {
		return ErrInvalidTimeout
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return ErrIncompleteTLS
	}
	if c.TLS.RequireClientCert && c.TLS.ClientCAFile == "" {
		return ErrClientCARequired
	}
	return nil
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
}
