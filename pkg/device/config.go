package device

import (
	"errors"
	"log/slog"
	"time"
)

// ErrInvalidConfig reports a Config that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Configuration defaults.
const (
	// DefaultGlobalNotificationQuota is the default global inbound
	// notification quota, in events per second, divided across sessions.
	DefaultGlobalNotificationQuota int64 = 131072

	// DefaultBarrierCountLimit is the default outbound queue frame count
	// before a barrier is appended.
	DefaultBarrierCountLimit = 25600

	// DefaultBarrierInterval is the default outbound queue flush interval.
	DefaultBarrierInterval = 500 * time.Millisecond

	// DefaultFlushTimeout bounds how long a teardown waits for the
	// session's inventory flush before cancelling it.
	DefaultFlushTimeout = 10 * time.Second

	// DefaultStatsInterval is the default stats report period.
	DefaultStatsInterval = 10 * time.Second
)

// Config configures a Manager.
type Config struct {
	// GlobalNotificationQuota is the global inbound notification quota,
	// in events per second, divided evenly across registered sessions.
	GlobalNotificationQuota int64

	// BarrierCountLimit is the outbound queue frame count after which a
	// barrier frame is appended.
	BarrierCountLimit int

	// BarrierInterval is the outbound queue flush interval.
	BarrierInterval time.Duration

	// FlushTimeout bounds the inventory flush during teardown. A flush
	// still pending after this long is cancelled.
	FlushTimeout time.Duration

	// StatsInterval is how often the stats poller reports counters.
	StatsInterval time.Duration

	// FeatureSetMandatory makes bootstrap finalization fail for sessions
	// whose negotiated feature set is empty.
	FeatureSetMandatory bool

	// Logger is the optional logger for lifecycle events.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the default quotas and timings.
func DefaultConfig() Config {
	return Config{
		GlobalNotificationQuota: DefaultGlobalNotificationQuota,
		BarrierCountLimit:       DefaultBarrierCountLimit,
		BarrierInterval:         DefaultBarrierInterval,
		FlushTimeout:            DefaultFlushTimeout,
		StatsInterval:           DefaultStatsInterval,
	}
}

// Validate checks if the config is valid. Zero values pass; NewManager
// fills them from the defaults.
func (c *Config) Validate() error {
	if c.GlobalNotificationQuota < 0 {
		return ErrInvalidConfig
	}
	if c.BarrierCountLimit < 0 {
		return ErrInvalidConfig
	}
	if c.BarrierInterval < 0 || c.FlushTimeout < 0 || c.StatsInterval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// withDefaults returns a copy with zero fields filled from the defaults.
func (c Config) withDefaults() Config {
	if c.GlobalNotificationQuota == 0 {
		c.GlobalNotificationQuota = DefaultGlobalNotificationQuota
	}
	if c.BarrierCountLimit == 0 {
		c.BarrierCountLimit = DefaultBarrierCountLimit
	}
	if c.BarrierInterval == 0 {
		c.BarrierInterval = DefaultBarrierInterval
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}
