package discovery

import (
	"context"
	"sync"
	"time"
)

// Advertiser provides mDNS service advertisement for a controller.
type Advertiser interface {
	// AdvertiseController starts advertising the controller service.
	// Advertising again replaces the previous registration.
	AdvertiseController(ctx context.Context, info *ControllerInfo) error

	// UpdateController refreshes the TXT records of the running
	// advertisement. Returns ErrNotAdvertised if nothing is advertised.
	UpdateController(info *ControllerInfo) error

	// StopController stops advertising the controller service.
	StopController() error

	// StopAll stops all advertisements.
	StopAll()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the advertisement TTL. Zero means DefaultTTL.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: DefaultTTL,
	}
}

// Announcer keeps a controller advertisement in step with the registry.
//
// It wraps an Advertiser and coalesces device count changes so that a burst
// of connects or disconnects produces at most one TXT refresh per UpdateDelay.
type Announcer struct {
	adv Advertiser

	mu      sync.Mutex
	info    ControllerInfo
	started bool
	timer   *time.Timer
	pending int
}

// NewAnnouncer creates an announcer for the given advertiser and controller info.
func NewAnnouncer(adv Advertiser, info ControllerInfo) *Announcer {
	return &Announcer{
		adv:     adv,
		info:    info,
		pending: info.DeviceCount,
	}
}

// Start validates the controller info and begins advertising.
func (a *Announcer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.info.DeviceCount = a.pending
	if err := a.info.Validate(); err != nil {
		return err
	}
	info := a.info
	if err := a.adv.AdvertiseController(ctx, &info); err != nil {
		return err
	}
	a.started = true
	return nil
}

// SetDeviceCount records a new admitted device count. The TXT refresh is
// deferred by up to UpdateDelay; intermediate values are skipped.
func (a *Announcer) SetDeviceCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = n
	if !a.started || a.timer != nil {
		return
	}
	a.timer = time.AfterFunc(UpdateDelay, a.flush)
}

func (a *Announcer) flush() {
	a.mu.Lock()
	a.timer = nil
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.info.DeviceCount = a.pending
	info := a.info
	a.mu.Unlock()

	// Best effort; a failed refresh leaves the previous records visible.
	_ = a.adv.UpdateController(&info)
}

// Stop cancels any pending refresh and withdraws the advertisement.
func (a *Announcer) Stop() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	started := a.started
	a.started = false
	a.mu.Unlock()

	if started {
		_ = a.adv.StopController()
	}
}
