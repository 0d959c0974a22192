package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive constants.
const (
	// DefaultEchoInterval is the default interval between echo probes.
	DefaultEchoInterval = 30 * time.Second

	// DefaultAckTimeout is the default timeout waiting for an echo reply.
	DefaultAckTimeout = 5 * time.Second

	// DefaultMaxMissedAcks is the default number of missed replies before
	// the connection is considered dead.
	DefaultMaxMissedAcks = 3

	// MaxDetectionDelay is the maximum time to detect connection loss.
	// Calculated as: EchoInterval * MaxMissedAcks + AckTimeout
	// Default: 30 * 3 + 5 = 95 seconds
	MaxDetectionDelay = 95 * time.Second
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// EchoInterval is the interval between echo probes.
	EchoInterval time.Duration

	// AckTimeout is the timeout waiting for an echo reply.
	AckTimeout time.Duration

	// MaxMissedAcks is the number of missed replies before disconnect.
	MaxMissedAcks int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		EchoInterval:  DefaultEchoInterval,
		AckTimeout:    DefaultAckTimeout,
		MaxMissedAcks: DefaultMaxMissedAcks,
	}
}

// DetectionDelay calculates the maximum detection delay for this configuration.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.EchoInterval*time.Duration(c.MaxMissedAcks) + c.AckTimeout
}

// KeepAlive manages connection liveness monitoring with echo probes.
type KeepAlive struct {
	config KeepAliveConfig

	// Callbacks
	sendEcho      func(seq uint32) error
	onTimeout     func()
	onAckReceived func(seq uint32, latency time.Duration)

	// State
	sequence     atomic.Uint32
	missedAcks   int
	lastEchoTime time.Time
	lastAckTime  time.Time
	pendingEcho  uint32
	hasPending   bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	ackCh   chan uint32
}

// NewKeepAlive creates a new keep-alive manager.
func NewKeepAlive(config KeepAliveConfig, sendEcho func(seq uint32) error, onTimeout func()) *KeepAlive {
	if config.EchoInterval == 0 {
		config.EchoInterval = DefaultEchoInterval
	}
	if config.AckTimeout == 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.MaxMissedAcks == 0 {
		config.MaxMissedAcks = DefaultMaxMissedAcks
	}

	return &KeepAlive{
		config:    config,
		sendEcho:  sendEcho,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		ackCh:     make(chan uint32, 1),
	}
}

// SetAckReceivedCallback sets a callback for when echo replies arrive.
func (ka *KeepAlive) SetAckReceivedCallback(cb func(seq uint32, latency time.Duration)) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.onAckReceived = cb
}

// Start begins the keep-alive monitoring loop.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.mu.Unlock()

	go ka.loop(ctx)
}

// Stop stops the keep-alive monitoring.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}

	ka.running = false
	close(ka.stopCh)
}

// AckReceived should be called when an echo reply is received.
func (ka *KeepAlive) AckReceived(seq uint32) {
	select {
	case ka.ackCh <- seq:
	default:
		// Channel full, drop (shouldn't happen in practice)
	}
}

// IsRunning returns true if keep-alive monitoring is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastEchoTime: ka.lastEchoTime,
		LastAckTime:  ka.lastAckTime,
		MissedAcks:   ka.missedAcks,
		CurrentSeq:   ka.sequence.Load(),
	}
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	LastEchoTime time.Time
	LastAckTime  time.Time
	MissedAcks   int
	CurrentSeq   uint32
}

// loop is the main keep-alive monitoring loop.
func (ka *KeepAlive) loop(ctx context.Context) {
	ticker := time.NewTicker(ka.config.EchoInterval)
	defer ticker.Stop()

	// Send initial echo
	ka.sendEchoProbe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ka.stopCh:
			return
		case <-ticker.C:
			ka.handleTick()
		case seq := <-ka.ackCh:
			ka.handleAck(seq)
		}
	}
}

// sendEchoProbe sends an echo probe and records the time.
func (ka *KeepAlive) sendEchoProbe() {
	seq := ka.sequence.Add(1)

	ka.mu.Lock()
	ka.lastEchoTime = time.Now()
	ka.pendingEcho = seq
	ka.hasPending = true
	ka.mu.Unlock()

	if err := ka.sendEcho(seq); err != nil {
		// Send failed - connection is likely dead
		ka.mu.Lock()
		ka.hasPending = false
		ka.mu.Unlock()
		// Let the ack timeout handle it
	}
}

// handleTick handles the echo interval tick.
func (ka *KeepAlive) handleTick() {
	ka.mu.Lock()

	// Check if we have a pending echo that timed out
	if ka.hasPending {
		elapsed := time.Since(ka.lastEchoTime)
		if elapsed >= ka.config.AckTimeout {
			// Reply not received in time
			ka.missedAcks++
			ka.hasPending = false

			if ka.missedAcks >= ka.config.MaxMissedAcks {
				// Connection considered dead
				ka.mu.Unlock()
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
		}
	}

	ka.mu.Unlock()

	// Send next echo
	ka.sendEchoProbe()
}

// handleAck handles a received echo reply.
func (ka *KeepAlive) handleAck(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	now := time.Now()
	ka.lastAckTime = now

	// Check if this reply matches our pending echo
	if ka.hasPending && seq == ka.pendingEcho {
		latency := now.Sub(ka.lastEchoTime)
		ka.hasPending = false
		ka.missedAcks = 0 // Reset on successful reply

		// Notify callback if set
		if ka.onAckReceived != nil {
			go ka.onAckReceived(seq, latency)
		}
	}
	// Ignore replies with wrong sequence (could be delayed from a previous echo)
}

// CalculateDetectionDelay calculates the maximum detection delay for given parameters.
func CalculateDetectionDelay(echoInterval, ackTimeout time.Duration, maxMissedAcks int) time.Duration {
	return echoInterval*time.Duration(maxMissedAcks) + ackTimeout
}
