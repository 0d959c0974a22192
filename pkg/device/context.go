package device

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weft-protocol/weft-go/pkg/inventory"
	"github.com/weft-protocol/weft-go/pkg/notify"
	"github.com/weft-protocol/weft-go/pkg/stats"
	"github.com/weft-protocol/weft-go/pkg/translate"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

// Context is the session state for one connected device.
//
// A context is created by the manager during admission and carries the
// device's primary connection for its whole life; auxiliary connections
// come and go, keyed by their connection IDs. The manager retires the
// context after the primary disconnects and the inventory flush resolves.
//
// All methods are safe for concurrent use.
type Context struct {
	deviceID DeviceID
	features wire.Features
	primary  Connection

	state atomic.Uint32

	mu        sync.Mutex
	aux       map[string]Connection
	outbound  io.Closer
	flush     *inventory.Flush
	published bool

	rateLimit atomic.Int64

	// Per-second notification window
	windowMu    sync.Mutex
	windowStart time.Time
	windowUsed  int64

	// Collaborators, fixed at admission
	store      inventory.Store
	agency     stats.Agency
	library    *translate.Library
	extensions translate.ExtensionProvider
	notifySvc  notify.Service
	notifyPub  notify.Publisher

	featureSetMandatory bool
	logger              *slog.Logger
}

// sessionParams carries what a session context is built from.
type sessionParams struct {
	deviceID DeviceID
	primary  Connection
	features wire.Features
	outbound io.Closer

	store  inventory.Store
	agency stats.Agency

	library    *translate.Library
	extensions translate.ExtensionProvider
	notifySvc  notify.Service
	notifyPub  notify.Publisher

	featureSetMandatory bool
	logger              *slog.Logger
}

// newContext builds a session context in the Connecting state.
func newContext(p sessionParams) *Context {
	return &Context{
		deviceID:            p.deviceID,
		features:            p.features,
		primary:             p.primary,
		aux:                 make(map[string]Connection),
		outbound:            p.outbound,
		store:               p.store,
		agency:              p.agency,
		library:             p.library,
		extensions:          p.extensions,
		notifySvc:           p.notifySvc,
		notifyPub:           p.notifyPub,
		featureSetMandatory: p.featureSetMandatory,
		logger:              p.logger,
	}
}

// DeviceID returns the device identity this session belongs to.
func (c *Context) DeviceID() DeviceID {
	return c.deviceID
}

// Features returns the features negotiated on the primary connection.
func (c *Context) Features() wire.Features {
	return c.features
}

// State returns the session's lifecycle state.
func (c *Context) State() State {
	return State(c.state.Load())
}

// Primary returns the session's primary connection. It is set at
// construction and never replaced.
func (c *Context) Primary() Connection {
	return c.primary
}

// AddAuxiliary attaches an additional connection from the same device.
// Connections are told apart by their connection IDs; attaching an ID
// already held by the session fails with ErrDuplicateAuxiliary.
func (c *Context) AddAuxiliary(conn Connection) error {
	if c.State() >= StateDisconnecting {
		return ErrSessionClosed
	}

	id := conn.ConnID()

	c.mu.Lock()
	if c.aux == nil {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if id == c.primary.ConnID() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateAuxiliary, id)
	}
	if _, exists := c.aux[id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateAuxiliary, id)
	}
	c.aux[id] = conn
	c.mu.Unlock()

	c.agency.Count(stats.AuxiliaryAttached)
	c.logger.Debug("auxiliary attached",
		"device_id", c.deviceID, "conn_id", id)
	return nil
}

// RemoveAuxiliary detaches the auxiliary with the given connection ID.
// It reports whether an auxiliary was removed; removing an unknown ID is
// a no-op.
func (c *Context) RemoveAuxiliary(connID string) bool {
	c.mu.Lock()
	_, exists := c.aux[connID]
	if exists {
		delete(c.aux, connID)
	}
	c.mu.Unlock()

	if !exists {
		return false
	}

	c.agency.Count(stats.AuxiliaryRemoved)
	c.logger.Debug("auxiliary removed",
		"device_id", c.deviceID, "conn_id", connID)
	return true
}

// Auxiliaries returns a snapshot of the attached auxiliary connections.
func (c *Context) Auxiliaries() []Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	conns := make([]Connection, 0, len(c.aux))
	for _, conn := range c.aux {
		conns = append(conns, conn)
	}
	return conns
}

// SetInboundRateLimit sets the advisory notification limit, in events
// per second. The manager calls this on every registry size change.
func (c *Context) SetInboundRateLimit(limit int64) {
	c.rateLimit.Store(limit)
}

// InboundRateLimit returns the advisory notification limit.
func (c *Context) InboundRateLimit() int64 {
	return c.rateLimit.Load()
}

// OfferNotification forwards a device notification to the notification
// publish service, subject to the session's advisory rate limit. Events
// over the limit within the current one-second window are dropped and
// counted, never queued.
func (c *Context) OfferNotification(ev notify.Event) error {
	if c.State() >= StateDisconnecting {
		return ErrSessionClosed
	}

	limit := c.rateLimit.Load()

	c.windowMu.Lock()
	now := time.Now()
	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart = now
		c.windowUsed = 0
	}
	if limit > 0 && c.windowUsed >= limit {
		c.windowMu.Unlock()
		c.agency.Count(stats.NotificationDropped)
		return fmt.Errorf("%w: device %s", ErrNotificationRateLimited, c.deviceID)
	}
	c.windowUsed++
	c.windowMu.Unlock()

	if c.notifyPub == nil {
		return nil
	}

	ev.DeviceID = c.deviceID.String()
	if ev.Time.IsZero() {
		ev.Time = now
	}
	if err := c.notifyPub.Publish(ev); err != nil {
		c.agency.Count(stats.NotificationDropped)
		return err
	}
	c.agency.Count(stats.NotificationForwarded)
	return nil
}

// NotificationService returns the subscription side of the notification
// bus, or nil when none is wired.
func (c *Context) NotificationService() notify.Service {
	return c.notifySvc
}

// NotificationPublishService returns the publish side of the notification
// bus, or nil when none is wired.
func (c *Context) NotificationPublishService() notify.Publisher {
	return c.notifyPub
}

// TranslatorLibrary returns the payload translator registry, or nil when
// none is wired.
func (c *Context) TranslatorLibrary() *translate.Library {
	return c.library
}

// ExtensionProvider returns the vendor extension resolver, or nil when
// none is wired.
func (c *Context) ExtensionProvider() translate.ExtensionProvider {
	return c.extensions
}

// FinalizeBootstrap completes the session's bootstrap: it validates the
// negotiated features when the manager requires them, submits the
// device's inventory record, and marks the session published. It is
// idempotent once published.
func (c *Context) FinalizeBootstrap() error {
	if c.State() >= StateDisconnecting {
		return ErrSessionClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.published {
		return nil
	}
	if c.featureSetMandatory && c.features.Version == 0 {
		return fmt.Errorf("%w: device %s", ErrFeatureSetIncomplete, c.deviceID)
	}

	addr := ""
	if ra := c.primary.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	rec := inventory.NewRecord(c.deviceID.String(), addr, c.features)
	rec.Published = true
	if err := c.store.SubmitDevice(rec); err != nil {
		return fmt.Errorf("submit device record: %w", err)
	}
	c.published = true

	c.logger.Debug("session published", "device_id", c.deviceID)
	return nil
}

// Published reports whether bootstrap finalization has completed.
func (c *Context) Published() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}

// RequestFlush opens the inventory flush for this device. The first call
// starts it; every call returns the same handle.
func (c *Context) RequestFlush() *inventory.Flush {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flush == nil {
		c.flush = c.store.FlushAndClose(c.deviceID.String())
	}
	return c.flush
}

// markActive moves the session from Connecting to Active.
func (c *Context) markActive() {
	c.state.Store(uint32(StateActive))
}

// beginTeardown moves the session to Disconnecting. It reports false when
// teardown had already begun, which makes disconnect handling idempotent.
func (c *Context) beginTeardown() bool {
	for {
		s := State(c.state.Load())
		if s == StateDisconnecting || s == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(uint32(s), uint32(StateDisconnecting)) {
			return true
		}
	}
}

// setClosed marks the session retired.
func (c *Context) setClosed() {
	c.state.Store(uint32(StateClosed))
}

// closeResources releases the auxiliary connections and the outbound
// queue registration. The primary is closed only on manager shutdown;
// normal teardown begins with the primary already gone. Connections are
// closed outside the session lock because close may fire disconnect
// hooks that re-enter the session.
func (c *Context) closeResources(closePrimary bool) {
	c.mu.Lock()
	conns := make([]Connection, 0, len(c.aux))
	for _, conn := range c.aux {
		conns = append(conns, conn)
	}
	c.aux = nil
	reg := c.outbound
	c.outbound = nil
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	if reg != nil {
		_ = reg.Close()
	}
	if closePrimary {
		_ = c.primary.Close()
	}
}
