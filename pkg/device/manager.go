package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weft-protocol/weft-go/pkg/inventory"
	"github.com/weft-protocol/weft-go/pkg/notify"
	"github.com/weft-protocol/weft-go/pkg/stats"
	"github.com/weft-protocol/weft-go/pkg/translate"
)

// Manager owns the session registry and drives every session's lifecycle.
//
// Construction seeds the persisted inventory root; a manager that cannot
// seed it is never built. Collaborators (translator library, extension
// provider, notification services, phase handlers) are wired through the
// setters before the manager serves traffic; sessions capture them at
// admission.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	store  inventory.Store
	agency stats.Agency

	// Collaborators, wired before serving traffic
	library     *translate.Library
	extensions  translate.ExtensionProvider
	notifySvc   notify.Service
	notifyPub   notify.Publisher
	initHandler InitPhaseHandler
	termHandler TermPhaseHandler

	mu       sync.RWMutex
	sessions map[DeviceID]*Context

	initialized atomic.Bool
	closed      atomic.Bool

	pollerStop chan struct{}
	pollerDone sync.WaitGroup
}

// NewManager creates a manager and seeds the inventory root record.
// A store is required; a nil agency gets a fresh counter agency.
// Seeding failure is fatal: no manager is returned.
func NewManager(cfg Config, store inventory.Store, agency stats.Agency) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("inventory store is required")
	}
	if agency == nil {
		agency = stats.NewCounterAgency()
	}
	cfg = cfg.withDefaults()

	if err := store.SubmitInitial(inventory.RootRecord()); err != nil {
		return nil, fmt.Errorf("seed inventory root: %w", err)
	}

	return &Manager{
		cfg:        cfg,
		logger:     cfg.Logger,
		store:      store,
		agency:     agency,
		sessions:   make(map[DeviceID]*Context),
		pollerStop: make(chan struct{}),
	}, nil
}

// Initialize starts the periodic stats poller. It may be called once;
// later calls fail with ErrAlreadyInitialized.
func (m *Manager) Initialize() error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}

	m.pollerDone.Add(1)
	go m.pollStats()

	m.logger.Debug("device manager initialized",
		"stats_interval", m.cfg.StatsInterval)
	return nil
}

// AdmitConnection admits a device's primary connection and registers a
// session for its identity. The bool result distinguishes the benign
// duplicate-identity rejection (false, nil) from real failures; in both
// cases the caller keeps ownership of the connection and must close it.
func (m *Manager) AdmitConnection(conn Connection) (bool, error) {
	if conn == nil {
		return false, ErrNoPrimaryConnection
	}
	if m.closed.Load() {
		return false, ErrManagerClosed
	}

	id := DeviceID(conn.DeviceID())

	m.mu.RLock()
	_, exists := m.sessions[id]
	m.mu.RUnlock()
	if exists {
		m.agency.Count(stats.AdmissionRejected)
		m.logger.Warn("admission rejected, identity already connected",
			"device_id", id, "conn_id", conn.ConnID())
		return false, nil
	}

	// Filtered until the session is fully active.
	conn.SetInboundFiltering(true)

	reg, err := conn.RegisterOutboundQueue(m.cfg.BarrierCountLimit, m.cfg.BarrierInterval)
	if err != nil {
		return false, fmt.Errorf("register outbound queue: %w", err)
	}

	ctx := newContext(sessionParams{
		deviceID:            id,
		primary:             conn,
		features:            conn.Features(),
		outbound:            reg,
		store:               m.store,
		agency:              m.agency,
		library:             m.library,
		extensions:          m.extensions,
		notifySvc:           m.notifySvc,
		notifyPub:           m.notifyPub,
		featureSetMandatory: m.cfg.FeatureSetMandatory,
		logger:              m.logger,
	})

	conn.OnDisconnect(func() { m.DeviceDisconnected(conn) })

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		_ = reg.Close()
		return false, ErrManagerClosed
	}
	if _, exists := m.sessions[id]; exists {
		// A session appeared between the duplicate check and the
		// insert. Loud on purpose: the benign path is the early
		// rejection above.
		m.mu.Unlock()
		_ = reg.Close()
		m.agency.Count(stats.AdmissionRejected)
		return false, fmt.Errorf("%w: %s", ErrContextStillOpen, id)
	}
	m.sessions[id] = ctx
	m.redistributeLocked()
	m.mu.Unlock()

	ctx.markActive()

	if err := m.runInitPhase(ctx); err != nil {
		m.evict(ctx)
		return false, fmt.Errorf("initialization phase: %w", err)
	}

	conn.SetInboundFiltering(false)

	m.agency.Count(stats.DeviceConnected)
	m.logger.Info("device admitted",
		"device_id", id,
		"conn_id", conn.ConnID(),
		"version", conn.Features().Version)
	return true, nil
}

// runInitPhase runs the configured initialization handler, or the
// session's own bootstrap finalization when no handler is wired.
func (m *Manager) runInitPhase(ctx *Context) error {
	if h := m.initHandler; h != nil {
		return h.OnDeviceContextUp(ctx)
	}
	return ctx.FinalizeBootstrap()
}

// evict backs a failed admission out of the registry. Nothing stays
// registered on any admission error path.
func (m *Manager) evict(ctx *Context) {
	m.removeIfMatches(ctx)
	ctx.closeResources(false)
	ctx.setClosed()
}

// AttachAuxiliary attaches an additional connection from an
// already-admitted device to its session. The disconnect hook is
// registered only after the attach succeeds: a hook for a rejected
// duplicate would otherwise detach the healthy auxiliary holding the
// same connection ID.
func (m *Manager) AttachAuxiliary(conn Connection) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	id := DeviceID(conn.DeviceID())

	m.mu.RLock()
	ctx, exists := m.sessions[id]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}

	if err := ctx.AddAuxiliary(conn); err != nil {
		return err
	}
	conn.OnDisconnect(func() { m.DeviceDisconnected(conn) })
	return nil
}

// DeviceDisconnected handles a dropped connection. Reports for unknown
// identities or superseded handles are benign no-ops; an auxiliary
// disconnect shrinks the session's auxiliary set; a primary disconnect
// starts teardown. Handles are told apart by connection ID, never by
// pointer identity.
func (m *Manager) DeviceDisconnected(conn Connection) {
	if m.closed.Load() {
		return
	}

	id := DeviceID(conn.DeviceID())

	m.mu.RLock()
	ctx, exists := m.sessions[id]
	m.mu.RUnlock()

	if !exists {
		m.agency.Count(stats.StaleDisconnect)
		m.logger.Debug("disconnect for unknown session",
			"device_id", id, "conn_id", conn.ConnID())
		return
	}

	if conn.ConnID() != ctx.primary.ConnID() {
		if !ctx.RemoveAuxiliary(conn.ConnID()) {
			m.agency.Count(stats.StaleDisconnect)
			m.logger.Debug("disconnect for unknown auxiliary",
				"device_id", id, "conn_id", conn.ConnID())
		}
		return
	}

	if !ctx.beginTeardown() {
		m.logger.Debug("teardown already in progress", "device_id", id)
		return
	}

	m.logger.Info("primary disconnected, tearing down",
		"device_id", id, "conn_id", conn.ConnID())

	fl := ctx.RequestFlush()
	watchdog := time.AfterFunc(m.cfg.FlushTimeout, fl.Cancel)
	go m.completeTeardown(ctx, fl, watchdog)
}

// completeTeardown waits for the session's flush to resolve, runs the
// termination phase, and retires the session. The termination phase runs
// for every torn-down session, whatever the flush outcome.
func (m *Manager) completeTeardown(ctx *Context, fl *inventory.Flush, watchdog *time.Timer) {
	<-fl.Done()
	watchdog.Stop()

	switch fl.Outcome() {
	case inventory.FlushSucceeded:
		m.agency.Count(stats.FlushSucceeded)
		m.logger.Debug("inventory flush complete", "device_id", ctx.deviceID)
	case inventory.FlushFailed:
		m.agency.Count(stats.FlushFailed)
		m.logger.Warn("inventory flush failed",
			"device_id", ctx.deviceID, "error", fl.Err())
	case inventory.FlushCancelled:
		m.agency.Count(stats.FlushCancelled)
		m.logger.Warn("inventory flush timed out", "device_id", ctx.deviceID)
	}

	if h := m.termHandler; h != nil {
		h.OnDeviceContextDown(ctx)
	}

	m.retire(ctx)
}

// retire closes the session's remaining resources and removes it from
// the registry.
func (m *Manager) retire(ctx *Context) {
	ctx.closeResources(false)
	ctx.setClosed()

	if m.removeIfMatches(ctx) {
		m.agency.Count(stats.DeviceDisconnected)
		m.logger.Info("session retired", "device_id", ctx.deviceID)
	}
}

// Close shuts the manager down. Remaining sessions are force-closed and
// their flushes triggered without waiting; termination handlers do not
// run. Close does not wait for in-flight flushes.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrManagerClosed
	}

	if m.initialized.Load() {
		close(m.pollerStop)
		m.pollerDone.Wait()
	}

	m.mu.Lock()
	sessions := make([]*Context, 0, len(m.sessions))
	for _, ctx := range m.sessions {
		sessions = append(sessions, ctx)
	}
	m.sessions = make(map[DeviceID]*Context)
	m.mu.Unlock()

	for _, ctx := range sessions {
		ctx.beginTeardown()
		ctx.closeResources(true)
		ctx.RequestFlush()
		ctx.setClosed()
	}

	m.logger.Info("device manager closed", "sessions", len(sessions))
	return nil
}

// Lookup returns the session registered for a device identity.
func (m *Manager) Lookup(id DeviceID) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx, exists := m.sessions[id]
	return ctx, exists
}

// Sessions returns a snapshot of the registered sessions.
func (m *Manager) Sessions() []*Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Context, 0, len(m.sessions))
	for _, ctx := range m.sessions {
		out = append(out, ctx)
	}
	return out
}

// SessionCount returns the number of registered sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// removeIfMatches removes the registry entry for the session's identity
// only while it still maps to this exact session, then recomputes the
// per-session limits. A successor session registered for the same
// identity is left alone.
func (m *Manager) removeIfMatches(ctx *Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.sessions[ctx.deviceID]
	if !exists || cur != ctx {
		return false
	}
	delete(m.sessions, ctx.deviceID)
	m.redistributeLocked()
	return true
}

// redistributeLocked divides the global notification quota evenly across
// the registered sessions, floors the share at MinInboundRateLimit, and
// pushes it to every session. Caller holds m.mu. Runs on every registry
// size change so no session ever carries a limit computed for a
// different session count.
func (m *Manager) redistributeLocked() {
	n := int64(len(m.sessions))
	if n == 0 {
		return
	}

	limit := m.cfg.GlobalNotificationQuota / n
	if limit < MinInboundRateLimit {
		limit = MinInboundRateLimit
	}
	for _, ctx := range m.sessions {
		ctx.SetInboundRateLimit(limit)
	}
}

// pollStats reports the stats counters every StatsInterval until Close.
func (m *Manager) pollStats() {
	defer m.pollerDone.Done()

	ticker := time.NewTicker(m.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.pollerStop:
			return
		case <-ticker.C:
			m.reportStats()
		}
	}
}

// reportStats emits the session count and one line per nonzero counter,
// in stable order.
func (m *Manager) reportStats() {
	m.logger.Info("stats report", "sessions", m.SessionCount())

	snap := m.agency.Snapshot()
	classes := make([]stats.Class, 0, len(snap))
	for c := range snap {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	for _, c := range classes {
		m.logger.Info("stats", "class", c.String(), "count", snap[c])
	}
}

// SetTranslatorLibrary wires the payload translator registry.
// Collaborator setters are for pre-wiring: call them before the manager
// serves traffic. Sessions capture collaborators at admission.
func (m *Manager) SetTranslatorLibrary(l *translate.Library) {
	m.library = l
}

// SetExtensionProvider wires the vendor extension resolver.
func (m *Manager) SetExtensionProvider(p translate.ExtensionProvider) {
	m.extensions = p
}

// SetNotificationService wires the subscription side of the notification
// bus handed to sessions.
func (m *Manager) SetNotificationService(s notify.Service) {
	m.notifySvc = s
}

// SetNotificationPublishService wires the publish side of the
// notification bus handed to sessions.
func (m *Manager) SetNotificationPublishService(p notify.Publisher) {
	m.notifyPub = p
}

// SetInitPhaseHandler wires the initialization phase handler. With none
// set, admission runs the session's own bootstrap finalization.
func (m *Manager) SetInitPhaseHandler(h InitPhaseHandler) {
	m.initHandler = h
}

// SetTermPhaseHandler wires the termination phase handler.
func (m *Manager) SetTermPhaseHandler(h TermPhaseHandler) {
	m.termHandler = h
}
