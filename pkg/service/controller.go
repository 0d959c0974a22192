package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/weft-protocol/weft-go/pkg/config"
	"github.com/weft-protocol/weft-go/pkg/device"
	"github.com/weft-protocol/weft-go/pkg/discovery"
	"github.com/weft-protocol/weft-go/pkg/inventory"
	"github.com/weft-protocol/weft-go/pkg/notify"
	"github.com/weft-protocol/weft-go/pkg/stats"
	"github.com/weft-protocol/weft-go/pkg/translate"
	"github.com/weft-protocol/weft-go/pkg/transport"
	"github.com/weft-protocol/weft-go/pkg/version"
)

// Controller orchestrates a WEFT controller: it owns the transport
// server, the device lifecycle manager, and everything wired between
// them.
type Controller struct {
	mu sync.RWMutex

	cfg    *config.Config
	logger *slog.Logger
	state  State

	// Wired stack, built by New.
	store   *inventory.FileStore
	agency  *stats.CounterAgency
	bus     *notify.Bus
	library *translate.Library
	manager *device.Manager

	// Populated by Start.
	server    *transport.Server
	announcer *discovery.Announcer
}

// New wires a controller from the daemon configuration. The inventory
// store under cfg.StateDir is opened and seeded immediately; a failure
// there is fatal. A nil cfg means defaults, a nil logger disables
// logging.
func New(cfg *config.Config, logger *slog.Logger) (*Controller, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store, err := inventory.NewFileStore(cfg.StateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open inventory store: %w", err)
	}

	agency := stats.NewCounterAgency()
	bus := notify.NewBus()
	library := translate.NewLibrary()

	manager, err := device.NewManager(device.Config{
		GlobalNotificationQuota: cfg.Quota,
		BarrierCountLimit:       cfg.Barrier.CountLimit,
		BarrierInterval:         cfg.Barrier.Interval,
		FlushTimeout:            cfg.FlushTimeout,
		StatsInterval:           cfg.StatsInterval,
		Logger:                  logger,
	}, store, agency)
	if err != nil {
		bus.Close()
		_ = store.Close()
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		logger:  logger,
		state:   StateIdle,
		store:   store,
		agency:  agency,
		bus:     bus,
		library: library,
		manager: manager,
	}

	manager.SetTranslatorLibrary(library)
	manager.SetNotificationService(bus)
	manager.SetNotificationPublishService(bus)
	manager.SetInitPhaseHandler(device.InitPhaseFunc(c.deviceUp))
	manager.SetTermPhaseHandler(device.TermPhaseFunc(c.deviceDown))

	return c, nil
}

// Start brings the controller up: TLS material, transport server,
// optional mDNS advertisement, and the stats poller. The context bounds
// the accept loop and every connection it produces.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateStarting
	c.mu.Unlock()

	tlsConf, err := buildServerTLS(c.cfg)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	srv, err := transport.NewServer(transport.Config{
		TLSConfig: tlsConf,
		Address:   c.cfg.Listen,
		Logger:    c.logger,
		Agency:    c.agency,
		OnConnect: c.handleConnection,
		OnMessage: c.handleMessage,
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	if err := srv.Start(ctx); err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	if c.cfg.Discovery.Enabled {
		if err := c.startDiscovery(ctx, srv, tlsConf.Certificate); err != nil {
			_ = srv.Stop()
			c.mu.Lock()
			c.state = StateIdle
			c.mu.Unlock()
			return fmt.Errorf("start mdns advertisement: %w", err)
		}
	}

	if err := c.manager.Initialize(); err != nil {
		c.mu.Lock()
		ann := c.announcer
		c.announcer = nil
		c.state = StateIdle
		c.mu.Unlock()
		if ann != nil {
			ann.Stop()
		}
		_ = srv.Stop()
		return err
	}

	c.mu.Lock()
	c.server = srv
	c.state = StateRunning
	c.mu.Unlock()

	c.logger.Info("controller running", "addr", srv.Addr())
	return nil
}

// startDiscovery begins mDNS advertisement and keeps the announcer
// wired for device count refreshes.
func (c *Controller) startDiscovery(ctx context.Context, srv *transport.Server, cert tls.Certificate) error {
	id, err := controllerID(cert)
	if err != nil {
		return err
	}

	adv, err := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
		Interface: c.cfg.Discovery.Interface,
	})
	if err != nil {
		return err
	}

	cur, _ := version.Parse(version.Current)
	info := discovery.ControllerInfo{
		InstanceName:  c.cfg.Discovery.Instance,
		ControllerID:  id,
		Version:       uint8(cur.Major),
		VersionBitmap: version.SupportedBitmap(),
		DeviceCount:   c.manager.SessionCount(),
	}
	if tcp, ok := srv.Addr().(*net.TCPAddr); ok {
		info.Port = uint16(tcp.Port)
	}

	ann := discovery.NewAnnouncer(adv, info)
	if err := ann.Start(ctx); err != nil {
		adv.StopAll()
		return err
	}

	c.mu.Lock()
	c.announcer = ann
	c.mu.Unlock()
	return nil
}

// Stop shuts the controller down. Device sessions are drained without
// waiting on their inventory flushes. Stop on a controller that is not
// running is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	server := c.server
	announcer := c.announcer
	c.mu.Unlock()

	if announcer != nil {
		announcer.Stop()
	}

	// The manager goes first: it drains every session and requests the
	// inventory flushes without waiting on them. The transport server
	// then only has dead connections left to reap.
	err := c.manager.Close()

	if server != nil {
		if serr := server.Stop(); err == nil {
			err = serr
		}
	}

	c.bus.Close()

	if serr := c.store.Close(); err == nil {
		err = serr
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	c.logger.Info("controller stopped")
	return err
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Manager returns the device lifecycle manager.
func (c *Controller) Manager() *device.Manager {
	return c.manager
}

// Bus returns the notification bus carrying device lifecycle and
// notification events.
func (c *Controller) Bus() *notify.Bus {
	return c.bus
}

// Inventory returns the persisted device inventory.
func (c *Controller) Inventory() *inventory.FileStore {
	return c.store
}

// Library returns the translator library. Translators registered before
// Start apply to every admitted device.
func (c *Controller) Library() *translate.Library {
	return c.library
}

// Agency returns the counter agency shared by the transport and the
// device manager.
func (c *Controller) Agency() *stats.CounterAgency {
	return c.agency
}

// Addr returns the transport listen address, or nil before Start.
func (c *Controller) Addr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.server == nil {
		return nil
	}
	return c.server.Addr()
}
