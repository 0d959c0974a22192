package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// MDNSAdvertiser implements the Advertiser interface using zeroconf.
type MDNSAdvertiser struct {
	config AdvertiserConfig

	mu               sync.Mutex
	controllerServer *zeroconf.Server
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) (*MDNSAdvertiser, error) {
	return &MDNSAdvertiser{
		config: config,
	}, nil
}

// getInterfaces returns the network interfaces to use for advertising.
// Returns nil to use all interfaces.
func (a *MDNSAdvertiser) getInterfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}

	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// AdvertiseController starts advertising the controller service.
func (a *MDNSAdvertiser) AdvertiseController(ctx context.Context, info *ControllerInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Stop existing if any
	if a.controllerServer != nil {
		a.controllerServer.Shutdown()
		a.controllerServer = nil
	}

	// Build TXT records
	txtRecords := EncodeControllerTXT(info)
	txtStrings := TXTRecordsToStrings(txtRecords)

	// Determine port
	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	// Register service
	var opts []zeroconf.ServerOption
	ttl := a.config.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	opts = append(opts, zeroconf.TTL(uint32(ttl.Seconds())))

	// Get interfaces (nil means all interfaces)
	ifaces := a.getInterfaces()

	server, err := zeroconf.Register(
		info.InstanceName,
		ServiceTypeController,
		Domain,
		port,
		txtStrings,
		ifaces,
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register controller service: %w", err)
	}

	a.controllerServer = server
	return nil
}

// UpdateController updates TXT records of the running advertisement.
func (a *MDNSAdvertiser) UpdateController(info *ControllerInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controllerServer == nil {
		return ErrNotAdvertised
	}

	txtRecords := EncodeControllerTXT(info)
	txtStrings := TXTRecordsToStrings(txtRecords)
	a.controllerServer.SetText(txtStrings)

	return nil
}

// StopController stops advertising the controller service.
func (a *MDNSAdvertiser) StopController() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controllerServer != nil {
		a.controllerServer.Shutdown()
		a.controllerServer = nil
	}
	return nil
}

// StopAll stops all advertisements.
func (a *MDNSAdvertiser) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controllerServer != nil {
		a.controllerServer.Shutdown()
		a.controllerServer = nil
	}
}

// MDNSBrowser implements the Browser interface using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) (*MDNSBrowser, error) {
	return &MDNSBrowser{
		config: config,
	}, nil
}

// BrowseControllers searches for running controllers.
// Services are aggregated by instance name - addresses from multiple
// interfaces are combined into a single entry. Removals are handled when
// interfaces disappear.
func (b *MDNSBrowser) BrowseControllers(ctx context.Context) (<-chan *ControllerService, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, context.Canceled
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	out := make(chan *ControllerService)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	// Set up browser options
	opts := b.browserOptions()

	// Process entries with aggregation
	go func() {
		defer close(out)

		// Track services by instance name, aggregating addresses
		services := make(map[string]*ControllerService)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := b.entryToController(entry)
				if svc == nil {
					continue
				}

				existing, found := services[svc.InstanceName]
				if found {
					// Merge addresses into existing entry
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				} else {
					// New service - store and emit
					services[svc.InstanceName] = svc
					select {
					case out <- svc:
					case <-ctx.Done():
						return
					}
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				// Remove addresses that came from this interface
				if existing, found := services[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					// If no addresses remain, remove the service
					if len(existing.Addresses) == 0 {
						delete(services, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	// Start browsing in background
	go func() {
		_ = zeroconf.Browse(ctx, ServiceTypeController, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// FindController searches for a specific controller by identity.
func (b *MDNSBrowser) FindController(ctx context.Context, controllerID string) (*ControllerService, error) {
	results, err := b.BrowseControllers(ctx)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case svc, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if svc.ControllerID == controllerID {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Stop stops all active browsing operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	if b.cancel != nil {
		b.cancel()
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	// Select specific interface if configured
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}

	return opts
}

// entryToController converts a zeroconf entry to ControllerService.
func (b *MDNSBrowser) entryToController(entry *zeroconf.ServiceEntry) *ControllerService {
	txt := StringsToTXTRecords(entry.Text)
	info, err := DecodeControllerTXT(txt)
	if err != nil {
		return nil
	}

	// Collect addresses
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &ControllerService{
		InstanceName:  entry.Instance,
		Host:          entry.HostName,
		Port:          uint16(entry.Port),
		Addresses:     addrs,
		ControllerID:  info.ControllerID,
		Version:       info.Version,
		VersionBitmap: info.VersionBitmap,
		DeviceCount:   info.DeviceCount,
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, new []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range new {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses removes addresses from a zeroconf entry from the list.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	// Build set of addresses to remove
	toRemove := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		toRemove[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		toRemove[ip.String()] = true
	}

	// Filter out removed addresses
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

// Ensure MDNSAdvertiser implements Advertiser interface.
var _ Advertiser = (*MDNSAdvertiser)(nil)

// Ensure MDNSBrowser implements Browser interface.
var _ Browser = (*MDNSBrowser)(nil)
