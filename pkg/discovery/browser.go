package discovery

import (
	"context"
	"time"
)

// Browser provides mDNS service browsing for devices looking for a controller.
type Browser interface {
	// BrowseControllers searches for running controllers. The channel is
	// closed when the context is cancelled or browsing completes.
	BrowseControllers(ctx context.Context) (<-chan *ControllerService, error)

	// FindController searches for a specific controller by identity.
	// Returns when found or when the context is cancelled.
	FindController(ctx context.Context, controllerID string) (*ControllerService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for browse operations.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// ServiceEntry is a raw mDNS service entry. It is a helper for Browser
// implementations and tests that construct entries without a network.
type ServiceEntry struct {
	Instance string
	Service  string
	Domain   string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToControllerService converts a ServiceEntry to a ControllerService.
func (e *ServiceEntry) ToControllerService() (*ControllerService, error) {
	txt := StringsToTXTRecords(e.Text)
	info, err := DecodeControllerTXT(txt)
	if err != nil {
		return nil, err
	}

	return &ControllerService{
		InstanceName:  e.Instance,
		Host:          e.Host,
		Port:          e.Port,
		Addresses:     e.Addrs,
		ControllerID:  info.ControllerID,
		Version:       info.Version,
		VersionBitmap: info.VersionBitmap,
		DeviceCount:   info.DeviceCount,
	}, nil
}
