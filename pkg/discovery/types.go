package discovery

import (
	"errors"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceTypeController is the service type advertised by running controllers.
	ServiceTypeController = "_weft._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default WEFT port.
	DefaultPort = 9143
)

// TXT record key constants.
const (
	TXTKeyControllerID  = "id"  // Controller identity (16 hex chars)
	TXTKeyVersion       = "ver" // Highest supported protocol version (decimal)
	TXTKeyVersionBitmap = "vb"  // Supported version bitmap (hex, optional)
	TXTKeyDeviceCount   = "dc"  // Admitted device count (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// UpdateDelay is the maximum delay before a TXT record refresh
	// (e.g. a device count change) reaches the network.
	UpdateDelay = 1 * time.Second

	// DefaultTTL is the default advertisement TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400

	// IDLength is the length of a controller identity (16 hex chars = 64 bits).
	IDLength = 16
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInvalidControllerID = errors.New("invalid controller ID")
	ErrInvalidVersion      = errors.New("invalid protocol version")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertised       = errors.New("service not advertised")
)

// ControllerInfo contains information for advertising a controller.
type ControllerInfo struct {
	// InstanceName is the mDNS instance name (e.g. "weft-lab").
	InstanceName string

	// ControllerID is the controller identity (16 hex chars from the
	// certificate fingerprint).
	ControllerID string

	// Version is the highest protocol version the controller speaks.
	Version uint8

	// VersionBitmap advertises all supported versions (optional).
	VersionBitmap uint32

	// DeviceCount is the number of admitted devices (optional).
	DeviceCount int

	// Port is the service port. Zero means DefaultPort.
	Port uint16

	// Host is the hostname to advertise. Empty means the local hostname.
	Host string
}

// Validate checks if the ControllerInfo is valid.
func (c *ControllerInfo) Validate() error {
	if c.InstanceName == "" {
		return ErrMissingRequired
	}
	if len(c.InstanceName) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	if len(c.ControllerID) != IDLength || !isHexString(c.ControllerID) {
		return ErrInvalidControllerID
	}
	if c.Version == 0 {
		return ErrInvalidVersion
	}
	return nil
}

// ControllerService represents a controller found via mDNS.
type ControllerService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the hostname (e.g. "controller.local").
	Host string

	// Port is the service port.
	Port uint16

	// Addresses contains resolved IP addresses.
	Addresses []string

	// ControllerID is the controller identity (from TXT "id").
	ControllerID string

	// Version is the highest supported protocol version (from TXT "ver").
	Version uint8

	// VersionBitmap is the optional supported version bitmap (from TXT "vb").
	VersionBitmap uint32

	// DeviceCount is the optional admitted device count (from TXT "dc").
	DeviceCount int
}
