package notify

import (
	"time"
)

// EventKind classifies a device event.
type EventKind uint8

const (
	// KindDeviceAppeared is published when a device session becomes active.
	KindDeviceAppeared EventKind = iota
	// KindDeviceVanished is published when a device session is retired.
	KindDeviceVanished
	// KindDeviceNotification carries an asynchronous notification payload
	// from a device.
	KindDeviceNotification
	// KindPortStatus carries a port status change report from a device.
	KindPortStatus
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case KindDeviceAppeared:
		return "DEVICE_APPEARED"
	case KindDeviceVanished:
		return "DEVICE_VANISHED"
	case KindDeviceNotification:
		return "DEVICE_NOTIFICATION"
	case KindPortStatus:
		return "PORT_STATUS"
	default:
		return "UNKNOWN"
	}
}

// Event is a single device event on the bus.
type Event struct {
	// Kind classifies the event.
	Kind EventKind

	// DeviceID is the identity of the device the event concerns.
	DeviceID string

	// Payload is the opaque event payload, if any.
	Payload []byte

	// Time is when the event was published.
	Time time.Time
}
