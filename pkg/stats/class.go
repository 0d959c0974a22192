package stats

// Class identifies a counted event class.
type Class uint8

const (
	// DeviceConnected counts successful device admissions.
	DeviceConnected Class = iota
	// DeviceDisconnected counts completed primary-channel teardowns.
	DeviceDisconnected
	// AdmissionRejected counts admissions refused for a duplicate identity.
	AdmissionRejected
	// StaleDisconnect counts disconnect reports with no matching session.
	StaleDisconnect
	// AuxiliaryAttached counts auxiliary channels attached to sessions.
	AuxiliaryAttached
	// AuxiliaryRemoved counts auxiliary channels detached from sessions.
	AuxiliaryRemoved
	// FlushSucceeded counts inventory flushes that completed cleanly.
	FlushSucceeded
	// FlushFailed counts inventory flushes that resolved with an error.
	FlushFailed
	// FlushCancelled counts inventory flushes cancelled by the watchdog.
	FlushCancelled
	// NotificationForwarded counts device notifications handed to the bus.
	NotificationForwarded
	// NotificationDropped counts notifications shed by the rate limiter.
	NotificationDropped
	// NotificationFiltered counts notifications dropped by inbound filtering.
	NotificationFiltered
	// FramesIn counts frames read from devices.
	FramesIn
	// FramesOut counts frames written to devices.
	FramesOut
	// BytesIn counts payload bytes read from devices.
	BytesIn
	// BytesOut counts payload bytes written to devices.
	BytesOut
	// EchoReplied counts echo probes answered by the transport.
	EchoReplied

	numClasses
)

// String returns the class name as it appears in reports.
func (c Class) String() string {
	switch c {
	case DeviceConnected:
		return "device_connected"
	case DeviceDisconnected:
		return "device_disconnected"
	case AdmissionRejected:
		return "admission_rejected"
	case StaleDisconnect:
		return "stale_disconnect"
	case AuxiliaryAttached:
		return "auxiliary_attached"
	case AuxiliaryRemoved:
		return "auxiliary_removed"
	case FlushSucceeded:
		return "flush_succeeded"
	case FlushFailed:
		return "flush_failed"
	case FlushCancelled:
		return "flush_cancelled"
	case NotificationForwarded:
		return "notification_forwarded"
	case NotificationDropped:
		return "notification_dropped"
	case NotificationFiltered:
		return "notification_filtered"
	case FramesIn:
		return "frames_in"
	case FramesOut:
		return "frames_out"
	case BytesIn:
		return "bytes_in"
	case BytesOut:
		return "bytes_out"
	case EchoReplied:
		return "echo_replied"
	default:
		return "unknown"
	}
}
