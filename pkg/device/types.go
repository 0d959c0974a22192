package device

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/weft-protocol/weft-go/pkg/wire"
)

// DeviceID is the stable identity of a device: the certificate fingerprint
// for TLS client-cert connections, or a configured name.
type DeviceID string

// String returns the identity as a plain string.
func (id DeviceID) String() string {
	return string(id)
}

// State is the lifecycle state of a session context.
type State uint8

const (
	// StateConnecting covers admission and the initialization phase.
	StateConnecting State = iota

	// StateActive is normal operation after a successful admission.
	StateActive

	// StateDisconnecting means teardown has begun and the inventory
	// flush is in flight.
	StateDisconnecting

	// StateClosed means the session has been retired.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MinInboundRateLimit is the floor for the per-session notification limit.
// No amount of registry growth pushes a session below this.
const MinInboundRateLimit int64 = 100

// Connection is the manager's view of a device connection. transport.Conn
// satisfies it; tests substitute fakes.
type Connection interface {
	// DeviceID returns the stable device identity behind the connection.
	DeviceID() string

	// ConnID returns the unique identifier of this connection handle.
	// Two connections from the same device have different ConnIDs.
	ConnID() string

	// RemoteAddr returns the remote endpoint address.
	RemoteAddr() net.Addr

	// Features returns the features negotiated during the hello exchange.
	Features() wire.Features

	// OnDisconnect registers the hook invoked once when the connection
	// drops, locally or remotely.
	OnDisconnect(fn func())

	// RegisterOutboundQueue installs the barrier-batched outbound queue.
	// Closing the returned handle releases it.
	RegisterOutboundQueue(limit int, interval time.Duration) (io.Closer, error)

	// SetInboundFiltering toggles inbound filtering. Admission enables it
	// until the session is fully active.
	SetInboundFiltering(enabled bool)

	// Send writes a frame to the device.
	Send(data []byte) error

	// Close tears down the connection.
	Close() error
}

// InitPhaseHandler runs the initialization phase for a freshly admitted
// session. An error rejects the admission and evicts the session.
type InitPhaseHandler interface {
	OnDeviceContextUp(ctx *Context) error
}

// InitPhaseFunc adapts a function to the InitPhaseHandler interface.
type InitPhaseFunc func(ctx *Context) error

// OnDeviceContextUp calls the function.
func (f InitPhaseFunc) OnDeviceContextUp(ctx *Context) error {
	return f(ctx)
}

// TermPhaseHandler runs after a torn-down session's flush has resolved,
// before the session leaves the registry. It always runs, whatever the
// flush outcome.
type TermPhaseHandler interface {
	OnDeviceContextDown(ctx *Context)
}

// TermPhaseFunc adapts a function to the TermPhaseHandler interface.
type TermPhaseFunc func(ctx *Context)

// OnDeviceContextDown calls the function.
func (f TermPhaseFunc) OnDeviceContextDown(ctx *Context) {
	f(ctx)
}

var (
	// ErrManagerClosed is returned once the manager has shut down.
	ErrManagerClosed = errors.New("device manager closed")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("device manager already initialized")

	// ErrContextStillOpen reports a session appearing for an identity
	// between the admission duplicate check and the registry insert.
	ErrContextStillOpen = errors.New("session context still open")

	// ErrNoPrimaryConnection reports a session built without a primary.
	ErrNoPrimaryConnection = errors.New("no primary connection")

	// ErrSessionClosed is returned by session operations once teardown
	// has begun.
	ErrSessionClosed = errors.New("session closed")

	// ErrDuplicateAuxiliary reports an auxiliary whose connection ID is
	// already attached to the session.
	ErrDuplicateAuxiliary = errors.New("duplicate auxiliary connection")

	// ErrNoSession reports an auxiliary attach for a device identity
	// with no registered session.
	ErrNoSession = errors.New("no session for device")

	// ErrNotificationRateLimited reports a notification dropped because
	// the session's per-second window is exhausted.
	ErrNotificationRateLimited = errors.New("notification rate limited")

	// ErrFeatureSetIncomplete reports bootstrap finalization on a session
	// whose negotiated features are empty while the manager requires them.
	ErrFeatureSetIncomplete = errors.New("negotiated feature set incomplete")
)
