package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/weft-protocol/weft-go/pkg/wire"
)

// ServerConnection represents a server-side connection to a device.
// Implemented by Conn.
type ServerConnection interface {
	// DeviceID returns the device identity derived during the handshake.
	DeviceID() string

	// ConnID returns the process-unique connection identifier.
	ConnID() string

	// RemoteAddr returns the remote network address of the device.
	RemoteAddr() net.Addr

	// Features returns what was negotiated in the hello exchange.
	Features() wire.Features

	// TLSState returns the TLS connection state.
	TLSState() tls.ConnectionState

	// Send sends a message to the device.
	Send(data []byte) error

	// Close closes the connection.
	Close() error
}

// ClientConnection represents a device-side connection to a controller.
// Implemented by ClientConn.
type ClientConnection interface {
	// TLSState returns the TLS connection state.
	TLSState() tls.ConnectionState

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// NegotiatedVersion returns the version fixed by the hello exchange.
	NegotiatedVersion() uint8

	// Send sends a message to the controller.
	Send(data []byte) error

	// Receive receives a message with the specified timeout.
	Receive(timeout time.Duration) ([]byte, error)

	// Close closes the connection.
	Close() error

	// SendEcho sends an echo probe with the given sequence number.
	SendEcho(seq uint32) error

	// SendNotification sends an unsolicited notification frame.
	SendNotification(payload []byte) error
}

// TransportServer represents a WEFT TLS server.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop gracefully stops the server.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ ServerConnection = (*Conn)(nil)
	_ ClientConnection = (*ClientConn)(nil)
	_ TransportServer  = (*Server)(nil)
	_ FrameReadWriter  = (*Framer)(nil)
)
