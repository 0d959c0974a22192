package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weft-protocol/weft-go/pkg/version"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

// Connection states.
type ConnectionState int

const (
	// StateDisconnected indicates no connection.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates connection in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateClosing indicates close in progress.
	StateClosing
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionClosed = errors.New("connection closed")
)

// ConnectionConfig configures the device side of a WEFT connection.
type ConnectionConfig struct {
	// TLS configuration
	TLS *ClientTLSConfig

	// VersionBitmap advertises the protocol versions this device speaks.
	// Zero means every version this library supports.
	VersionBitmap uint32

	// DeviceName is the optional human-readable name sent in the hello.
	DeviceName string

	// Auxiliary is the channel id sent in the hello. Zero opens the
	// primary channel, anything else an auxiliary channel.
	Auxiliary uint8

	// Capabilities are the capability bits sent in the hello.
	Capabilities uint32

	// MaxMessageSize is the maximum message size (default: 64KB)
	MaxMessageSize uint32

	// KeepAlive configuration
	KeepAlive KeepAliveConfig

	// ReadTimeout is the timeout for read operations (0 = no timeout)
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for write operations (0 = no timeout)
	WriteTimeout time.Duration
}

// DefaultConnectionConfig returns the default connection configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		VersionBitmap:  version.SupportedBitmap(),
		MaxMessageSize: DefaultMaxMessageSize,
		KeepAlive:      DefaultKeepAliveConfig(),
	}
}

// ConnectionHandler handles connection events.
type ConnectionHandler interface {
	// OnMessage is called when a message is received.
	OnMessage(msg []byte)

	// OnStateChange is called when the connection state changes.
	OnStateChange(oldState, newState ConnectionState)

	// OnError is called when an error occurs.
	OnError(err error)
}

// Connection is the device side of a WEFT session: it dials the
// controller, runs the hello exchange, answers echo probes, and sends
// its own probes to detect a dead controller.
type Connection struct {
	config  ConnectionConfig
	handler ConnectionHandler

	// Network connection
	conn    net.Conn
	tlsConn *tls.Conn
	framer  *Framer

	// Keep-alive
	keepAlive *KeepAlive

	// State
	state      atomic.Int32
	negotiated atomic.Uint32
	closeOnce  sync.Once
	closeCh    chan struct{}

	// Synchronization
	mu      sync.RWMutex
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewConnection creates a new connection (not yet connected).
func NewConnection(config ConnectionConfig, handler ConnectionHandler) *Connection {
	if config.VersionBitmap == 0 {
		config.VersionBitmap = version.SupportedBitmap()
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	c := &Connection{
		config:  config,
		handler: handler,
		closeCh: make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))

	return c
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// NegotiatedVersion returns the protocol version fixed by the hello
// exchange, or zero when not connected.
func (c *Connection) NegotiatedVersion() uint8 {
	return uint8(c.negotiated.Load())
}

// Connect establishes a connection to the controller at the specified
// address and runs the hello exchange.
func (c *Connection) Connect(ctx context.Context, address string) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	// Notify state change
	c.notifyStateChange(StateDisconnected, StateConnecting)

	// Dial with timeout from context
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.notifyStateChange(StateConnecting, StateDisconnected)
		return fmt.Errorf("dial failed: %w", err)
	}

	// TLS handshake
	tlsConn := tls.Client(conn, NewClientTLSConfig(c.config.TLS))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		c.state.Store(int32(StateDisconnected))
		c.notifyStateChange(StateConnecting, StateDisconnected)
		return fmt.Errorf("TLS handshake failed: %w", err)
	}

	// Verify connection
	if err := VerifyConnection(tlsConn.ConnectionState()); err != nil {
		tlsConn.Close()
		c.state.Store(int32(StateDisconnected))
		c.notifyStateChange(StateConnecting, StateDisconnected)
		return fmt.Errorf("connection verification failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.tlsConn = tlsConn
	c.framer = NewFramerWithMaxSize(tlsConn, c.config.MaxMessageSize)
	c.mu.Unlock()

	// Hello exchange
	negotiated, err := c.exchangeHello(ctx, tlsConn)
	if err != nil {
		tlsConn.Close()
		c.state.Store(int32(StateDisconnected))
		c.notifyStateChange(StateConnecting, StateDisconnected)
		return err
	}
	c.negotiated.Store(uint32(negotiated))

	// Start keep-alive
	c.startKeepAlive()

	// Start read loop
	go c.readLoop()

	c.state.Store(int32(StateConnected))
	c.notifyStateChange(StateConnecting, StateConnected)

	return nil
}

// exchangeHello sends the opening hello and reads the controller's
// answer. The context deadline, if any, bounds the exchange.
func (c *Connection) exchangeHello(ctx context.Context, tlsConn *tls.Conn) (uint8, error) {
	if deadline, ok := ctx.Deadline(); ok {
		tlsConn.SetDeadline(deadline)
		defer tlsConn.SetDeadline(time.Time{})
	}

	hello, err := wire.EncodeHello(&wire.Hello{
		VersionBitmap: c.config.VersionBitmap,
		DeviceName:    c.config.DeviceName,
		Auxiliary:     c.config.Auxiliary,
		Capabilities:  c.config.Capabilities,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode hello: %w", err)
	}
	if err := c.framer.WriteFrame(hello); err != nil {
		return 0, fmt.Errorf("failed to send hello: %w", err)
	}

	data, err := c.framer.ReadFrame()
	if err != nil {
		return 0, fmt.Errorf("failed to read hello ack: %w", err)
	}
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		return 0, fmt.Errorf("failed to decode hello ack: %w", err)
	}
	if env.Type != wire.TypeHelloAck {
		return 0, fmt.Errorf("expected %s, got %s", wire.TypeHelloAck, env.Type)
	}
	ack, err := wire.DecodeHelloAck(env.Payload)
	if err != nil {
		return 0, err
	}
	return ack.Version, nil
}

// Send sends a message over the connection.
func (c *Connection) Send(data []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	framer := c.framer
	tlsConn := c.tlsConn
	c.mu.RUnlock()

	if framer == nil {
		return ErrNotConnected
	}

	// Set write deadline if configured
	if c.config.WriteTimeout > 0 {
		tlsConn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		defer tlsConn.SetWriteDeadline(time.Time{})
	}

	return framer.WriteFrame(data)
}

// SendEcho sends an echo probe with the given sequence number.
func (c *Connection) SendEcho(seq uint32) error {
	data, err := wire.EncodeEcho(seq)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// SendNotification sends an unsolicited notification frame.
func (c *Connection) SendNotification(payload []byte) error {
	data, err := wire.EncodeNotification(payload)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close closes the connection. WEFT has no close handshake; the socket
// is torn down and the controller notices through its read loop. A
// closed Connection cannot be reused; create a new one to reconnect.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		currentState := c.State()
		if currentState == StateDisconnected {
			return
		}

		c.state.Store(int32(StateClosing))
		c.notifyStateChange(currentState, StateClosing)

		// Stop keep-alive
		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}

		// Cancel context
		if c.cancel != nil {
			c.cancel()
		}

		close(c.closeCh)

		// Close connection
		c.mu.Lock()
		if c.tlsConn != nil {
			c.tlsConn.Close()
			c.tlsConn = nil
		}
		c.conn = nil
		c.framer = nil
		c.mu.Unlock()

		c.state.Store(int32(StateDisconnected))
		c.notifyStateChange(StateClosing, StateDisconnected)
	})

	return nil
}

// LocalAddr returns the local network address.
func (c *Connection) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn != nil {
		return c.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote network address.
func (c *Connection) RemoteAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn != nil {
		return c.conn.RemoteAddr()
	}
	return nil
}

// TLSConnectionState returns the TLS connection state.
func (c *Connection) TLSConnectionState() (tls.ConnectionState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tlsConn != nil {
		return c.tlsConn.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// startKeepAlive initializes and starts keep-alive monitoring.
func (c *Connection) startKeepAlive() {
	c.keepAlive = NewKeepAlive(
		c.config.KeepAlive,
		c.SendEcho,
		func() {
			// Keep-alive timeout - connection dead
			c.notifyError(fmt.Errorf("keep-alive timeout"))
			c.Close()
		},
	)
	c.keepAlive.Start(c.ctx)
}

// readLoop reads messages from the connection.
func (c *Connection) readLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}

		c.mu.RLock()
		framer := c.framer
		tlsConn := c.tlsConn
		c.mu.RUnlock()

		if framer == nil {
			return
		}

		// Set read deadline if configured
		if c.config.ReadTimeout > 0 {
			tlsConn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		data, err := framer.ReadFrame()
		if err != nil {
			if c.State() == StateClosing || c.ctx.Err() != nil {
				return // Expected during close
			}
			c.notifyError(fmt.Errorf("read error: %w", err))
			c.Close()
			return
		}

		msgType, err := wire.PeekMessageType(data)
		if err != nil {
			continue
		}

		switch msgType {
		case wire.TypeEcho:
			// Answer the controller's probe
			if env, err := wire.DecodeEnvelope(data); err == nil {
				if reply, err := wire.EncodeEchoAck(env.MessageID); err == nil {
					c.Send(reply)
				}
			}

		case wire.TypeEchoAck:
			// Notify keep-alive
			if env, err := wire.DecodeEnvelope(data); err == nil && c.keepAlive != nil {
				c.keepAlive.AckReceived(env.MessageID)
			}

		default:
			// Regular message - pass to handler
			if c.handler != nil {
				c.handler.OnMessage(data)
			}
		}
	}
}

// notifyStateChange notifies the handler of state changes.
func (c *Connection) notifyStateChange(oldState, newState ConnectionState) {
	if c.handler != nil {
		c.handler.OnStateChange(oldState, newState)
	}
}

func (c *Connection) notifyError(err error) {
	if c.handler != nil {
		c.handler.OnError(err)
	}
}
