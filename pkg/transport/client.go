package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/weft-protocol/weft-go/pkg/version"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

// ClientConfig configures a WEFT client. Unlike Connection, the client
// is pull-based: the caller reads frames with Receive and no goroutines
// run behind its back. Protocol tools and tests use it for frame-level
// control.
type ClientConfig struct {
	// TLS contains TLS settings.
	TLS *ClientTLSConfig

	// VersionBitmap advertises the protocol versions this client speaks.
	// Zero means every version this library supports.
	VersionBitmap uint32

	// DeviceName is the optional human-readable name sent in the hello.
	DeviceName string

	// Auxiliary is the channel id sent in the hello. Zero opens the
	// primary channel, anything else an auxiliary channel.
	Auxiliary uint8

	// Capabilities are the capability bits sent in the hello.
	Capabilities uint32

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// ConnectTimeout is the connection timeout (default: 30s).
	ConnectTimeout time.Duration
}

// Client is a WEFT TLS client that connects to a controller.
type Client struct {
	config  ClientConfig
	tlsConf *tls.Config
}

// NewClient creates a new WEFT client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.VersionBitmap == 0 {
		config.VersionBitmap = version.SupportedBitmap()
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}

	return &Client{
		config:  config,
		tlsConf: NewClientTLSConfig(config.TLS),
	}, nil
}

// Connect establishes a connection to the specified address and runs the
// hello exchange.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	// Dial TCP connection
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	// TLS handshake
	tlsConn := tls.Client(conn, c.tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	// Verify TLS version and ALPN
	state := tlsConn.ConnectionState()
	if err := VerifyConnection(state); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("connection verification failed: %w", err)
	}

	// Create client connection wrapper
	clientConn := &ClientConn{
		conn:     tlsConn,
		framer:   NewFramerWithMaxSize(tlsConn, c.config.MaxMessageSize),
		tlsState: state,
		client:   c,
		closeCh:  make(chan struct{}),
	}

	// Hello exchange
	negotiated, err := clientConn.exchangeHello(ctx)
	if err != nil {
		tlsConn.Close()
		return nil, err
	}
	clientConn.negotiated = negotiated

	return clientConn, nil
}

// ClientConn represents a connection from a device to a controller.
type ClientConn struct {
	conn       *tls.Conn
	framer     *Framer
	tlsState   tls.ConnectionState
	client     *Client
	closeCh    chan struct{}
	negotiated uint8

	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

// exchangeHello sends the opening hello and reads the controller's
// answer. The context deadline, if any, bounds the exchange.
func (c *ClientConn) exchangeHello(ctx context.Context) (uint8, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	hello, err := wire.EncodeHello(&wire.Hello{
		VersionBitmap: c.client.config.VersionBitmap,
		DeviceName:    c.client.config.DeviceName,
		Auxiliary:     c.client.config.Auxiliary,
		Capabilities:  c.client.config.Capabilities,
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

// NegotiatedVersion returns the protocol version fixed by the hello
// exchange.
func (c *ClientConn) NegotiatedVersion() uint8 {
	return c.negotiated
}

// TLSState returns the TLS connection state.
func (c *ClientConn) TLSState() tls.ConnectionState {
	return c.tlsState
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send sends a message to the controller.
func (c *ClientConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	return c.framer.WriteFrame(data)
}

// Receive receives a message from the controller with timeout.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	return c.framer.ReadFrame()
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// SendEcho sends an echo probe with the given sequence number.
func (c *ClientConn) SendEcho(seq uint32) error {
	msg, err := wire.EncodeEcho(seq)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// SendNotification sends an unsolicited notification frame.
func (c *ClientConn) SendNotification(payload []byte) error {
	msg, err := wire.EncodeNotification(payload)
	if err != nil {
		return err
	}
	return c.Send(msg)
}
