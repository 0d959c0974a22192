package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/weft-protocol/weft-go/pkg/stats"
	"github.com/weft-protocol/weft-go/pkg/version"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

// DefaultHandshakeTimeout bounds the TLS handshake plus hello exchange.
const DefaultHandshakeTimeout = 10 * time.Second

// Config configures a WEFT transport server.
type Config struct {
	// TLSConfig contains TLS settings.
	TLSConfig *TLSConfig

	// Address to listen on (e.g., ":9143" or "127.0.0.1:9143").
	Address string

	// VersionBitmap advertises the protocol versions this server speaks.
	// Zero means every version this library supports.
	VersionBitmap uint32

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// HandshakeTimeout bounds the TLS handshake and hello exchange
	// (default: 10s).
	HandshakeTimeout time.Duration

	// Logger for operational logging. If nil, logging is disabled.
	Logger *slog.Logger

	// Agency counts frame and connection events (optional).
	Agency stats.Agency

	// OnConnect is called when a device completes the hello exchange,
	// before its first frame is read.
	OnConnect func(conn *Conn)

	// OnMessage is called when a non-control frame is received.
	OnMessage func(conn *Conn, msg []byte)

	// OnError is called when an error occurs. conn is nil for errors
	// during accept or handshake.
	OnError func(conn *Conn, err error)
}

// Server is a WEFT TLS server that accepts connections from devices.
type Server struct {
	config   Config
	tlsConf  *tls.Config
	logger   *slog.Logger
	agency   stats.Agency
	listener net.Listener

	// Active connections
	conns   map[*Conn]struct{}
	connsMu sync.RWMutex

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new WEFT server.
func NewServer(config Config) (*Server, error) {
	if config.TLSConfig == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.VersionBitmap == 0 {
		config.VersionBitmap = version.SupportedBitmap()
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	agency := config.Agency
	if agency == nil {
		agency = stats.Noop{}
	}

	// Build TLS config
	tlsConf, err := NewServerTLSConfig(config.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	return &Server{
		config:  config,
		tlsConf: tlsConf,
		logger:  logger,
		agency:  agency,
		conns:   make(map[*Conn]struct{}),
	}, nil
}

// Start starts the server and begins accepting connections. The context
// bounds the accept loop and every connection it produces.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	// Create listener
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.running.Store(true)
	s.logger.Info("transport server listening", "addr", listener.Addr())

	// Start accept loop
	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	// Close listener to stop accept loop
	if s.listener != nil {
		s.listener.Close()
	}

	// Close all connections
	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	// Wait for goroutines
	s.wg.Wait()

	s.logger.Info("transport server stopped")
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// acceptLoop accepts incoming connections, backing off on transient
// accept errors.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	backoff := NewBackoff()
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.reportError(nil, fmt.Errorf("accept error: %w", err))

			select {
			case <-time.After(backoff.Next()):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		backoff.Reset()

		// Handle connection in goroutine
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection processes a single connection from handshake to
// disconnect.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	c, err := s.handshake(conn)
	if err != nil {
		conn.Close()
		s.reportError(nil, fmt.Errorf("handshake with %s failed: %w", conn.RemoteAddr(), err))
		return
	}

	if !s.running.Load() {
		c.Close()
		return
	}

	// Register connection
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()

	s.logger.Info("device connected",
		"device_id", c.deviceID,
		"conn_id", c.connID,
		"remote", c.remoteAddr,
		"version", c.features.Version,
		"auxiliary", c.features.Auxiliary)

	// Notify connect
	if s.config.OnConnect != nil {
		s.config.OnConnect(c)
	}

	// Read loop
	c.readLoop()

	// Unregister connection
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
	c.Close()

	s.logger.Debug("device connection closed",
		"device_id", c.deviceID, "conn_id", c.connID)
}

// handshake completes TLS, verifies the session, and runs the hello
// exchange. The whole sequence runs under one deadline.
func (s *Server) handshake(conn net.Conn) (*Conn, error) {
	if err := conn.SetDeadline(time.Now().Add(s.config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set handshake deadline: %w", err)
	}

	// TLS handshake
	tlsConn := tls.Server(conn, s.tlsConf)
	if err := tlsConn.HandshakeContext(s.ctx); err != nil {
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	// Verify TLS version and ALPN
	state := tlsConn.ConnectionState()
	if err := VerifyConnection(state); err != nil {
		return nil, err
	}

	framer := NewFramerWithMaxSize(tlsConn, s.config.MaxMessageSize)
	framer.SetAgency(s.agency)

	// Hello exchange: the device opens, the server answers with the
	// negotiated version.
	hello, err := readHello(framer)
	if err != nil {
		return nil, err
	}

	negotiated, err := wire.NegotiateVersion(s.config.VersionBitmap, hello.VersionBitmap)
	if err != nil {
		return nil, err
	}

	ack, err := wire.EncodeHelloAck(&wire.HelloAck{Version: negotiated})
	if err != nil {
		return nil, fmt.Errorf("failed to encode hello ack: %w", err)
	}
	if err := framer.WriteFrame(ack); err != nil {
		return nil, fmt.Errorf("failed to write hello ack: %w", err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to clear handshake deadline: %w", err)
	}

	c := &Conn{
		conn:     tlsConn,
		framer:   framer,
		tlsState: state,
		ctx:      s.ctx,
		connID:   uuid.New().String(),
		deviceID: deriveDeviceID(state, hello, conn),
		features: wire.Features{
			Version:      negotiated,
			Auxiliary:    hello.Auxiliary,
			Capabilities: hello.Capabilities,
			DeviceName:   hello.DeviceName,
		},
		remoteAddr: conn.RemoteAddr(),
		logger:     s.logger,
		agency:     s.agency,
		closeCh:    make(chan struct{}),
	}
	if s.config.OnMessage != nil {
		c.SetMessageHandler(s.config.OnMessage)
	}
	return c, nil
}

// readHello reads and decodes the device's opening hello frame.
func readHello(framer *Framer) (*wire.Hello, error) {
	data, err := framer.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read hello: %w", err)
	}
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hello: %w", err)
	}
	if env.Type != wire.TypeHello {
		return nil, fmt.Errorf("expected %s, got %s", wire.TypeHello, env.Type)
	}
	return wire.DecodeHello(env.Payload)
}

// deriveDeviceID picks the strongest available identity source: client
// certificate, then device name, then remote address.
func deriveDeviceID(state tls.ConnectionState, hello *wire.Hello, conn net.Conn) string {
	if len(state.PeerCertificates) > 0 {
		if id, err := DeviceIDFromCertificate(state.PeerCertificates[0]); err == nil {
			return id
		}
	}
	if hello.DeviceName != "" {
		return DeviceIDFromName(hello.DeviceName)
	}
	return DeviceIDFromAddr(conn.RemoteAddr())
}

func (s *Server) reportError(conn *Conn, err error) {
	s.logger.Debug("transport error", "error", err)
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}
