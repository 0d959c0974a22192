package transport_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/weft-protocol/weft-go/pkg/stats"
	"github.com/weft-protocol/weft-go/pkg/transport"
	"github.com/weft-protocol/weft-go/pkg/wire"
)

// startTestServer creates and starts a server with the given config
// overrides applied, returning it with its listen address.
func startTestServer(t *testing.T, config transport.Config) *transport.Server {
	t.Helper()

	serverCert, serverKey := generateTestCert(t)
	if config.TLSConfig == nil {
		config.TLSConfig = &transport.TLSConfig{
			Certificate: loadCert(t, serverCert, serverKey),
		}
	}
	if config.Address == "" {
		config.Address = "127.0.0.1:0"
	}

	server, err := transport.NewServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	return server
}

// dialTestClient connects a WEFT client to the server with the given
// hello parameters.
func dialTestClient(t *testing.T, server *transport.Server, config transport.ClientConfig) *transport.ClientConn {
	t.Helper()

	if config.TLS == nil {
		config.TLS = &transport.ClientTLSConfig{InsecureSkipVerify: true}
	}

	client, err := transport.NewClient(config)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := client.Connect(ctx, server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

// TestServerTLS13Only verifies the server only accepts TLS 1.3 connections.
func TestServerTLS13Only(t *testing.T) {
	server := startTestServer(t, transport.Config{})
	addr := server.Addr()

	// Try to connect with TLS 1.2 - should fail
	tlsConfig12 := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, // For testing
	}

	conn12, err := tls.Dial("tcp", addr.String(), tlsConfig12)
	if err == nil {
		conn12.Close()
		t.Error("TLS 1.2 connection should have been rejected")
	}

	// Connect with TLS 1.3 - should succeed
	tlsConfig13 := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		MaxVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		NextProtos:         []string{transport.ALPNProtocol},
	}

	conn13, err := tls.Dial("tcp", addr.String(), tlsConfig13)
	if err != nil {
		t.Fatalf("TLS 1.3 connection failed: %v", err)
	}
	defer conn13.Close()

	// Verify TLS 1.3
	state := conn13.ConnectionState()
	if state.Version != tls.VersionTLS13 {
		t.Errorf("Expected TLS 1.3, got version %x", state.Version)
	}
}

// TestServerALPN verifies the server negotiates the WEFT ALPN protocol.
func TestServerALPN(t *testing.T) {
	server := startTestServer(t, transport.Config{})

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		NextProtos:         []string{transport.ALPNProtocol},
	}

	conn, err := tls.Dial("tcp", server.Addr().String(), tlsConfig)
	if err != nil {
		t.Fatalf("Connection with correct ALPN failed: %v", err)
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if state.NegotiatedProtocol != transport.ALPNProtocol {
		t.Errorf("Expected ALPN %q, got %q", transport.ALPNProtocol, state.NegotiatedProtocol)
	}
}

// TestServerHelloExchange verifies a full handshake and the features the
// server derives from it.
func TestServerHelloExchange(t *testing.T) {
	connCh := make(chan *transport.Conn, 1)

	server := startTestServer(t, transport.Config{
		OnConnect: func(conn *transport.Conn) {
			connCh <- conn
		},
	})

	clientConn := dialTestClient(t, server, transport.ClientConfig{
		DeviceName:   "sensor-7",
		Capabilities: wire.CapabilityStats | wire.CapabilityBarrier,
	})

	if got := clientConn.NegotiatedVersion(); got != 1 {
		t.Errorf("NegotiatedVersion() = %d, want 1", got)
	}

	select {
	case conn := <-connCh:
		feats := conn.Features()
		if feats.Version != 1 {
			t.Errorf("Features.Version = %d, want 1", feats.Version)
		}
		if feats.DeviceName != "sensor-7" {
			t.Errorf("Features.DeviceName = %q, want %q", feats.DeviceName, "sensor-7")
		}
		if feats.Auxiliary != 0 {
			t.Errorf("Features.Auxiliary = %d, want 0", feats.Auxiliary)
		}
		if !feats.HasCapability(wire.CapabilityStats) {
			t.Error("Features should carry CapabilityStats")
		}
		if conn.ConnID() == "" {
			t.Error("ConnID should not be empty")
		}
		if conn.DeviceID() == "" {
			t.Error("DeviceID should not be empty")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for OnConnect")
	}
}

// TestServerDeviceIDFromName verifies identity derivation falls back to
// the hello device name when no certificate is presented.
func TestServerDeviceIDFromName(t *testing.T) {
	connCh := make(chan *transport.Conn, 1)

	server := startTestServer(t, transport.Config{
		OnConnect: func(conn *transport.Conn) {
			connCh <- conn
		},
	})

	dialTestClient(t, server, transport.ClientConfig{DeviceName: "hvac-unit-3"})

	select {
	case conn := <-connCh:
		want := transport.DeviceIDFromName("hvac-unit-3")
		if conn.DeviceID() != want {
			t.Errorf("DeviceID = %q, want %q", conn.DeviceID(), want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for OnConnect")
	}
}

// TestServerRejectsNonHelloOpening verifies the server drops connections
// whose first frame is not a hello.
func TestServerRejectsNonHelloOpening(t *testing.T) {
	server := startTestServer(t, transport.Config{})

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		NextProtos:         []string{transport.ALPNProtocol},
	}

	conn, err := tls.Dial("tcp", server.Addr().String(), tlsConfig)
	if err != nil {
		t.Fatalf("Connection failed: %v", err)
	}
	defer conn.Close()

	framer := transport.NewFramer(conn)
	echo, _ := wire.EncodeEcho(1)
	if err := framer.WriteFrame(echo); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := framer.ReadFrame(); err == nil {
		t.Error("Server should close connections that skip the hello")
	}
}

// TestServerVersionMismatch verifies the handshake fails when no common
// version exists.
func TestServerVersionMismatch(t *testing.T) {
	server := startTestServer(t, transport.Config{})

	client, err := transport.NewClient(transport.ClientConfig{
		TLS:           &transport.ClientTLSConfig{InsecureSkipVerify: true},
		VersionBitmap: 1 << 1, // Version 2 only, unsupported
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Connect(ctx, server.Addr().String()); err == nil {
		t.Error("Connect should fail when versions do not overlap")
	}
}

// TestServerOnMessage verifies the server delivers data frames.
func TestServerOnMessage(t *testing.T) {
	msgCh := make(chan []byte, 1)

	server := startTestServer(t, transport.Config{
		OnMessage: func(_ *transport.Conn, msg []byte) {
			msgCh <- msg
		},
	})

	clientConn := dialTestClient(t, server, transport.ClientConfig{})

	data, _ := wire.EncodeData(7, []byte("port status"))
	if err := clientConn.Send(data); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}

	select {
	case msg := <-msgCh:
		env, err := wire.DecodeEnvelope(msg)
		if err != nil {
			t.Fatalf("Failed to decode envelope: %v", err)
		}
		if env.Type != wire.TypeData {
			t.Errorf("Type = %s, want %s", env.Type, wire.TypeData)
		}
		if env.MessageID != 7 {
			t.Errorf("MessageID = %d, want 7", env.MessageID)
		}
		if string(env.Payload) != "port status" {
			t.Errorf("Payload = %q, want %q", env.Payload, "port status")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for message")
	}
}

// TestServerEchoReply verifies the server answers echo probes without
// involving the message handler.
func TestServerEchoReply(t *testing.T) {
	msgCh := make(chan []byte, 1)

	server := startTestServer(t, transport.Config{
		OnMessage: func(_ *transport.Conn, msg []byte) {
			msgCh <- msg
		},
	})

	clientConn := dialTestClient(t, server, transport.ClientConfig{})

	if err := clientConn.SendEcho(42); err != nil {
		t.Fatalf("Failed to send echo: %v", err)
	}

	response, err := clientConn.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Failed to read echo reply: %v", err)
	}

	env, err := wire.DecodeEnvelope(response)
	if err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if env.Type != wire.TypeEchoAck {
		t.Errorf("Type = %s, want %s", env.Type, wire.TypeEchoAck)
	}
	if env.MessageID != 42 {
		t.Errorf("MessageID = %d, want 42", env.MessageID)
	}

	select {
	case <-msgCh:
		t.Error("Echo should not reach the message handler")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestServerInboundFiltering verifies notification frames are dropped
// and counted while filtering is enabled.
func TestServerInboundFiltering(t *testing.T) {
	agency := stats.NewCounterAgency()
	connCh := make(chan *transport.Conn, 1)
	msgCh := make(chan []byte, 4)

	server := startTestServer(t, transport.Config{
		Agency: agency,
		OnConnect: func(conn *transport.Conn) {
			connCh <- conn
		},
		OnMessage: func(_ *transport.Conn, msg []byte) {
			msgCh <- msg
		},
	})

	clientConn := dialTestClient(t, server, transport.ClientConfig{})

	var serverConn *transport.Conn
	select {
	case serverConn = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for OnConnect")
	}

	serverConn.SetInboundFiltering(true)
	if !serverConn.InboundFiltering() {
		t.Fatal("InboundFiltering should report true")
	}

	if err := clientConn.SendNotification([]byte("ignored")); err != nil {
		t.Fatalf("Failed to send notification: %v", err)
	}

	// The drop is observable through the filter counter
	deadline := time.Now().Add(2 * time.Second)
	for agency.Snapshot()[stats.NotificationFiltered] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for notification to be filtered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-msgCh:
		t.Fatal("Filtered notification should not reach the message handler")
	default:
	}

	// Disable filtering and verify delivery resumes
	serverConn.SetInboundFiltering(false)
	if err := clientConn.SendNotification([]byte("delivered")); err != nil {
		t.Fatalf("Failed to send notification: %v", err)
	}

	select {
	case msg := <-msgCh:
		env, err := wire.DecodeEnvelope(msg)
		if err != nil {
			t.Fatalf("Failed to decode envelope: %v", err)
		}
		if string(env.Payload) != "delivered" {
			t.Errorf("Payload = %q, want %q", env.Payload, "delivered")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for unfiltered notification")
	}
}

// TestServerConcurrentConnections verifies the server handles multiple connections.
func TestServerConcurrentConnections(t *testing.T) {
	var connCount int
	var mu sync.Mutex

	server := startTestServer(t, transport.Config{
		OnConnect: func(_ *transport.Conn) {
			mu.Lock()
			connCount++
			mu.Unlock()
		},
	})

	// Connect multiple clients concurrently
	numClients := 5
	var wg sync.WaitGroup
	conns := make([]*transport.ClientConn, numClients)

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			client, err := transport.NewClient(transport.ClientConfig{
				TLS: &transport.ClientTLSConfig{InsecureSkipVerify: true},
			})
			if err != nil {
				t.Errorf("Client %d: creation failed: %v", idx, err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, err := client.Connect(ctx, server.Addr().String())
			if err != nil {
				t.Errorf("Client %d: Connection failed: %v", idx, err)
				return
			}
			conns[idx] = conn
		}(i)
	}

	wg.Wait()

	// Give server time to process connections
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if connCount != numClients {
		t.Errorf("Expected %d connections, got %d", numClients, connCount)
	}
	mu.Unlock()

	// Verify all connections are active
	activeCount := server.ConnectionCount()
	if activeCount != numClients {
		t.Errorf("Expected %d active connections, got %d", numClients, activeCount)
	}

	// Close all connections
	for _, conn := range conns {
		if conn != nil {
			conn.Close()
		}
	}
}

// TestServerDisconnectHooks verifies per-connection disconnect hooks fire
// exactly once when the device goes away.
func TestServerDisconnectHooks(t *testing.T) {
	connCh := make(chan *transport.Conn, 1)

	server := startTestServer(t, transport.Config{
		OnConnect: func(conn *transport.Conn) {
			connCh <- conn
		},
	})

	clientConn := dialTestClient(t, server, transport.ClientConfig{})

	var serverConn *transport.Conn
	select {
	case serverConn = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for OnConnect")
	}

	var fired sync.WaitGroup
	var count int
	var mu sync.Mutex
	fired.Add(2)
	hook := func() {
		mu.Lock()
		count++
		mu.Unlock()
		fired.Done()
	}
	serverConn.OnDisconnect(hook)
	serverConn.OnDisconnect(hook)

	clientConn.Close()

	done := make(chan struct{})
	go func() {
		fired.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for disconnect hooks")
	}

	mu.Lock()
	if count != 2 {
		t.Errorf("hook count = %d, want 2", count)
	}
	mu.Unlock()

	// Hooks registered after disconnect fire immediately
	late := make(chan struct{})
	serverConn.OnDisconnect(func() { close(late) })
	select {
	case <-late:
	case <-time.After(2 * time.Second):
		t.Error("Late hook should fire immediately")
	}
}

// TestServerStopClosesConnections verifies Stop tears down active
// connections.
func TestServerStopClosesConnections(t *testing.T) {
	server := startTestServer(t, transport.Config{})
	clientConn := dialTestClient(t, server, transport.ClientConfig{})

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, err := clientConn.Receive(2 * time.Second); err == nil {
		t.Error("Receive should fail after server stop")
	}
	if count := server.ConnectionCount(); count != 0 {
		t.Errorf("ConnectionCount after stop = %d, want 0", count)
	}
}

// TestServerRequiresTLSConfig verifies config validation.
func TestServerRequiresTLSConfig(t *testing.T) {
	_, err := transport.NewServer(transport.Config{})
	if err == nil {
		t.Error("NewServer should fail without TLS config")
	}
}

// Helper functions

func generateTestCert(t *testing.T) ([]byte, []byte) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}

	return certDER, keyDER
}

func loadCert(t *testing.T, certDER, keyDER []byte) tls.Certificate {
	t.Helper()

	key, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		t.Fatalf("Failed to parse key: %v", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}
}

func parseCert(t *testing.T, certDER []byte) *x509.Certificate {
	t.Helper()

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}
