package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/weft-protocol/weft-go/pkg/version"
)

// TLS constants for the WEFT control channel.
const (
	// ALPNProtocol is the ALPN identifier for WEFT major version 1.
	ALPNProtocol = "weft/1"

	// DefaultPort is the default WEFT controller port.
	DefaultPort = 9143
)

// TLSConfig holds configuration for WEFT controller listeners.
type TLSConfig struct {
	// Certificate is the controller's TLS certificate.
	Certificate tls.Certificate

	// ClientCAs is the pool of CA certificates for device authentication.
	// When set, devices must present a certificate signed by one of them.
	ClientCAs *x509.CertPool

	// RequestClientCert asks devices for a certificate without requiring
	// one. Ignored when ClientCAs is set. A presented certificate still
	// anchors the device identity.
	RequestClientCert bool

	// VerifyPeerCertificate is an optional callback for custom
	// certificate verification.
	VerifyPeerCertificate func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// NewServerTLSConfig creates a TLS configuration for a WEFT controller.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	clientAuth := tls.NoClientCert
	switch {
	case cfg.ClientCAs != nil:
		clientAuth = tls.RequireAndVerifyClientCert
	case cfg.RequestClientCert:
		clientAuth = tls.RequestClientCert
	}

	tlsConfig := &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		ClientAuth: clientAuth,

		// Certificate for this controller
		Certificates: []tls.Certificate{cfg.Certificate},

		// CA pool for verifying device certificates
		ClientCAs: cfg.ClientCAs,

		// ALPN protocols
		NextProtos: version.SupportedALPNProtocols(),

		// Curve preferences for key exchange
		CurvePreferences: []tls.CurveID{
			tls.X25519,    // Recommended
			tls.CurveP256, // Mandatory
		},

		// Session tickets disabled (no resumption)
		SessionTicketsDisabled: true,

		// Custom verification callback
		VerifyPeerCertificate: cfg.VerifyPeerCertificate,
	}

	return tlsConfig, nil
}

// ClientTLSConfig holds configuration for the device side of a WEFT
// connection.
type ClientTLSConfig struct {
	// Certificate is the device's TLS certificate, presented when the
	// controller asks for one. A presented certificate anchors the
	// device identity. Optional.
	Certificate *tls.Certificate

	// RootCAs is the pool used to verify the controller certificate.
	// Nil means the host's root set.
	RootCAs *x509.CertPool

	// ServerName overrides the name used to verify the controller
	// certificate.
	ServerName string

	// InsecureSkipVerify disables controller certificate verification.
	// For testing only.
	InsecureSkipVerify bool
}

// NewClientTLSConfig creates a TLS configuration for a WEFT device.
func NewClientTLSConfig(cfg *ClientTLSConfig) *tls.Config {
	if cfg == nil {
		cfg = &ClientTLSConfig{}
	}

	tlsConfig := &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		RootCAs:            cfg.RootCAs,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,

		// ALPN protocols
		NextProtos: version.SupportedALPNProtocols(),

		// Curve preferences for key exchange
		CurvePreferences: []tls.CurveID{
			tls.X25519,    // Recommended
			tls.CurveP256, // Mandatory
		},

		// Session tickets disabled (no resumption)
		SessionTicketsDisabled: true,
	}
	if cfg.Certificate != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.Certificate}
	}

	return tlsConfig
}

// VerifyTLS13 checks that a TLS connection is using TLS 1.3.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	return nil
}

// VerifyALPN checks that the negotiated ALPN protocol is a WEFT protocol.
func VerifyALPN(state tls.ConnectionState) error {
	if _, err := version.MajorFromALPN(state.NegotiatedProtocol); err != nil {
		return fmt.Errorf("ALPN protocol %q is not a WEFT protocol", state.NegotiatedProtocol)
	}
	return nil
}

// VerifyConnection performs standard WEFT connection verification.
func VerifyConnection(state tls.ConnectionState) error {
	if err := VerifyTLS13(state); err != nil {
		return err
	}
	if err := VerifyALPN(state); err != nil {
		return err
	}
	return nil
}
