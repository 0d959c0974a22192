package service

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/weft-protocol/weft-go/pkg/config"
	"github.com/weft-protocol/weft-go/pkg/transport"
)

// buildServerTLS assembles the transport TLS settings from the daemon
// configuration. Without configured certificate files an ephemeral
// self-signed certificate is generated.
func buildServerTLS(cfg *config.Config) (*transport.TLSConfig, error) {
	tc := &transport.TLSConfig{}

	if cfg.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load server certificate: %w", err)
		}
		tc.Certificate = cert
	} else {
		cert, err := ephemeralCertificate()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral certificate: %w", err)
		}
		tc.Certificate = cert
	}

	if cfg.TLS.RequireClientCert {
		pem, err := os.ReadFile(cfg.TLS.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client CA bundle %s contains no certificates", cfg.TLS.ClientCAFile)
		}
		tc.ClientCAs = pool
	} else {
		// A presented certificate still anchors the device identity even
		// when none is required.
		tc.RequestClientCert = true
	}

	return tc, nil
}

// ephemeralCertificate generates a self-signed server certificate. Devices
// must skip verification or pin the fingerprint, so this is for lab and
// test setups only.
func ephemeralCertificate() (tls.Certificate, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   "WEFT Controller (ephemeral)",
			Organization: []string{"WEFT"},
		},
		NotBefore:             now,
		NotAfter:              now.Add(30 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  privateKey,
	}, nil
}

// controllerID derives the advertised controller identity from the server
// certificate public key.
func controllerID(cert tls.Certificate) (string, error) {
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return "", fmt.Errorf("parse server certificate: %w", err)
	}
	return transport.DeviceIDFromCertificate(leaf)
}
