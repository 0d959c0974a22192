package transport

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// IDLength is the length of a derived device identity (16 hex chars).
const IDLength = 16

// DeviceIDFromCertificate derives a device identity from a device's
// client certificate public key.
//
// The identity is the first 64 bits (16 hex chars) of SHA-256(public key DER).
func DeviceIDFromCertificate(cert *x509.Certificate) (string, error) {
	pubKeyDER, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	hash := sha256.Sum256(pubKeyDER)
	return hex.EncodeToString(hash[:8]), nil
}

// DeviceIDFromName derives a device identity from a hello-reported name.
// Only used when the device presents no certificate; names are hashed so
// every identity has the same shape.
func DeviceIDFromName(name string) string {
	hash := sha256.Sum256([]byte("weft-name:" + name))
	return hex.EncodeToString(hash[:8])
}

// DeviceIDFromAddr derives a last-resort device identity from the remote
// host. Port is excluded so reconnects map to the same identity.
func DeviceIDFromAddr(addr net.Addr) string {
	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	hash := sha256.Sum256([]byte("weft-addr:" + host))
	return hex.EncodeToString(hash[:8])
}

// ValidateID checks if an ID string is a valid 64-bit fingerprint
// (16 lowercase hex chars).
func ValidateID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, c := range strings.ToLower(id) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return id == strings.ToLower(id)
}
