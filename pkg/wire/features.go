package wire

import (
	"errors"
	"math/bits"
)

// ErrVersionMismatch is returned when two version bitmaps share no common
// major version.
var ErrVersionMismatch = errors.New("no common protocol version")

// Capability bits advertised in the hello exchange.
const (
	CapabilityStats    uint32 = 1 << 0 // device answers stats requests
	CapabilityBarrier  uint32 = 1 << 1 // device acknowledges barriers
	CapabilityPortDesc uint32 = 1 << 2 // device reports port status changes
)

// Features describes what was negotiated on a connection during the hello
// exchange. The connection adapter surfaces it to the lifecycle layer; a
// zero value means the exchange never completed.
type Features struct {
	Version      uint8
	Auxiliary    uint8
	Capabilities uint32
	DeviceName   string
}

// IsZero reports whether no features were negotiated.
func (f Features) IsZero() bool {
	return f.Version == 0 && f.Auxiliary == 0 && f.Capabilities == 0 && f.DeviceName == ""
}

// HasCapability reports whether the given capability bit was advertised.
func (f Features) HasCapability(cap uint32) bool {
	return f.Capabilities&cap != 0
}

// NegotiateVersion picks the highest major version present in both bitmaps.
// Bit N-1 set means major version N is supported.
func NegotiateVersion(local, remote uint32) (uint8, error) {
	common := local & remote
	if common == 0 {
		return 0, ErrVersionMismatch
	}
	return uint8(bits.Len32(common)), nil
}
