package inventory

import (
	"time"

	"github.com/weft-protocol/weft-go/pkg/wire"
)

// RootID is the identifier of the root container record seeded at bootstrap.
const RootID = "weft:inventory-root"

// Record is a single persisted inventory node.
type Record struct {
	// ID is the device identity, or RootID for the root container.
	ID string `json:"id"`

	// Name is the device-reported human-readable name.
	Name string `json:"name,omitempty"`

	// Address is the remote endpoint the device connected from.
	Address string `json:"address,omitempty"`

	// Version is the negotiated protocol major version.
	Version uint8 `json:"version,omitempty"`

	// Capabilities are the capability bits from the hello exchange.
	Capabilities uint32 `json:"capabilities,omitempty"`

	// ConnectedAt is when the device session was admitted.
	ConnectedAt time.Time `json:"connected_at,omitempty"`

	// Published reports whether the session finished bootstrap.
	Published bool `json:"published,omitempty"`
}

// RootRecord returns the empty root container record.
func RootRecord() Record {
	return Record{ID: RootID}
}

// NewRecord builds a device record from negotiated connection features.
func NewRecord(id, address string, features wire.Features) Record {
	return Record{
		ID:           id,
		Name:         features.DeviceName,
		Address:      address,
		Version:      features.Version,
		Capabilities: features.Capabilities,
		ConnectedAt:  time.Now(),
	}
}
