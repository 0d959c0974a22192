package device

import (
	"github.com/weft-protocol/weft-go/pkg/transport"
)

// The transport's accepted connection is the production Connection.
var _ Connection = (*transport.Conn)(nil)
