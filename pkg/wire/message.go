package wire

import (
	"fmt"
)

// CBOR map keys for envelope encoding.
// All WEFT messages use integer keys for efficiency.
const (
	KeyType      = 1
	KeyMessageID = 2
	KeyPayload   = 3

	// Hello payload keys
	KeyVersionBitmap = 1
	KeyDeviceName    = 2
	KeyAuxiliary     = 3
	KeyCapabilities  = 4

	// HelloAck payload keys
	KeyVersion = 1
)

// MessageType identifies the kind of envelope on the control channel.
type MessageType uint8

const (
	TypeUnknown      MessageType = 0
	TypeHello        MessageType = 1
	TypeHelloAck     MessageType = 2
	TypeEcho         MessageType = 3
	TypeEchoAck      MessageType = 4
	TypeBarrier      MessageType = 5
	TypeBarrierAck   MessageType = 6
	TypeNotification MessageType = 7
	TypeData         MessageType = 8
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeHelloAck:
		return "HELLO_ACK"
	case TypeEcho:
		return "ECHO"
	case TypeEchoAck:
		return "ECHO_ACK"
	case TypeBarrier:
		return "BARRIER"
	case TypeBarrierAck:
		return "BARRIER_ACK"
	case TypeNotification:
		return "NOTIFICATION"
	case TypeData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true for message types this library understands.
func (t MessageType) IsValid() bool {
	return t >= TypeHello && t <= TypeData
}

// Envelope is the single frame format of the WEFT control channel.
//
// CBOR encoding:
//
//	{
//	  1: type,       // uint8
//	  2: messageId,  // uint32, 0 for unsolicited messages
//	  3: payload     // bytes, type-specific, absent when empty
//	}
type Envelope struct {
	Type      MessageType `cbor:"1,keyasint"`
	MessageID uint32      `cbor:"2,keyasint"`
	Payload   []byte      `cbor:"3,keyasint,omitempty"`
}

// Validate checks if the envelope is well-formed.
func (e *Envelope) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid message type: %d", e.Type)
	}
	return nil
}

// Hello is the first message a device sends after the TLS handshake.
//
// CBOR encoding:
//
//	{
//	  1: versionBitmap,  // uint32: bit N-1 set = major version N supported
//	  2: deviceName,     // string, optional human-readable name
//	  3: auxiliary,      // uint8: 0 = primary channel, >0 = auxiliary channel id
//	  4: capabilities    // uint32: capability bits
//	}
type Hello struct {
	VersionBitmap uint32 `cbor:"1,keyasint"`
	DeviceName    string `cbor:"2,keyasint,omitempty"`
	Auxiliary     uint8  `cbor:"3,keyasint,omitempty"`
	Capabilities  uint32 `cbor:"4,keyasint,omitempty"`
}

// Validate checks if the hello is well-formed.
func (h *Hello) Validate() error {
	if h.VersionBitmap == 0 {
		return fmt.Errorf("hello carries empty version bitmap")
	}
	return nil
}

// HelloAck is the controller's reply to a Hello, fixing the negotiated version.
//
// CBOR encoding:
//
//	{
//	  1: version  // uint8: the negotiated major version
//	}
type HelloAck struct {
	Version uint8 `cbor:"1,keyasint"`
}
