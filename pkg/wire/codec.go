package wire

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for WEFT messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for WEFT messages.
var decMode cbor.DecMode

func init() {
	var err error

	// Configure encoder for deterministic output
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical, // Deterministic key ordering
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix, // Unix timestamps
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Configure decoder to be lenient for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet, // Ignore duplicate keys (last wins)
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodeEnvelope encodes an envelope to CBOR bytes.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return Marshal(e)
}

// DecodeEnvelope decodes CBOR bytes into an envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &e, nil
}

// EncodeHello encodes a hello and wraps it in an envelope frame.
func EncodeHello(h *Hello) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hello: %w", err)
	}
	payload, err := Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hello: %w", err)
	}
	return EncodeEnvelope(&Envelope{Type: TypeHello, Payload: payload})
}

// DecodeHello decodes the payload of a TypeHello envelope.
func DecodeHello(payload []byte) (*Hello, error) {
	var h Hello
	if err := Unmarshal(payload, &h); err != nil {
		return nil, fmt.Errorf("failed to decode hello: %w", err)
	}
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hello: %w", err)
	}
	return &h, nil
}

// EncodeHelloAck encodes a hello acknowledgement and wraps it in an
// envelope frame.
func EncodeHelloAck(a *HelloAck) ([]byte, error) {
	payload, err := Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hello ack: %w", err)
	}
	return EncodeEnvelope(&Envelope{Type: TypeHelloAck, Payload: payload})
}

// DecodeHelloAck decodes the payload of a TypeHelloAck envelope.
func DecodeHelloAck(payload []byte) (*HelloAck, error) {
	var a HelloAck
	if err := Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("failed to decode hello ack: %w", err)
	}
	return &a, nil
}

// EncodeEcho encodes an echo probe carrying the given sequence number.
func EncodeEcho(seq uint32) ([]byte, error) {
	return EncodeEnvelope(&Envelope{Type: TypeEcho, MessageID: seq})
}

// EncodeEchoAck encodes an echo reply carrying the given sequence number.
func EncodeEchoAck(seq uint32) ([]byte, error) {
	return EncodeEnvelope(&Envelope{Type: TypeEchoAck, MessageID: seq})
}

// EncodeNotification encodes an unsolicited notification frame.
func EncodeNotification(payload []byte) ([]byte, error) {
	return EncodeEnvelope(&Envelope{Type: TypeNotification, Payload: payload})
}

// EncodeData encodes a data frame with the given message ID.
func EncodeData(id uint32, payload []byte) ([]byte, error) {
	return EncodeEnvelope(&Envelope{Type: TypeData, MessageID: id, Payload: payload})
}

// PeekMessageType examines an encoded envelope to determine the message type
// without decoding the payload.
func PeekMessageType(data []byte) (MessageType, error) {
	var peek struct {
		Type MessageType `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return TypeUnknown, fmt.Errorf("failed to peek message type: %w", err)
	}
	if !peek.Type.IsValid() {
		return TypeUnknown, fmt.Errorf("invalid message type: %d", peek.Type)
	}
	return peek.Type, nil
}
