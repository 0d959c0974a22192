package wire

import (
	"errors"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{
			name: "echo without payload",
			env:  Envelope{Type: TypeEcho, MessageID: 7},
		},
		{
			name: "data with payload",
			env:  Envelope{Type: TypeData, MessageID: 42, Payload: []byte{0xde, 0xad}},
		},
		{
			name: "unsolicited notification",
			env:  Envelope{Type: TypeNotification, MessageID: 0, Payload: []byte{0x01}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEnvelope(&tt.env)
			if err != nil {
				t.Fatalf("EncodeEnvelope failed: %v", err)
			}

			got, err := DecodeEnvelope(data)
			if err != nil {
				t.Fatalf("DecodeEnvelope failed: %v", err)
			}

			if got.Type != tt.env.Type {
				t.Errorf("Type = %v, want %v", got.Type, tt.env.Type)
			}
			if got.MessageID != tt.env.MessageID {
				t.Errorf("MessageID = %d, want %d", got.MessageID, tt.env.MessageID)
			}
			if len(got.Payload) != len(tt.env.Payload) {
				t.Errorf("Payload length = %d, want %d", len(got.Payload), len(tt.env.Payload))
			}
		})
	}
}

func TestEncodeEnvelope_InvalidType(t *testing.T) {
	_, err := EncodeEnvelope(&Envelope{Type: MessageType(99)})
	if err == nil {
		t.Error("EncodeEnvelope should reject unknown message type")
	}
}

func TestPeekMessageType(t *testing.T) {
	data, err := EncodeEnvelope(&Envelope{Type: TypeBarrier, MessageID: 9})
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}

	mt, err := PeekMessageType(data)
	if err != nil {
		t.Fatalf("PeekMessageType failed: %v", err)
	}
	if mt != TypeBarrier {
		t.Errorf("PeekMessageType = %v, want %v", mt, TypeBarrier)
	}
}

func TestPeekMessageType_Garbage(t *testing.T) {
	if _, err := PeekMessageType([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("PeekMessageType should fail on garbage input")
	}
}

func TestHelloRoundTrip(t *testing.T) {
	hello := &Hello{
		VersionBitmap: 0x03,
		DeviceName:    "spine-1",
		Auxiliary:     0,
		Capabilities:  CapabilityStats | CapabilityBarrier,
	}

	frame, err := EncodeHello(hello)
	if err != nil {
		t.Fatalf("EncodeHello failed: %v", err)
	}

	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.Type != TypeHello {
		t.Fatalf("envelope type = %v, want %v", env.Type, TypeHello)
	}

	got, err := DecodeHello(env.Payload)
	if err != nil {
		t.Fatalf("DecodeHello failed: %v", err)
	}
	if got.VersionBitmap != hello.VersionBitmap {
		t.Errorf("VersionBitmap = %#x, want %#x", got.VersionBitmap, hello.VersionBitmap)
	}
	if got.DeviceName != hello.DeviceName {
		t.Errorf("DeviceName = %q, want %q", got.DeviceName, hello.DeviceName)
	}
	if got.Capabilities&CapabilityStats == 0 {
		t.Error("CapabilityStats should survive the round trip")
	}
}

func TestEncodeHello_EmptyBitmap(t *testing.T) {
	if _, err := EncodeHello(&Hello{}); err == nil {
		t.Error("EncodeHello should reject an empty version bitmap")
	}
}

func TestHelloAckRoundTrip(t *testing.T) {
	frame, err := EncodeHelloAck(&HelloAck{Version: 1})
	if err != nil {
		t.Fatalf("EncodeHelloAck failed: %v", err)
	}

	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.Type != TypeHelloAck {
		t.Fatalf("envelope type = %v, want %v", env.Type, TypeHelloAck)
	}

	ack, err := DecodeHelloAck(env.Payload)
	if err != nil {
		t.Fatalf("DecodeHelloAck failed: %v", err)
	}
	if ack.Version != 1 {
		t.Errorf("Version = %d, want 1", ack.Version)
	}
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		name    string
		local   uint32
		remote  uint32
		want    uint8
		wantErr bool
	}{
		{"both v1", 0x01, 0x01, 1, false},
		{"remote speaks v1 and v2", 0x01, 0x03, 1, false},
		{"highest common wins", 0x03, 0x03, 2, false},
		{"disjoint bitmaps", 0x01, 0x02, 0, true},
		{"remote empty", 0x01, 0x00, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NegotiateVersion(tt.local, tt.remote)
			if tt.wantErr {
				if !errors.Is(err, ErrVersionMismatch) {
					t.Fatalf("error = %v, want ErrVersionMismatch", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NegotiateVersion failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("NegotiateVersion = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMessageTypeString(t *testing.T) {
	if TypeHello.String() != "HELLO" {
		t.Errorf("TypeHello.String() = %q", TypeHello.String())
	}
	if MessageType(99).String() != "UNKNOWN" {
		t.Errorf("unknown type String() = %q", MessageType(99).String())
	}
}
