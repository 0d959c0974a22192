// Package transport provides the WEFT southbound transport layer.
//
// The transport layer handles:
//   - TLS 1.3 connections accepted from fabric devices
//   - Length-prefixed message framing
//   - The hello exchange and protocol version negotiation
//   - Echo liveness replies and outbound barrier batching
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Envelopes            │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│         TLS 1.3                │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # TLS Requirements
//
// WEFT requires TLS 1.3 with no fallback to earlier versions. Devices
// authenticate with client certificates when a client CA pool is
// configured; the certificate's public key fingerprint then becomes the
// stable device identity.
//
// # Connection Lifetime
//
// The server owns the handshake: TLS, hello, version negotiation, hello
// acknowledgement. A connection handed to OnConnect carries its
// negotiated features and a process-unique connection ID, and its read
// loop answers echo probes on its own. Disconnect hooks registered on the
// connection fire exactly once, when the read loop exits.
package transport
