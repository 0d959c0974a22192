// Package wire defines the CBOR wire format types for the WEFT control channel.
//
// WEFT uses CBOR (RFC 8949) with integer keys for efficient encoding.
// All messages are length-prefixed and transmitted over TLS 1.3.
//
// # Envelope
//
// Every frame on the control channel is a single envelope:
//   - Hello / HelloAck: version negotiation, sent once per connection
//   - Echo / EchoAck: liveness probes, answered by the peer
//   - Barrier / BarrierAck: ordering fences for the outbound queue
//   - Notification: asynchronous device events
//   - Data: opaque protocol payloads
//
// Payloads beyond the hello exchange are carried as opaque bytes. Decoding
// them into data-model objects is the business of translator libraries
// registered with the controller, not of this package.
//
// # CBOR Integer Keys
//
// All maps use integer keys for compactness. The key mappings are
// defined as constants in this package.
package wire
