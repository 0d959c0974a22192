// Package device implements the WEFT controller's device lifecycle manager.
//
// The manager owns one session Context per connected device identity and
// drives each session through its lifecycle: Connecting while the admission
// and initialization phases run, Active during normal operation,
// Disconnecting while the session's inventory state is flushed, and Closed
// once the session has been retired from the registry.
//
// # Admission
//
// A device identity holds at most one session. AdmitConnection rejects a
// connection whose identity is already registered; the caller keeps ownership
// of rejected connections and must close them. Additional connections from an
// already-admitted device are attached to the existing session as auxiliaries,
// keyed by their connection IDs.
//
// # Disconnects
//
// Connections report disconnects back through the manager. An auxiliary
// disconnect only shrinks the session's auxiliary set. A primary disconnect
// starts teardown: the session's inventory flush is requested, a watchdog
// cancels the flush if it outlives the configured timeout, and once the flush
// resolves (in any outcome) the termination phase runs and the session is
// removed from the registry. Disconnect reports for unknown or superseded
// connections are benign no-ops.
//
// # Inbound rate coordination
//
// The manager divides a global notification quota across the registered
// sessions. Every registry size change recomputes the per-session limit,
// floored at MinInboundRateLimit, and pushes it to each session. Sessions
// enforce the limit as a per-second window in OfferNotification; events over
// the limit are dropped and counted, never queued.
package device
