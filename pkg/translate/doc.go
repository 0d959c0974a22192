// Package translate holds the registries that turn raw device payloads
// into application objects.
//
// The controller core never decodes payloads itself. Applications register
// Translators keyed by protocol version and message type, and vendor
// extension Converters keyed by vendor ID; sessions expose the registries
// to whoever consumes the messages.
package translate
