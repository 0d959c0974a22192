// Package discovery implements mDNS/DNS-SD discovery for WEFT controllers.
//
// WEFT inverts the usual discovery direction: devices dial the controller,
// so it is the controller that advertises and devices that browse.
//
// # Controller Discovery (_weft._tcp)
//
// A running controller advertises a single service instance on the local
// domain. Instance name is the configured controller name (e.g. "weft-lab").
// TXT records:
//
//	id   controller identity (16 hex chars, certificate fingerprint)
//	ver  highest supported protocol version (decimal)
//	vb   supported version bitmap (hex, optional)
//	dc   number of admitted devices (optional, refreshed while running)
//
// Devices browse for _weft._tcp instances, pick a controller (usually by id),
// and open a TLS connection to the advertised host and port.
//
// The advertised device count is informational. It lets installers spot a
// controller that is already near capacity, but devices must not rely on it
// for admission decisions; the controller enforces those itself.
package discovery
