// Package notify fans device events out to in-process subscribers.
//
// The lifecycle layer publishes events (device appeared, device vanished,
// device notifications) and consumers subscribe by event kind. Delivery is
// non-blocking: a subscriber that stops draining its channel loses the
// oldest undelivered events, never the publisher's time.
package notify
