// Package inventory persists device inventory records for the controller.
//
// The store buffers per-device writes in memory and persists them to a JSON
// file on flush, mirroring how the controller treats inventory as runtime
// state: it is rebuilt from live connections after a restart.
//
// # Lifecycle
//
// The lifecycle manager seeds the root record once at construction via
// SubmitInitial; a failure there is fatal. Each admitted device gets its
// record via SubmitDevice. When a device's primary channel goes away the
// manager calls FlushAndClose and receives a Flush handle that resolves
// exactly once: succeeded, failed, or cancelled by the manager's watchdog.
package inventory
