// Package config loads the controller's YAML configuration.
//
// Configuration resolves in two layers: hardcoded defaults, then values from
// the YAML file. A missing file is not an error; the controller runs on
// defaults so that a bare `weft-controller` invocation works out of the box.
// Command line flags override individual fields on top of the loaded config
// (handled in cmd, not here).
//
// Durations are written as Go duration strings ("500ms", "10s", "2m").
package config
