package service

import "errors"

// Service errors.
var (
	// ErrAlreadyStarted is returned by Start on a controller that is
	// running or has been stopped.
	ErrAlreadyStarted = errors.New("controller already started")
)

// State represents the controller state.
type State uint8

const (
	// StateIdle - controller created but not started.
	StateIdle State = iota

	// StateStarting - controller is starting up.
	StateStarting

	// StateRunning - controller is accepting device connections.
	StateRunning

	// StateStopping - controller is shutting down.
	StateStopping

	// StateStopped - controller has stopped.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
