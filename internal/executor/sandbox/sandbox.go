// Package sandbox runs JavaScript in an isolated goja runtime.
//
// Every run gets a fresh runtime that sees only the capabilities listed in
// capabilitySet: console output channels, a synthetic process object (argv
// and env), timers and Buffer. There is no require, no filesystem, no
// network and no way to reach the host process. A run ends in exactly one
// of three states: Completed, TimedOut or Faulted.
package sandbox

import (
	"time"
)

// Capabilities carries the per-request values injected into a sandbox.
type Capabilities struct {
	// Args are appended to process.argv after "node" and "script.js".
	Args []string
	// Env becomes process.env. Nothing from the host environment is added.
	Env map[string]string
	// MaxOutputBytes caps each output channel; zero means unlimited.
	MaxOutputBytes int
}

// State is the terminal state of a run.
type State int

const (
	StateCompleted State = iota
	StateTimedOut
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Report is what a run leaves behind. Output captured before a timeout or
// fault is always included.
type Report struct {
	State   State
	Stdout  string
	Stderr  string
	Elapsed time.Duration
	// Fault is the uncaught fault's message when State is StateFaulted.
	Fault string
}
