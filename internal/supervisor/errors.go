package supervisor

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrAlreadyRunning is returned by Start when the PID file names a live process.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning is returned by operations that need a live daemon.
	ErrNotRunning = errors.New("daemon not running")
)

// SpawnError reports that the daemon process could not be created.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SignalError reports that a signal could not be delivered to pid.
type SignalError struct {
	PID    int
	Signal os.Signal
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("send %v to pid %d: %v", e.Signal, e.PID, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }
