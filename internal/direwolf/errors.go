package direwolf

import "errors"

var (
	// ErrConnectRetriesExhausted is returned when direwolf never accepted a
	// connection on its KISS port. Did direwolf start up correctly?
	ErrConnectRetriesExhausted = errors.New("direwolf: maximum number of connection attempts reached")

	// ErrConnectionLost is recorded when direwolf closes the KISS
	// connection while the instance is running.
	ErrConnectionLost = errors.New("direwolf: kiss connection lost")

	// ErrNotRunning is returned by Restart before Start has been called.
	ErrNotRunning = errors.New("direwolf: not running")

	// ErrStopped is returned by operations on a stopped manager.
	ErrStopped = errors.New("direwolf: manager stopped")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("direwolf: already started")
)
