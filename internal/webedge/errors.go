package webedge

import "errors"

var (
	// ErrServerBusy is returned when binding the listener fails because
	// the address is already in use (EADDRINUSE), per SPEC_FULL.md §7.
	ErrServerBusy = errors.New("webedge: server busy")

	// ErrServerNotRunning is returned by Close when the server was never
	// started or has already been closed.
	ErrServerNotRunning = errors.New("webedge: server not running")
)
