package session

import "errors"

var (
	// ErrSessionBusy means a background task is already executing
	// against the session. Maps to HTTP 409.
	ErrSessionBusy = errors.New("session: execution already in progress")

	// ErrNoOrchestrator means the session's mount plan produced a
	// coordinator without a runnable orchestrator.
	ErrNoOrchestrator = errors.New("session: no orchestrator mounted")
)
