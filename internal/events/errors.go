package events

import "errors"

var (
	// ErrUnknownEvent is returned when registering against an event name
	// outside the known universe.
	ErrUnknownEvent = errors.New("events: unknown event")

	// ErrNilHandler is returned when registering a handler without a
	// function.
	ErrNilHandler = errors.New("events: nil handler")
)
