package coordinator

import "errors"

var (
	// ErrInvalidMount is returned for a nil or unnamed module.
	ErrInvalidMount = errors.New("coordinator: invalid mount")

	// ErrAlreadyMounted is returned when a slot or name is taken.
	ErrAlreadyMounted = errors.New("coordinator: already mounted")

	// ErrNotMounted is returned when a requested module is absent.
	ErrNotMounted = errors.New("coordinator: not mounted")

	// ErrNoProvider is returned when no provider is mounted.
	ErrNoProvider = errors.New("coordinator: no provider mounted")
)
