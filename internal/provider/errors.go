package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a wire call exceeds the adapter timeout.
	ErrTimeout = errors.New("provider: request timed out")

	// ErrNoWire is returned when an adapter is constructed without a
	// wire provider.
	ErrNoWire = errors.New("provider: no wire provider")
)

// Error wraps a wire failure with provider attribution.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
