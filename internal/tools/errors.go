package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned when a requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExists is returned when registering a tool whose name is
	// already in use.
	ErrToolExists = errors.New("tool already registered")

	// ErrInvalidArgs is returned when tool arguments fail schema
	// validation.
	ErrInvalidArgs = errors.New("invalid tool arguments")

	// ErrInvalidSchema is returned when a tool's input schema does not
	// compile.
	ErrInvalidSchema = errors.New("invalid tool schema")
)

// NotFoundError identifies the missing tool.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrToolNotFound }

// InvalidArgsError carries the validation failure for one tool call.
type InvalidArgsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %v", e.Tool, e.Err)
}

func (e *InvalidArgsError) Unwrap() error { return ErrInvalidArgs }
