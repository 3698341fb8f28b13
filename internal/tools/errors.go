package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Registry construction errors.
var (
	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolHandlerNil is returned when a tool has no handler.
	ErrToolHandlerNil = errors.New("tool handler cannot be nil")

	// ErrToolAlreadyRegistered is returned for a duplicate name.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// NotFoundError reports an unknown tool name, carrying the names that
// do exist so the caller can self-correct.
type NotFoundError struct {
	Name  string
	Known []string
}

func (e *NotFoundError) Error() string {
	known := append([]string(nil), e.Known...)
	sort.Strings(known)
	return fmt.Sprintf("unknown tool %q; available tools: %s", e.Name, strings.Join(known, ", "))
}

// HandlerError reports that a matched tool's handler failed.
type HandlerError struct {
	Name string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Name, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
