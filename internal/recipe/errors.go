package recipe

import (
	"errors"
	"fmt"
)

var (
	// ErrBuildFailure indicates the native build tool exited non-zero during configure or build
	ErrBuildFailure = errors.New("build failure")

	// ErrDependencyResolution indicates a required package could not be located or fetched
	ErrDependencyResolution = errors.New("dependency resolution failure")

	// ErrInvalidOption indicates an unknown option or a value outside its declared domain
	ErrInvalidOption = errors.New("invalid option")

	// ErrInvalidSetting indicates an unknown setting key
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrInvalidReference indicates a malformed or unpinned dependency reference
	ErrInvalidReference = errors.New("invalid reference")

	// ErrPhaseOrder indicates a lifecycle operation was called out of order
	ErrPhaseOrder = errors.New("phase out of order")
)

// Error wraps an error with the lifecycle operation and package it belongs to.
type Error struct {
	Op      string // Operation that failed
	Package string // Package name if applicable
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Package, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
