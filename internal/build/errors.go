package build

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyInstallFailed indicates the installer exited non-zero
	ErrDependencyInstallFailed = errors.New("dependency install failed")

	// ErrInvalidEntryPoint indicates an entry point not of the form module:callable
	ErrInvalidEntryPoint = errors.New("invalid entry point")
)

// Error wraps an error with additional context
type Error struct {
	Op   string // Operation that failed
	Path string // File or directory if applicable
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
