package cli

import (
	"errors"

	"github.com/zot/zipenv/internal/build"
	"github.com/zot/zipenv/internal/loader"
	"github.com/zot/zipenv/internal/manifest"
)

// Process exit codes.
const (
	ExitOK                      = 0
	ExitFailure                 = 1
	ExitUsage                   = 2
	ExitManifestMissing         = 3
	ExitExtensionLoadFailed     = 4
	ExitDependencyInstallFailed = 5
)

// usageError marks bad command lines.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// exitError carries a non-zero exit code returned by an application.
type exitError struct{ code int }

func (e *exitError) Error() string { return "application exited" }

func appExitCode(err error) (int, bool) {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code, true
	}
	return 0, false
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ue), errors.Is(err, build.ErrInvalidEntryPoint):
		return ExitUsage
	case errors.Is(err, manifest.ErrManifestMissing):
		return ExitManifestMissing
	case errors.Is(err, loader.ErrExtensionLoadFailed):
		return ExitExtensionLoadFailed
	case errors.Is(err, build.ErrDependencyInstallFailed):
		return ExitDependencyInstallFailed
	default:
		return ExitFailure
	}
}
