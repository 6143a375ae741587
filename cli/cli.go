// Package cli provides the command-line interface for zipenv.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/zot/zipenv/internal/bootstrap"
	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/config"
	"github.com/zot/zipenv/internal/sitecfg"
)

// Version is the zipenv release.
const Version = "0.1.0"

// InspectEnv, when set, makes a bundled executable act as the zipenv tool
// instead of starting its application.
const InspectEnv = "ZIPENV_INSPECT"

// Hooks allows extending the CLI.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string

	// Directives handle import directive names of path configuration files.
	Directives map[string]sitecfg.HookFunc
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks. A bundled executable
// hands all arguments to its application unless InspectEnv is set.
func RunWithHooks(args []string, hooks *Hooks) int {
	if os.Getenv(InspectEnv) == "" {
		if bundled, err := bundle.SelfBundled(); err == nil && bundled {
			return runBundled(args, hooks, os.Stderr)
		}
	}
	return run(args, hooks, os.Stdout, os.Stderr)
}

// runBundled starts the running executable's own application.
func runBundled(args []string, hooks *Hooks, stderr io.Writer) int {
	cfg, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitUsage
	}
	logger := cfg.Logging.NewLogger(stderr)

	rt, err := bootstrap.Install("", runtimeOptions(cfg, hooks, logger))
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		return ExitCode(err)
	}
	defer rt.Close()

	code, err := rt.RunDefault(args)
	if err != nil {
		logger.Error("application failed", "error", err)
		return ExitCode(err)
	}
	return code
}

// run executes the tool commands.
func run(args []string, hooks *Hooks, stdout, stderr io.Writer) int {
	if len(args) > 0 && hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(args[0], args[1:]); handled {
			return code
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{hooks: hooks, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	if code, ok := appExitCode(err); ok {
		return code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitCode(err)
}
