package build

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/zot/zipenv/internal/pathentry"
)

// DefaultMarker identifies library directories in the probe's output.
const DefaultMarker = "lua"

// LuaVersion is the language version of the embedded interpreter; rocks
// trees keep their modules below a directory named for it.
const LuaVersion = "5.1"

// probeScript prints the source and native module directories of a
// LuaRocks tree that exist.
const probeScript = `for d in '{env}/share/lua/` + LuaVersion + `' '{env}/lib/lua/` + LuaVersion + `'; do
  if [ -d "$d" ]; then echo "$d"; fi
done
`

// Default environment commands build a LuaRocks tree. "{env}" expands to
// the environment directory and "{marker}" to the library marker. The
// installer runs once per requirement.
var (
	DefaultBuilder   = []string{"mkdir", "-p", "{env}"}
	DefaultInstaller = []string{"luarocks", "--tree", "{env}", "install"}
	DefaultProbe     = []string{"sh", "-c", probeScript}
)

// Commands configures how an Environment is built and inspected.
type Commands struct {
	Builder   []string
	Installer []string
	Probe     []string
	Marker    string
}

func (c Commands) withDefaults() Commands {
	if len(c.Builder) == 0 {
		c.Builder = DefaultBuilder
	}
	if len(c.Installer) == 0 {
		c.Installer = DefaultInstaller
	}
	if len(c.Probe) == 0 {
		c.Probe = DefaultProbe
	}
	if c.Marker == "" {
		c.Marker = DefaultMarker
	}
	return c
}

// Environment is an isolated dependency environment in Dir, driven by
// external commands.
type Environment struct {
	Dir      string
	Commands Commands
	Log      *log.Logger
}

// NewEnvironment returns an environment rooted at dir.
func NewEnvironment(dir string, commands Commands, logger *log.Logger) *Environment {
	if logger == nil {
		logger = log.Default()
	}
	return &Environment{Dir: dir, Commands: commands.withDefaults(), Log: logger}
}

// Create runs the builder.
func (e *Environment) Create(ctx context.Context) error {
	e.Log.Info("creating environment", "dir", e.Dir)
	if _, err := e.run(ctx, e.Commands.Builder); err != nil {
		return &Error{Op: "create environment", Path: e.Dir, Err: err}
	}
	return nil
}

// Install runs the installer once for each requirement, in order.
func (e *Environment) Install(ctx context.Context, requirements ...string) error {
	for _, req := range requirements {
		e.Log.Info("installing requirement", "requirement", req)
		if _, err := e.run(ctx, e.Commands.Installer, req); err != nil {
			return &Error{Op: "install " + req, Path: e.Dir, Err: fmt.Errorf("%w: %w", ErrDependencyInstallFailed, err)}
		}
	}
	return nil
}

// LibraryDirs asks the environment for its library directories: the probe's
// output lines that contain the marker and lie inside the environment.
func (e *Environment) LibraryDirs(ctx context.Context) ([]string, error) {
	out, err := e.run(ctx, e.Commands.Probe)
	if err != nil {
		return nil, &Error{Op: "probe environment", Path: e.Dir, Err: err}
	}

	var dirs []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.Contains(line, e.Commands.Marker) {
			continue
		}
		if !pathentry.Under(filepath.Clean(line), filepath.Clean(e.Dir)) {
			e.Log.Debug("ignoring library outside environment", "dir", line)
			continue
		}
		dirs = append(dirs, line)
	}
	if len(dirs) == 0 {
		return nil, &Error{Op: "probe environment", Path: e.Dir, Err: errors.New("no library directories found")}
	}
	return dirs, nil
}

func (e *Environment) expand(arg string) string {
	return strings.NewReplacer("{env}", e.Dir, "{marker}", e.Commands.Marker).Replace(arg)
}

// run executes a command template with extra arguments appended. Output is
// logged at debug level; stdout is returned.
func (e *Environment) run(ctx context.Context, template []string, extra ...string) ([]byte, error) {
	if len(template) == 0 {
		return nil, errors.New("empty command")
	}
	args := make([]string, 0, len(template)+len(extra))
	for _, arg := range template {
		args = append(args, e.expand(arg))
	}
	args = append(args, extra...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	e.Log.Debug("command finished", "args", args, "stdout", stdout.String(), "stderr", stderr.String())
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", args[0], err)
	}
	return stdout.Bytes(), nil
}
