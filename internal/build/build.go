// Package build packages an application and its dependency closure into a
// single archive.
//
// A build creates a temporary environment, installs the requirements into
// it, stages the environment's library directories, records the search-path
// manifest and bundles everything behind a launcher executable.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/zot/zipenv/internal/bundle"
)

// Options configures a build.
type Options struct {
	EntryPoint   string
	Requirements []string
	Output       string
	// Launcher is the executable the archive is appended to; empty means
	// the running executable
	Launcher    string
	Compression bundle.Compression
	// SiteDirs are pre-built library directories, "dest=src" or "src".
	// A plain src is staged as lib/<base name>. When set, no environment
	// is created.
	SiteDirs []string
	Commands Commands
	// TempDir holds the build's temporary directories; empty means os.TempDir()
	TempDir string
	Log     *log.Logger
}

// Run builds an archive. Temporary directories are removed on every
// return path.
func Run(ctx context.Context, opts Options) (info *Info, err error) {
	logger := opts.Log
	if logger == nil {
		logger = log.Default()
	}

	ep, err := ParseEntryPoint(opts.EntryPoint)
	if err != nil {
		return nil, err
	}
	if opts.Output == "" {
		return nil, &Error{Op: "build", Err: fmt.Errorf("no output file")}
	}
	if _, err := opts.Compression.Method(); err != nil {
		return nil, &Error{Op: "build", Err: err}
	}

	launcher := opts.Launcher
	if launcher == "" {
		if launcher, err = os.Executable(); err != nil {
			return nil, &Error{Op: "find launcher", Err: err}
		}
	}

	staging, err := os.MkdirTemp(opts.TempDir, "zipenv-stage-")
	if err != nil {
		return nil, &Error{Op: "create staging directory", Err: err}
	}
	defer removeAll(logger, staging)

	libs, envDir, err := libraries(ctx, opts, logger)
	if envDir != "" {
		defer removeAll(logger, envDir)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("staging libraries", "count", len(libs))
	if err := Stage(ctx, staging, libs); err != nil {
		return nil, err
	}

	info = NewInfo(ep, opts.Requirements, opts.Compression)
	for _, lib := range libs {
		info.Entries = append(info.Entries, lib.Dest)
	}
	if err := info.Write(staging); err != nil {
		return nil, &Error{Op: "write build info", Path: staging, Err: err}
	}

	logger.Info("writing archive", "output", opts.Output, "launcher", launcher, "compression", info.Compression)
	if err := bundle.CreateBundle(launcher, staging, opts.Output, bundle.Options{Compression: opts.Compression}); err != nil {
		return nil, &Error{Op: "bundle", Path: opts.Output, Err: err}
	}
	return info, nil
}

// libraries returns the directories to stage: the pre-built site
// directories, or those of a freshly built environment. The returned
// directory, if any, must be removed once staging is done.
func libraries(ctx context.Context, opts Options, logger *log.Logger) ([]Library, string, error) {
	if len(opts.SiteDirs) > 0 {
		return ParseSiteDirs(opts.SiteDirs), "", nil
	}

	envDir, err := os.MkdirTemp(opts.TempDir, "zipenv-env-")
	if err != nil {
		return nil, "", &Error{Op: "create environment directory", Err: err}
	}

	env := NewEnvironment(envDir, opts.Commands, logger)
	if err := env.Create(ctx); err != nil {
		return nil, envDir, err
	}
	if err := env.Install(ctx, opts.Requirements...); err != nil {
		return nil, envDir, err
	}
	dirs, err := env.LibraryDirs(ctx)
	if err != nil {
		return nil, envDir, err
	}
	return LibrariesIn(envDir, dirs), envDir, nil
}

// ParseSiteDirs parses "dest=src" or "src" library specifications.
func ParseSiteDirs(sites []string) []Library {
	libs := make([]Library, 0, len(sites))
	for _, site := range sites {
		dest, src, ok := strings.Cut(site, "=")
		if !ok {
			src = site
			dest = "lib/" + filepath.Base(filepath.Clean(src))
		}
		libs = append(libs, Library{Src: src, Dest: filepath.ToSlash(filepath.Clean(dest))})
	}
	return libs
}

func removeAll(logger *log.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("failed to remove temporary directory", "dir", dir, "error", err)
	}
}
