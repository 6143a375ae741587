// Package bootstrap installs the archive's module system before any
// application code runs, then starts the application's entry point.
package bootstrap

import (
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/zot/zipenv/internal/build"
	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/loader"
	"github.com/zot/zipenv/internal/lua"
	"github.com/zot/zipenv/internal/manifest"
	"github.com/zot/zipenv/internal/pathentry"
	"github.com/zot/zipenv/internal/sitecfg"
)

// Options tune Install. The zero value uses the platform defaults.
type Options struct {
	Linker loader.Linker
	// Suffixes overrides the platform's native module suffixes
	Suffixes []string
	TempDir  string
	// Pattern selects path configuration files; empty means *.pth
	Pattern string
	// Hooks handle import directive names in Go
	Hooks map[string]sitecfg.HookFunc
	// Resolver is an existing resolver to install into; nil creates one
	Resolver *loader.Resolver
	Log      *log.Logger
}

// Runtime is an installed archive.
type Runtime struct {
	Archive    *bundle.Archive
	Resolver   *loader.Resolver
	Lua        *lua.Runtime
	Directives *sitecfg.Runner
	// Entries are the manifest's library directories, archive-relative
	Entries []string
	// ConfigErrors are the path configuration failures; none is fatal
	ConfigErrors []error
	Log          *log.Logger
}

// Install opens the archive at archivePath, or the running executable when
// archivePath is empty, and wires its library directories into
// Options.Resolver or a fresh resolver.
func Install(archivePath string, opts Options) (*Runtime, error) {
	logger := opts.Log
	if logger == nil {
		logger = log.Default()
	}

	var archive *bundle.Archive
	var err error
	if archivePath == "" {
		archive, err = bundle.OpenSelf()
	} else {
		archive, err = bundle.Open(archivePath)
	}
	if err != nil {
		return nil, err
	}

	entries, err := manifest.FromArchive(archive.Open).Entries()
	if err != nil {
		archive.Close()
		return nil, err
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = loader.NewResolver(logger)
	}
	rt := &Runtime{
		Archive:  archive,
		Resolver: resolver,
		Entries:  entries,
		Log:      logger,
	}

	// The archive root leads the search path, as for any program run from
	// an archive; the hooks map it to the first library directory.
	if !slices.Contains(resolver.Path(), archive.Path) {
		resolver.PrependPath(archive.Path)
	}

	for _, entry := range entries {
		finder := loader.NewExtensionFinder(archive, entry)
		if opts.Linker != nil {
			finder.Linker = opts.Linker
		}
		if opts.Suffixes != nil {
			finder.Suffixes = opts.Suffixes
		}
		finder.TempDir = opts.TempDir
		finder.Log = logger
		rt.Resolver.AddHook(finder.Hook)
		rt.Resolver.AppendPath(pathentry.Join(archive.Path, entry))
	}
	// The root may already have been resolved, to no finder, before the
	// hooks existed.
	rt.Resolver.Invalidate(archive.Path)

	rt.Lua = lua.NewRuntime(archive, rt.Resolver, logger)
	rt.Resolver.Fallback = rt.Lua.Finder()

	rt.Directives = sitecfg.NewRunner(rt.Resolver)
	for name, fn := range opts.Hooks {
		rt.Directives.Register(name, fn)
	}
	interp := &sitecfg.Interpreter{
		Archive: archive,
		Path:    rt.Resolver,
		Runner:  rt.Directives,
		Pattern: opts.Pattern,
		Log:     logger,
	}
	for _, entry := range entries {
		dir := pathentry.Join(archive.Path, entry)
		known := sitecfg.NewKnownPaths(append(rt.Resolver.Path(), dir)...)
		rt.ConfigErrors = append(rt.ConfigErrors, interp.Apply(dir, known)...)
	}

	logger.Debug("archive installed", "archive", archive.Path, "entries", len(entries), "path", len(rt.Resolver.Path()))
	return rt, nil
}

// Info reads the archive's build information.
func (rt *Runtime) Info() (*build.Info, error) {
	return build.ReadInfo(rt.Archive)
}

// Run imports the entry point's module and calls its callable. The result
// is the process exit code.
func (rt *Runtime) Run(entryPoint string, args []string) (int, error) {
	ep, err := build.ParseEntryPoint(entryPoint)
	if err != nil {
		return 2, err
	}

	mod, err := rt.Resolver.Import(ep.Module)
	if err != nil {
		return 1, err
	}
	rt.Log.Debug("starting", "entry_point", ep, "origin", mod.Origin, "kind", mod.Kind)

	if mod.Kind == loader.KindExtension {
		if !mod.Handle.Has(ep.Callable) {
			return 1, fmt.Errorf("%s does not export %s", mod.Origin, ep.Callable)
		}
		rc, err := mod.Handle.Call(ep.Callable)
		if err != nil {
			return 1, err
		}
		return int(int32(rc)), nil
	}
	return rt.Lua.Call(mod, ep.Callable, args)
}

// RunDefault runs the entry point recorded in the archive's build info.
func (rt *Runtime) RunDefault(args []string) (int, error) {
	info, err := rt.Info()
	if err != nil {
		return 1, err
	}
	return rt.Run(info.EntryPoint, args)
}

// Close releases loaded extensions, the Lua state and the archive.
func (rt *Runtime) Close() error {
	var errs []error
	if err := rt.Resolver.Close(); err != nil {
		errs = append(errs, err)
	}
	rt.Lua.Close()
	if err := rt.Archive.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
