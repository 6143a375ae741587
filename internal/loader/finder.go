// Package loader resolves dotted module names against archive search paths
// and loads native extension modules out of the archive.
//
// The hook chain, the search path and the finder cache live in a Resolver
// value owned by whoever bootstraps the archive; nothing here is global.
package loader

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/pathentry"
)

// ErrPathNotHandled is returned by a PathHook for paths it does not serve.
var ErrPathNotHandled = errors.New("path not handled by hook")

// Loader produces a live module for a name a Finder matched. ctx carries
// the import chain; imports made while loading must use it.
type Loader interface {
	Load(ctx context.Context, fullname string) (*Module, error)
}

// Finder probes for a module. A false result only means this finder does
// not provide the name; callers fall back to other finders.
type Finder interface {
	Find(fullname string, searchPaths []string) (Loader, bool)
}

// PathHook returns a Finder for a search path entry, or ErrPathNotHandled.
type PathHook func(path string) (Finder, error)

// ExtensionFinder finds native modules below one archive directory.
type ExtensionFinder struct {
	Archive *bundle.Archive
	// Prefix is the archive-relative directory this finder is bound to
	Prefix   string
	Suffixes []string
	Linker   Linker
	// TempDir receives materialized modules; empty means os.TempDir()
	TempDir string
	Log     *log.Logger
}

// NewExtensionFinder binds a finder to prefix with the platform defaults.
func NewExtensionFinder(archive *bundle.Archive, prefix string) *ExtensionFinder {
	return &ExtensionFinder{
		Archive:  archive,
		Prefix:   pathentry.Clean(prefix),
		Suffixes: Suffixes(),
		Linker:   DefaultLinker(),
		Log:      log.Default(),
	}
}

// Dir returns the host-side path of the finder's directory.
func (f *ExtensionFinder) Dir() string {
	return pathentry.Join(f.Archive.Path, f.Prefix)
}

// Hook is the finder's path-hook factory. The archive root maps to the
// finder's own directory; paths at or below that directory get a finder
// bound to them.
func (f *ExtensionFinder) Hook(p string) (Finder, error) {
	dir := f.Dir()
	if p == f.Archive.Path {
		p = dir
	}
	if !pathentry.Under(p, dir) {
		return nil, ErrPathNotHandled
	}

	bound := *f
	bound.Prefix = pathentry.Clean(pathentry.Relative(f.Archive.Path, p))
	return &bound, nil
}

// Find looks for <path>/<leaf><suffix> for each candidate path and suffix,
// in order. With no candidates the finder's own prefix is searched.
func (f *ExtensionFinder) Find(fullname string, searchPaths []string) (Loader, bool) {
	leaf := fullname[strings.LastIndexByte(fullname, '.')+1:]
	if len(searchPaths) == 0 {
		searchPaths = []string{f.Prefix}
	}

	for _, candidate := range searchPaths {
		base := path.Join(pathentry.Relative(f.Archive.Path, candidate), leaf)
		for _, suffix := range f.Suffixes {
			modulePath := base + suffix
			if f.Archive.Has(modulePath) {
				return &ExtensionLoader{
					Archive:    f.Archive.Path,
					Data:       f.Archive.ReadFile,
					ModulePath: modulePath,
					Linker:     f.Linker,
					TempDir:    f.TempDir,
					Log:        f.Log,
				}, true
			}
		}
	}
	return nil, false
}
