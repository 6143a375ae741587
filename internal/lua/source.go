package lua

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/zot/zipenv/internal/loader"
	"github.com/zot/zipenv/internal/pathentry"
)

// Source file layouts, tried in order: a plain module, then a package.
var sourceLayouts = []string{"%s.lua", "%s/init.lua"}

// Finder returns the runtime's source module finder.
func (r *Runtime) Finder() *SourceFinder {
	return &SourceFinder{Runtime: r}
}

// SourceFinder finds Lua source modules. Search paths inside the archive
// are read from the archive; any other path is read from the host
// filesystem.
type SourceFinder struct {
	Runtime *Runtime
}

// Find implements loader.Finder.
func (f *SourceFinder) Find(fullname string, searchPaths []string) (loader.Loader, bool) {
	archive := f.Runtime.Archive
	leaf := fullname[strings.LastIndexByte(fullname, '.')+1:]

	for _, candidate := range searchPaths {
		inArchive := pathentry.Under(candidate, archive.Path)
		rel := pathentry.Relative(archive.Path, candidate)

		for _, layout := range sourceLayouts {
			name := fmt.Sprintf(layout, leaf)
			if inArchive {
				origin := path.Join(rel, name)
				if archive.Has(origin) {
					return &SourceLoader{
						Runtime: f.Runtime,
						Origin:  origin,
						Archive: archive.Path,
						Data:    archive.ReadFile,
					}, true
				}
				continue
			}

			hostPath := filepath.Join(candidate, filepath.FromSlash(name))
			if info, err := os.Stat(hostPath); err == nil && !info.IsDir() {
				return &SourceLoader{
					Runtime: f.Runtime,
					Origin:  hostPath,
					Data:    os.ReadFile,
				}, true
			}
		}
	}
	return nil, false
}

// SourceLoader runs one Lua source module.
type SourceLoader struct {
	Runtime *Runtime
	// Origin is the archive-relative entry, or a host path when Archive is empty
	Origin  string
	Archive string
	Data    func(name string) ([]byte, error)
}

// Load executes the module's chunk with (name, origin) as its varargs.
// The chunk's return value, or true, becomes the module's value. ctx is the
// Lua state's context while the chunk runs, so its require() calls join
// this import.
func (l *SourceLoader) Load(ctx context.Context, fullname string) (*loader.Module, error) {
	code, err := l.Data(l.Origin)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", l.Origin, err)
	}

	L := l.Runtime.State
	loaded := l.Runtime.loadedModules

	mod := &loader.Module{
		Name:    fullname,
		Origin:  l.Origin,
		Archive: l.Archive,
		Kind:    loader.KindSource,
	}

	fn, err := L.Load(strings.NewReader(string(code)), "@"+mod.File())
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", l.Origin, err)
	}

	// Mark as loaded BEFORE executing (handles circular dependencies)
	L.SetField(loaded, fullname, lua.LTrue)

	prev := L.Context()
	L.SetContext(ctx)
	defer func() {
		if prev == nil {
			L.RemoveContext()
		} else {
			L.SetContext(prev)
		}
	}()

	L.Push(fn)
	L.Push(lua.LString(fullname))
	L.Push(lua.LString(mod.File()))
	if err := L.PCall(2, 1, nil); err != nil {
		L.SetField(loaded, fullname, lua.LNil)
		return nil, fmt.Errorf("failed to load %s: %w", l.Origin, err)
	}

	result := L.Get(-1)
	L.Pop(1)
	if result == lua.LNil {
		result = lua.LTrue
	}
	// A chunk may have stored its table in package.loaded itself
	if stored := L.GetField(loaded, fullname); result == lua.LTrue && stored != lua.LTrue && stored != lua.LNil {
		result = stored
	}
	L.SetField(loaded, fullname, result)

	mod.Value = result
	l.Runtime.Log.Debug("loaded source module", "module", fullname, "origin", l.Origin)
	return mod, nil
}
