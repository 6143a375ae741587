package loader

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"
)

// ErrModuleNotFound means no finder on the search path provides a name.
var ErrModuleNotFound = errors.New("module not found")

// ErrImportCycle means a module was imported again by its own load.
var ErrImportCycle = errors.New("import cycle")

// Resolver is the module system's explicit hook chain: the active search
// path, the path hooks that turn entries into finders, a cache of those
// finders and the table of loaded modules.
//
// Loads are serialized: one import, with everything it imports in turn,
// runs at a time. Other goroutines wait and then see the loaded module.
// A Loader that imports must pass on the context it was given; that
// context carries the import chain, which is how nested imports skip the
// wait and how cycles are detected.
//
// The mutex guards the tables and is never held while a Loader runs.
type Resolver struct {
	// Fallback is probed after the hook-provided finder of each candidate
	Fallback Finder
	Log      *log.Logger

	load *semaphore.Weighted

	mu      sync.Mutex
	path    []string
	hooks   []PathHook
	cache   map[string]Finder
	modules map[string]*Module
}

// importChain lists the modules an import is loading, outermost first.
type importChain struct {
	resolver *Resolver
	names    []string
}

type chainKey struct{}

// NewResolver returns a resolver with an empty search path.
func NewResolver(logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		Log:     logger,
		load:    semaphore.NewWeighted(1),
		cache:   make(map[string]Finder),
		modules: make(map[string]*Module),
	}
}

// Path returns a copy of the active search path.
func (r *Resolver) Path() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.path)
}

// AppendPath appends an entry to the active search path.
func (r *Resolver) AppendPath(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = append(r.path, entry)
}

// PrependPath puts an entry at the front of the active search path.
func (r *Resolver) PrependPath(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = slices.Insert(r.path, 0, entry)
}

// AddHook appends a path hook to the hook chain.
func (r *Resolver) AddHook(hook PathHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Invalidate drops any cached finder for entry so the next lookup consults
// the hook chain again.
func (r *Resolver) Invalidate(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, entry)
}

// FinderFor returns the finder for a search path entry. Hooks are tried in
// order; the first that does not return ErrPathNotHandled wins. Negative
// results are cached too.
func (r *Resolver) FinderFor(entry string) Finder {
	r.mu.Lock()
	defer r.mu.Unlock()

	if finder, ok := r.cache[entry]; ok {
		return finder
	}

	var found Finder
	for _, hook := range r.hooks {
		finder, err := hook(entry)
		if errors.Is(err, ErrPathNotHandled) {
			continue
		}
		if err != nil {
			r.Log.Debug("path hook failed", "entry", entry, "error", err)
			continue
		}
		found = finder
		break
	}
	r.cache[entry] = found
	return found
}

// Find returns a loader for fullname. Dotted names are searched in the
// parent package's directory below each search path entry.
func (r *Resolver) Find(fullname string) (Loader, error) {
	if fullname == "" || strings.HasPrefix(fullname, ".") || strings.HasSuffix(fullname, ".") {
		return nil, fmt.Errorf("%w: bad module name %q", ErrModuleNotFound, fullname)
	}

	pkgDir := ""
	if i := strings.LastIndexByte(fullname, '.'); i >= 0 {
		pkgDir = strings.ReplaceAll(fullname[:i], ".", "/")
	}

	for _, entry := range r.Path() {
		candidate := entry
		if pkgDir != "" {
			candidate = path.Join(entry, pkgDir)
		}

		if finder := r.FinderFor(candidate); finder != nil {
			if loader, ok := finder.Find(fullname, nil); ok {
				return loader, nil
			}
		}
		if r.Fallback != nil {
			if loader, ok := r.Fallback.Find(fullname, []string{candidate}); ok {
				return loader, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, fullname)
}

// Import returns the loaded module for fullname, finding and loading it on
// first use.
func (r *Resolver) Import(fullname string) (*Module, error) {
	return r.ImportContext(context.Background(), fullname)
}

// ImportContext is Import for callers that may be running inside a load:
// a Loader passes its own context so the nested import joins its chain.
// Waiting for another goroutine's import ends when ctx is done.
func (r *Resolver) ImportContext(ctx context.Context, fullname string) (*Module, error) {
	if mod, ok := r.Module(fullname); ok {
		return mod, nil
	}

	chain, _ := ctx.Value(chainKey{}).(*importChain)
	if chain == nil || chain.resolver != r {
		if err := r.load.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("import %s: %w", fullname, err)
		}
		defer r.load.Release(1)

		// loaded by the import we waited for
		if mod, ok := r.Module(fullname); ok {
			return mod, nil
		}
		chain = &importChain{resolver: r}
	}
	if slices.Contains(chain.names, fullname) {
		return nil, fmt.Errorf("%w: %s", ErrImportCycle, strings.Join(append(slices.Clip(chain.names), fullname), " -> "))
	}

	next := &importChain{resolver: r, names: append(slices.Clip(chain.names), fullname)}
	mod, err := r.loadModule(context.WithValue(ctx, chainKey{}, next), fullname)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.modules[fullname] = mod
	r.mu.Unlock()
	return mod, nil
}

func (r *Resolver) loadModule(ctx context.Context, fullname string) (*Module, error) {
	loader, err := r.Find(fullname)
	if err != nil {
		return nil, err
	}
	mod, err := loader.Load(ctx, fullname)
	if err != nil {
		return nil, err
	}
	r.Log.Debug("imported", "module", fullname, "kind", mod.Kind, "origin", mod.Origin)
	return mod, nil
}

// Module returns an already loaded module.
func (r *Resolver) Module(fullname string) (*Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.modules[fullname]
	return mod, ok
}

// Modules returns the names of all loaded modules, sorted.
func (r *Resolver) Modules() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close releases every extension handle. Loaded modules are forgotten.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, mod := range r.modules {
		if mod.Handle != nil {
			if err := mod.Handle.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	r.modules = make(map[string]*Module)
	return errors.Join(errs...)
}
