package sitecfg

import (
	"fmt"
	"sync"

	"github.com/zot/zipenv/internal/loader"
)

// Directive is one "import" line of a configuration file.
type Directive struct {
	File string
	Line int
	// Dir is the host-side library directory holding File
	Dir   string
	Text  string
	Names []string
}

// DirectiveRunner executes import directives.
type DirectiveRunner interface {
	RunDirective(d Directive) error
}

// HookFunc handles an import directive name in Go.
type HookFunc func(d Directive) error

// Importer imports modules by dotted name.
type Importer interface {
	Import(fullname string) (*loader.Module, error)
}

// Runner resolves each name of a directive to a registered hook, or else
// imports it as a module. Importing a source module runs its chunk.
type Runner struct {
	Importer Importer

	mu    sync.RWMutex
	hooks map[string]HookFunc
}

// NewRunner returns a runner importing through importer.
func NewRunner(importer Importer) *Runner {
	return &Runner{Importer: importer, hooks: make(map[string]HookFunc)}
}

// Register binds a directive name to a Go hook.
func (r *Runner) Register(name string, fn HookFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks == nil {
		r.hooks = make(map[string]HookFunc)
	}
	r.hooks[name] = fn
}

func (r *Runner) hook(name string) (HookFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.hooks[name]
	return fn, ok
}

// RunDirective runs the directive's names in order, stopping at the first
// failure.
func (r *Runner) RunDirective(d Directive) error {
	for _, name := range d.Names {
		if fn, ok := r.hook(name); ok {
			if err := fn(d); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			continue
		}
		if r.Importer == nil {
			return fmt.Errorf("%s: no hook registered", name)
		}
		if _, err := r.Importer.Import(name); err != nil {
			return err
		}
	}
	return nil
}
