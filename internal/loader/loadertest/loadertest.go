// Package loadertest provides a scripted dynamic linker for tests.
package loadertest

import (
	"fmt"
	"os"
	"sync"

	"github.com/zot/zipenv/internal/loader"
)

// Open records one call to Linker.Open.
type Open struct {
	Name string
	Path string
	// Data is the file content at the time of the call
	Data []byte
}

// Linker is a loader.Linker that never maps anything. Modules export the
// symbols listed in Symbols; Call returns the listed value.
type Linker struct {
	// Fail makes Open fail for the named modules
	Fail map[string]error
	// Symbols maps module name to exported symbol results
	Symbols map[string]map[string]uintptr

	mu     sync.Mutex
	opens  []Open
	closed []string
}

// Open implements loader.Linker.
func (l *Linker) Open(name, path string) (loader.Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fake linker: %w", err)
	}

	l.mu.Lock()
	l.opens = append(l.opens, Open{Name: name, Path: path, Data: data})
	l.mu.Unlock()

	if err := l.Fail[name]; err != nil {
		return nil, err
	}
	return &handle{linker: l, name: name}, nil
}

// Opens returns every recorded Open call.
func (l *Linker) Opens() []Open {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Open(nil), l.opens...)
}

// Closed returns the names of modules whose handle was closed.
func (l *Linker) Closed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.closed...)
}

type handle struct {
	linker *Linker
	name   string
}

func (h *handle) Has(symbol string) bool {
	_, ok := h.linker.Symbols[h.name][symbol]
	return ok
}

func (h *handle) Call(symbol string, args ...uintptr) (uintptr, error) {
	rc, ok := h.linker.Symbols[h.name][symbol]
	if !ok {
		return 0, fmt.Errorf("%s: undefined symbol %s", h.name, symbol)
	}
	return rc, nil
}

func (h *handle) Close() error {
	h.linker.mu.Lock()
	defer h.linker.mu.Unlock()
	h.linker.closed = append(h.linker.closed, h.name)
	return nil
}
