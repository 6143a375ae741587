//go:build darwin || freebsd || linux

package loader

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type dlLinker struct{}

func (dlLinker) Open(name, path string) (Handle, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, err
	}
	return &dlHandle{name: name, h: h}, nil
}

type dlHandle struct {
	name string
	h    uintptr
}

func (d *dlHandle) Has(symbol string) bool {
	_, err := purego.Dlsym(d.h, symbol)
	return err == nil
}

func (d *dlHandle) Call(symbol string, args ...uintptr) (uintptr, error) {
	sym, err := purego.Dlsym(d.h, symbol)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", d.name, err)
	}
	r1, _, _ := purego.SyscallN(sym, args...)
	return r1, nil
}

func (d *dlHandle) Close() error {
	return purego.Dlclose(d.h)
}
