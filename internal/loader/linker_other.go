//go:build !(darwin || freebsd || linux)

package loader

import (
	"fmt"
	"runtime"
)

type dlLinker struct{}

func (dlLinker) Open(name, path string) (Handle, error) {
	return nil, fmt.Errorf("dynamic loading of %s is not supported on %s", name, runtime.GOOS)
}
