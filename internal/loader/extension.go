package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// ErrExtensionLoadFailed means the dynamic linker rejected a matched module.
// It is not retried.
var ErrExtensionLoadFailed = errors.New("extension load failed")

// InitPrefix starts the optional initializer an extension may export as
// InitPrefix+<leaf>. It takes no arguments; a non-zero result fails the load.
const InitPrefix = "zipenv_init_"

// ExtensionLoader loads one matched native module. It is used once.
type ExtensionLoader struct {
	// Archive is the filesystem location of the archive
	Archive string
	// Data reads an archive entry
	Data func(name string) ([]byte, error)
	// ModulePath is the archive-relative entry of the module
	ModulePath string
	Linker     Linker
	TempDir    string
	Log        *log.Logger
}

// Load materializes the module to a temporary file, has the dynamic linker
// map it and removes the file again. The module's origin is the archive
// entry, never the temporary file.
func (l *ExtensionLoader) Load(ctx context.Context, fullname string) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := l.Data(l.ModulePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtensionLoadFailed, l.ModulePath, err)
	}

	handle, err := l.materialize(fullname, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtensionLoadFailed, l.ModulePath, err)
	}

	leaf := fullname[strings.LastIndexByte(fullname, '.')+1:]
	if initSym := InitPrefix + leaf; handle.Has(initSym) {
		rc, err := handle.Call(initSym)
		if err == nil && rc != 0 {
			err = fmt.Errorf("%s returned %d", initSym, int32(rc))
		}
		if err != nil {
			handle.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrExtensionLoadFailed, l.ModulePath, err)
		}
	}

	l.logger().Debug("loaded extension", "module", fullname, "origin", l.ModulePath)
	return &Module{
		Name:    fullname,
		Origin:  l.ModulePath,
		Archive: l.Archive,
		Kind:    KindExtension,
		Handle:  handle,
	}, nil
}

// materialize owns the temporary file for its whole life: it is removed on
// every return path, including a failed dlopen.
func (l *ExtensionLoader) materialize(fullname string, data []byte) (Handle, error) {
	tmp, err := os.CreateTemp(l.TempDir, "zipenv-*"+filepath.Ext(l.ModulePath))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil {
			l.logger().Debug("temp file not removed", "path", tmp.Name(), "error", err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	return l.Linker.Open(fullname, tmp.Name())
}

func (l *ExtensionLoader) logger() *log.Logger {
	if l.Log == nil {
		return log.Default()
	}
	return l.Log
}
