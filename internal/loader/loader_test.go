package loader_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/bundle/bundletest"
	"github.com/zot/zipenv/internal/loader"
	"github.com/zot/zipenv/internal/loader/loadertest"
)

const archivePath = "/opt/app.bin"

var testSuffixes = []string{".linux-amd64.so", ".so"}

func newArchive(t *testing.T) *bundle.Archive {
	return bundletest.New(t, archivePath, map[string]string{
		"site_packages.txt":                 "lib/py\nlib/native\n",
		"lib/native/fast.so":                "ELF fast",
		"lib/native/pkg/mod.so":             "ELF generic mod",
		"lib/native/pkg/mod.linux-amd64.so": "ELF tagged mod",
		"lib/native/pkg/other.so":           "ELF other",
		"lib/native/inited.so":              "ELF inited",
		"lib/py/app.lua":                    "return {}",
		"lib/native2/sneaky.so":             "ELF sneaky",
	})
}

func newFinder(t *testing.T, a *bundle.Archive, prefix string, linker loader.Linker) *loader.ExtensionFinder {
	f := loader.NewExtensionFinder(a, prefix)
	f.Suffixes = testSuffixes
	f.Linker = linker
	f.TempDir = t.TempDir()
	f.Log = log.New(os.Stderr)
	return f
}

func TestFindAndLoadExtension(t *testing.T) {
	a := newArchive(t)
	linker := &loadertest.Linker{}
	f := newFinder(t, a, "lib/native", linker)

	ld, ok := f.Find("fast", nil)
	require.True(t, ok)

	mod, err := ld.Load(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast", mod.Name)
	assert.Equal(t, "lib/native/fast.so", mod.Origin)
	assert.Equal(t, archivePath, mod.Archive)
	assert.Equal(t, "/opt/app.bin/lib/native/fast.so", mod.File())
	assert.Equal(t, loader.KindExtension, mod.Kind)
	assert.NotNil(t, mod.Handle)

	opens := linker.Opens()
	require.Len(t, opens, 1)
	assert.Equal(t, "fast", opens[0].Name)
	assert.Equal(t, "ELF fast", string(opens[0].Data))
	assert.Equal(t, ".so", opens[0].Path[len(opens[0].Path)-3:])

	_, err = os.Stat(opens[0].Path)
	assert.True(t, os.IsNotExist(err), "temporary file must be removed")
	entries, err := os.ReadDir(f.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFindDottedNameUsesLeaf(t *testing.T) {
	a := newArchive(t)
	f := newFinder(t, a, "lib/native", &loadertest.Linker{})

	ld, ok := f.Find("pkg.other", []string{"/opt/app.bin/lib/native/pkg"})
	require.True(t, ok)
	mod, err := ld.Load(context.Background(), "pkg.other")
	require.NoError(t, err)
	assert.Equal(t, "lib/native/pkg/other.so", mod.Origin)
}

func TestFindPrefersTaggedSuffix(t *testing.T) {
	a := newArchive(t)
	linker := &loadertest.Linker{}
	f := newFinder(t, a, "lib/native", linker)

	ld, ok := f.Find("pkg.mod", []string{"/opt/app.bin/lib/native/pkg"})
	require.True(t, ok)
	mod, err := ld.Load(context.Background(), "pkg.mod")
	require.NoError(t, err)
	assert.Equal(t, "lib/native/pkg/mod.linux-amd64.so", mod.Origin)
	assert.Equal(t, "ELF tagged mod", string(linker.Opens()[0].Data))
}

func TestFindMissing(t *testing.T) {
	a := newArchive(t)
	f := newFinder(t, a, "lib/native", &loadertest.Linker{})

	_, ok := f.Find("pkg.missing", []string{"/opt/app.bin/lib/native/pkg"})
	assert.False(t, ok)
	_, ok = f.Find("app", nil)
	assert.False(t, ok, "source modules are not extensions")
}

func TestLoadFailureRemovesTempFile(t *testing.T) {
	a := newArchive(t)
	linker := &loadertest.Linker{Fail: map[string]error{"fast": errors.New("undefined symbol: PyInit_fast")}}
	f := newFinder(t, a, "lib/native", linker)

	ld, ok := f.Find("fast", nil)
	require.True(t, ok)
	_, err := ld.Load(context.Background(), "fast")
	require.Error(t, err)
	assert.ErrorIs(t, err, loader.ErrExtensionLoadFailed)
	assert.Contains(t, err.Error(), "undefined symbol")

	opens := linker.Opens()
	require.Len(t, opens, 1)
	_, statErr := os.Stat(opens[0].Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadInitSymbol(t *testing.T) {
	a := newArchive(t)

	t.Run("zero result succeeds", func(t *testing.T) {
		linker := &loadertest.Linker{Symbols: map[string]map[string]uintptr{
			"inited": {"zipenv_init_inited": 0},
		}}
		ld, ok := newFinder(t, a, "lib/native", linker).Find("inited", nil)
		require.True(t, ok)
		_, err := ld.Load(context.Background(), "inited")
		assert.NoError(t, err)
		assert.Empty(t, linker.Closed())
	})

	t.Run("non-zero result fails and closes", func(t *testing.T) {
		linker := &loadertest.Linker{Symbols: map[string]map[string]uintptr{
			"inited": {"zipenv_init_inited": 3},
		}}
		ld, ok := newFinder(t, a, "lib/native", linker).Find("inited", nil)
		require.True(t, ok)
		_, err := ld.Load(context.Background(), "inited")
		assert.ErrorIs(t, err, loader.ErrExtensionLoadFailed)
		assert.Equal(t, []string{"inited"}, linker.Closed())
	})
}

func TestHook(t *testing.T) {
	a := newArchive(t)
	f := newFinder(t, a, "lib/native", &loadertest.Linker{})
	assert.Equal(t, "/opt/app.bin/lib/native", f.Dir())

	tests := []struct {
		name   string
		path   string
		prefix string
		ok     bool
	}{
		{"archive root maps to own dir", "/opt/app.bin", "lib/native", true},
		{"own dir", "/opt/app.bin/lib/native", "lib/native", true},
		{"below own dir", "/opt/app.bin/lib/native/pkg", "lib/native/pkg", true},
		{"sibling with shared prefix", "/opt/app.bin/lib/native2", "", false},
		{"other entry", "/opt/app.bin/lib/py", "", false},
		{"host directory", "/usr/lib", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finder, err := f.Hook(tt.path)
			if !tt.ok {
				assert.ErrorIs(t, err, loader.ErrPathNotHandled)
				assert.Nil(t, finder)
				return
			}
			require.NoError(t, err)
			bound, isExt := finder.(*loader.ExtensionFinder)
			require.True(t, isExt)
			assert.Equal(t, tt.prefix, bound.Prefix)
		})
	}
}

// sourceFinder stands in for the source-module finder.
type sourceFinder struct {
	archive *bundle.Archive
	probes  []string
}

func (s *sourceFinder) Find(fullname string, searchPaths []string) (loader.Loader, bool) {
	s.probes = append(s.probes, searchPaths...)
	for _, p := range searchPaths {
		rel := p[len(archivePath)+1:] + "/" + fullname + ".lua"
		if s.archive.Has(rel) {
			return loaderFunc(func(_ context.Context, name string) (*loader.Module, error) {
				return &loader.Module{Name: name, Origin: rel, Archive: archivePath, Kind: loader.KindSource, Value: true}, nil
			}), true
		}
	}
	return nil, false
}

type loaderFunc func(context.Context, string) (*loader.Module, error)

func (f loaderFunc) Load(ctx context.Context, name string) (*loader.Module, error) {
	return f(ctx, name)
}

func newResolver(t *testing.T, a *bundle.Archive, linker loader.Linker) (*loader.Resolver, *sourceFinder) {
	r := loader.NewResolver(log.New(os.Stderr))
	src := &sourceFinder{archive: a}
	r.Fallback = src
	for _, entry := range []string{"lib/py", "lib/native"} {
		r.AddHook(newFinder(t, a, entry, linker).Hook)
		r.AppendPath(archivePath + "/" + entry)
	}
	return r, src
}

func TestResolverImport(t *testing.T) {
	a := newArchive(t)
	linker := &loadertest.Linker{}
	r, _ := newResolver(t, a, linker)

	native, err := r.Import("fast")
	require.NoError(t, err)
	assert.Equal(t, loader.KindExtension, native.Kind)
	assert.Equal(t, "lib/native/fast.so", native.Origin)

	src, err := r.Import("app")
	require.NoError(t, err)
	assert.Equal(t, loader.KindSource, src.Kind)
	assert.Equal(t, "lib/py/app.lua", src.Origin)

	again, err := r.Import("fast")
	require.NoError(t, err)
	assert.Same(t, native, again)
	assert.Len(t, linker.Opens(), 1, "modules are loaded once")

	mod, ok := r.Module("app")
	assert.True(t, ok)
	assert.Same(t, src, mod)
	assert.Equal(t, []string{"app", "fast"}, r.Modules())

	require.NoError(t, r.Close())
	assert.Equal(t, []string{"fast"}, linker.Closed())
	assert.Empty(t, r.Modules())
}

func TestResolverDottedName(t *testing.T) {
	a := newArchive(t)
	r, _ := newResolver(t, a, &loadertest.Linker{})

	mod, err := r.Import("pkg.mod")
	require.NoError(t, err)
	assert.Equal(t, "lib/native/pkg/mod.linux-amd64.so", mod.Origin)
}

func TestResolverNotFound(t *testing.T) {
	a := newArchive(t)
	r, src := newResolver(t, a, &loadertest.Linker{})

	_, err := r.Import("pkg.missing")
	assert.ErrorIs(t, err, loader.ErrModuleNotFound)
	assert.Equal(t, []string{"/opt/app.bin/lib/py/pkg", "/opt/app.bin/lib/native/pkg"}, src.probes,
		"the fallback finder sees every candidate")

	_, err = r.Import("sneaky")
	assert.ErrorIs(t, err, loader.ErrModuleNotFound, "directories off the search path are not searched")

	_, err = r.Find("bad.")
	assert.ErrorIs(t, err, loader.ErrModuleNotFound)
}

func TestResolverFinderCache(t *testing.T) {
	a := newArchive(t)
	r := loader.NewResolver(nil)

	calls := 0
	r.AddHook(func(p string) (loader.Finder, error) {
		calls++
		return nil, loader.ErrPathNotHandled
	})
	f := newFinder(t, a, "lib/native", &loadertest.Linker{})
	r.AddHook(f.Hook)

	assert.NotNil(t, r.FinderFor(archivePath))
	assert.NotNil(t, r.FinderFor(archivePath))
	assert.Equal(t, 1, calls)

	assert.Nil(t, r.FinderFor("/usr/lib"))
	assert.Equal(t, 2, calls)

	r.Invalidate(archivePath)
	assert.NotNil(t, r.FinderFor(archivePath))
	assert.Equal(t, 3, calls)
}

func TestResolverPath(t *testing.T) {
	r := loader.NewResolver(nil)
	r.AppendPath("/a")
	p := r.Path()
	p[0] = "changed"
	assert.Equal(t, []string{"/a"}, r.Path())
}

func TestResolverImportCycle(t *testing.T) {
	r := loader.NewResolver(nil)
	r.AppendPath("/x")

	var nested, inner error
	r.Fallback = finderFunc(func(name string, _ []string) (loader.Loader, bool) {
		return loaderFunc(func(ctx context.Context, name string) (*loader.Module, error) {
			if name == "selfish" {
				_, inner = r.ImportContext(ctx, "helper")
			}
			if name == "helper" {
				_, nested = r.ImportContext(ctx, "selfish")
			}
			return &loader.Module{Name: name, Kind: loader.KindSource}, nil
		}), true
	})

	mod, err := r.Import("selfish")
	require.NoError(t, err)
	assert.Equal(t, "selfish", mod.Name)
	assert.NoError(t, inner, "nested imports of other modules proceed")
	assert.ErrorIs(t, nested, loader.ErrImportCycle)
	assert.ErrorContains(t, nested, "selfish -> helper -> selfish")
	assert.Equal(t, []string{"helper", "selfish"}, r.Modules())
}

// slowResolver returns a resolver whose every module takes a while to load.
func slowResolver(delay time.Duration, loads *atomic.Int32) *loader.Resolver {
	r := loader.NewResolver(nil)
	r.AppendPath("/x")
	r.Fallback = finderFunc(func(name string, _ []string) (loader.Loader, bool) {
		return loaderFunc(func(_ context.Context, name string) (*loader.Module, error) {
			loads.Add(1)
			time.Sleep(delay)
			return &loader.Module{Name: name, Kind: loader.KindExtension}, nil
		}), true
	})
	return r
}

func TestResolverConcurrentImport(t *testing.T) {
	var loads atomic.Int32
	r := slowResolver(50*time.Millisecond, &loads)

	mods := make([]*loader.Module, 4)
	var g errgroup.Group
	for i := range mods {
		g.Go(func() error {
			mod, err := r.Import("fast")
			mods[i] = mod
			return err
		})
	}
	require.NoError(t, g.Wait(), "concurrent imports of one module are not a cycle")

	assert.EqualValues(t, 1, loads.Load())
	for _, mod := range mods {
		assert.Same(t, mods[0], mod)
	}
}

func TestResolverImportWaitCanceled(t *testing.T) {
	var loads atomic.Int32
	r := slowResolver(200*time.Millisecond, &loads)

	done := make(chan error, 1)
	go func() {
		_, err := r.Import("slow")
		done <- err
	}()
	require.Eventually(t, func() bool { return loads.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.ImportContext(ctx, "other")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, <-done)
	_, err = r.Import("other")
	assert.NoError(t, err)
}

type finderFunc func(string, []string) (loader.Loader, bool)

func (f finderFunc) Find(name string, paths []string) (loader.Loader, bool) { return f(name, paths) }
