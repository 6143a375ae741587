package bootstrap

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zot/zipenv/internal/build"
	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/loader"
	"github.com/zot/zipenv/internal/loader/loadertest"
	"github.com/zot/zipenv/internal/manifest"
	"github.com/zot/zipenv/internal/sitecfg"
)

// makeArchive bundles files behind a dummy launcher and returns its path.
func makeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	tmp := t.TempDir()
	staging := filepath.Join(tmp, "staging")
	for name, content := range files {
		p := filepath.Join(staging, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	launcher := filepath.Join(tmp, "launcher")
	require.NoError(t, os.WriteFile(launcher, []byte("#!launcher\n"), 0755))

	output := filepath.Join(tmp, "app.bin")
	require.NoError(t, bundle.CreateBundle(launcher, staging, output, bundle.Options{}))
	return output
}

var appFiles = map[string]string{
	manifest.FileName: "lib/py\nlib/native\n",
	build.InfoFile:    "entry_point: app:main\nbuild_id: test\n",
	"lib/py/app.lua": `
		local fast = require("fast")
		local extra = require("extra_mod")
		return {
			main = function(...)
				print(fast.__origin, extra.where, select("#", ...))
				return fast.call("answer")
			end,
		}
	`,
	"lib/py/paths.pth":           "# added by the installer\nextra\n../native\nimport setup_hook\n",
	"lib/py/extra/extra_mod.lua": `return { where = "extra" }`,
	"lib/native/fast.so":         "ELF fast",
	"lib/native/broken.pth":      "import broken_hook\nnever\n",
	"lib/native/never/x.lua":     "",
}

func install(t *testing.T, archive string, linker *loadertest.Linker, hooks map[string]sitecfg.HookFunc) *Runtime {
	t.Helper()
	rt, err := Install(archive, Options{
		Linker:   linker,
		Suffixes: []string{".so"},
		TempDir:  t.TempDir(),
		Hooks:    hooks,
		Log:      log.New(os.Stderr),
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestInstall(t *testing.T) {
	archive := makeArchive(t, appFiles)
	linker := &loadertest.Linker{Symbols: map[string]map[string]uintptr{"fast": {"answer": 42}}}

	var hookRan []string
	hooks := map[string]sitecfg.HookFunc{
		"setup_hook": func(d sitecfg.Directive) error {
			hookRan = append(hookRan, d.File)
			return nil
		},
		"broken_hook": func(sitecfg.Directive) error { return errors.New("bad hook") },
	}
	rt := install(t, archive, linker, hooks)

	assert.Equal(t, []string{"lib/py", "lib/native"}, rt.Entries)
	assert.Equal(t, []string{
		archive,
		archive + "/lib/py",
		archive + "/lib/native",
		archive + "/lib/py/extra",
	}, rt.Resolver.Path(), "directories already on the path are not added again")
	assert.Equal(t, []string{"lib/py/paths.pth"}, hookRan)

	require.Len(t, rt.ConfigErrors, 1)
	var de *sitecfg.DirectiveError
	require.ErrorAs(t, rt.ConfigErrors[0], &de)
	assert.Equal(t, "lib/native/broken.pth", de.File)
	assert.Equal(t, 1, de.Line)

	mod, err := rt.Resolver.Import("fast")
	require.NoError(t, err)
	assert.Equal(t, loader.KindExtension, mod.Kind)
	assert.Equal(t, "lib/native/fast.so", mod.Origin)
	assert.Equal(t, archive+"/lib/native/fast.so", mod.File())
}

func TestInstallIntoExistingResolver(t *testing.T) {
	archive := makeArchive(t, appFiles)
	resolver := loader.NewResolver(nil)
	resolver.AppendPath(archive)
	assert.Nil(t, resolver.FinderFor(archive), "no hooks yet")

	rt, err := Install(archive, Options{
		Linker:   &loadertest.Linker{},
		Suffixes: []string{".so"},
		TempDir:  t.TempDir(),
		Hooks:    map[string]sitecfg.HookFunc{"setup_hook": func(sitecfg.Directive) error { return nil }},
		Resolver: resolver,
	})
	require.NoError(t, err)
	defer rt.Close()

	assert.Same(t, resolver, rt.Resolver)
	assert.Equal(t, archive, resolver.Path()[0])
	assert.Len(t, resolver.Path(), 4, "the archive root is not added twice")

	finder, ok := resolver.FinderFor(archive).(*loader.ExtensionFinder)
	require.True(t, ok, "the root's stale cache entry was purged")
	assert.Equal(t, "lib/py", finder.Prefix, "the root maps to the first library directory")
}

func TestRunLuaEntryPoint(t *testing.T) {
	archive := makeArchive(t, appFiles)
	linker := &loadertest.Linker{Symbols: map[string]map[string]uintptr{"fast": {"answer": 42}}}
	rt := install(t, archive, linker, map[string]sitecfg.HookFunc{"setup_hook": func(sitecfg.Directive) error { return nil }})

	var out bytes.Buffer
	rt.Lua.SetOutput(&out)

	info, err := rt.Info()
	require.NoError(t, err)
	assert.Equal(t, "app:main", info.EntryPoint)

	code, err := rt.RunDefault([]string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, 42, code)
	assert.Equal(t, "lib/native/fast.so\textra\t2\n", out.String())
}

func TestRunNativeEntryPoint(t *testing.T) {
	archive := makeArchive(t, appFiles)
	linker := &loadertest.Linker{Symbols: map[string]map[string]uintptr{"fast": {"start": 5}}}
	rt := install(t, archive, linker, nil)

	code, err := rt.Run("fast:start", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, code)

	code, err = rt.Run("fast:missing", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, code)
}

func TestRunErrors(t *testing.T) {
	archive := makeArchive(t, appFiles)
	rt := install(t, archive, &loadertest.Linker{}, nil)

	code, err := rt.Run("not an entry point", nil)
	assert.ErrorIs(t, err, build.ErrInvalidEntryPoint)
	assert.Equal(t, 2, code)

	_, err = rt.Run("nothere:main", nil)
	assert.ErrorIs(t, err, loader.ErrModuleNotFound)
}

func TestRunExtensionLoadFailure(t *testing.T) {
	archive := makeArchive(t, appFiles)
	linker := &loadertest.Linker{Fail: map[string]error{"fast": errors.New("wrong ELF class")}}
	rt := install(t, archive, linker, nil)

	_, err := rt.Run("fast:start", nil)
	assert.ErrorIs(t, err, loader.ErrExtensionLoadFailed)
}

func TestInstallManifestMissing(t *testing.T) {
	archive := makeArchive(t, map[string]string{"lib/py/app.lua": "return {}"})
	_, err := Install(archive, Options{})
	assert.ErrorIs(t, err, manifest.ErrManifestMissing)
}

func TestInstallNotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0644))
	_, err := Install(path, Options{})
	assert.Error(t, err)
}
