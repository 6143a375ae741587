package sitecfg

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zot/zipenv/internal/bundle/bundletest"
	"github.com/zot/zipenv/internal/loader"
)

const (
	archivePath = "/opt/app.bin"
	siteDir     = archivePath + "/lib/py"
)

type pathRecorder struct{ entries []string }

func (p *pathRecorder) AppendPath(entry string) { p.entries = append(p.entries, entry) }

type fakeImporter struct {
	imported []string
	missing  map[string]bool
}

func (f *fakeImporter) Import(name string) (*loader.Module, error) {
	if f.missing[name] {
		return nil, fmt.Errorf("%w: %s", loader.ErrModuleNotFound, name)
	}
	f.imported = append(f.imported, name)
	return &loader.Module{Name: name}, nil
}

func newInterpreter(t *testing.T, files map[string]string, runner DirectiveRunner) (*Interpreter, *pathRecorder) {
	rec := &pathRecorder{}
	return &Interpreter{
		Archive: bundletest.New(t, archivePath, files),
		Path:    rec,
		Runner:  runner,
		Log:     log.New(os.Stderr),
	}, rec
}

func TestApplyAddsExistingDirectories(t *testing.T) {
	in, rec := newInterpreter(t, map[string]string{
		"lib/py/a.pth":            "# comment\nextra\n\nmissing\n",
		"lib/py/extra/mod.lua":    "return 1",
		"lib/py/nested/x/mod.lua": "return 1",
		"lib/py/b.pth":            "nested/x  \n",
	}, nil)

	errs := in.Apply(siteDir, NewKnownPaths(siteDir))
	assert.Empty(t, errs)
	assert.Equal(t, []string{siteDir + "/extra", siteDir + "/nested/x"}, rec.entries)
}

func TestApplyDeduplicatesAcrossFiles(t *testing.T) {
	in, rec := newInterpreter(t, map[string]string{
		"lib/py/a.pth":         "extra\n",
		"lib/py/b.pth":         "extra\n./extra\n.\n",
		"lib/py/extra/mod.lua": "return 1",
	}, nil)

	errs := in.Apply(siteDir, NewKnownPaths(siteDir))
	assert.Empty(t, errs)
	assert.Equal(t, []string{siteDir + "/extra"}, rec.entries, "the seeded entry itself is never re-added")
}

func TestApplyFailedDirectiveSkipsRestOfFile(t *testing.T) {
	runner := NewRunner(&fakeImporter{})
	var ran []int
	runner.Register("ok", func(d Directive) error {
		ran = append(ran, d.Line)
		return nil
	})
	runner.Register("broken", func(Directive) error { return errors.New("boom") })

	in, rec := newInterpreter(t, map[string]string{
		"lib/py/a.pth":        "first\nimport ok\nimport broken\nsecond\nimport ok\n",
		"lib/py/b.pth":        "third\n",
		"lib/py/first/m.lua":  "",
		"lib/py/second/m.lua": "",
		"lib/py/third/m.lua":  "",
	}, runner)

	errs := in.Apply(siteDir, NewKnownPaths(siteDir))
	require.Len(t, errs, 1)

	var de *DirectiveError
	require.ErrorAs(t, errs[0], &de)
	assert.Equal(t, "lib/py/a.pth", de.File)
	assert.Equal(t, 3, de.Line)
	assert.ErrorIs(t, errs[0], ErrConfigDirectiveFailed)
	assert.Contains(t, errs[0].Error(), "boom")

	assert.Equal(t, []int{2}, ran)
	assert.Equal(t, []string{siteDir + "/first", siteDir + "/third"}, rec.entries)
}

func TestApplyImportsModules(t *testing.T) {
	importer := &fakeImporter{missing: map[string]bool{"nope": true}}
	in, _ := newInterpreter(t, map[string]string{
		"lib/py/a.pth": "import\tsetup_paths, vendor.hooks\n",
		"lib/py/b.pth": "import nope\n",
	}, NewRunner(importer))

	errs := in.Apply(siteDir, NewKnownPaths(siteDir))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], loader.ErrModuleNotFound)
	assert.Equal(t, []string{"setup_paths", "vendor.hooks"}, importer.imported)
}

func TestApplyWithoutRunnerRejectsImports(t *testing.T) {
	in, rec := newInterpreter(t, map[string]string{
		"lib/py/a.pth":       "import anything\nextra\n",
		"lib/py/extra/m.lua": "",
	}, nil)

	errs := in.Apply(siteDir, NewKnownPaths(siteDir))
	require.Len(t, errs, 1)
	assert.Empty(t, rec.entries)
}

func TestApplyOnlyDirectChildrenMatchingPattern(t *testing.T) {
	in, rec := newInterpreter(t, map[string]string{
		"lib/py/sub/c.pth":   "extra\n",
		"lib/py/notes.txt":   "extra\n",
		"lib/py/extra/m.lua": "",
		"lib/other.pth":      "py/extra\n",
	}, nil)

	assert.Empty(t, in.Apply(siteDir, NewKnownPaths(siteDir)))
	assert.Empty(t, rec.entries)

	in.Pattern = "*.txt"
	assert.Empty(t, in.Apply(siteDir, NewKnownPaths(siteDir)))
	assert.Equal(t, []string{siteDir + "/extra"}, rec.entries)
}

func TestApplyHostDirectories(t *testing.T) {
	host := t.TempDir()
	in, rec := newInterpreter(t, map[string]string{
		"lib/py/a.pth": host + "\n" + host + "/absent\n",
	}, nil)

	assert.Empty(t, in.Apply(siteDir, NewKnownPaths(siteDir)))
	assert.Equal(t, []string{host}, rec.entries)
}

func TestParseImport(t *testing.T) {
	assert.Equal(t, []string{"a", "b.c"}, parseImport("import a, b.c"))
	assert.Equal(t, []string{"a"}, parseImport("import\ta,"))
	assert.Empty(t, parseImport("import   "))
}

func TestRunnerEmptyDirective(t *testing.T) {
	in, _ := newInterpreter(t, map[string]string{"lib/py/a.pth": "import  ,\n"}, NewRunner(&fakeImporter{}))
	errs := in.Apply(siteDir, NewKnownPaths())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "empty import directive")
}
