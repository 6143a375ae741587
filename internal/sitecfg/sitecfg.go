// Package sitecfg interprets path configuration files (*.pth) found in the
// archive's library directories.
//
// Each line of such a file is a comment, an "import" directive or a
// directory to add to the search path.
package sitecfg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/gobwas/glob"

	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/pathentry"
)

// DefaultPattern selects path configuration files by base name.
const DefaultPattern = "*.pth"

// ErrConfigDirectiveFailed matches every DirectiveError.
var ErrConfigDirectiveFailed = errors.New("path configuration directive failed")

// DirectiveError reports an import directive that failed. The rest of the
// file it came from was skipped.
type DirectiveError struct {
	File string
	Line int
	Err  error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("error processing line %d of %s: %v", e.Line, e.File, e.Err)
}

func (e *DirectiveError) Unwrap() error { return e.Err }

func (e *DirectiveError) Is(target error) bool {
	return target == ErrConfigDirectiveFailed
}

// KnownPaths holds the case-normalized directories already added by one
// library directory's configuration files.
type KnownPaths map[string]struct{}

// NewKnownPaths returns a set seeded with the given directories.
func NewKnownPaths(seed ...string) KnownPaths {
	k := make(KnownPaths, len(seed))
	for _, p := range seed {
		k.Add(p)
	}
	return k
}

// Has reports whether p is known.
func (k KnownPaths) Has(p string) bool {
	_, ok := k[pathentry.NormCase(p)]
	return ok
}

// Add records p.
func (k KnownPaths) Add(p string) {
	k[pathentry.NormCase(p)] = struct{}{}
}

// PathAppender receives directories added by configuration files.
type PathAppender interface {
	AppendPath(entry string)
}

// Interpreter applies the configuration files of one archive.
type Interpreter struct {
	Archive *bundle.Archive
	Path    PathAppender
	// Runner executes import directives; nil rejects them
	Runner DirectiveRunner
	// Pattern selects configuration files by base name; empty means DefaultPattern
	Pattern string
	Log     *log.Logger
}

// Apply processes every configuration file directly inside dir, a host-side
// library directory, in name order. Failed directives are logged and
// returned; they never stop other files from being processed.
func (in *Interpreter) Apply(dir string, known KnownPaths) []error {
	logger := in.Log
	if logger == nil {
		logger = log.Default()
	}

	pattern := in.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return []error{fmt.Errorf("bad configuration pattern %q: %w", pattern, err)}
	}

	rel := pathentry.Relative(in.Archive.Path, dir)
	var files []string
	for _, name := range in.Archive.ListDir(rel) {
		if g.Match(path.Base(name)) {
			files = append(files, name)
		}
	}
	slices.Sort(files)

	var errs []error
	for _, file := range files {
		if err := in.applyFile(dir, file, known, logger); err != nil {
			logger.Error("remainder of file ignored", "file", file, "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}

func (in *Interpreter) applyFile(dir, file string, known KnownPaths, logger *log.Logger) error {
	data, err := in.Archive.ReadFile(file)
	if err != nil {
		return &DirectiveError{File: file, Line: 0, Err: err}
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimRightFunc(scanner.Text(), unicode.IsSpace)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "import\t") {
			d := Directive{File: file, Line: n, Dir: dir, Text: line, Names: parseImport(line)}
			if err := in.run(d); err != nil {
				return &DirectiveError{File: file, Line: n, Err: err}
			}
			continue
		}

		in.addDir(dir, line, known, logger)
	}
	if err := scanner.Err(); err != nil {
		return &DirectiveError{File: file, Err: err}
	}
	return nil
}

func (in *Interpreter) run(d Directive) error {
	if in.Runner == nil {
		return errors.New("import directives are disabled")
	}
	if len(d.Names) == 0 {
		return fmt.Errorf("empty import directive %q", d.Text)
	}
	return in.Runner.RunDirective(d)
}

// addDir appends dir/line to the search path when it is new and exists.
// Entries inside the archive must name a directory of archive entries.
func (in *Interpreter) addDir(dir, line string, known KnownPaths, logger *log.Logger) {
	full := line
	if !path.IsAbs(line) {
		full = path.Join(dir, line)
	}
	if known.Has(full) || !in.exists(full) {
		return
	}
	logger.Debug("adding search path", "dir", full)
	in.Path.AppendPath(full)
	known.Add(full)
}

func (in *Interpreter) exists(full string) bool {
	if pathentry.Under(full, in.Archive.Path) {
		return in.Archive.HasDir(pathentry.Clean(pathentry.Relative(in.Archive.Path, full)))
	}
	info, err := os.Stat(full)
	return err == nil && info.IsDir()
}

func parseImport(line string) []string {
	var names []string
	for _, name := range strings.Split(strings.TrimSpace(line[len("import"):]), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
