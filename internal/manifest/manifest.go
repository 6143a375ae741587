// Package manifest reads and writes the search-path manifest: the ordered
// list of archive-relative library directories recorded at packaging time.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/zot/zipenv/internal/pathentry"
)

// FileName is the manifest's name at the archive root.
const FileName = "site_packages.txt"

// ErrManifestMissing means the archive has no manifest; it is either
// corrupted or not a zipenv archive.
var ErrManifestMissing = errors.New("search-path manifest missing")

// Opener opens a file below the manifest root for reading.
type Opener func(name string) (io.ReadCloser, error)

// Manifest is a view of the manifest file below Root.
type Manifest struct {
	Root string
	Open Opener
}

// New returns a manifest rooted at a filesystem directory.
func New(root string) *Manifest {
	return &Manifest{
		Root: root,
		Open: func(name string) (io.ReadCloser, error) {
			return os.Open(filepath.Join(root, filepath.FromSlash(name)))
		},
	}
}

// FromArchive returns a manifest read through an archive's entry accessor.
// The root is the archive root, so Root is empty.
func FromArchive(open Opener) *Manifest {
	return &Manifest{Open: open}
}

// Path returns the manifest's location relative to Root.
func (m *Manifest) Path() string {
	if m.Root == "" {
		return FileName
	}
	return filepath.Join(m.Root, FileName)
}

// Record overwrites the manifest on the filesystem with one normalized path
// per line, in the given order.
func (m *Manifest) Record(entries []string) error {
	var buf bytes.Buffer
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		clean := pathentry.Clean(entry)
		if clean == "" {
			return fmt.Errorf("manifest entry %q names the archive root", entry)
		}
		if _, dup := seen[clean]; dup {
			return fmt.Errorf("duplicate manifest entry %q", clean)
		}
		seen[clean] = struct{}{}
		buf.WriteString(clean)
		buf.WriteByte('\n')
	}

	if err := os.WriteFile(m.Path(), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Load reads the manifest and returns its entries in file order. The
// returned sequence may be ranged over any number of times.
func (m *Manifest) Load() (iter.Seq[string], error) {
	rc, err := m.Open(FileName)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrManifestMissing, m.Path())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	// Split up front: lines have no length limit and every read error has
	// already been reported.
	var lines []string
	for line := range strings.Lines(string(data)) {
		if line = strings.TrimRightFunc(line, unicode.IsSpace); line != "" {
			lines = append(lines, line)
		}
	}

	return func(yield func(string) bool) {
		for _, line := range lines {
			if !yield(line) {
				return
			}
		}
	}, nil
}

// Entries loads the manifest into a slice.
func (m *Manifest) Entries() ([]string, error) {
	seq, err := m.Load()
	if err != nil {
		return nil, err
	}
	var entries []string
	for entry := range seq {
		entries = append(entries, entry)
	}
	return entries, nil
}
