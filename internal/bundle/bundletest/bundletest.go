// Package bundletest builds in-memory archives for tests.
package bundletest

import (
	"archive/zip"
	"bytes"
	"slices"
	"testing"

	"github.com/zot/zipenv/internal/bundle"
)

// New returns an archive located at location holding files (entry name ->
// content). Entries are written in sorted name order.
func New(t testing.TB, location string, files map[string]string) *bundle.Archive {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	a, err := bundle.NewArchive(location, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	return a
}
