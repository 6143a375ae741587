// Package pathentry converts between host-side search path entries and
// archive-relative entry names.
//
// A host-side entry is the archive's filesystem location followed by an
// archive-relative directory, e.g. "/opt/app.bin/share/lua/5.1".
// Archive entry names always use forward slashes.
package pathentry

import (
	"os"
	"path"
	"runtime"
	"strings"
)

// Relative strips a literal parent prefix from p. If what remains starts
// with a path separator, exactly one separator is removed. Inputs are not
// canonicalized; callers pass already-normalized paths.
func Relative(parent, p string) string {
	rel := strings.TrimPrefix(p, parent)
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, string(os.PathSeparator)) {
		rel = rel[1:]
	}
	return rel
}

// Join builds the host-side form of an archive-relative entry.
func Join(archive, rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return archive
	}
	return archive + "/" + rel
}

// Clean normalizes an archive-relative directory name.
func Clean(rel string) string {
	rel = strings.ReplaceAll(rel, `\`, "/")
	rel = path.Clean(rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "." {
		return ""
	}
	return rel
}

// NormCase applies the platform's path case convention.
func NormCase(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(p)
	}
	return p
}

// Under reports whether p equals dir or lies below it.
func Under(p, dir string) bool {
	if p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/") || strings.HasPrefix(p, dir+string(os.PathSeparator))
}
