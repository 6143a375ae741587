package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Archive is an opened archive. It is immutable after Open and safe for
// concurrent reads.
type Archive struct {
	// Path is the archive's filesystem location
	Path string

	reader *zip.Reader
	closer io.Closer
	files  map[string]*zip.File
	dirs   map[string]struct{}
}

// Open opens the archive at location. A bundled executable is read through its
// footer; any other file is read as a plain ZIP.
func Open(location string) (*Archive, error) {
	file, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	offset, size := int64(0), info.Size()
	footer, ok, err := readFooter(file, info.Size())
	if err != nil {
		file.Close()
		return nil, err
	}
	if ok {
		offset, size = footer.Offset, footer.Size
	}

	a, err := NewArchive(location, io.NewSectionReader(file, offset, size), size)
	if err != nil {
		file.Close()
		return nil, err
	}
	a.closer = file
	return a, nil
}

// OpenSelf opens the running executable as an archive.
func OpenSelf() (*Archive, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		exePath = resolved
	}
	return Open(exePath)
}

// NewArchive reads ZIP data from r. location is recorded as the archive's
// Path and is not opened.
func NewArchive(location string, r io.ReaderAt, size int64) (*Archive, error) {
	zipReader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP reader: %w", err)
	}
	registerDecompressors(zipReader)

	a := &Archive{
		Path:   location,
		reader: zipReader,
		files:  make(map[string]*zip.File, len(zipReader.File)),
		dirs:   make(map[string]struct{}),
	}
	for _, f := range zipReader.File {
		name := strings.TrimSuffix(f.Name, "/")
		if !f.FileInfo().IsDir() {
			a.files[name] = f
		}
		for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if _, seen := a.dirs[dir]; seen {
				break
			}
			a.dirs[dir] = struct{}{}
		}
		if f.FileInfo().IsDir() {
			a.dirs[name] = struct{}{}
		}
	}
	return a, nil
}

// Close releases the underlying file, if any.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Has reports whether name is a file entry.
func (a *Archive) Has(name string) bool {
	_, ok := a.files[name]
	return ok
}

// HasDir reports whether any entry lives under dir. The empty name is the
// archive root.
func (a *Archive) HasDir(dir string) bool {
	if dir == "" {
		return true
	}
	_, ok := a.dirs[dir]
	return ok
}

// Open opens a file entry for reading.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	f, ok := a.files[cleanName(name)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f.Open()
}

// ReadFile returns the contents of a file entry.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	rc, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Names returns the file entry names in the archive's own listing order.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.files))
	for _, f := range a.reader.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	return names
}

// Match returns the file entries matching a glob pattern in listing order.
// "*" does not cross "/"; "**" does.
func (a *Archive) Match(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	var matched []string
	for _, name := range a.Names() {
		if g.Match(name) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// ListDir returns files directly inside dir.
func (a *Archive) ListDir(dir string) []string {
	dir = cleanName(dir)
	if dir != "" {
		dir += "/"
	}

	var files []string
	for _, name := range a.Names() {
		if !strings.HasPrefix(name, dir) {
			continue
		}
		relPath := strings.TrimPrefix(name, dir)
		// Only include files directly in this directory, not subdirectories
		if relPath != "" && !strings.Contains(relPath, "/") {
			files = append(files, name)
		}
	}
	return files
}

// FS exposes the archive as an fs.FS.
func (a *Archive) FS() fs.FS {
	return a.reader
}

// FileInfo contains metadata about an archive entry.
type FileInfo struct {
	Name          string      // Entry path within the archive
	Size          uint64      // Uncompressed size
	Method        uint16      // ZIP compression method
	IsSymlink     bool        // True if this is a symlink
	SymlinkTarget string      // Target path if symlink, empty otherwise
	Mode          fs.FileMode // File mode (permissions)
}

// Files returns entry metadata in listing order.
func (a *Archive) Files() []FileInfo {
	files := make([]FileInfo, 0, len(a.reader.File))
	for _, f := range a.reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		info := FileInfo{Name: f.Name, Size: f.UncompressedSize64, Method: f.Method, Mode: f.Mode()}
		if f.Mode()&os.ModeSymlink != 0 {
			info.IsSymlink = true
			info.SymlinkTarget = readSymlinkTarget(f)
		}
		files = append(files, info)
	}
	return files
}

// readSymlinkTarget reads the target path from a symlink zip entry.
// Returns empty string if the target cannot be read.
func readSymlinkTarget(f *zip.File) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	targetBytes, err := io.ReadAll(rc)
	if err != nil {
		return ""
	}
	return string(targetBytes)
}

func cleanName(name string) string {
	name = path.Clean(name)
	name = strings.TrimPrefix(name, "/")
	if name == "." {
		return ""
	}
	return name
}
