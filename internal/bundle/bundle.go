// Package bundle creates and reads zipenv archives.
//
// An archive is a launcher executable with ZIP data appended to it, followed
// by a fixed-size footer that locates the ZIP data. A plain ZIP file without
// a footer is also accepted when reading.
package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// MagicMarker identifies bundled binaries
	MagicMarker = "ZIPENV01"
	// FooterSize: 8 bytes offset + 8 bytes size + 8 bytes magic
	FooterSize = 24
)

// editor droppings never go into an archive
var ignoreFiles = regexp.MustCompile(`^(|.*/)((#|\.#)[^/]*|[^/]*~)$`)

// Footer contains metadata about the bundled ZIP
type Footer struct {
	Offset int64   // Offset to start of ZIP data
	Size   int64   // Size of ZIP data
	Magic  [8]byte // "ZIPENV01"
}

// Options controls how an archive is written.
type Options struct {
	Compression Compression
}

// CreateBundle writes outputPath as launcher followed by a ZIP of stagingDir.
// launcher may itself be bundled; its existing bundle is dropped.
func CreateBundle(launcher, stagingDir, outputPath string, opts Options) (err error) {
	binarySize, err := GetBinarySize(launcher)
	if err != nil {
		return fmt.Errorf("failed to get launcher size: %w", err)
	}

	srcFile, err := os.Open(launcher)
	if err != nil {
		return fmt.Errorf("failed to open launcher: %w", err)
	}
	defer srcFile.Close()

	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if closeErr := outFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	// Copy only the executable portion (without any existing bundle)
	if _, err := io.CopyN(outFile, srcFile, binarySize); err != nil {
		return fmt.Errorf("failed to copy launcher: %w", err)
	}

	var zipBuf bytes.Buffer
	if err := WriteZip(&zipBuf, stagingDir, opts); err != nil {
		return err
	}

	if _, err := outFile.Write(zipBuf.Bytes()); err != nil {
		return fmt.Errorf("failed to write ZIP data: %w", err)
	}

	footer := Footer{Offset: binarySize, Size: int64(zipBuf.Len())}
	copy(footer.Magic[:], MagicMarker)
	if err := binary.Write(outFile, binary.LittleEndian, footer); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}
	return nil
}

// WriteZip writes the contents of dir as a ZIP stream to w.
func WriteZip(w io.Writer, dir string, opts Options) error {
	method, err := opts.Compression.Method()
	if err != nil {
		return err
	}

	zipWriter := zip.NewWriter(w)
	registerCompressors(zipWriter)

	if err := addDirToZip(zipWriter, dir, "", method); err != nil {
		zipWriter.Close()
		return fmt.Errorf("failed to add files to ZIP: %w", err)
	}
	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to close ZIP writer: %w", err)
	}
	return nil
}

// addDirToZip recursively adds directory contents to ZIP, preserving relative symlinks
func addDirToZip(zipWriter *zip.Writer, sourceDir, basePath string, method uint16) error {
	absSourceDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path of source: %w", err)
	}

	return filepath.Walk(sourceDir, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(sourceDir, filePath)
		if err != nil {
			return err
		}
		zipPath := filepath.ToSlash(filepath.Join(basePath, relPath))

		if info.IsDir() || ignoreFiles.MatchString(zipPath) {
			return nil
		}

		linfo, err := os.Lstat(filePath)
		if err != nil {
			return err
		}

		if linfo.Mode()&os.ModeSymlink != 0 {
			return addSymlinkToZip(zipWriter, filePath, zipPath, absSourceDir)
		}

		return addRegularFileToZip(zipWriter, filePath, zipPath, linfo.Mode(), method)
	})
}

// addRegularFileToZip adds a regular file to the ZIP archive with mode preservation
func addRegularFileToZip(zipWriter *zip.Writer, filePath, zipPath string, mode fs.FileMode, method uint16) error {
	header := &zip.FileHeader{
		Name:   zipPath,
		Method: method,
	}
	header.SetMode(mode)

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(writer, file)
	return err
}

// addSymlinkToZip adds a symlink to the ZIP archive
func addSymlinkToZip(zipWriter *zip.Writer, filePath, zipPath, absSourceDir string) error {
	target, err := os.Readlink(filePath)
	if err != nil {
		return fmt.Errorf("failed to read symlink %s: %w", filePath, err)
	}

	if filepath.IsAbs(target) {
		return fmt.Errorf("absolute symlink not allowed: %s -> %s", filePath, target)
	}

	if err := validateSymlinkTarget(filePath, target, absSourceDir); err != nil {
		return err
	}

	header := &zip.FileHeader{
		Name:   zipPath,
		Method: zip.Store,
	}
	header.SetMode(os.ModeSymlink | 0777)

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return err
	}

	// Store target path as content (converted to forward slashes for portability)
	_, err = writer.Write([]byte(filepath.ToSlash(target)))
	return err
}

// validateSymlinkTarget ensures a symlink target stays within the archive root
func validateSymlinkTarget(symlinkPath, target, absSourceDir string) error {
	resolvedTarget := filepath.Join(filepath.Dir(symlinkPath), target)

	absTarget, err := filepath.Abs(resolvedTarget)
	if err != nil {
		return fmt.Errorf("failed to resolve symlink target: %w", err)
	}

	if !isWithinDir(absTarget, absSourceDir) {
		return fmt.Errorf("symlink escapes archive: %s -> %s (resolves to %s)", symlinkPath, target, absTarget)
	}
	return nil
}

// isWithinDir checks if absPath is within absDir
func isWithinDir(absPath, absDir string) bool {
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// readFooter reads the footer at the end of a file of the given size.
// ok is false when the file carries no bundle.
func readFooter(r io.ReaderAt, fileSize int64) (footer Footer, ok bool, err error) {
	if fileSize < FooterSize {
		return footer, false, nil
	}

	buf := make([]byte, FooterSize)
	if _, err := r.ReadAt(buf, fileSize-FooterSize); err != nil {
		return footer, false, fmt.Errorf("failed to read footer: %w", err)
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &footer); err != nil {
		return footer, false, nil
	}

	if !bytes.Equal(footer.Magic[:], []byte(MagicMarker)) {
		return footer, false, nil
	}
	if footer.Offset < 0 || footer.Size < 0 || footer.Offset+footer.Size > fileSize-FooterSize {
		return footer, false, fmt.Errorf("corrupt footer: offset %d size %d in file of %d bytes", footer.Offset, footer.Size, fileSize)
	}
	return footer, true, nil
}

// GetBinarySize returns the size of the executable portion (excluding bundle).
// If bundled, returns the offset to the bundle. Otherwise returns total file size.
func GetBinarySize(binaryPath string) (int64, error) {
	file, err := os.Open(binaryPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open binary: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat binary: %w", err)
	}

	footer, ok, err := readFooter(file, info.Size())
	if err != nil {
		return 0, err
	}
	if ok {
		return footer.Offset, nil
	}
	return info.Size(), nil
}

// IsBundled reports whether the file at path carries a bundle footer.
func IsBundled(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false, err
	}

	_, ok, err := readFooter(file, info.Size())
	return ok, err
}

// SelfBundled reports whether the running executable carries a bundle.
func SelfBundled() (bool, error) {
	exePath, err := os.Executable()
	if err != nil {
		return false, err
	}
	return IsBundled(exePath)
}
