package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Extract writes every entry of the archive below targetDir.
func (a *Archive) Extract(targetDir string) error {
	for _, f := range a.reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractZipFile(f, targetDir); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

// ExtractFile writes one entry to dest.
func (a *Archive) ExtractFile(name, dest string) error {
	data, err := a.ReadFile(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if f, ok := a.files[cleanName(name)]; ok && f.Mode().Perm() != 0 {
		mode = f.Mode().Perm()
	}
	return os.WriteFile(dest, data, mode)
}

// extractZipFile extracts a single file or symlink from ZIP
func extractZipFile(f *zip.File, targetDir string) error {
	targetPath := filepath.Join(targetDir, filepath.FromSlash(f.Name))

	absTargetDir, err := filepath.Abs(targetDir)
	if err != nil {
		return err
	}
	absTargetPath, err := filepath.Abs(targetPath)
	if err != nil {
		return err
	}
	if !isWithinDir(absTargetPath, absTargetDir) {
		return fmt.Errorf("zip entry escapes target directory: %s", f.Name)
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return err
	}

	if f.Mode()&os.ModeSymlink != 0 {
		return extractSymlink(f, targetPath, absTargetDir)
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0200)
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, rc)
	return err
}

// extractSymlink extracts a symlink from ZIP
func extractSymlink(f *zip.File, targetPath, absTargetDir string) error {
	linkTarget := filepath.FromSlash(readSymlinkTarget(f))
	if linkTarget == "" {
		return fmt.Errorf("unreadable symlink entry: %s", f.Name)
	}

	resolvedTarget := filepath.Join(filepath.Dir(targetPath), linkTarget)
	absResolvedTarget, err := filepath.Abs(resolvedTarget)
	if err != nil {
		return fmt.Errorf("failed to resolve symlink target: %w", err)
	}

	if !isWithinDir(absResolvedTarget, absTargetDir) {
		return fmt.Errorf("symlink escapes target directory: %s -> %s", f.Name, linkTarget)
	}

	os.Remove(targetPath)
	return os.Symlink(linkTarget, targetPath)
}
