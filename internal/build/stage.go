package build

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/zot/zipenv/internal/manifest"
	"github.com/zot/zipenv/internal/pathentry"
)

// Library is a library directory to stage.
type Library struct {
	// Src is the host directory
	Src string
	// Dest is the archive-relative directory it is staged to
	Dest string
}

// LibrariesIn maps library directories of an environment to the same
// environment-relative paths in the archive.
func LibrariesIn(envDir string, dirs []string) []Library {
	libs := make([]Library, 0, len(dirs))
	for _, dir := range dirs {
		rel := pathentry.Relative(filepath.Clean(envDir), filepath.Clean(dir))
		libs = append(libs, Library{Src: dir, Dest: pathentry.Clean(filepath.ToSlash(rel))})
	}
	return libs
}

// Stage copies libraries into root concurrently, then records the manifest
// in library order.
func Stage(ctx context.Context, root string, libs []Library) error {
	entries := make([]string, len(libs))
	for i, lib := range libs {
		entries[i] = lib.Dest
	}
	// Reject bad layouts before copying anything
	if err := checkEntries(entries); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, lib := range libs {
		g.Go(func() error {
			target := filepath.Join(root, filepath.FromSlash(lib.Dest))
			if err := copyTree(ctx, lib.Src, target); err != nil {
				return &Error{Op: "stage", Path: lib.Src, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := manifest.New(root).Record(entries); err != nil {
		return &Error{Op: "record manifest", Path: root, Err: err}
	}
	return nil
}

func checkEntries(entries []string) error {
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry == "" || entry == ".." || pathentry.Under(entry, "..") {
			return &Error{Op: "stage", Path: entry, Err: fmt.Errorf("library directory must lie below the archive root")}
		}
		if seen[entry] {
			return &Error{Op: "stage", Path: entry, Err: fmt.Errorf("library directory staged twice")}
		}
		seen[entry] = true
	}
	return nil
}

// copyTree copies src to dst, keeping file modes and symlinks.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
