package cli

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"text/tabwriter"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/zot/zipenv/internal/build"
	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/manifest"
)

// openArchive opens the named archive, or the running executable when
// name is empty.
func openArchive(name string) (*bundle.Archive, error) {
	if name != "" {
		return bundle.Open(name)
	}
	bundled, err := bundle.SelfBundled()
	if err != nil {
		return nil, fmt.Errorf("failed to check bundle status: %w", err)
	}
	if !bundled {
		return nil, &usageError{errors.New("binary is not bundled; name an archive with --archive")}
	}
	return bundle.OpenSelf()
}

// archiveCmd adds the --archive flag and opens the archive for run.
func archiveCmd(cmd *cobra.Command, run func(a *bundle.Archive, args []string) error) *cobra.Command {
	var name string
	cmd.Flags().StringVarP(&name, "archive", "a", "", "archive to inspect (default: this executable)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		archive, err := openArchive(name)
		if err != nil {
			return err
		}
		defer archive.Close()
		return run(archive, args)
	}
	return cmd
}

func (a *app) lsCmd() *cobra.Command {
	var long bool
	cmd := archiveCmd(&cobra.Command{
		Use:   "ls [dir]",
		Short: "List files in an archive",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
	}, func(archive *bundle.Archive, args []string) error {
		var names []string
		if len(args) == 1 {
			names = archive.ListDir(args[0])
		} else {
			names = archive.Names()
		}

		if !long {
			for _, name := range names {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		}

		wanted := make(map[string]bool, len(names))
		for _, name := range names {
			wanted[name] = true
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		for _, f := range archive.Files() {
			if !wanted[f.Name] {
				continue
			}
			name := f.Name
			if f.IsSymlink {
				name += " -> " + f.SymlinkTarget
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f.Mode, f.Size, methodName(f.Method), name)
		}
		return tw.Flush()
	})
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show mode, size and compression")
	return cmd
}

func methodName(method uint16) string {
	for _, c := range []bundle.Compression{bundle.CompressionStore, bundle.CompressionDeflate, bundle.CompressionZstd, bundle.CompressionXZ} {
		if m, _ := c.Method(); m == method {
			return string(c)
		}
	}
	return fmt.Sprintf("method-%d", method)
}

func (a *app) catCmd() *cobra.Command {
	return archiveCmd(&cobra.Command{
		Use:   "cat <file>...",
		Short: "Display the contents of archive files",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
	}, func(archive *bundle.Archive, args []string) error {
		for _, name := range args {
			content, err := archive.ReadFile(name)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			if _, err := a.stdout.Write(content); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *app) extractCmd() *cobra.Command {
	return archiveCmd(&cobra.Command{
		Use:   "extract [target-dir]",
		Short: "Extract an archive to the filesystem",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
	}, func(archive *bundle.Archive, args []string) error {
		targetDir := "."
		if len(args) > 0 {
			targetDir = args[0]
		}
		if err := archive.Extract(targetDir); err != nil {
			return fmt.Errorf("failed to extract archive: %w", err)
		}
		fmt.Fprintf(a.stdout, "Extracted archive to: %s\n", targetDir)
		return nil
	})
}

func (a *app) cpCmd() *cobra.Command {
	return archiveCmd(&cobra.Command{
		Use:   "cp <pattern> <dest-dir>",
		Short: "Copy matching archive files to a directory",
		Long: `Copy archive files matching a glob pattern into a directory.
The pattern is matched against the base name and the full entry name;
"*" stops at "/" and "**" does not.`,
		Example: `  zipenv cp '*.pth' out/
  zipenv cp 'lib/**.so' natives/`,
		Args: usageArgs(cobra.ExactArgs(2)),
	}, func(archive *bundle.Archive, args []string) error {
		g, err := glob.Compile(args[0], '/')
		if err != nil {
			return &usageError{fmt.Errorf("bad pattern %q: %w", args[0], err)}
		}
		destDir := args[1]

		copied := 0
		for _, file := range archive.Names() {
			if !g.Match(path.Base(file)) && !g.Match(file) {
				continue
			}
			content, err := archive.ReadFile(file)
			if err != nil {
				a.logger.Warn("failed to read", "file", file, "error", err)
				continue
			}

			destPath := filepath.Join(destDir, path.Base(file))
			if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
				a.logger.Warn("failed to create directory", "error", err)
				continue
			}
			if err := os.WriteFile(destPath, content, 0644); err != nil {
				a.logger.Warn("failed to write", "file", destPath, "error", err)
				continue
			}

			fmt.Fprintf(a.stdout, "Copied: %s -> %s\n", file, destPath)
			copied++
		}

		if copied == 0 {
			return errors.New("no files matched the pattern")
		}
		return nil
	})
}

func (a *app) infoCmd() *cobra.Command {
	return archiveCmd(&cobra.Command{
		Use:   "info",
		Short: "Show an archive's build information and search path",
		Args:  usageArgs(cobra.NoArgs),
	}, func(archive *bundle.Archive, _ []string) error {
		entries, err := manifest.FromArchive(archive.Open).Entries()
		if err != nil {
			return err
		}

		fmt.Fprintf(a.stdout, "Archive: %s\n", archive.Path)
		if info, err := build.ReadInfo(archive); err != nil {
			a.logger.Warn("no build information", "error", err)
		} else {
			fmt.Fprintf(a.stdout, "Entry point: %s\n", info.EntryPoint)
			fmt.Fprintf(a.stdout, "Build ID: %s\n", info.BuildID)
			fmt.Fprintf(a.stdout, "Created: %s\n", info.Created.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(a.stdout, "Platform: %s\n", info.Platform)
			fmt.Fprintf(a.stdout, "Compression: %s\n", info.Compression)
			for _, req := range info.Requirements {
				fmt.Fprintf(a.stdout, "Requirement: %s\n", req)
			}
		}

		fmt.Fprintln(a.stdout, "Search path:")
		for _, entry := range entries {
			fmt.Fprintf(a.stdout, "  %s\n", entry)
		}
		return nil
	})
}
