package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/zot/zipenv/internal/bootstrap"
	"github.com/zot/zipenv/internal/build"
	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/config"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	hooks  *Hooks
	stdout io.Writer
	stderr io.Writer

	configFile string
	logLevel   string
	verbosity  int

	cfg    *config.Config
	logger *log.Logger
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zipenv",
		Short: "Self-contained executable archives",
		Long: `zipenv - self-contained executable archives

Packages an application with its whole dependency closure, native
extension modules included, into one executable archive that runs
without unpacking.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		Args:              cobra.ArbitraryArgs,
		RunE:              unknownCommand,
	}
	if a.hooks != nil && a.hooks.CustomHelp != nil {
		root.Long += "\n\n" + a.hooks.CustomHelp()
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is ./"+config.DefaultFile+" if present)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.CountVarP(&a.verbosity, "verbose", "v", "verbosity (use -v or -vv)")

	root.AddCommand(
		a.buildCmd(),
		a.runCmd(),
		a.lsCmd(),
		a.catCmd(),
		a.extractCmd(),
		a.cpCmd(),
		a.infoCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads configuration and applies the global flags on top of it.
// Priority: CLI flags > env vars > TOML file > defaults
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, err := log.ParseLevel(a.logLevel); err != nil {
			return &usageError{fmt.Errorf("--log-level: %w", err)}
		}
		cfg.Logging.Level = a.logLevel
	}
	if a.verbosity > 0 {
		cfg.Logging.Verbosity = a.verbosity
	}
	a.cfg = cfg
	a.logger = cfg.Logging.NewLogger(a.stderr)
	return nil
}

// unknownCommand runs for the bare root command. Any argument left over is a
// command name that matched no subcommand.
func unknownCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	msg := fmt.Sprintf("unknown command %q for %q", args[0], cmd.CommandPath())
	if suggestions := cmd.SuggestionsFor(args[0]); len(suggestions) > 0 {
		msg += "\n\nDid you mean this?\n\t" + strings.Join(suggestions, "\n\t")
	}
	return &usageError{errors.New(msg)}
}

// usageArgs wraps a cobra argument validator so failures count as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}

func (a *app) buildCmd() *cobra.Command {
	var (
		sites       []string
		launcher    string
		compression string
	)
	cmd := &cobra.Command{
		Use:   "build <module:callable> <output> [requirement...]",
		Short: "Build an executable archive",
		Long: `Build an executable archive.

Creates a temporary LuaRocks tree, installs each requirement (a rock) into
it and bundles the tree's Lua and native module directories behind the
launcher. The commands used are set in the [build] section of the config. With --site, the
given directories are bundled instead and no environment is created.`,
		Example: `  zipenv build app:main app.bin lpeg luasocket
  zipenv build --site lib/app=./src app:main app.bin`,
		Args: usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			bc := a.cfg.Build
			if cmd.Flags().Changed("launcher") {
				bc.Launcher = launcher
			}
			if cmd.Flags().Changed("compression") {
				bc.Compression = compression
			}
			if len(argv) == 2 && len(sites) == 0 {
				return &usageError{fmt.Errorf("give requirements or --site directories")}
			}

			ctx := cmd.Context()
			if timeout := bc.Timeout.Duration(); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			info, err := build.Run(ctx, build.Options{
				EntryPoint:   argv[0],
				Output:       argv[1],
				Requirements: argv[2:],
				Launcher:     bc.Launcher,
				Compression:  bundle.Compression(bc.Compression),
				SiteDirs:     sites,
				Commands: build.Commands{
					Builder:   bc.Builder,
					Installer: bc.Installer,
					Probe:     bc.Probe,
					Marker:    bc.Marker,
				},
				TempDir: a.cfg.Runtime.TempDir,
				Log:     a.logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Created archive: %s (build %s)\n", argv[1], info.BuildID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sites, "site", nil, "pre-built library directory, dest=src or src (repeatable)")
	cmd.Flags().StringVar(&launcher, "launcher", "", "launcher executable (default: this executable)")
	cmd.Flags().StringVar(&compression, "compression", "", "store, deflate, zstd or xz")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var entry string
	cmd := &cobra.Command{
		Use:   "run <archive> [arg...]",
		Short: "Run an archive's application",
		Long: `Run the application of an archive, as the archive itself would when
executed. Arguments after the archive are passed to the application.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			rt, err := bootstrap.Install(argv[0], runtimeOptions(a.cfg, a.hooks, a.logger))
			if err != nil {
				return err
			}
			defer rt.Close()
			for _, err := range rt.ConfigErrors {
				a.logger.Debug("path configuration", "error", err)
			}

			var code int
			if entry != "" {
				code, err = rt.Run(entry, argv[1:])
			} else {
				code, err = rt.RunDefault(argv[1:])
			}
			if err != nil {
				return err
			}
			if code != 0 {
				return &exitError{code}
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&entry, "entry", "", "entry point to run instead of the recorded one (module:callable)")
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "zipenv v%s\n", Version)
			if a.hooks != nil && a.hooks.CustomVersion != nil {
				fmt.Fprintln(a.stdout, a.hooks.CustomVersion())
			}
		},
	}
}

func runtimeOptions(cfg *config.Config, hooks *Hooks, logger *log.Logger) bootstrap.Options {
	opts := bootstrap.Options{
		TempDir: cfg.Runtime.TempDir,
		Pattern: cfg.Runtime.ConfigPattern,
		Log:     logger,
	}
	if hooks != nil {
		opts.Hooks = hooks.Directives
	}
	return opts
}
