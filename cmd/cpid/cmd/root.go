// Package cmd provides the CLI commands for cpid.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpid/internal/config"
	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/logging"
	"github.com/Aman-CERP/cpid/internal/profiling"
	"github.com/Aman-CERP/cpid/pkg/version"
)

// Global flags
var (
	configPath string
	dbPath     string
	backend    string
	debugMode  bool
	profile    profiling.Options
)

// Per-run state set up by the persistent hooks.
var (
	appConfig      *config.Config
	loggingCleanup func()
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the cpid CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cpid",
		Short: "Java classpath index: which package declares a class",
		Long: `cpid maintains named indexes mapping simple Java class names to the
packages that declare them, and packages to their classes.

Indexes are built from jar files, JDK module images and Java source trees,
and queried from the command line or through a long-running server on a
Unix socket.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("cpid version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/cpid/config.yaml)")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Index database path (overrides storage.path)")
	cmd.PersistentFlags().StringVar(&backend, "backend", "", "Storage backend: bolt or pebble (overrides storage.backend)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = setup
	cmd.PersistentPostRunE = teardown

	cmd.AddCommand(newClsQueryCmd())
	cmd.AddCommand(newPkgEnumCmd())
	cmd.AddCommand(newDropIndexCmd())
	cmd.AddCommand(newIndexesCmd())
	cmd.AddCommand(newEnumerateCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads the configuration, applies flag overrides, and starts
// logging and profiling.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	appConfig = cfg

	logCfg := cfg.LoggingSetup()
	logCfg.Stderr = cmd.ErrOrStderr()
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("configuration loaded",
		slog.String("backend", cfg.Storage.Backend),
		slog.String("db", cfg.Storage.Path),
		slog.String("version", version.Version))

	if profile.Enabled() {
		profileSession, err = profiling.Start(profile)
		if err != nil {
			return err
		}
	}
	return nil
}

// skipSetup replaces the root hooks for commands that need neither
// configuration nor logging.
func skipSetup(*cobra.Command, []string) error { return nil }

// teardown stops profiling and flushes the log file.
func teardown(_ *cobra.Command, _ []string) error {
	err := profileSession.Stop()
	profileSession = nil

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints a failure to stderr.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), cerrors.FormatForCLI(err))
		// PersistentPostRunE does not run after a failed RunE.
		_ = teardown(root, nil)
	}
	return err
}
