// Package cli builds the cobra command trees for nicd and nicctl. The
// binaries under cmd/ and the man page generator share them.
package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alexcatdad/nicd/internal/daemon"
	"github.com/alexcatdad/nicd/internal/logging"
	"github.com/alexcatdad/nicd/internal/paths"
	"github.com/alexcatdad/nicd/internal/setup"
)

type nicdOptions struct {
	root string
}

func (o *nicdOptions) config() (*daemon.Config, error) {
	if o.root != "" {
		return &daemon.Config{Paths: paths.Under(o.root), FastTick: daemon.DefaultFastTick}, nil
	}
	return daemon.DefaultConfig()
}

// NewNicdCommand returns the nicd root command.
func NewNicdCommand() *cobra.Command {
	opts := &nicdOptions{}
	cmd := &cobra.Command{
		Use:   "nicd",
		Short: "OpenNIC resolver pool daemon",
		Long: `nicd keeps the system DNS configuration pointed at a small set of
responsive OpenNIC resolvers. It bootstraps from tier-1 servers, discovers
tier-2 servers, probes the active set and replaces resolvers that stop
answering. Clients such as nicctl connect on a loopback control port.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.root, "root", "", "keep settings, lists and the log below this directory")

	cmd.AddCommand(
		newRunCommand(opts),
		newSetupCommand(opts),
		newUninstallCommand(opts),
		newDoctorCommand(opts),
		newVersionCommand("nicd"),
	)
	return cmd
}

func newRunCommand(opts *nicdOptions) *cobra.Command {
	var (
		foreground bool
		dryRun     bool
		port       int
		level      string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon (used by the service manager)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.config()
			if err != nil {
				return err
			}
			config.Port = port
			config.DryRun = dryRun

			logFile, err := openLog(config.Paths.LogPath)
			if err != nil {
				return err
			}
			defer logFile.Close()

			var w io.Writer = logFile
			if foreground {
				w = zerolog.MultiLevelWriter(logFile, zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: "15:04:05"})
			}
			logger := logging.New(w, level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(ctx, config, daemon.Options{Logger: logger})
			if err != nil {
				logger.Error().Err(err).Msg("creating daemon")
				return err
			}

			logger.Info().
				Str("version", daemon.Version).
				Int("pid", os.Getpid()).
				Bool("dry_run", dryRun).
				Msg("nicd starting")
			return d.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "also log to stderr")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute resolver sets without changing system DNS")
	cmd.Flags().IntVar(&port, "port", 0, "control port (overrides tcp_listen_port)")
	cmd.Flags().StringVar(&level, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

func setupConfig(cmd *cobra.Command, opts *nicdOptions) (*setup.Config, error) {
	config, err := opts.config()
	if err != nil {
		return nil, err
	}
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating nicd binary: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(binary); err == nil {
		binary = resolved
	}
	return &setup.Config{
		BinaryPath: binary,
		DataDir:    config.Paths.DataDir,
		LogPath:    config.Paths.LogPath,
		Out:        cmd.OutOrStdout(),
	}, nil
}

func newSetupCommand(opts *nicdOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "setup",
		Short:   "Install and start the nicd system service (requires sudo)",
		Args:    cobra.NoArgs,
		Example: "  sudo nicd setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := setupConfig(cmd, opts)
			if err != nil {
				return err
			}
			return setup.Run(cmd.Context(), config)
		},
	}
}

func newUninstallCommand(opts *nicdOptions) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:     "uninstall",
		Short:   "Stop the service and restore the system DNS configuration (requires sudo)",
		Args:    cobra.NoArgs,
		Example: "  sudo nicd uninstall --purge",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := setupConfig(cmd, opts)
			if err != nil {
				return err
			}
			return setup.Uninstall(cmd.Context(), config, purge)
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also remove bootstrap lists and cached data")
	return cmd
}

func newVersionCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", name, daemon.Version)
		},
	}
}
