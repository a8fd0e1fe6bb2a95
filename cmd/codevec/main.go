package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codevec/internal/config"
	"github.com/dshills/codevec/internal/manager"
	"github.com/dshills/codevec/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	a := &app{logOut: os.Stderr}
	if err := a.rootCmd().Execute(); err != nil {
		a.reportError(err)
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand
type app struct {
	configFile string
	logLevel   string
	logOut     io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "codevec",
		Short: "Local semantic code search over per-project vector indexes",
		Long: `codevec indexes source trees into per-project SQLite vector databases
and serves nearest-neighbor retrieval to coding assistants over MCP.

Configuration is read from --config, ~/.codevec/config.yaml or ./codevec.yaml,
then overridden by CODEVEC_* environment variables (a .env file in the working
directory is loaded first).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetVersionTemplate("codevec {{.Version}}\n")

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		a.serveCmd(),
		a.indexCmd(),
		a.searchCmd(),
		a.statusCmd(),
		a.projectsCmd(),
		a.watchCmd(),
		a.configCmd(),
		versionCmd(),
	)

	return root
}

// setup loads configuration and builds the stderr logger
func (a *app) setup() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)
	if cfg.ConfigFile != "" {
		a.logger.Debug("loaded config", "file", cfg.ConfigFile)
	}
	return nil
}

// reportError logs a command failure; a missing vector extension is fatal
func (a *app) reportError(err error) {
	if err == nil {
		return
	}
	logger := a.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(a.logOut, nil))
	}
	if errors.Is(err, storage.ErrVectorExtension) {
		logger.Error("vector search is unavailable in this build", "build_mode", storage.BuildMode, "error", err)
		return
	}
	logger.Error("command failed", "error", err)
}

// openManager builds a Manager from the loaded configuration
func (a *app) openManager() (*manager.Manager, error) {
	return manager.New(a.cfg, manager.WithLogger(a.logger))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// no config needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "codevec %s\n", version)
			fmt.Fprintf(out, "  built:            %s\n", buildTime)
			fmt.Fprintf(out, "  build mode:       %s\n", storage.BuildMode)
			fmt.Fprintf(out, "  sqlite driver:    %s\n", storage.DriverName)
			fmt.Fprintf(out, "  vector extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}
