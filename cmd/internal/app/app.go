// Package app holds the command-line plumbing shared by the effnet tools:
// configuration loading, logging setup and signal handling.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"effnet/logging"
	"effnet/utils"

	"github.com/spf13/cobra"
)

// App carries the loaded configuration into subcommands.
type App struct {
	Config *utils.Config

	configFile string
	logLevel   string
	verbose    bool
}

// NewRoot builds a root command with the shared persistent flags. Config is
// loaded before run executes, with explicitly set flags taking precedence.
func NewRoot(use, short string, run func(cmd *cobra.Command, a *App) error) *cobra.Command {
	a := &App{}
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, a)
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (default ./effnet.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	return cmd
}

func (a *App) setup(cmd *cobra.Command) error {
	cfg, err := utils.LoadConfig(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	switch {
	case a.logLevel != "":
		cfg.Log.Level = a.logLevel
	case a.verbose:
		cfg.Log.Level = "debug"
	}
	logging.Configure(&cfg.Log)
	utils.Verbose = a.verbose
	a.Config = cfg

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, logging.Default()))
	if cfg.ConfigFile != "" {
		logging.Default().Debug().Str("file", cfg.ConfigFile).Msg("Loaded config")
	}
	return nil
}

// ContextWithSignals creates a context that is cancelled on SIGINT or SIGTERM.
func ContextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Main executes root with signal handling and exits non-zero on error.
func Main(root *cobra.Command) {
	ctx, cancel := ContextWithSignals(context.Background())
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
