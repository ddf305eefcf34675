// Package cli implements the vendwatch command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vendops/vendwatch/internal/config"
	"github.com/vendops/vendwatch/internal/engine"
	"github.com/vendops/vendwatch/internal/feed"
	"github.com/vendops/vendwatch/internal/store"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the vendwatch CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "vendwatch",
		Short: "VendWatch - daily operations alerting for vending fleets",
		Long: `VendWatch replays a historical sales window day by day, runs detector
scripts against per-machine context windows, and maintains a deduplicated
alert list for operators.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewAdvanceCommand(opts))
	cmd.AddCommand(NewSkipCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewAlertsCommand(opts))
	cmd.AddCommand(NewScriptsCommand(opts))
	cmd.AddCommand(NewCompareCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// app bundles everything a command needs once wiring succeeded.
type app struct {
	cfg    config.Config
	store  *store.Store
	src    *feed.Source
	engine *engine.Engine
	logger *slog.Logger
}

// openApp loads config, opens the state and feed databases and wires the
// engine. Callers must invoke close when done.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, func(), error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load config", err)
	}

	level := logLevel(cfg.LogLevel)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st, err := store.Open(cfg.StateDB)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open state database", err)
	}
	src, err := feed.Open(cfg.Feeds)
	if err != nil {
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "open feed databases", err)
	}
	eng, err := engine.New(cmd.Context(), cfg, st, src, logger)
	if err != nil {
		src.Close()
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "initialize engine", err)
	}

	cleanup := func() {
		src.Close()
		st.Close()
	}
	return &app{cfg: cfg, store: st, src: src, engine: eng, logger: logger}, cleanup, nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
