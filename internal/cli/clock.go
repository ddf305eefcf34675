package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/vendops/vendwatch/internal/engine"
	"github.com/vendops/vendwatch/internal/simday"
	"github.com/vendops/vendwatch/internal/store"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var fromStr, toStr string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Install the simulation window",
		Long: `Install the simulation window and seed the baseline detector scripts.

Without flags the window is derived from the observed transaction range.
Init is idempotent: an existing window is returned unchanged.

Example:
  vendwatch init
  vendwatch init --from 2025-01-15 --to 2025-03-01`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var from, to simday.Date
			var err error
			if fromStr != "" {
				if from, err = simday.Parse(fromStr); err != nil {
					return WrapExitError(ExitCommandError, "invalid --from", err)
				}
			}
			if toStr != "" {
				if to, err = simday.Parse(toStr); err != nil {
					return WrapExitError(ExitCommandError, "invalid --to", err)
				}
			}
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := app.engine.Init(cmd.Context(), from, to)
			if err != nil {
				return WrapExitError(ExitFailure, "init window", err)
			}
			return writeState(rootOpts.formatter(cmd), st)
		},
	}

	cmd.Flags().StringVar(&fromStr, "from", "", "window start day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "", "window end day (YYYY-MM-DD)")
	return cmd
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "state",
		Short:         "Show the simulation clock",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := app.engine.State(cmd.Context())
			if errors.Is(err, store.ErrStateNotInitialized) {
				return NewExitError(ExitFailure, "not initialized, run `vendwatch init` first")
			}
			if err != nil {
				return WrapExitError(ExitFailure, "read state", err)
			}
			return writeState(rootOpts.formatter(cmd), st)
		},
	}
}

// NewAdvanceCommand creates the advance command.
func NewAdvanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "advance",
		Short: "Run the current day's detectors, then advance the clock one day",
		Long: `Run every enabled detector script for the current day (unless the day
already has a completed run), then move the clock forward one day.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := app.engine.Advance(cmd.Context())
			if errors.Is(err, engine.ErrAtEndOfWindow) {
				return NewExitError(ExitFailure, "already at the end of the window")
			}
			if err != nil {
				return WrapExitError(ExitFailure, "advance clock", err)
			}
			return writeState(rootOpts.formatter(cmd), st)
		},
	}
}

// NewSkipCommand creates the skip command.
func NewSkipCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <day>",
		Short: "Jump the simulation clock to a later day in the window",
		Long: `Jump the simulation clock to a later day in the window.

Inventory for the skipped days is replayed on the next run, so a skip is
equivalent to advancing one day at a time without running detectors.

Example:
  vendwatch skip 2025-02-14`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := simday.Parse(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid day", err)
			}
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := app.engine.Skip(cmd.Context(), to)
			if err != nil {
				return WrapExitError(ExitFailure, "skip clock", err)
			}
			return writeState(rootOpts.formatter(cmd), st)
		},
	}
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Rewind the simulation and clear derived state",
		Long: `Rewind the clock to the start of the window and delete all alerts,
inventory snapshots, manager actions, suppressions and run history.
Script revisions are kept.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return NewExitError(ExitCommandError, "reset destroys derived state, pass --force to confirm")
			}
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := app.engine.Reset(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "reset", err)
			}
			return writeState(rootOpts.formatter(cmd), st)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm the reset")
	return cmd
}

func writeState(f *OutputFormatter, st store.EngineState) error {
	if done, err := f.JSON(st); done {
		return err
	}
	f.Textf("window:  %s .. %s", st.StartDay, st.EndDay)
	f.Textf("current: %s", st.CurrentDay)
	if st.AtEnd() {
		f.Textf("at end of window")
	}
	return nil
}
