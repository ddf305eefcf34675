package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/vendops/vendwatch/internal/engine"
	"github.com/vendops/vendwatch/internal/store"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every enabled detector script for the current day",
		Long: `Run every enabled detector script against every machine's context for
the current simulated day and fold the results into the alert list.

Running the same day twice is safe: unchanged alert conditions are
suppressed by the cooldown rule and inventory progression is a no-op.

Example:
  vendwatch run
  vendwatch run --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := app.engine.Run(cmd.Context())
			if errors.Is(err, store.ErrStateNotInitialized) {
				return NewExitError(ExitFailure, "not initialized, run `vendwatch init` first")
			}
			if errors.Is(err, engine.ErrConflictingOperation) {
				return NewExitError(ExitFailure, "another engine operation is in progress")
			}
			if err != nil {
				return WrapExitError(ExitFailure, "daily run", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(summary); done {
				return err
			}
			f.Textf("run %s: %d machines, %d scripts", summary.RunDate, summary.Machines, summary.Scripts)
			f.Textf("alerts: %d new, %d refreshed, %d suppressed", summary.Inserted, summary.Overwritten, summary.Suppressed)
			if summary.WokenAlerts > 0 {
				f.Textf("woke %d snoozed alerts", summary.WokenAlerts)
			}
			for _, d := range summary.Diagnostics {
				f.Textf("  diagnostic: %s", d)
			}
			return nil
		},
	}
}
