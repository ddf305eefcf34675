package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vendops/vendwatch/internal/backtest"
	"github.com/vendops/vendwatch/internal/simday"
)

// NewCompareCommand creates the compare command.
func NewCompareCommand(rootOpts *RootOptions) *cobra.Command {
	var fromStr, toStr string

	cmd := &cobra.Command{
		Use:   "compare <script> <candidate-file>",
		Short: "Backtest a candidate revision against the active one",
		Long: `Replay both the active revision and a candidate source over a range of
historical days and report per-day trigger counts and the days where
behavior changed.

Comparison is read-only: no alerts are written and no state changes.

Example:
  vendwatch compare restock_risk ./restock_risk_v2.cue --from 2025-02-01 --to 2025-02-14`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := simday.Parse(fromStr)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --from", err)
			}
			to, err := simday.Parse(toStr)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --to", err)
			}
			source, err := os.ReadFile(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "read candidate file", err)
			}

			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			cmp, err := backtest.New(cmd.Context(), app.store, app.src,
				app.engine.ContextBuilder(), app.cfg.ScriptTimeout.Std(), app.logger)
			if err != nil {
				return WrapExitError(ExitFailure, "init comparator", err)
			}
			report, err := cmp.Compare(cmd.Context(), args[0], string(source), from, to)
			if err != nil {
				return WrapExitError(ExitFailure, "compare", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(report); done {
				return err
			}
			f.Textf("%s: active %s vs candidate %s over %s .. %s",
				report.ScriptName, report.ActiveVersion, report.CandidateVersion, report.From, report.To)
			for _, d := range report.Days {
				marker := " "
				if d.Changed {
					marker = "*"
				}
				f.Textf("%s %s  active=%d candidate=%d", marker, d.Date, d.ActiveTriggers, d.CandidateTriggers)
			}
			f.Textf("totals: active=%d candidate=%d, %d changed days",
				report.TotalActive, report.TotalCandidate, len(report.ChangedDays))
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStr, "from", "", "first day to replay (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "", "last day to replay (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
