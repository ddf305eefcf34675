package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/vendops/vendwatch/internal/alert"
	"github.com/vendops/vendwatch/internal/store"
)

// NewAlertsCommand creates the alerts command group.
func NewAlertsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and act on alerts",
	}
	cmd.AddCommand(newAlertsListCommand(rootOpts))
	cmd.AddCommand(newAlertsShowCommand(rootOpts))
	cmd.AddCommand(newAlertsAcceptCommand(rootOpts))
	cmd.AddCommand(newAlertsSnoozeCommand(rootOpts))
	return cmd
}

func newAlertsListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	var locationID, machineID int64
	var scriptName string
	var limit int

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List alerts, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			alerts, err := app.store.ListAlerts(cmd.Context(), store.ListFilter{
				Status:     alert.Status(status),
				LocationID: locationID,
				MachineID:  machineID,
				ScriptName: scriptName,
				Limit:      limit,
			})
			if err != nil {
				return WrapExitError(ExitFailure, "list alerts", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(alerts); done {
				return err
			}
			if len(alerts) == 0 {
				f.Textf("no alerts")
				return nil
			}
			for _, a := range alerts {
				f.Textf("%s  %-8s %-8s %-24s loc=%d %s",
					a.RunDate, a.Status, a.Severity, a.AlertType, a.LocationID, a.Title)
				f.Textf("  id=%s script=%s@%s", a.AlertID, a.ScriptName, a.ScriptVersion)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (OPEN|SNOOZED|RESOLVED)")
	cmd.Flags().Int64Var(&locationID, "location", 0, "filter by location id")
	cmd.Flags().Int64Var(&machineID, "machine", 0, "filter by machine id")
	cmd.Flags().StringVar(&scriptName, "script", "", "filter by script name")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum alerts to return (0 = all)")
	return cmd
}

func newAlertsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <alert-id>",
		Short:         "Show one alert including its evidence",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			a, err := app.store.Alert(cmd.Context(), args[0])
			if errors.Is(err, store.ErrAlertNotFound) {
				return NewExitError(ExitFailure, "alert not found")
			}
			if err != nil {
				return WrapExitError(ExitFailure, "load alert", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(a); done {
				return err
			}
			f.Textf("%s [%s] %s", a.AlertID, a.Severity, a.Title)
			f.Textf("type:    %s", a.AlertType)
			f.Textf("status:  %s", a.Status)
			f.Textf("run:     %s by %s@%s", a.RunDate, a.ScriptName, a.ScriptVersion)
			f.Textf("summary: %s", a.Summary)
			if a.SnoozedUntil != nil {
				f.Textf("snoozed until %s", *a.SnoozedUntil)
			}
			for k, v := range a.Evidence {
				f.Textf("  evidence %s = %v", k, v)
			}
			for _, ra := range a.RecommendedActions {
				f.Textf("  action %s %v", ra.ActionType, ra.Params)
			}
			return nil
		},
	}
}

func newAlertsAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "accept <alert-id>",
		Short: "Resolve an alert and schedule its recommended actions",
		Long: `Resolve an alert. Machine-scoped recommended actions are scheduled as
manager actions effective the next simulated day; a scheduled
RESTOCK_MACHINE tops the machine back up to capacity during the next
inventory advance.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := app.engine.State(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "read state", err)
			}
			result, err := app.store.AcceptAlert(cmd.Context(), args[0], note, st.CurrentDay)
			if errors.Is(err, store.ErrAlertNotFound) {
				return NewExitError(ExitFailure, "alert not found")
			}
			if err != nil {
				return WrapExitError(ExitFailure, "accept alert", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(result); done {
				return err
			}
			f.Textf("alert %s resolved", result.Alert.AlertID)
			for _, s := range result.Scheduled {
				f.Textf("scheduled %s for machine %d on %s", s.ActionType, s.MachineID, s.EffectiveDate)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "decision note recorded on the alert")
	return cmd
}

func newAlertsSnoozeCommand(rootOpts *RootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "snooze <alert-id>",
		Short: "Snooze an alert and suppress its scope",
		Long: `Snooze an alert until its run date plus --days. While the snooze is in
effect, new candidates matching the alert's type and scope are
suppressed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := app.engine.State(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "read state", err)
			}
			a, err := app.store.SnoozeAlert(cmd.Context(), args[0], days, st.CurrentDay)
			if errors.Is(err, store.ErrAlertNotFound) {
				return NewExitError(ExitFailure, "alert not found")
			}
			if err != nil {
				return WrapExitError(ExitFailure, "snooze alert", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(a); done {
				return err
			}
			f.Textf("alert %s snoozed until %s", a.AlertID, *a.SnoozedUntil)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "snooze duration in simulated days")
	return cmd
}
