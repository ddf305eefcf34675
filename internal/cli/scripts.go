package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewScriptsCommand creates the scripts command group.
func NewScriptsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "Manage detector scripts and their revisions",
	}
	cmd.AddCommand(newScriptsListCommand(rootOpts))
	cmd.AddCommand(newScriptsRevisionsCommand(rootOpts))
	cmd.AddCommand(newScriptsDraftCommand(rootOpts))
	cmd.AddCommand(newScriptsActivateCommand(rootOpts))
	cmd.AddCommand(newScriptsRevertCommand(rootOpts))
	cmd.AddCommand(newScriptsEnableCommand(rootOpts, true))
	cmd.AddCommand(newScriptsEnableCommand(rootOpts, false))
	return cmd
}

func newScriptsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List scripts with their active revision and enabled flag",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			infos, err := app.engine.ListScripts(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "list scripts", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(infos); done {
				return err
			}
			for _, info := range infos {
				state := "enabled"
				if !info.Enabled {
					state = "disabled"
				}
				f.Textf("%-24s %-8s active=%s revisions=%d",
					info.ScriptName, state, info.ActiveRevisionID, info.RevisionCount)
			}
			return nil
		},
	}
}

func newScriptsRevisionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "revisions <script>",
		Short:         "Show a script's revision history",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			revs, err := app.store.Revisions(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "list revisions", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(revs); done {
				return err
			}
			for _, r := range revs {
				f.Textf("%s  %-10s %s  %s", r.RevisionID, r.Status, r.CreatedAt, r.Instruction)
			}
			return nil
		},
	}
}

func newScriptsDraftCommand(rootOpts *RootOptions) *cobra.Command {
	var instruction string

	cmd := &cobra.Command{
		Use:   "draft <script> <source-file>",
		Short: "Validate a script source and store it as a draft revision",
		Long: `Validate a script source in the sandbox and store it as a draft
revision. The draft only takes effect once activated.

Example:
  vendwatch scripts draft restock_risk ./restock_risk.cue --instruction "lower the threshold"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "read source file", err)
			}
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			id, err := app.engine.DraftScript(cmd.Context(), args[0], string(source), instruction)
			if err != nil {
				return WrapExitError(ExitFailure, "draft script", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(map[string]string{"script_name": args[0], "revision_id": id}); done {
				return err
			}
			f.Textf("draft %s created for %s", id, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&instruction, "instruction", "", "note describing the intent of the change")
	return cmd
}

func newScriptsActivateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "activate <script> <revision-id>",
		Short:         "Promote a draft revision to active",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.engine.ActivateScript(cmd.Context(), args[0], args[1]); err != nil {
				return WrapExitError(ExitFailure, "activate revision", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(map[string]string{"script_name": args[0], "active_revision_id": args[1]}); done {
				return err
			}
			f.Textf("%s now active at revision %s", args[0], args[1])
			return nil
		},
	}
}

func newScriptsRevertCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "revert <script>",
		Short:         "Reinstate the most recently superseded revision",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			id, err := app.engine.RevertScript(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "revert script", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(map[string]string{"script_name": args[0], "active_revision_id": id}); done {
				return err
			}
			f.Textf("%s reverted to revision %s", args[0], id)
			return nil
		},
	}
}

func newScriptsEnableCommand(rootOpts *RootOptions, enable bool) *cobra.Command {
	use, short := "enable <script>", "Include a script in daily runs"
	if !enable {
		use, short = "disable <script>", "Exclude a script from daily runs"
	}
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.engine.SetScriptEnabled(cmd.Context(), args[0], enable); err != nil {
				return WrapExitError(ExitFailure, "update script", err)
			}

			f := rootOpts.formatter(cmd)
			if done, err := f.JSON(map[string]any{"script_name": args[0], "enabled": enable}); done {
				return err
			}
			if enable {
				f.Textf("%s enabled", args[0])
			} else {
				f.Textf("%s disabled", args[0])
			}
			return nil
		},
	}
}
