package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/output"
	"github.com/Aman-CERP/ragkb/internal/state"
)

// newEnableCmd creates the enable command.
func newEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Turn retrieval on",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setEnabled(cmd, true)
		},
	}
}

// newDisableCmd creates the disable command.
func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Turn retrieval off",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setEnabled(cmd, false)
		},
	}
}

func setEnabled(cmd *cobra.Command, enabled bool) error {
	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	out := output.New(os.Stdout)
	if err := app.engine.SetEnabled(cmd.Context(), enabled); err != nil {
		out.Error(err.Error())
		return err
	}
	if enabled {
		out.Success("retrieval enabled")
	} else {
		out.Success("retrieval disabled")
	}
	return nil
}

// newModeCmd creates the mode command.
func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode <single|multi>",
		Short: "Set the query mode",
		Long: `single queries only the active knowledge base. multi queries every
loaded knowledge base, and loads system knowledge bases from the
configured directory on first entry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out := output.New(os.Stdout)
			if err := app.engine.SetMode(cmd.Context(), state.Mode(args[0])); err != nil {
				out.Error(err.Error())
				return err
			}
			out.Successf("query mode is now %s", args[0])
			return nil
		},
	}
}
