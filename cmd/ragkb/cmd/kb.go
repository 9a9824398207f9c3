package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/output"
)

// newKBCmd creates the kb command group.
func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases",
	}

	cmd.AddCommand(newKBListCmd())
	cmd.AddCommand(newKBAddCmd())
	cmd.AddCommand(newKBRemoveCmd())
	cmd.AddCommand(newKBSwitchCmd())
	return cmd
}

func newKBListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded knowledge bases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out := output.New(os.Stdout)
			entries := app.engine.ListKBs()
			if len(entries) == 0 {
				out.Dim("no knowledge bases loaded")
				return nil
			}
			for _, e := range entries {
				out.KBRow(e.Name, e.Path, string(e.Origin), e.Active, e.ChunkCount)
			}
			return nil
		},
	}
}

func newKBAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>",
		Short: "Ingest a .txt file as a user knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out := output.New(os.Stdout)
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			res, err := app.engine.AddKB(cmd.Context(), path)
			if err != nil {
				out.Error(err.Error())
				return err
			}
			out.Successf("added %s (%d chunks)", res.Name, res.ChunkCount)
			return nil
		},
	}
}

func newKBRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out := output.New(os.Stdout)
			if err := app.engine.RemoveKB(args[0]); err != nil {
				out.Error(err.Error())
				return err
			}
			out.Successf("removed %s", args[0])
			return nil
		},
	}
}

func newKBSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <name>",
		Short: "Make a knowledge base the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out := output.New(os.Stdout)
			if err := app.engine.SwitchKB(args[0]); err != nil {
				out.Error(err.Error())
				return err
			}
			out.Successf("active knowledge base is now %s", args[0])
			return nil
		},
	}
}
