package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/engine"
	"github.com/Aman-CERP/ragkb/internal/output"
	"github.com/Aman-CERP/ragkb/internal/state"
)

// newQueryCmd creates the query command.
func newQueryCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve relevant context for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(os.Stdout)

			var opts engine.QueryOptions
			switch mode {
			case "":
			case string(state.ModeSingle), string(state.ModeMulti):
				opts.Mode = state.Mode(mode)
			default:
				return fmt.Errorf("unknown mode %q (supported: single, multi)", mode)
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.engine.Query(cmd.Context(), strings.Join(args, " "), opts)
			if err != nil {
				out.Error(err.Error())
				return err
			}

			out.Block(strings.TrimSpace(res.Context))
			if res.Metadata.KBSingle != "" {
				out.Dim(fmt.Sprintf("%d match(es) from %s", res.Metadata.MatchCount, res.Metadata.KBSingle))
			} else {
				out.Dim(fmt.Sprintf("%d match(es) from %d knowledge base(s)",
					res.Metadata.MatchCount, len(res.Metadata.KBMulti)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Override query mode for this call: single or multi")
	return cmd
}
