package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/output"
	"github.com/Aman-CERP/ragkb/pkg/version"
)

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			out := output.New(os.Stdout)
			if short {
				out.Println(version.Short())
				return
			}
			out.Println(version.String())
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
