package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/embed"
	"github.com/Aman-CERP/ragkb/internal/output"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			st := app.engine.Status()
			out := output.New(os.Stdout)

			enabled := "yes"
			if !st.Enabled {
				enabled = "no"
			}
			active := st.ActiveName
			if active == "" {
				active = "(none)"
			}
			loaded := "(none)"
			if len(st.LoadedNames) > 0 {
				loaded = strings.Join(st.LoadedNames, ", ")
			}

			out.Field("enabled", enabled)
			out.Field("mode", string(st.Mode))
			out.Field("active", active)
			out.Field("loaded", loaded)
			out.Field("total chunks", fmt.Sprintf("%d", st.TotalChunks))
			out.Field("chunking", fmt.Sprintf("%d chars, %d overlap", st.ChunkSize, st.ChunkOverlap))
			if cached, ok := app.embedder.(*embed.CachedEmbedder); ok {
				hits, misses := cached.Stats()
				out.Field("embed cache", fmt.Sprintf("%d hits, %d misses", hits, misses))
			}
			return nil
		},
	}
}
