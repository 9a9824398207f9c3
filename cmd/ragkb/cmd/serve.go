package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/mcp"
	"github.com/Aman-CERP/ragkb/internal/watcher"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Starts the retrieval engine and exposes it to AI clients over the
Model Context Protocol on stdin/stdout. Logs go to the log file, never
to stdout.

With --watch, changes to .txt files in the knowledge-base directory are
picked up live.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if watch || app.cfg.Watcher.Enabled {
				w := watcher.New(app.cfg.Paths.KBDir, app.cfg.WatchDebounce(), app.engine, app.logger)
				if err := w.Start(ctx); err != nil {
					app.logger.Warn("failed to start directory watcher",
						slog.String("error", err.Error()))
				} else {
					defer func() { _ = w.Close() }()
				}
			}

			server, err := mcp.NewServer(app.engine, app.logger)
			if err != nil {
				return err
			}
			return server.Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Re-ingest .txt files as they change")
	return cmd
}
