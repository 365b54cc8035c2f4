package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/glimpse/internal/app"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the editor bridge",
	Long: `Start the update ingress, the frontend bridge and the render pipeline.

The ingress accepts document snapshots from the editor on POST /update and
the preview connects to the frontend bridge for events, renders and line
clicks. Runs until interrupted.

Examples:
  glimpse serve                         # Default loopback ports
  glimpse serve --ingress-port 43000    # Alternative ingress port
  glimpse serve --workers 2 --no-watch  # Two render workers, no preamble watch`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("ingress-port", 0, "Port for document updates (default 42069)")
	serveCmd.Flags().Int("server-port", 0, "Port for the frontend bridge (default 42071)")
	serveCmd.Flags().Int("notifier-port", 0, "Port the editor listens on for line clicks (default 42070)")
	serveCmd.Flags().Bool("no-bridge", false, "Do not start the frontend bridge")
	serveCmd.Flags().Int("workers", 0, "Concurrent renders (default GOMAXPROCS)")
	serveCmd.Flags().Bool("no-watch", false, "Do not reload preamble.tex on change")

	bindFlag("ingress.port", serveCmd.Flags(), "ingress-port")
	bindFlag("server.port", serveCmd.Flags(), "server-port")
	bindFlag("notifier.port", serveCmd.Flags(), "notifier-port")
	bindFlag("render.workers", serveCmd.Flags(), "workers")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noBridge, _ := cmd.Flags().GetBool("no-bridge"); noBridge {
		cfg.Server.Enabled = false
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		cfg.Preamble.Watch = false
	}

	a, err := app.New(cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("failed to create glimpse: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Glimpse bridge: ingress http://%s", cfg.IngressAddr())
	if cfg.Server.Enabled {
		fmt.Fprintf(cmd.OutOrStdout(), ", frontend http://%s", cfg.ServerAddr())
	}
	fmt.Fprintln(cmd.OutOrStdout())

	return a.Run(ctx)
}
