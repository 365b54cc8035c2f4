package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/glimpse/internal/notifier"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <line>",
	Short: "Send a line click to the editor",
	Long: `Send {"line": N} to the editor's line-click listener, exactly as a click
in the preview would. Useful for testing editor plugins.

Examples:
  glimpse notify 42
  glimpse notify 42 --notifier-port 43070`,
	Args: cobra.ExactArgs(1),
	RunE: runNotify,
}

func init() {
	rootCmd.AddCommand(notifyCmd)

	notifyCmd.Flags().Int("notifier-port", 0, "Port the editor listens on (default 42070)")
	notifyCmd.Flags().Duration("timeout", 2*time.Second, "Connect timeout")

	bindFlag("notifier.port", notifyCmd.Flags(), "notifier-port")
}

func runNotify(cmd *cobra.Command, args []string) error {
	line, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid line number %q: must be a non-negative integer", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n := notifier.New(cfg.NotifierAddr(), newLogger(cfg), nil)
	if err := n.Send(ctx, uint32(line)); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sent line %d to %s\n", line, n.Addr())
	return nil
}
