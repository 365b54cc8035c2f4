package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/glimpse/internal/preamble"
)

var preambleCmd = &cobra.Command{
	Use:   "preamble",
	Short: "Inspect and reload the LaTeX preamble",
	Long: `Inspect and reload the preamble inserted before every rendered snippet.

The preamble is read from preamble.tex in the glimpse config directory
(preamble.config_dir, or the platform config directory plus /glimpse).
Without that file a default loading amsmath, amssymb and amsfonts is used.

Examples:
  glimpse preamble path    # Where preamble.tex is looked up
  glimpse preamble show    # The preamble renders would use
  glimpse preamble reload  # Ask a running bridge to re-read it`,
}

var preambleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective preamble",
	RunE:  runPreambleShow,
}

var preamblePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the path of preamble.tex",
	RunE:  runPreamblePath,
}

var preambleReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the preamble of a running bridge",
	RunE:  runPreambleReload,
}

func init() {
	rootCmd.AddCommand(preambleCmd)
	preambleCmd.AddCommand(preambleShowCmd, preamblePathCmd, preambleReloadCmd)

	preambleReloadCmd.Flags().Int("server-port", 0, "Frontend bridge port of the running glimpse (default 42071)")
	bindFlag("server.port", preambleReloadCmd.Flags(), "server-port")
}

func runPreambleShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	text := preamble.DefaultPreamble
	if dir, err := preamble.ResolveConfigDir(cfg.Preamble.ConfigDir); err == nil {
		text = preamble.Load(context.Background(), dir, newLogger(cfg))
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}

func runPreamblePath(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir, err := preamble.ResolveConfigDir(cfg.Preamble.ConfigDir)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), preamble.Path(dir))
	return nil
}

func runPreambleReload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "http://" + cfg.ServerAddr() + "/api/preamble/reload"
	if err := postJSON(ctx, url, nil, http.StatusOK); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Preamble reloaded")
	return nil
}
