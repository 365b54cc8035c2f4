// Package cmd provides the glimpse command-line interface.
//
// Configuration System:
//
//	Settings are resolved from several sources with clear precedence:
//	1. Command-line flags (--config, --ingress-port, ...) - highest priority
//	2. Individual environment variables (GLIMPSE_RENDER_WORKERS, ...)
//	3. The config file: --config, else $GLIMPSE_CONFIG_FILE, else .glimpse.yml
//	4. Built-in defaults - lowest priority
//
// Environment Variables:
//
//	GLIMPSE_CONFIG_FILE: Path to custom configuration file
//	GLIMPSE_INGRESS_PORT: Override the document-update port
//	GLIMPSE_PREAMBLE_CONFIG_DIR: Directory holding preamble.tex
//	And every other key following the GLIMPSE_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/glimpse/internal/config"
	"github.com/conneroisu/glimpse/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "glimpse",
	Short: "Editor bridge and LaTeX renderer for the Glimpse markdown preview",
	Long: `Glimpse connects a text editor to a live markdown preview.

The editor pushes document snapshots to the update ingress, the preview
receives them over a websocket, math snippets are rendered to SVG with
latex and dvisvgm, and clicks in the preview are sent back to the editor.

Quick Start:
  glimpse serve                 Start the bridge
  glimpse render 'e^{i\pi}+1=0' Render one snippet to SVG
  glimpse doctor                Check latex, dvisvgm and ports

Documentation: https://github.com/conneroisu/glimpse`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentPreRunE = applyFlagBindings

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .glimpse.yml, can also use GLIMPSE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	bindFlag("log.level", rootCmd.PersistentFlags(), "log-level")
	bindFlag("log.format", rootCmd.PersistentFlags(), "log-format")
}

// flagBinding ties a config key to a command-line flag.
type flagBinding struct {
	key   string
	flags *pflag.FlagSet
	name  string
}

var flagBindings []flagBinding

// bindFlag registers a flag to override key. Several commands may bind the
// same key; only the running command's flags are applied.
func bindFlag(key string, flags *pflag.FlagSet, name string) {
	flagBindings = append(flagBindings, flagBinding{key: key, flags: flags, name: name})
}

func applyFlagBindings(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	for _, b := range flagBindings {
		if b.flags != cmd.Flags() && b.flags != rootCmd.PersistentFlags() {
			continue
		}
		if err := v.BindPFlag(b.key, b.flags.Lookup(b.name)); err != nil {
			return err
		}
	}
	return nil
}

// initConfig points viper at the config file.
func initConfig() {
	v := viper.GetViper()

	used, err := config.Configure(v, cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if used != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", used)
	}
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// newLogger builds the diagnostic logger described by cfg. Logs go to
// stderr so command output on stdout stays machine-readable.
func newLogger(cfg *config.Config) logging.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}
