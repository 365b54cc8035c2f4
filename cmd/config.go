package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/glimpse/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and validate glimpse configuration",
	Long: `Show and validate the effective glimpse configuration.

The effective configuration merges built-in defaults, the config file,
GLIMPSE_* environment variables and command-line flags.

Examples:
  glimpse config show                # Effective configuration as YAML
  glimpse config show --format json  # ... as JSON
  glimpse config validate            # Report errors and warnings`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd)

	configShowCmd.Flags().StringP("format", "f", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	return writeFormatted(cmd.OutOrStdout(), format, cfg)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	config.SetDefaults(v)

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decoding configuration: %w", err)
	}

	result := config.ValidateConfigWithDetails(&cfg)
	out := cmd.OutOrStdout()
	if result.Valid() && !result.HasWarnings() {
		fmt.Fprintln(out, "✅ Configuration is valid")
		return nil
	}

	fmt.Fprint(out, result.String())
	if !result.Valid() {
		return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
	}
	return nil
}

// writeFormatted encodes v as yaml or json.
func writeFormatted(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}
