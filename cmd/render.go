package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/glimpse/internal/app"
	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/metrics"
	"github.com/conneroisu/glimpse/internal/renderer"
)

var renderCmd = &cobra.Command{
	Use:     "render <tex|->",
	Aliases: []string{"r"},
	Short:   "Render one LaTeX snippet to SVG",
	Long: `Render a LaTeX snippet with the configured preamble and print the SVG.

Inline snippets are typeset as given; pass --display for snippets that
carry their own display delimiters. Use "-" to read the snippet from stdin.

Examples:
  glimpse render '$x^2$'                   # Print SVG to stdout
  glimpse render --display '\[ \int f \]'  # Display math
  echo '$a+b$' | glimpse render - -o a.svg # Read stdin, write a file`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().Bool("display", false, "Render in display mode")
	renderCmd.Flags().String("id", "", "Render ID used for workspace file names")
	renderCmd.Flags().StringP("output", "o", "", "Write SVG to file instead of stdout")
	renderCmd.Flags().Duration("timeout", 0, "Bound each toolchain invocation")

	bindFlag("render.timeout", renderCmd.Flags(), "timeout")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tex := args[0]
	if tex == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading snippet from stdin: %w", err)
		}
		tex = strings.TrimRight(string(data), "\n")
	}

	display, _ := cmd.Flags().GetBool("display")
	id, _ := cmd.Flags().GetString("id")
	output, _ := cmd.Flags().GetString("output")

	ctx := context.Background()
	logger := newLogger(cfg)
	m := metrics.New()
	store := app.NewPreambleStore(ctx, cfg, logger, m)
	pipeline := app.NewRenderPipeline(cfg, store, logger, m)

	svg, err := pipeline.Render(ctx, renderer.RenderRequest{ID: id, Tex: tex, DisplayMode: display})
	if err != nil {
		if diags := errors.DiagnosticsOf(err); len(diags) > 0 {
			fmt.Fprint(cmd.ErrOrStderr(), errors.FormatDiagnostics(diags))
		}
		return err
	}

	if output == "" {
		_, err = io.WriteString(cmd.OutOrStdout(), svg)
		return err
	}
	if err := os.WriteFile(output, []byte(svg), 0o644); err != nil {
		return errors.WrapIO(err, errors.ErrCodeOutput, "writing SVG")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
	return nil
}
