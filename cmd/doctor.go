package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/glimpse/internal/config"
	"github.com/conneroisu/glimpse/internal/preamble"
	"github.com/conneroisu/glimpse/internal/version"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the rendering toolchain and editor integration",
	Long: `Diagnose your environment and report what would stop glimpse from working.

The doctor command checks:

- latex and dvisvgm are on PATH and runnable
- the ingress and frontend ports are free (or held by a running glimpse)
- whether an editor is listening for line clicks
- the configuration and the preamble file

Examples:
  glimpse doctor                 # Human-readable report
  glimpse doctor --verbose       # Include check details
  glimpse doctor --format json   # Output as JSON for tooling`,
	RunE: runDoctor,
}

// Diagnostic statuses.
const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
	statusInfo    = "info"
)

// DiagnosticResult represents the result of a diagnostic check
type DiagnosticResult struct {
	Name       string                 `json:"name" yaml:"name"`
	Category   string                 `json:"category" yaml:"category"`
	Status     string                 `json:"status" yaml:"status"`
	Message    string                 `json:"message" yaml:"message"`
	Suggestion string                 `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp   time.Time          `json:"timestamp" yaml:"timestamp"`
	Environment map[string]string  `json:"environment" yaml:"environment"`
	Results     []DiagnosticResult `json:"results" yaml:"results"`
	Summary     ReportSummary      `json:"summary" yaml:"summary"`
}

// ReportSummary provides an overview of diagnostic results
type ReportSummary struct {
	Total    int `json:"total" yaml:"total"`
	OK       int `json:"ok" yaml:"ok"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Errors   int `json:"errors" yaml:"errors"`
	Info     int `json:"info" yaml:"info"`
}

type doctorCheck func(ctx context.Context, cfg *config.Config) DiagnosticResult

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolP("verbose", "v", false, "Show verbose diagnostic information")
	doctorCmd.Flags().StringP("format", "f", "table", "Output format (table|json|yaml)")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("format")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := &DoctorReport{
		Timestamp:   time.Now(),
		Environment: gatherEnvironmentInfo(),
	}

	cfg, err := loadConfig()
	if err != nil {
		report.Results = append(report.Results, DiagnosticResult{
			Name:       "Configuration",
			Category:   "Configuration",
			Status:     statusError,
			Message:    err.Error(),
			Suggestion: "Run 'glimpse config validate' for details; checks below use defaults",
		})
		cfg = config.Default()
	} else {
		report.Results = append(report.Results, checkConfiguration(ctx, cfg))
	}

	checks := []doctorCheck{
		toolCheck("LaTeX", func(c *config.Config) string { return c.Render.LatexCommand }, "--version",
			"Install a TeX distribution (TeX Live, MacTeX or MiKTeX) that provides latex"),
		toolCheck("dvisvgm", func(c *config.Config) string { return c.Render.DvisvgmCommand }, "--version",
			"Install dvisvgm; it ships with TeX Live and MiKTeX"),
		checkIngressPort,
		checkServerPort,
		checkEditorListener,
		checkPreamble,
	}
	for _, check := range checks {
		report.Results = append(report.Results, check(ctx, cfg))
	}
	report.Summary = calculateSummary(report.Results)

	out := cmd.OutOrStdout()
	if format != "table" {
		return writeFormatted(out, format, report)
	}

	fmt.Fprintln(out, "🔍 Glimpse Doctor")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)
	for _, result := range report.Results {
		if !verbose && result.Status == statusInfo && result.Suggestion == "" {
			continue
		}
		displayResult(out, result, verbose)
	}

	fmt.Fprintln(out, "📊 Summary")
	fmt.Fprintln(out, "==========")
	displaySummary(out, report.Summary)

	if report.Summary.Errors > 0 {
		return fmt.Errorf("%d check(s) failed", report.Summary.Errors)
	}
	return nil
}

func gatherEnvironmentInfo() map[string]string {
	env := map[string]string{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"glimpse":    version.GetShortVersion(),
		"path":       os.Getenv("PATH"),
	}
	if wd, err := os.Getwd(); err == nil {
		env["working_dir"] = wd
	}
	return env
}

func checkConfiguration(ctx context.Context, cfg *config.Config) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Configuration",
		Category: "Configuration",
		Status:   statusOK,
		Message:  "Configuration is valid",
	}

	validation := config.ValidateConfigWithDetails(cfg)
	if validation.HasWarnings() {
		result.Status = statusWarning
		result.Message = fmt.Sprintf("%d warning(s)", len(validation.Warnings))
		result.Suggestion = strings.TrimSpace(validation.String())
	}
	return result
}

// toolCheck verifies a toolchain command is on PATH and reports its first
// line of version output.
func toolCheck(name string, command func(*config.Config) string, versionFlag, install string) doctorCheck {
	return func(ctx context.Context, cfg *config.Config) DiagnosticResult {
		result := DiagnosticResult{
			Name:     name,
			Category: "Toolchain",
			Status:   statusOK,
		}

		cmdName := command(cfg)
		path, err := exec.LookPath(cmdName)
		if err != nil {
			result.Status = statusError
			result.Message = fmt.Sprintf("%s not found on PATH", cmdName)
			result.Suggestion = install
			return result
		}

		runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		output, err := exec.CommandContext(runCtx, path, versionFlag).CombinedOutput()
		if err != nil {
			result.Status = statusWarning
			result.Message = fmt.Sprintf("%s found at %s but could not be run: %v", cmdName, path, err)
			return result
		}

		first, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
		result.Message = first
		result.Details = map[string]interface{}{"path": path}
		return result
	}
}

func checkIngressPort(ctx context.Context, cfg *config.Config) DiagnosticResult {
	return checkListenPort("Update ingress", cfg.IngressAddr(), "ingress.port")
}

func checkServerPort(ctx context.Context, cfg *config.Config) DiagnosticResult {
	if !cfg.Server.Enabled {
		return DiagnosticResult{
			Name:     "Frontend bridge",
			Category: "Network",
			Status:   statusInfo,
			Message:  "Frontend bridge is disabled",
		}
	}
	return checkListenPort("Frontend bridge", cfg.ServerAddr(), "server.port")
}

func checkListenPort(name, addr, key string) DiagnosticResult {
	result := DiagnosticResult{
		Name:     name,
		Category: "Network",
		Status:   statusOK,
		Details:  map[string]interface{}{"addr": addr},
	}

	if isPortAvailable(addr) {
		result.Message = fmt.Sprintf("%s is available", addr)
		return result
	}

	result.Status = statusWarning
	result.Message = fmt.Sprintf("%s is in use", addr)
	result.Suggestion = fmt.Sprintf("Another glimpse may already be running; otherwise set %s", key)
	return result
}

func checkEditorListener(ctx context.Context, cfg *config.Config) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Editor listener",
		Category: "Editor",
		Details:  map[string]interface{}{"addr": cfg.NotifierAddr()},
	}

	dialer := net.Dialer{Timeout: time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.NotifierAddr())
	if err != nil {
		result.Status = statusInfo
		result.Message = fmt.Sprintf("No editor is listening on %s", cfg.NotifierAddr())
		result.Suggestion = "Line clicks are dropped until the editor plugin is running"
		return result
	}
	conn.Close()

	result.Status = statusOK
	result.Message = fmt.Sprintf("Editor is listening on %s", cfg.NotifierAddr())
	return result
}

func checkPreamble(ctx context.Context, cfg *config.Config) DiagnosticResult {
	result := DiagnosticResult{
		Name:     "Preamble",
		Category: "Rendering",
		Status:   statusOK,
	}

	dir, err := preamble.ResolveConfigDir(cfg.Preamble.ConfigDir)
	if err != nil {
		result.Status = statusWarning
		result.Message = "Could not determine the config directory; the default preamble is used"
		result.Suggestion = "Set preamble.config_dir or GLIMPSE_PREAMBLE_CONFIG_DIR"
		return result
	}

	path := preamble.Path(dir)
	result.Details = map[string]interface{}{"path": path}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		result.Status = statusInfo
		result.Message = "No preamble.tex; the default preamble is used"
		result.Suggestion = fmt.Sprintf("Create %s to load extra packages", path)
	case err != nil:
		result.Status = statusWarning
		result.Message = fmt.Sprintf("Cannot read %s: %v", path, err)
	case info.IsDir():
		result.Status = statusError
		result.Message = fmt.Sprintf("%s is a directory", path)
	default:
		result.Message = fmt.Sprintf("Using %s (%d bytes)", path, info.Size())
	}
	return result
}

func isPortAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

func displayResult(w io.Writer, result DiagnosticResult, verbose bool) {
	var icon string
	switch result.Status {
	case statusOK:
		icon = "✅"
	case statusWarning:
		icon = "⚠️"
	case statusError:
		icon = "❌"
	case statusInfo:
		icon = "ℹ️"
	default:
		icon = "•"
	}

	fmt.Fprintf(w, "%s [%s] %s: %s\n", icon, strings.ToUpper(result.Category), result.Name, result.Message)

	if result.Suggestion != "" {
		fmt.Fprintf(w, "   💡 %s\n", result.Suggestion)
	}

	if verbose && len(result.Details) > 0 {
		fmt.Fprintf(w, "   📋 Details: %+v\n", result.Details)
	}

	fmt.Fprintln(w)
}

func calculateSummary(results []DiagnosticResult) ReportSummary {
	summary := ReportSummary{
		Total: len(results),
	}

	for _, result := range results {
		switch result.Status {
		case statusOK:
			summary.OK++
		case statusWarning:
			summary.Warnings++
		case statusError:
			summary.Errors++
		case statusInfo:
			summary.Info++
		}
	}

	return summary
}

func displaySummary(w io.Writer, summary ReportSummary) {
	fmt.Fprintf(w, "Total Checks: %d\n", summary.Total)
	fmt.Fprintf(w, "✅ OK: %d\n", summary.OK)
	fmt.Fprintf(w, "⚠️  Warnings: %d\n", summary.Warnings)
	fmt.Fprintf(w, "❌ Errors: %d\n", summary.Errors)
	fmt.Fprintf(w, "ℹ️  Info: %d\n", summary.Info)
}
