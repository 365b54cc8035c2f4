package renderer

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/logging"
)

const (
	// WorkspacePattern is the os.MkdirTemp pattern for per-render directories.
	WorkspacePattern = "glimpse-render-*"

	// DefaultZoom matches dvisvgm output scale to the surrounding text.
	DefaultZoom = 1.1

	missingLogPlaceholder = "Could not read LaTeX log."
	maxStemLength         = 64
)

// errToolExit marks a toolchain step that ran and exited non-zero.
var errToolExit = stderrors.New("tool exited with non-zero status")

// CompilerConfig configures the external toolchain.
type CompilerConfig struct {
	LatexCommand   string
	DvisvgmCommand string
	Zoom           float64
	// Timeout bounds each toolchain invocation; 0 means unbounded.
	Timeout time.Duration
	// TempDir is the parent of render workspaces; empty means os.TempDir().
	TempDir string
}

// Compiler runs latex and dvisvgm for one snippet at a time. It holds no
// mutable state and is safe for concurrent use.
type Compiler struct {
	config CompilerConfig
	parser *errors.TeXLogParser
	logger logging.Logger
}

// NewCompiler creates a compiler, filling unset fields with defaults.
func NewCompiler(config CompilerConfig, logger logging.Logger) *Compiler {
	if config.LatexCommand == "" {
		config.LatexCommand = "latex"
	}
	if config.DvisvgmCommand == "" {
		config.DvisvgmCommand = "dvisvgm"
	}
	if config.Zoom <= 0 {
		config.Zoom = DefaultZoom
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Compiler{
		config: config,
		parser: errors.NewTeXLogParser(),
		logger: logger.WithComponent("compiler"),
	}
}

// Compile renders req with the given preamble and returns the SVG text.
//
// Failures are *errors.GlimpseError of type render: ERR_WORKSPACE,
// ERR_SPAWN, ERR_TYPESET (with parsed log diagnostics), ERR_CONVERT,
// ERR_ENCODING or ERR_TIMEOUT. Compile never mutates shared state; the
// workspace is removed before it returns.
func (c *Compiler) Compile(ctx context.Context, req RenderRequest, preamble string) (string, error) {
	document := BuildDocument(req.Tex, req.DisplayMode, preamble)
	stem := SanitizeID(req.ID)

	workspace, err := os.MkdirTemp(c.config.TempDir, WorkspacePattern)
	if err != nil {
		return "", errors.NewRenderError(errors.ErrCodeWorkspace, "could not create render workspace", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			c.logger.Warn(ctx, err, "Failed to remove render workspace", "workspace", workspace)
		}
	}()

	texPath := filepath.Join(workspace, stem+".tex")
	if err := os.WriteFile(texPath, []byte(document), 0o600); err != nil {
		return "", errors.NewRenderError(errors.ErrCodeWorkspace, "could not write LaTeX source", err)
	}

	_, _, err = c.run(ctx, workspace, "latex", c.config.LatexCommand,
		"-interaction=nonstopmode",
		"-output-directory", workspace,
		texPath,
	)
	if err != nil {
		if !stderrors.Is(err, errToolExit) {
			return "", err
		}
		return "", c.typesetError(workspace, stem, req, preamble)
	}

	dviPath := filepath.Join(workspace, stem+".dvi")
	stdout, stderr, err := c.run(ctx, workspace, "dvisvgm", c.config.DvisvgmCommand,
		"--zoom="+strconv.FormatFloat(c.config.Zoom, 'f', -1, 64),
		"--exact-bbox",
		"--stdout",
		dviPath,
	)
	if err != nil {
		if !stderrors.Is(err, errToolExit) {
			return "", err
		}
		msg := "dvisvgm conversion failed: " + strings.ToValidUTF8(string(stderr), "\uFFFD")
		return "", errors.NewRenderError(errors.ErrCodeConvert, msg, nil)
	}

	if !utf8.Valid(stdout) {
		return "", errors.NewRenderError(errors.ErrCodeEncoding, "dvisvgm produced invalid UTF-8 output", nil)
	}
	return string(stdout), nil
}

// run executes one toolchain step. A non-zero exit is reported as
// errToolExit for the caller to translate; spawn failures and timeouts carry
// their final codes.
func (c *Compiler) run(ctx context.Context, dir, tool, command string, args ...string) ([]byte, []byte, error) {
	// Renders run to completion once started unless a timeout is configured.
	runCtx := context.WithoutCancel(ctx)
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, c.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = dir
	setProcessGroup(cmd)
	if c.config.Timeout > 0 {
		cmd.Cancel = func() error {
			killProcessGroup(cmd.Process.Pid)
			return nil
		}
		cmd.WaitDelay = 2 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug(ctx, "Toolchain step finished", "tool", tool, "elapsed", time.Since(start), "ok", err == nil)

	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), nil
	}

	if stderrors.Is(runCtx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("`%s` timed out after %s", tool, c.config.Timeout)
		return nil, nil, errors.NewRenderError(errors.ErrCodeTimeout, msg, nil)
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s: %w: %w", tool, errToolExit, exitErr)
	}

	msg := fmt.Sprintf("`%s` command failed: %v", tool, err)
	return nil, nil, errors.NewRenderError(errors.ErrCodeSpawn, msg, nil)
}

func (c *Compiler) typesetError(workspace, stem string, req RenderRequest, preamble string) error {
	log := missingLogPlaceholder
	if raw, err := os.ReadFile(filepath.Join(workspace, stem+".log")); err == nil {
		log = strings.ToValidUTF8(string(raw), "\uFFFD")
	}

	diags := c.parser.Parse(log)
	for _, d := range diags {
		d.SnippetLine = SnippetLine(d.Line, req.Tex, preamble)
	}

	return errors.NewRenderError(errors.ErrCodeTypeset, "LaTeX compilation failed. See log:\n\n"+log, nil).
		WithDiagnostics(diags)
}

// SanitizeID maps an arbitrary render id onto a file stem made only of
// ASCII letters, digits, '-' and '_'. Isolation between renders comes from
// the per-call workspace, not from the stem.
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if b.Len() >= maxStemLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "input"
	}
	return b.String()
}
