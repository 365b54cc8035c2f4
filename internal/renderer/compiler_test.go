package renderer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/glimpse/internal/errors"
)

// fakeToolchain writes shell scripts standing in for latex and dvisvgm.
type fakeToolchain struct {
	dir     string
	capture string
}

func newFakeToolchain(t *testing.T) *fakeToolchain {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain uses POSIX shell scripts")
	}
	dir := t.TempDir()
	return &fakeToolchain{dir: dir, capture: filepath.Join(dir, "captured.tex")}
}

func (f *fakeToolchain) script(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// okLatex copies the document aside and produces a dvi next to it.
func (f *fakeToolchain) okLatex(t *testing.T) string {
	return f.script(t, "latex", `
out="$3"
tex="$4"
stem=$(basename "$tex" .tex)
cp "$tex" "`+f.capture+`"
echo dvi > "$out/$stem.dvi"
`)
}

// okDvisvgm echoes its arguments into an svg element.
func (f *fakeToolchain) okDvisvgm(t *testing.T) string {
	return f.script(t, "dvisvgm", `
test -f "$4" || { echo "missing $4" >&2; exit 1; }
printf '<svg data-args="%s"/>' "$*"
`)
}

func (f *fakeToolchain) compiler(t *testing.T, latex, dvisvgm string, timeout time.Duration) (*Compiler, string) {
	t.Helper()
	workRoot := t.TempDir()
	return NewCompiler(CompilerConfig{
		LatexCommand:   latex,
		DvisvgmCommand: dvisvgm,
		Timeout:        timeout,
		TempDir:        workRoot,
	}, nil), workRoot
}

func assertWorkspaceRemoved(t *testing.T, workRoot string) {
	t.Helper()
	entries, err := os.ReadDir(workRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "render workspace left behind")
}

func TestCompileSuccess(t *testing.T) {
	f := newFakeToolchain(t)
	c, workRoot := f.compiler(t, f.okLatex(t), f.okDvisvgm(t), 0)

	svg, err := c.Compile(context.Background(), RenderRequest{ID: "eq-1", Tex: "x^2"}, `\usepackage{bm}`)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(svg, "<svg"))
	assert.Contains(t, svg, "--zoom=1.1 --exact-bbox --stdout ")
	assert.Contains(t, svg, "eq-1.dvi")

	doc, err := os.ReadFile(f.capture)
	require.NoError(t, err)
	assert.Equal(t, BuildDocument("x^2", false, `\usepackage{bm}`), string(doc))

	assertWorkspaceRemoved(t, workRoot)
}

func TestCompileUnsafeIDStaysInWorkspace(t *testing.T) {
	f := newFakeToolchain(t)
	c, workRoot := f.compiler(t, f.okLatex(t), f.okDvisvgm(t), 0)

	svg, err := c.Compile(context.Background(), RenderRequest{ID: "../escape", Tex: "y"}, "")
	require.NoError(t, err)
	assert.Contains(t, svg, "___escape.dvi")
	assertWorkspaceRemoved(t, workRoot)
}

func TestCompileTypesetFailure(t *testing.T) {
	f := newFakeToolchain(t)
	latex := f.script(t, "latex", `
out="$3"
stem=$(basename "$4" .tex)
printf '! Undefined control sequence.\nl.7 $\\foo\n              $\n' > "$out/$stem.log"
exit 1
`)
	c, workRoot := f.compiler(t, latex, f.okDvisvgm(t), 0)

	_, err := c.Compile(context.Background(), RenderRequest{ID: "bad", Tex: `\foo`}, "P")
	require.Error(t, err)

	assert.Equal(t, errors.ErrCodeTypeset, errors.CodeOf(err))
	assert.True(t, errors.IsRenderError(err))
	assert.True(t, strings.HasPrefix(err.Error(), "LaTeX compilation failed. See log:\n\n! Undefined control sequence."))

	diags := errors.DiagnosticsOf(err)
	require.Len(t, diags, 1)
	assert.Equal(t, 7, diags[0].Line)
	assert.Equal(t, 1, diags[0].SnippetLine)
	assert.Contains(t, diags[0].Suggestion, "macro name")

	assertWorkspaceRemoved(t, workRoot)
}

func TestCompileTypesetFailureWithoutLog(t *testing.T) {
	f := newFakeToolchain(t)
	latex := f.script(t, "latex", "exit 1\n")
	c, workRoot := f.compiler(t, latex, f.okDvisvgm(t), 0)

	_, err := c.Compile(context.Background(), RenderRequest{ID: "x", Tex: "x"}, "")
	require.Error(t, err)
	assert.Equal(t, "LaTeX compilation failed. See log:\n\nCould not read LaTeX log.", err.Error())
	assertWorkspaceRemoved(t, workRoot)
}

func TestCompileConversionFailure(t *testing.T) {
	f := newFakeToolchain(t)
	dvisvgm := f.script(t, "dvisvgm", "echo 'ERROR: DVI file is corrupted' >&2\nexit 1\n")
	c, workRoot := f.compiler(t, f.okLatex(t), dvisvgm, 0)

	_, err := c.Compile(context.Background(), RenderRequest{ID: "x", Tex: "x"}, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConvert, errors.CodeOf(err))
	assert.Equal(t, "dvisvgm conversion failed: ERROR: DVI file is corrupted\n", err.Error())
	assertWorkspaceRemoved(t, workRoot)
}

func TestCompileInvalidUTF8(t *testing.T) {
	f := newFakeToolchain(t)
	dvisvgm := f.script(t, "dvisvgm", `printf '<svg>\377\376</svg>'`+"\n")
	c, workRoot := f.compiler(t, f.okLatex(t), dvisvgm, 0)

	_, err := c.Compile(context.Background(), RenderRequest{ID: "x", Tex: "x"}, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEncoding, errors.CodeOf(err))
	assertWorkspaceRemoved(t, workRoot)
}

func TestCompileSpawnFailure(t *testing.T) {
	f := newFakeToolchain(t)
	missing := filepath.Join(f.dir, "no-such-latex")

	c, workRoot := f.compiler(t, missing, f.okDvisvgm(t), 0)
	_, err := c.Compile(context.Background(), RenderRequest{ID: "x", Tex: "x"}, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSpawn, errors.CodeOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "`latex` command failed: "))
	assertWorkspaceRemoved(t, workRoot)

	c, _ = f.compiler(t, f.okLatex(t), filepath.Join(f.dir, "no-such-dvisvgm"), 0)
	_, err = c.Compile(context.Background(), RenderRequest{ID: "x", Tex: "x"}, "")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "`dvisvgm` command failed: "))
}

func TestCompileConcurrentSameID(t *testing.T) {
	f := newFakeToolchain(t)
	latex := f.script(t, "latex", `
out="$3"
tex="$4"
stem=$(basename "$tex" .tex)
sleep 0.1
grep -o 'SNIP[0-9]*' "$tex" > "$out/$stem.dvi"
`)
	dvisvgm := f.script(t, "dvisvgm", `printf '<svg>%s</svg>' "$(cat "$4")"`+"\n")
	c, workRoot := f.compiler(t, latex, dvisvgm, 0)

	const n = 8
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tex := "SNIP" + strings.Repeat("1", i+1)
			results[i], errs[i] = c.Compile(context.Background(), RenderRequest{ID: "same", Tex: tex, DisplayMode: true}, "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "<svg>SNIP"+strings.Repeat("1", i+1)+"</svg>", results[i])
	}
	assertWorkspaceRemoved(t, workRoot)
}

func TestRunReportsToolExit(t *testing.T) {
	f := newFakeToolchain(t)
	failing := f.script(t, "dvisvgm", "exit 3\n")
	c, _ := f.compiler(t, f.okLatex(t), failing, 0)

	_, _, err := c.run(context.Background(), t.TempDir(), "dvisvgm", failing)
	require.Error(t, err)
	assert.ErrorIs(t, err, errToolExit)
	assert.Empty(t, errors.CodeOf(err))

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestCompileWaitsForLingeringChildWithoutTimeout(t *testing.T) {
	f := newFakeToolchain(t)
	latex := f.script(t, "latex", `
out="$3"
stem=$(basename "$4" .tex)
echo dvi > "$out/$stem.dvi"
sleep 3 &
`)
	c, workRoot := f.compiler(t, latex, f.okDvisvgm(t), 0)

	svg, err := c.Compile(context.Background(), RenderRequest{ID: "bg", Tex: "x"}, "")
	require.NoError(t, err)
	assert.Contains(t, svg, "<svg")
	assertWorkspaceRemoved(t, workRoot)
}

func TestCompileTimeoutKillsProcessGroup(t *testing.T) {
	f := newFakeToolchain(t)
	latex := f.script(t, "latex", "sleep 30 &\nwait\n")
	c, workRoot := f.compiler(t, latex, f.okDvisvgm(t), 200*time.Millisecond)

	start := time.Now()
	_, err := c.Compile(context.Background(), RenderRequest{ID: "slow", Tex: "x"}, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTimeout, errors.CodeOf(err))
	assert.Less(t, time.Since(start), 10*time.Second)
	assertWorkspaceRemoved(t, workRoot)
}

func TestCompileCallerCancelDoesNotAbortRun(t *testing.T) {
	f := newFakeToolchain(t)
	latex := f.script(t, "latex", `
sleep 0.2
out="$3"
stem=$(basename "$4" .tex)
echo dvi > "$out/$stem.dvi"
`)
	c, _ := f.compiler(t, latex, f.okDvisvgm(t), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	svg, err := c.Compile(ctx, RenderRequest{ID: "x", Tex: "x"}, "")
	require.NoError(t, err)
	assert.Contains(t, svg, "<svg")
}

func TestCompileRealToolchain(t *testing.T) {
	if _, err := exec.LookPath("latex"); err != nil {
		t.Skip("latex not installed")
	}
	if _, err := exec.LookPath("dvisvgm"); err != nil {
		t.Skip("dvisvgm not installed")
	}

	c := NewCompiler(CompilerConfig{}, nil)
	ctx := context.Background()

	svg, err := c.Compile(ctx, RenderRequest{ID: "real", Tex: `x^2 + \alpha`}, "\\usepackage{amsmath}\n")
	require.NoError(t, err)
	assert.Contains(t, svg, "<svg")

	_, err = c.Compile(ctx, RenderRequest{ID: "broken", Tex: `\frac{1}{`}, "\\usepackage{amsmath}\n")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTypeset, errors.CodeOf(err))
	assert.NotContains(t, err.Error(), "Could not read LaTeX log.")
}
