package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/glimpse/internal/ingress"
	"github.com/conneroisu/glimpse/internal/preamble"
)

// resetFlags restores every flag to its default so one test's flags do not
// leak into the next Execute.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI in a fresh working directory with a private config
// directory and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	viper.Reset()
	cfgFile = ""
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// isolate gives the test its own working and preamble directories.
func isolate(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	t.Setenv("GLIMPSE_PREAMBLE_CONFIG_DIR", dir)
	return dir
}

func portOf(t *testing.T, addr string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	return port
}

func TestVersionCommand(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, "", "version", "--short")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	out, _, err = execute(t, "", "version", "--format", "json")
	require.NoError(t, err)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	_, _, err = execute(t, "", "version", "--format", "xml")
	assert.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	isolate(t)
	t.Setenv("GLIMPSE_RENDER_WORKERS", "3")

	out, _, err := execute(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "workers: 3")
	assert.Contains(t, out, "latex_command: latex")

	out, _, err = execute(t, "", "config", "show", "--format", "json")
	require.NoError(t, err)
	var cfg struct {
		Render struct {
			Workers int `json:"workers"`
		} `json:"render"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 3, cfg.Render.Workers)
}

func TestConfigFileInWorkingDirectory(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".glimpse.yml", []byte("ingress:\n  port: 43000\n"), 0o644))

	out, _, err := execute(t, "", "config", "show", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"port": 43000`)
}

func TestConfigValidate(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, "", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	t.Setenv("GLIMPSE_INGRESS_HOST", "example.com")
	out, _, err = execute(t, "", "config", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "ingress.host")
}

func TestPreamblePathAndShow(t *testing.T) {
	dir := isolate(t)

	out, _, err := execute(t, "", "preamble", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, preamble.FileName)+"\n", out)

	out, _, err = execute(t, "", "preamble", "show")
	require.NoError(t, err)
	assert.Equal(t, preamble.DefaultPreamble, out)

	require.NoError(t, os.WriteFile(filepath.Join(dir, preamble.FileName), []byte("\\usepackage{tikz}\n"), 0o644))
	out, _, err = execute(t, "", "preamble", "show")
	require.NoError(t, err)
	assert.Equal(t, "\\usepackage{tikz}\n", out)
}

func TestPreambleReloadCommand(t *testing.T) {
	isolate(t)

	var calls int
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPost && r.URL.Path == "/api/preamble/reload" {
			calls++
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	port := portOf(t, strings.TrimPrefix(ts.URL, "http://"))
	out, _, err := execute(t, "", "preamble", "reload", "--server-port", port)
	require.NoError(t, err)
	assert.Contains(t, out, "Preamble reloaded")
	assert.Equal(t, 1, calls)
}

func TestNotifyCommand(t *testing.T) {
	isolate(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	out, _, err := execute(t, "", "notify", "7", "--notifier-port", portOf(t, ln.Addr().String()))
	require.NoError(t, err)
	assert.Contains(t, out, "Sent line 7")
	assert.Equal(t, "{\"line\": 7}\n", string(<-received))

	_, _, err = execute(t, "", "notify", "4294967296")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid line number")
}

type recordingEmitter struct {
	mu       sync.Mutex
	payloads []interface{}
}

func (r *recordingEmitter) Emit(_ string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestPushCommand(t *testing.T) {
	isolate(t)

	bus := &recordingEmitter{}
	srv := ingress.New(ingress.Config{Addr: "127.0.0.1:0"}, bus, nil, nil)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown(context.Background())

	require.NoError(t, os.WriteFile("notes.md", []byte("# Title\n$x$\n"), 0o644))

	out, _, err := execute(t, "", "push", "notes.md", "--line", "2", "--ingress-port", portOf(t, srv.Addr()))
	require.NoError(t, err)
	assert.Contains(t, out, "Pushed notes.md")

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.payloads, 1)
	assert.Equal(t, ingress.UpdatePayload{Content: "# Title\n$x$\n", CursorLine: 2, FileName: "notes.md"}, bus.payloads[0])
}

func TestPushCommandNoBridge(t *testing.T) {
	isolate(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := portOf(t, ln.Addr().String())
	require.NoError(t, ln.Close())

	_, _, err = execute(t, "content", "push", "-", "--ingress-port", port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "glimpse serve")
}

func fakeToolchain(t *testing.T) (latex, dvisvgm string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain uses POSIX shell scripts")
	}
	dir := t.TempDir()

	latex = filepath.Join(dir, "latex")
	require.NoError(t, os.WriteFile(latex, []byte(`#!/bin/sh
out="$3"
tex="$4"
stem=$(basename "$tex" .tex)
if grep -q fracc "$tex"; then
  printf '! Undefined control sequence.\nl.8 \\fracc\n' > "$out/$stem.log"
  exit 1
fi
echo dvi > "$out/$stem.dvi"
`), 0o755))

	dvisvgm = filepath.Join(dir, "dvisvgm")
	require.NoError(t, os.WriteFile(dvisvgm, []byte("#!/bin/sh\nprintf '<svg/>'\n"), 0o755))
	return latex, dvisvgm
}

func TestRenderCommand(t *testing.T) {
	isolate(t)
	latex, dvisvgm := fakeToolchain(t)
	t.Setenv("GLIMPSE_RENDER_LATEX_COMMAND", latex)
	t.Setenv("GLIMPSE_RENDER_DVISVGM_COMMAND", dvisvgm)

	out, _, err := execute(t, "", "render", "$x^2$")
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", out)

	out, stderr, err := execute(t, "$a+b$\n", "render", "-", "-o", "a.svg")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, stderr, "Wrote a.svg")
	data, err := os.ReadFile("a.svg")
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))

	_, stderr, err = execute(t, "", "render", `$\fracc{1}{2}$`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LaTeX compilation failed")
	assert.Contains(t, stderr, "Undefined control sequence.")
}

func TestDoctorJSON(t *testing.T) {
	isolate(t)
	t.Setenv("GLIMPSE_RENDER_LATEX_COMMAND", "glimpse-missing-latex")

	out, _, err := execute(t, "", "doctor", "--format", "json")
	require.NoError(t, err)

	var report DoctorReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.GreaterOrEqual(t, report.Summary.Errors, 1)
	assert.Equal(t, len(report.Results), report.Summary.Total)

	var latex *DiagnosticResult
	for i := range report.Results {
		if report.Results[i].Name == "LaTeX" {
			latex = &report.Results[i]
		}
	}
	require.NotNil(t, latex)
	assert.Equal(t, statusError, latex.Status)
	assert.Contains(t, latex.Message, "glimpse-missing-latex not found")
}

func TestDoctorTableFailsOnErrors(t *testing.T) {
	isolate(t)
	t.Setenv("GLIMPSE_RENDER_LATEX_COMMAND", "glimpse-missing-latex")

	out, _, err := execute(t, "", "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "Glimpse Doctor")
	assert.Contains(t, out, "Total Checks:")
}

func TestCheckListenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	result := checkListenPort("Update ingress", ln.Addr().String(), "ingress.port")
	assert.Equal(t, statusWarning, result.Status)
	assert.Contains(t, result.Suggestion, "ingress.port")

	result = checkListenPort("Update ingress", "127.0.0.1:0", "ingress.port")
	assert.Equal(t, statusOK, result.Status)
}

func TestCalculateSummary(t *testing.T) {
	summary := calculateSummary([]DiagnosticResult{
		{Status: statusOK}, {Status: statusOK}, {Status: statusWarning},
		{Status: statusError}, {Status: statusInfo},
	})
	assert.Equal(t, ReportSummary{Total: 5, OK: 2, Warnings: 1, Errors: 1, Info: 1}, summary)
}

func TestFlagBindingsFollowRunningCommand(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "", "config", "show")
	require.NoError(t, err)
	assert.Equal(t, 42069, viper.GetInt("ingress.port"))

	require.NoError(t, pushCmd.Flags().Set("ingress-port", strconv.Itoa(43001)))
	require.NoError(t, applyFlagBindings(pushCmd, nil))
	assert.Equal(t, 43001, viper.GetInt("ingress.port"))
}
