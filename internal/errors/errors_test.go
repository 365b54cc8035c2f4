package errors

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlimpseErrorMessage(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		err := NewRenderError(ErrCodeConvert, "dvisvgm conversion failed: bad dvi", nil)
		assert.Equal(t, "dvisvgm conversion failed: bad dvi", err.Error())
	})

	t.Run("message with cause", func(t *testing.T) {
		err := NewRenderError(ErrCodeSpawn, "`latex` command failed", os.ErrNotExist)
		assert.Equal(t, "`latex` command failed: file does not exist", err.Error())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestGlimpseErrorIs(t *testing.T) {
	err := fmt.Errorf("render: %w", NewRenderError(ErrCodeTypeset, "LaTeX compilation failed", nil))

	assert.ErrorIs(t, err, &GlimpseError{Type: ErrorTypeRender, Code: ErrCodeTypeset})
	assert.NotErrorIs(t, err, &GlimpseError{Type: ErrorTypeRender, Code: ErrCodeConvert})
}

func TestClassification(t *testing.T) {
	renderErr := NewRenderError(ErrCodeEncoding, "invalid utf-8", nil)
	configErr := NewConfigError(ErrCodeConfigDir, "no config dir", nil)

	assert.True(t, IsRenderError(renderErr))
	assert.False(t, IsRenderError(configErr))
	assert.True(t, IsRecoverable(renderErr))
	assert.False(t, IsRecoverable(configErr))
	assert.False(t, IsRenderError(errors.New("plain")))

	assert.Equal(t, ErrCodeEncoding, CodeOf(fmt.Errorf("wrapped: %w", renderErr)))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeIO, "X", "nothing"))

	inner := NewRenderError(ErrCodeTypeset, "typeset", nil).
		WithContext("id", "eq-1").
		WithDiagnostics([]*Diagnostic{{Line: 3, Message: "Undefined control sequence."}})

	outer := WrapInternal(inner, "ERR_OUTER", "outer")
	require.NotNil(t, outer)
	assert.False(t, outer.Recoverable)
	assert.Equal(t, "eq-1", GetErrorContext(outer)["id"])
	assert.Len(t, DiagnosticsOf(outer), 1)

	io := WrapIO(errors.New("disk"), "ERR_IO", "write failed")
	assert.Equal(t, ErrorTypeIO, io.Type)
	assert.Equal(t, "write failed: disk", io.Error())
}

const undefinedControlSequenceLog = `This is pdfTeX, Version 3.141592653-2.6-1.40.25 (TeX Live 2023) (preloaded format=latex)
 restricted \write18 enabled.
entering extended mode
(./eq.tex
LaTeX2e <2022-11-01> patch level 1
(/usr/share/texlive/texmf-dist/tex/latex/standalone/standalone.cls
Document Class: standalone 2022/10/10 v1.3b Class to compile TeX sub-files standalone
)
! Undefined control sequence.
l.11 $\fracc
            {1}{2}$
The control sequence at the end of the top line
of your error message was never \def'ed.

[1] (./eq.aux) )
Output written on eq.dvi (1 page, 312 bytes).
`

const unbalancedBraceLog = `(./eq.tex
! Missing } inserted.
<inserted text>
                }
l.12 \end{document}

! Emergency stop.
<*> /tmp/glimpse-render-1/eq.tex

*** (job aborted, no legal \end found)
`

func TestTeXLogParserUndefinedControlSequence(t *testing.T) {
	diags := NewTeXLogParser().Parse(undefinedControlSequenceLog)
	require.Len(t, diags, 1)

	d := diags[0]
	assert.Equal(t, 11, d.Line)
	assert.Equal(t, "Undefined control sequence.", d.Message)
	assert.Contains(t, d.Suggestion, "macro name")
	require.NotEmpty(t, d.Context)
	assert.Contains(t, d.Context[0], `l.11 $\fracc`)
	assert.Equal(t, `l.11: Undefined control sequence.`, d.String())
}

func TestTeXLogParserDropsFallout(t *testing.T) {
	diags := NewTeXLogParser().Parse(unbalancedBraceLog)
	require.Len(t, diags, 1)
	assert.Equal(t, "Missing } inserted.", diags[0].Message)
	assert.Equal(t, 12, diags[0].Line)
	assert.Equal(t, "Check for unbalanced braces", diags[0].Suggestion)
}

func TestTeXLogParserOnlyFallout(t *testing.T) {
	diags := NewTeXLogParser().Parse("! Emergency stop.\n<*> eq.tex\n")
	require.Len(t, diags, 1)
	assert.Equal(t, "Emergency stop.", diags[0].Message)
	assert.Zero(t, diags[0].Line)
}

func TestTeXLogParserNoErrors(t *testing.T) {
	assert.Empty(t, NewTeXLogParser().Parse("Output written on eq.dvi (1 page).\n"))
	assert.Empty(t, NewTeXLogParser().Parse(""))
}

func TestTeXLogParserMissingPackage(t *testing.T) {
	log := "! LaTeX Error: File `fouriernc.sty' not found.\n\nType X to quit or <RETURN> to proceed,\nl.5 \\begin\n"
	diags := NewTeXLogParser().Parse(log)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Suggestion, "Install the package")
	assert.Equal(t, 5, diags[0].Line)
}

func TestFormatDiagnostics(t *testing.T) {
	out := FormatDiagnostics([]*Diagnostic{
		{Line: 4, Message: "Missing $ inserted.", Suggestion: "use math mode"},
		{Message: "Emergency stop."},
	})
	assert.Equal(t, "l.4: Missing $ inserted.\n  hint: use math mode\nEmergency stop.\n", out)
}
