package errors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one error extracted from a TeX log.
type Diagnostic struct {
	// Line is the line in the generated .tex document, 0 if unknown.
	Line int `json:"line"`
	// SnippetLine is Line translated into the user's snippet, 0 if the error
	// is outside the snippet (for example in the preamble).
	SnippetLine int      `json:"snippet_line,omitempty"`
	Message     string   `json:"message"`
	Suggestion  string   `json:"suggestion,omitempty"`
	Context     []string `json:"context,omitempty"`
}

// String renders the diagnostic the way TeX users expect to read it.
func (d *Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("l.%d: %s", d.Line, d.Message)
	}
	return d.Message
}

type texPattern struct {
	regex      *regexp.Regexp
	suggestion string
}

// TeXLogParser extracts "! ..." error blocks from a TeX log.
type TeXLogParser struct {
	patterns   []texPattern
	lineMarker *regexp.Regexp
	// maxScan bounds how far below a "!" line we look for its "l.<n>" marker.
	maxScan int
}

// NewTeXLogParser creates a new parser.
func NewTeXLogParser() *TeXLogParser {
	return &TeXLogParser{
		patterns:   buildTeXPatterns(),
		lineMarker: regexp.MustCompile(`^l\.(\d+)\s?(.*)$`),
		maxScan:    12,
	}
}

// Parse returns the diagnostics found in log, in order of appearance.
// Trailing "Emergency stop" and "Fatal error" lines are consequences of an
// earlier error and are dropped unless they are the only thing reported.
func (p *TeXLogParser) Parse(log string) []*Diagnostic {
	lines := strings.Split(strings.ReplaceAll(log, "\r\n", "\n"), "\n")

	var diags, fallout []*Diagnostic
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " ")
		if !strings.HasPrefix(line, "! ") {
			continue
		}

		d := &Diagnostic{Message: strings.TrimSpace(strings.TrimPrefix(line, "! "))}
		d.Suggestion = p.suggest(d.Message)

		end := min(len(lines), i+1+p.maxScan)
		for j := i + 1; j < end; j++ {
			if strings.HasPrefix(lines[j], "! ") {
				break
			}
			if m := p.lineMarker.FindStringSubmatch(lines[j]); m != nil {
				d.Line, _ = strconv.Atoi(m[1])
				d.Context = contextAround(lines, j)
				break
			}
		}

		if isFallout(d.Message) {
			fallout = append(fallout, d)
			continue
		}
		diags = append(diags, d)
	}

	if len(diags) == 0 {
		return fallout
	}
	return diags
}

func (p *TeXLogParser) suggest(message string) string {
	for _, pattern := range p.patterns {
		if pattern.regex.MatchString(message) {
			return pattern.suggestion
		}
	}
	return ""
}

func isFallout(message string) bool {
	return strings.HasPrefix(message, "Emergency stop") ||
		strings.HasPrefix(message, "==> Fatal error")
}

// contextAround returns the l.<n> line and the continuation line TeX prints
// beneath it (the part of the input line not yet read).
func contextAround(lines []string, index int) []string {
	context := []string{"→ " + lines[index]}
	if index+1 < len(lines) && strings.TrimSpace(lines[index+1]) != "" {
		context = append(context, "  "+lines[index+1])
	}
	return context
}

func buildTeXPatterns() []texPattern {
	return []texPattern{
		{
			regex:      regexp.MustCompile(`^Undefined control sequence`),
			suggestion: "Check the macro name, or add the package that defines it to preamble.tex",
		},
		{
			regex:      regexp.MustCompile(`^Missing \$ inserted`),
			suggestion: "A math-only command is outside math mode; display snippets must carry their own delimiters",
		},
		{
			regex:      regexp.MustCompile(`^(Missing [{}] inserted|Extra \}|Too many \}'s|Runaway argument|File ended while scanning)`),
			suggestion: "Check for unbalanced braces",
		},
		{
			regex:      regexp.MustCompile(`^LaTeX Error: File .+ not found`),
			suggestion: "Install the package with your TeX distribution or remove it from preamble.tex",
		},
		{
			regex:      regexp.MustCompile(`^LaTeX Error: Environment .+ undefined`),
			suggestion: "Add the package that defines this environment to preamble.tex",
		},
		{
			regex:      regexp.MustCompile(`^(Double superscript|Double subscript)`),
			suggestion: "Group the exponent or index with braces, e.g. x^{a^b}",
		},
		{
			regex:      regexp.MustCompile(`^Display math should end with \$\$`),
			suggestion: "Close display math with the same delimiter used to open it",
		},
	}
}

// FormatDiagnostics renders diagnostics one per line for plain-text output.
func FormatDiagnostics(diags []*Diagnostic) string {
	var b strings.Builder
	for _, d := range diags {
		b.WriteString(d.String())
		if d.Suggestion != "" {
			b.WriteString("\n  hint: ")
			b.WriteString(d.Suggestion)
		}
		b.WriteString("\n")
	}
	return b.String()
}
