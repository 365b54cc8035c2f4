// Package renderer turns LaTeX math snippets into SVG.
//
// A snippet is wrapped in a standalone document together with the current
// preamble, typeset with latex into DVI and converted to SVG by dvisvgm. Every
// call runs in its own temporary workspace which is removed on every exit
// path, so concurrent renders never share files.
package renderer

import "strings"

const (
	documentClass = `\documentclass[dvisvgm, preview, 12pt]{standalone}`
	inputEncoding = `\usepackage[utf8]{inputenc}`
)

// RenderRequest is one snippet to render.
type RenderRequest struct {
	// ID names the workspace files. It need not be unique.
	ID          string `json:"id"`
	Tex         string `json:"tex"`
	DisplayMode bool   `json:"displayMode"`
}

// DocumentBody returns what goes between \begin{document} and
// \end{document}: tex wrapped in $...$ for inline snippets, verbatim for
// display snippets, which carry their own delimiters.
func DocumentBody(tex string, displayMode bool) string {
	if displayMode {
		return tex
	}
	return "$" + tex + "$"
}

// BuildDocument assembles the complete LaTeX source for a snippet. The
// markup is not validated or escaped.
func BuildDocument(tex string, displayMode bool, preamble string) string {
	var b strings.Builder
	b.Grow(len(documentClass) + len(inputEncoding) + len(preamble) + len(tex) + 64)

	b.WriteString(documentClass)
	b.WriteByte('\n')
	b.WriteString(inputEncoding)
	b.WriteByte('\n')
	b.WriteString("% --- Preamble below ---\n")
	b.WriteString(preamble)
	b.WriteByte('\n')
	b.WriteString("% --- Input below ---\n")
	b.WriteString(`\begin{document}`)
	b.WriteByte('\n')
	b.WriteString(DocumentBody(tex, displayMode))
	b.WriteByte('\n')
	b.WriteString(`\end{document}`)
	b.WriteByte('\n')

	return b.String()
}

// SnippetLine maps a line number in the document built by BuildDocument back
// to a 1-based line in tex. It returns 0 when the line lies outside the
// snippet.
func SnippetLine(docLine int, tex, preamble string) int {
	// class, inputenc, marker, preamble lines, marker, \begin{document}
	first := 3 + strings.Count(preamble, "\n") + 1 + 2 + 1
	last := first + strings.Count(tex, "\n")
	if docLine < first || docLine > last {
		return 0
	}
	return docLine - first + 1
}
