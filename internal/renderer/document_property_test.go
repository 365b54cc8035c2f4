//go:build property
// +build property

package renderer

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDocumentProperties checks document assembly for arbitrary snippets
func TestDocumentProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("document frames preamble and body", prop.ForAll(
		func(tex, preamble string, display bool) bool {
			doc := BuildDocument(tex, display, preamble)

			return strings.HasPrefix(doc, documentClass+"\n"+inputEncoding+"\n") &&
				strings.HasSuffix(doc, "\\begin{document}\n"+DocumentBody(tex, display)+"\n\\end{document}\n") &&
				strings.Contains(doc, "% --- Preamble below ---\n"+preamble+"\n% --- Input below ---\n")
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.Bool(),
	))

	properties.Property("inline body is dollar wrapped", prop.ForAll(
		func(tex string) bool {
			body := DocumentBody(tex, false)
			return body == "$"+tex+"$" && DocumentBody(tex, true) == tex
		},
		gen.AnyString(),
	))

	properties.Property("sanitized ids are safe file stems", prop.ForAll(
		func(id string) bool {
			stem := SanitizeID(id)
			if stem == "" || len(stem) > maxStemLength {
				return false
			}
			for _, r := range stem {
				safe := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
				if !safe {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.Property("cache key ignores id", prop.ForAll(
		func(a, b, tex string, display bool) bool {
			return CacheKey("p", RenderRequest{ID: a, Tex: tex, DisplayMode: display}) ==
				CacheKey("p", RenderRequest{ID: b, Tex: tex, DisplayMode: display})
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AnyString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
