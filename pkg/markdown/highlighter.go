package markdown

import (
	"bytes"
	"html"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

const defaultStyle = "github"

// lexerAliases maps fence languages chroma has no lexer for.
var lexerAliases = map[string]string{
	"sage": "python",
}

// Highlighter renders code to class-annotated HTML.
type Highlighter struct {
	style     *chroma.Style
	formatter *chromahtml.Formatter
}

// NewHighlighter returns a highlighter using the named chroma style.
func NewHighlighter(style string) *Highlighter {
	s := styles.Get(style)
	if s == nil {
		s = styles.Fallback
	}
	return &Highlighter{
		style:     s,
		formatter: chromahtml.New(chromahtml.WithClasses(true)),
	}
}

// Highlight returns code as a highlighted <pre> block. Unknown languages and
// tokenizer failures fall back to escaped plain text.
func (h *Highlighter) Highlight(code, language string) string {
	lexer := lexerFor(language, code)
	iter, err := lexer.Tokenise(nil, code)
	if err != nil {
		return plainBlock(code)
	}
	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, h.style, iter); err != nil {
		return plainBlock(code)
	}
	return buf.String()
}

// CSS returns the stylesheet for the highlighter classes.
func (h *Highlighter) CSS() string {
	var buf bytes.Buffer
	if err := h.formatter.WriteCSS(&buf, h.style); err != nil {
		return ""
	}
	return buf.String()
}

func lexerFor(language, code string) chroma.Lexer {
	language = strings.ToLower(strings.TrimSpace(language))
	if alias, ok := lexerAliases[language]; ok {
		language = alias
	}
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

func plainBlock(code string) string {
	return `<pre class="chroma">` + html.EscapeString(code) + `</pre>`
}
