package markdown

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const note = "# Notes\n\nSome *text*.\n\n```sage\nx = 2\n\nprint(x^2)\n```\n\n```go\nfmt.Println(1)\n```\n\n```sage\nfactor(91)\n```\n"

func TestRenderRoutesRegisteredBlocks(t *testing.T) {
	p := NewProcessor()
	var sources []string
	p.RegisterCodeBlock("sage", func(_ context.Context, source string, target *goquery.Selection) error {
		sources = append(sources, source)
		target.AppendHtml(`<p class="out">ran</p>`)
		return nil
	})

	doc, err := p.Render(context.Background(), []byte(note))
	require.NoError(t, err)

	assert.Equal(t, []string{"x = 2\nprint(x^2)", "factor(91)"}, sources)
	assert.Equal(t, 2, doc.Blocks())
	assert.Empty(t, doc.Errors())

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, `<h1 id="notes">Notes</h1>`)
	assert.Contains(t, out, `class="language-go"`, "unregistered fences are left alone")
	assert.NotContains(t, out, `class="language-sage"`)
	assert.Equal(t, 2, strings.Count(out, `<p class="out">ran</p>`))
	assert.Contains(t, out, "<style>")
}

func TestRenderHighlightsSource(t *testing.T) {
	p := NewProcessor()
	p.RegisterCodeBlock("sage", func(context.Context, string, *goquery.Selection) error { return nil })

	doc, err := p.Render(context.Background(), []byte("```sage\ndef f(x):\n    return x\n```\n"))
	require.NoError(t, err)

	body, err := doc.Body()
	require.NoError(t, err)
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)

	block := parsed.Find("div.sagecell-block")
	require.Equal(t, 1, block.Length())
	lang, _ := block.Attr("data-lang")
	assert.Equal(t, "sage", lang)
	assert.Equal(t, 1, block.Find("pre.chroma").Length())
	assert.Contains(t, block.Text(), "def f(x):")
	assert.Greater(t, block.Find("span").Length(), 0, "python lexer emits token spans")
}

func TestRenderKeepsGoingAfterHandlerError(t *testing.T) {
	p := NewProcessor()
	calls := 0
	p.RegisterCodeBlock("SAGE", func(context.Context, string, *goquery.Selection) error {
		calls++
		return errors.New("kernel unavailable")
	})

	doc, err := p.Render(context.Background(), []byte(note))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, doc.Errors(), 2)
}

func TestRenderStopsOnCancelledContext(t *testing.T) {
	p := NewProcessor()
	calls := 0
	p.RegisterCodeBlock("sage", func(context.Context, string, *goquery.Selection) error {
		calls++
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc, err := p.Render(ctx, []byte(note))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, doc)
	assert.Equal(t, 0, calls)
}

func TestDropBlankRows(t *testing.T) {
	assert.Equal(t, "a\nb", dropBlankRows("\na\n\n\nb\n"))
	assert.Equal(t, "", dropBlankRows("\n\n"))
}

func TestHighlighterFallsBackForUnknownLanguage(t *testing.T) {
	h := NewHighlighter("no-such-style")
	out := h.Highlight("<b>", "definitely-not-a-language")
	assert.NotContains(t, out, "<b>")
	assert.NotEmpty(t, h.CSS())
}

func TestHandlerSeesDocument(t *testing.T) {
	p := NewProcessor()
	var seen *Document
	p.RegisterCodeBlock("sage", func(ctx context.Context, _ string, _ *goquery.Selection) error {
		seen, _ = DocumentFrom(ctx)
		return nil
	})
	doc, err := p.Render(context.Background(), []byte("```sage\n1\n```\n"))
	require.NoError(t, err)
	assert.Same(t, doc, seen)

	_, ok := DocumentFrom(context.Background())
	assert.False(t, ok)
}
