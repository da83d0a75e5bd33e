// Package markdown renders notes to HTML and hands fenced code blocks of
// registered languages to block handlers, which fill in their output.
package markdown

import (
	"bytes"
	"context"
	"html"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

// BlockClass marks the wrapper that replaces a registered code block.
const BlockClass = "sagecell-block"

const baseCSS = `
.sagecell-block { margin: 1em 0; }
.sagecell-output summary { cursor: pointer; color: #555; }
.sagecell-text, .sagecell-error { white-space: pre-wrap; margin: .25em 0; }
.sagecell-error { color: #b00020; }
.sagecell-image { max-width: 100%; }
.sagecell-placeholder { color: #777; font-style: italic; }
`

// BlockHandler runs one code block. source has blank rows removed; target is
// the block wrapper, into which output is rendered.
type BlockHandler func(ctx context.Context, source string, target *goquery.Selection) error

// Processor converts markdown and dispatches code blocks.
type Processor struct {
	md          goldmark.Markdown
	highlighter *Highlighter

	mu       sync.RWMutex
	handlers map[string]BlockHandler
}

// NewProcessor returns a processor with no registered languages.
func NewProcessor() *Processor {
	return &Processor{
		md:          newGoldmark(),
		highlighter: NewHighlighter(defaultStyle),
		handlers:    make(map[string]BlockHandler),
	}
}

// RegisterCodeBlock routes ```lang fences to handler.
func (p *Processor) RegisterCodeBlock(lang string, handler BlockHandler) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" || handler == nil {
		return
	}
	p.mu.Lock()
	p.handlers[lang] = handler
	p.mu.Unlock()
}

func (p *Processor) handler(lang string) (BlockHandler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[lang]
	return h, ok
}

type block struct {
	source  string
	handler BlockHandler
	target  *goquery.Selection
}

// Render converts source and runs every registered block in document order.
// A failing handler does not stop later blocks; its error is kept on the
// Document.
func (p *Processor) Render(ctx context.Context, source []byte) (*Document, error) {
	out, err := convert(p.md, source)
	if err != nil {
		return nil, sageerrors.Wrap(err, sageerrors.ErrCodeInvalidInput, "convert markdown")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(out))
	if err != nil {
		return nil, sageerrors.Wrap(err, sageerrors.ErrCodeInternal, "parse rendered markdown")
	}
	d := &Document{doc: doc}
	d.head(p.highlighter.CSS())

	var blocks []block
	doc.Find("pre > code").Each(func(_ int, code *goquery.Selection) {
		lang, ok := fenceLanguage(code)
		if !ok {
			return
		}
		handler, ok := p.handler(lang)
		if !ok {
			return
		}
		raw := code.Text()
		pre := code.Parent()
		pre.BeforeHtml(`<div class="` + BlockClass + `" data-lang="` + html.EscapeString(lang) + `">` +
			p.highlighter.Highlight(strings.TrimRight(raw, "\n"), lang) + `</div>`)
		wrapper := pre.Prev()
		pre.Remove()
		blocks = append(blocks, block{source: dropBlankRows(raw), handler: handler, target: wrapper})
	})

	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return d, err
		}
		if err := b.handler(withDocument(ctx, d), b.source, b.target); err != nil {
			d.addError(err)
		}
	}
	return d, nil
}

type documentKey struct{}

func withDocument(ctx context.Context, d *Document) context.Context {
	return context.WithValue(ctx, documentKey{}, d)
}

// DocumentFrom returns the document a block handler is rendering into.
func DocumentFrom(ctx context.Context) (*Document, bool) {
	d, ok := ctx.Value(documentKey{}).(*Document)
	return d, ok
}

func fenceLanguage(code *goquery.Selection) (string, bool) {
	class, _ := code.Attr("class")
	for _, c := range strings.Fields(class) {
		if lang, ok := strings.CutPrefix(c, "language-"); ok && lang != "" {
			return strings.ToLower(lang), true
		}
	}
	return "", false
}

func dropBlankRows(src string) string {
	rows := strings.Split(src, "\n")
	kept := rows[:0]
	for _, row := range rows {
		if len(row) > 0 {
			kept = append(kept, row)
		}
	}
	return strings.Join(kept, "\n")
}

// Document is a rendered note. Output keeps streaming into it after Render
// returns; sinks writing into it must hold Locker.
type Document struct {
	doc  *goquery.Document
	lock sync.Mutex

	errMu sync.Mutex
	errs  []error
}

// Locker guards the document tree.
func (d *Document) Locker() sync.Locker {
	return &d.lock
}

// HTML serializes the whole page.
func (d *Document) HTML() (string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.doc.Html()
}

// Body serializes the contents of <body>.
func (d *Document) Body() (string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.doc.Find("body").Html()
}

// Blocks returns the number of registered code blocks in the document.
func (d *Document) Blocks() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.doc.Find("div." + BlockClass).Length()
}

// Errors returns the handler errors collected during Render.
func (d *Document) Errors() []error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return append([]error(nil), d.errs...)
}

func (d *Document) addError(err error) {
	d.errMu.Lock()
	d.errs = append(d.errs, err)
	d.errMu.Unlock()
}

func (d *Document) head(highlightCSS string) {
	head := d.doc.Find("head")
	head.AppendHtml(`<meta charset="utf-8">`)
	head.AppendHtml("<style>" + baseCSS + highlightCSS + "</style>")
}
