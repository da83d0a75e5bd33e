package render

import (
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	frameStyle          = "width:100%;aspect-ratio:4/3;border:0"
	placeholderText     = "interactive output unavailable"
	outputSummaryLabel  = "Output"
	outputContainerTag  = "details"
	outputContainerName = "sagecell-output"
)

var (
	ugcPolicy     *bluemonday.Policy
	ugcPolicyOnce sync.Once
)

func sanitizeUGC(fragment string) string {
	ugcPolicyOnce.Do(func() { ugcPolicy = bluemonday.UGCPolicy() })
	return ugcPolicy.Sanitize(fragment)
}

// HTMLSink renders fragments into a goquery selection.
type HTMLSink struct {
	target   *goquery.Selection
	opts     Options
	mu       sync.Locker
	region   *html.Node
	lastText *html.Node
	lastKind FragmentKind
}

// NewHTMLSink returns a sink appending to target.
func NewHTMLSink(target *goquery.Selection, opts Options) *HTMLSink {
	return &HTMLSink{target: target, opts: opts, mu: opts.locker()}
}

// LastKind implements Sink.
func (s *HTMLSink) LastKind() FragmentKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKind
}

// AppendText implements Sink.
func (s *HTMLSink) AppendText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastKind != KindText || s.lastText == nil {
		s.lastText = element(atom.Pre, "sagecell-text")
		s.output().AppendChild(s.lastText)
	}
	if last := s.lastText.LastChild; last != nil && last.Type == html.TextNode {
		last.Data += text
	} else {
		s.lastText.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	s.lastKind = KindText
}

// AppendImage implements Sink.
func (s *HTMLSink) AppendImage(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img := element(atom.Img, "sagecell-image", html.Attribute{Key: "src", Val: url})
	s.output().AppendChild(img)
	s.lastKind = KindImage
}

// AppendInteractive implements Sink.
func (s *HTMLSink) AppendInteractive(fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.lastKind = KindHTML }()

	src, err := resolveInteractive(s.opts.Files, fragment)
	if err != nil {
		div := element(atom.Div, "sagecell-placeholder")
		div.AppendChild(&html.Node{Type: html.TextNode, Data: placeholderText})
		s.output().AppendChild(div)
		return err
	}
	frame := element(atom.Iframe, "sagecell-frame",
		html.Attribute{Key: "src", Val: src},
		html.Attribute{Key: "style", Val: frameStyle},
	)
	s.output().AppendChild(frame)
	return nil
}

// AppendHTML implements Sink.
func (s *HTMLSink) AppendHTML(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Policy != Unsafe {
		fragment = sanitizeUGC(fragment)
	}
	div := element(atom.Div, "sagecell-html")
	s.output().AppendChild(div)
	goquery.NewDocumentFromNode(div).Selection.AppendHtml(fragment)
	s.lastKind = KindHTML
}

// AppendError implements Sink.
func (s *HTMLSink) AppendError(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pre := element(atom.Pre, "sagecell-error")
	pre.AppendChild(&html.Node{Type: html.TextNode, Data: name + ": " + value})
	s.output().AppendChild(pre)
	s.lastKind = KindError
}

// output lazily creates the collapsible region. Callers hold s.mu.
func (s *HTMLSink) output() *html.Node {
	if s.region != nil {
		return s.region
	}
	attrs := []html.Attribute{{Key: "class", Val: outputContainerName}}
	if s.opts.DisplayByDefault {
		attrs = append(attrs, html.Attribute{Key: "open"})
	}
	details := &html.Node{Type: html.ElementNode, DataAtom: atom.Details, Data: outputContainerTag, Attr: attrs}
	summary := &html.Node{Type: html.ElementNode, DataAtom: atom.Summary, Data: "summary"}
	summary.AppendChild(&html.Node{Type: html.TextNode, Data: outputSummaryLabel})
	details.AppendChild(summary)

	s.target.AppendNodes(details)
	s.region = details
	return details
}

func element(a atom.Atom, class string, attrs ...html.Attribute) *html.Node {
	all := make([]html.Attribute, 0, len(attrs)+1)
	all = append(all, html.Attribute{Key: "class", Val: class})
	all = append(all, attrs...)
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: all}
}
