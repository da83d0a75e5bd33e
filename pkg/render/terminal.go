package render

import (
	"html"
	"io"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/odvcencio/sagecell/pkg/terminal"
)

var (
	strictPolicy     *bluemonday.Policy
	strictPolicyOnce sync.Once
)

func htmlToText(fragment string) string {
	strictPolicyOnce.Do(func() { strictPolicy = bluemonday.StrictPolicy() })
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(fragment)))
}

// TerminalSink renders fragments as lines on a terminal.
type TerminalSink struct {
	w        *terminal.Writer
	opts     Options
	mu       sync.Locker
	started  bool
	midLine  bool
	lastKind FragmentKind
}

// NewTerminalSink returns a sink writing to out.
func NewTerminalSink(out io.Writer, opts Options) *TerminalSink {
	return &TerminalSink{w: terminal.NewWithOutput(out), opts: opts, mu: opts.locker()}
}

// LastKind implements Sink.
func (s *TerminalSink) LastKind() FragmentKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKind
}

// AppendText implements Sink. Consecutive text is written with no separator.
func (s *TerminalSink) AppendText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.begin()
	if s.lastKind != KindText {
		s.breakLine()
	}
	if text == "" {
		s.lastKind = KindText
		return
	}
	s.w.Stream(text)
	s.midLine = !strings.HasSuffix(text, "\n")
	s.lastKind = KindText
}

// AppendImage implements Sink.
func (s *TerminalSink) AppendImage(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.line("[image] " + url)
	s.lastKind = KindImage
}

// AppendInteractive implements Sink.
func (s *TerminalSink) AppendInteractive(fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.lastKind = KindHTML }()

	src, err := resolveInteractive(s.opts.Files, fragment)
	if err != nil {
		s.begin()
		s.breakLine()
		s.w.Dim("[interactive] " + placeholderText)
		return err
	}
	s.line("[interactive] " + src)
	return nil
}

// AppendHTML implements Sink. Markup is reduced to its text.
func (s *TerminalSink) AppendHTML(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if text := htmlToText(fragment); text != "" {
		s.line(text)
	}
	s.lastKind = KindHTML
}

// AppendError implements Sink.
func (s *TerminalSink) AppendError(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.begin()
	s.breakLine()
	s.w.Failure(name + ": " + value)
	s.lastKind = KindError
}

// Finish terminates a dangling text line.
func (s *TerminalSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakLine()
}

func (s *TerminalSink) begin() {
	if s.started {
		return
	}
	s.started = true
	if s.opts.DisplayByDefault {
		s.w.Header(outputSummaryLabel)
	}
}

func (s *TerminalSink) line(text string) {
	s.begin()
	s.breakLine()
	s.w.Println("%s", text)
}

func (s *TerminalSink) breakLine() {
	if s.midLine {
		s.w.StreamEnd()
		s.midLine = false
	}
}
