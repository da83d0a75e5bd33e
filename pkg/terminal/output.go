// Package terminal writes kernel output to a terminal: streamed text, styled
// notices and a header per execution. Styling is dropped when the output is
// not a terminal.
package terminal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

type role int

const (
	roleFailure role = iota
	roleWarn
	roleHeader
	roleDim
	roleAccent
)

var palette = map[role]lipgloss.AdaptiveColor{
	roleFailure: {Light: "#D00000", Dark: "#FF5555"},
	roleWarn:    {Light: "#B8860B", Dark: "#FFAA00"},
	roleHeader:  {Light: "#333333", Dark: "#FFFFFF"},
	roleDim:     {Light: "#666666", Dark: "#888888"},
	roleAccent:  {Light: "#0066CC", Dark: "#5599FF"},
}

// Writer serializes styled writes to one output.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	styles map[role]lipgloss.Style
}

// New creates a Writer on stdout.
func New() *Writer {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput creates a Writer on out.
func NewWithOutput(out io.Writer) *Writer {
	r := renderer(out)
	styles := make(map[role]lipgloss.Style, len(palette))
	for k, c := range palette {
		styles[k] = r.NewStyle().Foreground(c)
	}
	styles[roleFailure] = styles[roleFailure].Bold(true)
	styles[roleHeader] = styles[roleHeader].Bold(true)
	return &Writer{out: out, styles: styles}
}

func renderer(out io.Writer) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(out)
	if !IsTerminal(out) {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (w *Writer) line(r role, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.styles[r].Render(text))
}

// Println writes a formatted, unstyled line.
func (w *Writer) Println(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Failure prints a kernel error line.
func (w *Writer) Failure(text string) {
	w.line(roleFailure, text)
}

// Warn prints a "warning: " notice.
func (w *Writer) Warn(format string, args ...any) {
	w.line(roleWarn, "warning: "+fmt.Sprintf(format, args...))
}

// Header prints a section header.
func (w *Writer) Header(title string) {
	w.line(roleHeader, title)
}

// Dim prints secondary text such as placeholders.
func (w *Writer) Dim(text string) {
	w.line(roleDim, text)
}

// Stream writes chunk as-is, without a newline.
func (w *Writer) Stream(chunk string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	io.WriteString(w.out, chunk)
}

// StreamEnd terminates a streamed line.
func (w *Writer) StreamEnd() {
	w.mu.Lock()
	defer w.mu.Unlock()
	io.WriteString(w.out, "\n")
}
