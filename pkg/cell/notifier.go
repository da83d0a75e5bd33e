package cell

import (
	"io"

	"github.com/odvcencio/sagecell/pkg/terminal"
)

// Notifier shows user-visible notices.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// TerminalNotifier prints notices as warnings on w.
func TerminalNotifier(w io.Writer) Notifier {
	out := terminal.NewWithOutput(w)
	return NotifierFunc(func(message string) {
		out.Warn("%s", message)
	})
}
