package terminal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const spinnerTick = 80 * time.Millisecond

// SpinnerFrames are the default spinner animation frames.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a status line while the CLI waits on the kernel. It
// stays silent when its output is not a terminal.
type Spinner struct {
	out     io.Writer
	enabled bool
	style   lipgloss.Style

	mu      sync.Mutex
	message string
	started time.Time

	done chan struct{}
	stop sync.Once
}

// NewSpinner creates a spinner on stderr.
func NewSpinner(message string) *Spinner {
	return NewSpinnerWithOutput(os.Stderr, message)
}

// NewSpinnerWithOutput creates a spinner with custom output.
func NewSpinnerWithOutput(out io.Writer, message string) *Spinner {
	return &Spinner{
		out:     out,
		enabled: IsTerminal(out),
		style:   renderer(out).NewStyle().Foreground(palette[roleAccent]),
		message: message,
		done:    make(chan struct{}),
	}
}

// Start begins the animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
	if s.enabled {
		go s.run()
	}
}

// SetMessage replaces the status text.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

func (s *Spinner) run() {
	ticker := time.NewTicker(spinnerTick)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg, elapsed := s.message, time.Since(s.started).Round(time.Second)
			s.mu.Unlock()
			fmt.Fprintf(s.out, "\r\033[K%s %s (%s)", s.style.Render(SpinnerFrames[i%len(SpinnerFrames)]), msg, elapsed)
		}
	}
}

// Elapsed returns the time since Start, or zero before it.
func (s *Spinner) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// Stop ends the animation and clears the line. It is safe to call twice.
func (s *Spinner) Stop() {
	s.stop.Do(func() {
		close(s.done)
		if s.enabled {
			fmt.Fprint(s.out, "\r\033[K")
		}
	})
}
