// Package render implements output sinks. A sink accumulates the streamed
// fragments of one request into a single collapsible output region.
package render

import (
	"regexp"
	"sync"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

// FragmentKind is the kind of the last fragment a sink rendered.
type FragmentKind int

const (
	KindNone FragmentKind = iota
	KindText
	KindImage
	KindHTML
	KindError
)

func (k FragmentKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindHTML:
		return "html"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Sink receives the fragments of one request.
type Sink interface {
	// AppendText coalesces into the previous text block when the last
	// fragment was text.
	AppendText(text string)
	AppendImage(url string)
	// AppendInteractive embeds the cell:// file referenced by fragment as a
	// framed sub-document. A fragment without a reference renders a
	// placeholder and returns a MALFORMED_FRAGMENT error.
	AppendInteractive(fragment string) error
	// AppendHTML injects fragment subject to the sink's HTMLPolicy.
	AppendHTML(fragment string)
	AppendError(name, value string)
	LastKind() FragmentKind
}

// FileResolver turns a kernel-relative filename into an absolute URL.
type FileResolver interface {
	FileURL(filename string) string
}

// FileResolverFunc adapts a function to FileResolver.
type FileResolverFunc func(filename string) string

// FileURL calls f.
func (f FileResolverFunc) FileURL(filename string) string { return f(filename) }

// HTMLPolicy controls inline HTML injection.
type HTMLPolicy int

const (
	// SanitizeUGC passes fragments through the bluemonday UGC policy.
	SanitizeUGC HTMLPolicy = iota
	// Unsafe injects fragments verbatim.
	Unsafe
)

// Options configure a sink.
type Options struct {
	// DisplayByDefault renders the output region expanded.
	DisplayByDefault bool
	Policy           HTMLPolicy
	Files            FileResolver
	// Locker guards the document the sink writes into. Sinks sharing a
	// document must share a Locker.
	Locker sync.Locker
}

func (o Options) locker() sync.Locker {
	if o.Locker == nil {
		return &sync.Mutex{}
	}
	return o.Locker
}

var cellRefPattern = regexp.MustCompile(`src\s*=\s*["']cell://([^"']+)["']`)

// CellReference extracts the file named by a src="cell://..." marker.
func CellReference(fragment string) (string, bool) {
	m := cellRefPattern.FindStringSubmatch(fragment)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

func resolveInteractive(files FileResolver, fragment string) (string, error) {
	name, ok := CellReference(fragment)
	if !ok {
		return "", sageerrors.New(sageerrors.ErrCodeMalformedFragment, "interactive fragment has no cell:// reference").
			WithContext("bytes", len(fragment))
	}
	if files == nil {
		return name, nil
	}
	return files.FileURL(name), nil
}
