// Package router maps request ids to output sinks and dispatches inbound
// kernel messages to them.
package router

//go:generate mockgen -package=router -destination=mock_sink_test.go github.com/odvcencio/sagecell/pkg/render Sink

import (
	"strings"
	"sync"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
	"github.com/odvcencio/sagecell/pkg/logging"
	"github.com/odvcencio/sagecell/pkg/protocol"
	"github.com/odvcencio/sagecell/pkg/render"
	"github.com/odvcencio/sagecell/pkg/telemetry"
)

// HTMLMode selects how text/html display data is rendered.
type HTMLMode string

const (
	// HTMLFrame embeds the cell:// file the fragment references.
	HTMLFrame HTMLMode = "frame"
	// HTMLInline injects the fragment into the output region.
	HTMLInline HTMLMode = "inline"
)

// Outcome classifies one dispatch.
type Outcome int

const (
	Ignored Outcome = iota
	Delivered
	Miss
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Miss:
		return "miss"
	case Failed:
		return "failed"
	default:
		return "ignored"
	}
}

// Result reports what Dispatch did with a message.
type Result struct {
	RequestID string
	Outcome   Outcome
	Kind      render.FragmentKind
	Err       error
}

// ReplyFunc observes execute_reply messages for registered requests.
type ReplyFunc func(requestID string, reply *protocol.ExecuteReply)

// DeliverFunc observes every dispatch that reached a sink.
type DeliverFunc func(res Result, msg protocol.Message)

// Router owns the requestID to sink table.
type Router struct {
	mu    sync.RWMutex
	sinks map[string]render.Sink

	files     render.FileResolver
	mode      HTMLMode
	onReply   ReplyFunc
	onDeliver DeliverFunc
	logger    *logging.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithHTMLMode sets the text/html rendering mode.
func WithHTMLMode(mode HTMLMode) Option {
	return func(r *Router) {
		if mode == HTMLInline {
			r.mode = HTMLInline
		}
	}
}

// WithReplyHook installs the execute_reply observer.
func WithReplyHook(fn ReplyFunc) Option {
	return func(r *Router) { r.onReply = fn }
}

// WithDeliverHook installs an observer for delivered fragments.
func WithDeliverHook(fn DeliverFunc) Option {
	return func(r *Router) { r.onDeliver = fn }
}

// WithLogger sets the router logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New returns an empty router. files resolves image filenames.
func New(files render.FileResolver, opts ...Option) *Router {
	r := &Router{
		sinks: make(map[string]render.Sink),
		files: files,
		mode:  HTMLFrame,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores sink under requestID.
func (r *Router) Register(requestID string, sink render.Sink) error {
	if strings.TrimSpace(requestID) == "" {
		return sageerrors.New(sageerrors.ErrCodeInvalidInput, "request id is required")
	}
	if sink == nil {
		return sageerrors.New(sageerrors.ErrCodeInvalidInput, "sink is required").
			WithContext("request_id", requestID)
	}

	r.mu.Lock()
	if _, exists := r.sinks[requestID]; exists {
		r.mu.Unlock()
		return sageerrors.New(sageerrors.ErrCodeInvalidInput, "request id already registered").
			WithContext("request_id", requestID)
	}
	r.sinks[requestID] = sink
	n := len(r.sinks)
	r.mu.Unlock()

	telemetry.SetRegisteredRequests(n)
	return nil
}

// Unregister removes the entry for requestID and reports whether one existed.
func (r *Router) Unregister(requestID string) bool {
	r.mu.Lock()
	_, ok := r.sinks[requestID]
	delete(r.sinks, requestID)
	n := len(r.sinks)
	r.mu.Unlock()

	telemetry.SetRegisteredRequests(n)
	return ok
}

// Reset drops every entry and returns the ids that were registered.
func (r *Router) Reset() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sinks))
	for id := range r.sinks {
		ids = append(ids, id)
	}
	r.sinks = make(map[string]render.Sink)
	r.mu.Unlock()

	telemetry.SetRegisteredRequests(0)
	return ids
}

// Len returns the number of registered requests.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

func (r *Router) lookup(requestID string) (render.Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sinks[requestID]
	return sink, ok
}

// Dispatch forwards msg to the sink registered under its parent id. A
// message for an unknown id is dropped. Dispatch never panics on unknown
// input.
func (r *Router) Dispatch(msg protocol.Message) Result {
	if msg == nil {
		return Result{Outcome: Ignored}
	}
	id := msg.ParentID()
	sink, ok := r.lookup(id)
	if !ok {
		telemetry.RecordDispatchMiss()
		_ = r.logger.Request(logging.LevelDebug, logging.CategoryRouter, "dispatch_miss", id,
			"no sink registered", map[string]any{"msg_type": msg.Type()})
		return Result{RequestID: id, Outcome: Miss}
	}

	res := r.deliver(id, sink, msg)
	telemetry.RecordDispatch(res.Outcome.String(), res.Kind.String())
	if res.Err != nil {
		_ = r.logger.Request(logging.LevelWarn, logging.CategoryRender, "fragment_failed", id,
			res.Err.Error(), map[string]any{"msg_type": msg.Type()})
	}
	if res.Outcome != Ignored && r.onDeliver != nil {
		r.onDeliver(res, msg)
	}
	return res
}

func (r *Router) deliver(id string, sink render.Sink, msg protocol.Message) Result {
	res := Result{RequestID: id, Outcome: Delivered}

	switch m := msg.(type) {
	case *protocol.Error:
		sink.AppendError(m.Name, m.Value)
		res.Kind = render.KindError

	case *protocol.Stream:
		if m.Text == "" {
			return Result{RequestID: id, Outcome: Ignored}
		}
		sink.AppendText(m.Text)
		res.Kind = render.KindText

	case *protocol.DisplayData:
		if name, ok := m.ImageFilename(); ok {
			sink.AppendImage(r.fileURL(name))
			res.Kind = render.KindImage
			return res
		}
		if fragment, ok := m.HTML(); ok {
			res.Kind = render.KindHTML
			if r.mode == HTMLInline {
				sink.AppendHTML(fragment)
				return res
			}
			if err := sink.AppendInteractive(fragment); err != nil {
				res.Outcome = Failed
				res.Err = err
			}
			return res
		}
		if text, ok := m.Plain(); ok {
			sink.AppendText(text)
			res.Kind = render.KindText
			return res
		}
		return Result{RequestID: id, Outcome: Ignored}

	case *protocol.ExecuteResult:
		text, ok := m.Plain()
		if !ok {
			return Result{RequestID: id, Outcome: Ignored}
		}
		sink.AppendText(text)
		res.Kind = render.KindText

	case *protocol.ExecuteReply:
		if r.onReply != nil {
			r.onReply(id, m)
		}
		return Result{RequestID: id, Outcome: Ignored}

	default:
		return Result{RequestID: id, Outcome: Ignored}
	}
	return res
}

func (r *Router) fileURL(name string) string {
	if r.files == nil {
		return name
	}
	return r.files.FileURL(name)
}
