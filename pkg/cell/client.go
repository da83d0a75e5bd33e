// Package cell runs code on a remote SageMathCell kernel and streams each
// execution's output into its own sink over one shared connection.
package cell

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/sagecell/pkg/bus"
	"github.com/odvcencio/sagecell/pkg/config"
	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
	"github.com/odvcencio/sagecell/pkg/kernel"
	"github.com/odvcencio/sagecell/pkg/logging"
	"github.com/odvcencio/sagecell/pkg/protocol"
	"github.com/odvcencio/sagecell/pkg/render"
	"github.com/odvcencio/sagecell/pkg/router"
	"github.com/odvcencio/sagecell/pkg/telemetry"
	"github.com/odvcencio/sagecell/pkg/transport"
)

// Negotiator opens a kernel session.
type Negotiator interface {
	Negotiate(ctx context.Context, serverBase string) (kernel.Session, error)
}

// Channel is the open transport the client writes to.
type Channel interface {
	Send(ctx context.Context, raw string) error
	Alive() bool
	Close() error
}

// Dialer opens a Channel to url delivering inbound payloads to h.
type Dialer func(ctx context.Context, url string, h transport.Handlers) (Channel, error)

// Client owns one kernel session, its transport and its router.
type Client struct {
	cfg        *config.Config
	logger     *logging.Logger
	bus        bus.MessageBus
	notifier   Notifier
	negotiator Negotiator
	dial       Dialer

	router *router.Router

	mu         sync.Mutex
	started    bool
	closed     bool
	session    kernel.Session
	codec      protocol.Codec
	channel    Channel
	connectErr error
	pending    map[string]*Request

	noticeOnce sync.Once
	closeOnce  sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger. It is shared with the negotiator,
// transport and router built by the client.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBus publishes cell events on b.
func WithBus(b bus.MessageBus) Option {
	return func(c *Client) { c.bus = b }
}

// WithNotifier sets where connection notices go.
func WithNotifier(n Notifier) Option {
	return func(c *Client) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithNegotiator overrides the kernel handshake.
func WithNegotiator(n Negotiator) Option {
	return func(c *Client) {
		if n != nil {
			c.negotiator = n
		}
	}
}

// WithDialer overrides how the transport is opened.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

// New returns an unstarted client for cfg. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Client{
		cfg:      cfg,
		notifier: NotifierFunc(func(string) {}),
		pending:  make(map[string]*Request),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.negotiator == nil {
		c.negotiator = kernel.NewNegotiator(kernel.WithLogger(c.logger))
	}
	if c.dial == nil {
		c.dial = c.defaultDial
	}

	mode := router.HTMLFrame
	if cfg.HTML.Mode == config.HTMLModeInline {
		mode = router.HTMLInline
	}
	c.router = router.New(c,
		router.WithHTMLMode(mode),
		router.WithLogger(c.logger),
		router.WithReplyHook(c.onReply),
		router.WithDeliverHook(c.onDeliver),
	)
	return c
}

func (c *Client) defaultDial(ctx context.Context, url string, h transport.Handlers) (Channel, error) {
	ch, err := transport.Dial(ctx, url, h, transport.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Start negotiates a kernel and opens the transport. It runs once; later
// calls return the first call's error.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return sageerrors.New(sageerrors.ErrCodeInvalidInput, "client is closed")
	}
	if c.started {
		err := c.connectErr
		c.mu.Unlock()
		return err
	}
	c.started = true
	c.mu.Unlock()

	err := c.start(ctx)
	if err != nil {
		c.mu.Lock()
		c.connectErr = err
		c.mu.Unlock()
		_ = c.logger.Error(logging.CategorySession, "connect_failed", err.Error(), nil)
		c.notice(err)
	}
	return err
}

func (c *Client) start(ctx context.Context) error {
	session, err := c.negotiator.Negotiate(ctx, c.cfg.ServerURL)
	if err != nil {
		if !sageerrors.IsCode(err, sageerrors.ErrCodeConnect) {
			err = sageerrors.Connect(err, "kernel handshake failed")
		}
		return err
	}

	c.mu.Lock()
	c.session = session
	c.codec = protocol.NewCodec(session.KernelID)
	c.mu.Unlock()

	ch, err := c.dial(ctx, session.TransportURL(), transport.Handlers{
		OnMessage: c.onMessage,
		OnClose:   c.onClose,
		OnError:   c.onTransportError,
	})
	if err != nil {
		if !sageerrors.IsCode(err, sageerrors.ErrCodeConnect) {
			err = sageerrors.Connect(err, "transport dial failed")
		}
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ch.Close()
		return sageerrors.New(sageerrors.ErrCodeInvalidInput, "client closed during start")
	}
	c.channel = ch
	c.mu.Unlock()

	c.publish(SessionStartedSubject, SessionEvent{
		SessionID: session.SessionID,
		KernelID:  session.KernelID,
		Endpoint:  endpointString(session),
		Timestamp: time.Now(),
	})
	_ = c.logger.Info(logging.CategorySession, "started", "client ready", map[string]any{
		"endpoint": endpointString(session),
	})
	return nil
}

// Session returns the negotiated session, or the zero value before Start.
func (c *Client) Session() kernel.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// FileURL resolves a kernel file name against the current session.
func (c *Client) FileURL(filename string) string {
	return c.Session().FileURL(filename)
}

// SinkOptions returns render options derived from the client configuration.
// Sinks writing into the same document must be given the same locker.
func (c *Client) SinkOptions(locker sync.Locker) render.Options {
	policy := render.SanitizeUGC
	if c.cfg.HTML.Unsafe {
		policy = render.Unsafe
	}
	return render.Options{
		DisplayByDefault: c.cfg.DisplayByDefault,
		Policy:           policy,
		Files:            c,
		Locker:           locker,
	}
}

// Execute submits code and routes its output to sink.
func (c *Client) Execute(ctx context.Context, code string, sink render.Sink) (*Request, error) {
	if sink == nil {
		return nil, sageerrors.New(sageerrors.ErrCodeInvalidInput, "sink is required")
	}

	c.mu.Lock()
	switch {
	case c.connectErr != nil:
		err := c.connectErr
		c.mu.Unlock()
		return nil, err
	case c.closed:
		c.mu.Unlock()
		return nil, sageerrors.Transport(transport.ErrClosed, "client is closed")
	case !c.started:
		c.mu.Unlock()
		return nil, sageerrors.New(sageerrors.ErrCodeInvalidInput, "client is not started")
	case c.channel == nil || !c.channel.Alive():
		c.mu.Unlock()
		return nil, sageerrors.Transport(transport.ErrClosed, "transport is not open")
	}
	ch := c.channel
	codec := c.codec
	sessionID := c.session.SessionID
	id := uuid.NewString()
	req := newRequest(id)
	c.pending[id] = req
	c.mu.Unlock()

	if err := c.router.Register(id, sink); err != nil {
		c.forget(id)
		return nil, err
	}

	env, err := protocol.NewExecuteRequest(id, sessionID, code)
	if err != nil {
		c.Release(id)
		return nil, err
	}
	raw, err := codec.Encode(env)
	if err != nil {
		c.Release(id)
		return nil, err
	}

	if err := ch.Send(ctx, raw); err != nil {
		c.Release(id)
		if !sageerrors.IsCode(err, sageerrors.ErrCodeTransport) {
			err = sageerrors.Transport(err, "send execute request failed")
		}
		return nil, err
	}

	_ = c.logger.Request(logging.LevelInfo, logging.CategorySession, "execute", id, "execute request sent", map[string]any{
		"code_bytes": len(code),
	})
	return req, nil
}

// Release drops the routing entry for id and orphans its request.
func (c *Client) Release(id string) {
	c.router.Unregister(id)
	if req := c.forget(id); req != nil {
		req.orphan()
	}
}

func (c *Client) forget(id string) *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.pending[id]
	delete(c.pending, id)
	return req
}

// Pending reports how many requests are awaiting a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close shuts the transport and orphans every pending request. Safe to call
// more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		ch := c.channel
		c.channel = nil
		c.mu.Unlock()

		if ch != nil {
			err = ch.Close()
		}
		c.router.Reset()
		c.orphanAll()
		_ = c.logger.Info(logging.CategorySession, "closed", "client closed", nil)
	})
	return err
}

func (c *Client) orphanAll() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*Request)
	c.mu.Unlock()
	for _, req := range pending {
		req.orphan()
	}
}

func (c *Client) onMessage(raw string) {
	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()

	msg, err := codec.Decode(raw)
	if err != nil {
		telemetry.RecordMalformedEnvelope()
		_ = c.logger.Warn(logging.CategoryRouter, "malformed_envelope", err.Error(), map[string]any{
			"bytes": len(raw),
		})
		return
	}
	c.router.Dispatch(msg)
}

func (c *Client) onReply(requestID string, reply *protocol.ExecuteReply) {
	c.mu.Lock()
	req := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()
	if req != nil {
		req.complete(reply)
	}
}

func (c *Client) onDeliver(res router.Result, msg protocol.Message) {
	if c.bus == nil || res.Outcome == router.Miss {
		return
	}
	c.publish(c.subject(res.RequestID), c.newEvent(res, msg))
}

func (c *Client) onTransportError(err error) {
	c.mu.Lock()
	c.channel = nil
	c.mu.Unlock()
	_ = c.logger.Error(logging.CategoryTransport, "channel_failed", err.Error(), nil)
	c.notice(err)
}

// onClose runs when the read loop exits for any reason. No reply can arrive
// afterwards.
func (c *Client) onClose() {
	c.mu.Lock()
	c.channel = nil
	c.mu.Unlock()
	c.orphanAll()
}

func (c *Client) notice(err error) {
	c.noticeOnce.Do(func() {
		c.notifier.Notify(sageerrors.UserMessage(err))
	})
}

func (c *Client) subject(requestID string) string {
	prefix := strings.TrimSuffix(c.cfg.Events.Subject, ".")
	if prefix == "" {
		prefix = config.DefaultEventsSubject
	}
	return prefix + "." + requestID
}

func (c *Client) publish(subject string, v any) {
	if c.bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.bus.Publish(context.Background(), subject, data); err != nil {
		_ = c.logger.Debug(logging.CategorySession, "publish_failed", err.Error(), map[string]any{
			"subject": subject,
		})
	}
}

func endpointString(s kernel.Session) string {
	if s.Endpoint == nil {
		return ""
	}
	return s.Endpoint.String()
}
