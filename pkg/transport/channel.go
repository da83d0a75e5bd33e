// Package transport implements the kernel's duplex channel: one long-lived
// websocket speaking SockJS raw framing.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
	"github.com/odvcencio/sagecell/pkg/logging"
	"github.com/odvcencio/sagecell/pkg/telemetry"
)

const defaultReadLimit = 32 << 20

// ErrClosed is returned by Send once the channel has closed.
var ErrClosed = errors.New("transport: channel closed")

// Handlers receive channel events. They run on the channel's single read
// goroutine, one frame at a time, in transport order.
type Handlers struct {
	OnMessage func(raw string)
	OnClose   func()
	OnError   func(err error)
}

// Channel is one SockJS connection to a kernel.
type Channel struct {
	conn     *websocket.Conn
	handlers Handlers
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	alive     atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

type options struct {
	logger       *logging.Logger
	header       http.Header
	httpClient   *http.Client
	readLimit    int64
	pingInterval time.Duration
	pingTimeout  time.Duration
}

// Option configures Dial.
type Option func(*options)

// WithLogger sets the logger for transport events.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPHeader adds headers to the websocket upgrade request.
func WithHTTPHeader(h http.Header) Option {
	return func(o *options) { o.header = h.Clone() }
}

// WithHTTPClient sets the client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithReadLimit overrides the maximum inbound frame size.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.readLimit = n
		}
	}
}

// WithPing overrides the keepalive interval and timeout. An interval of
// zero disables keepalive pings.
func WithPing(interval, timeout time.Duration) Option {
	return func(o *options) {
		o.pingInterval = interval
		if timeout > 0 {
			o.pingTimeout = timeout
		}
	}
}

// Dial opens the websocket at url and waits for the SockJS open frame.
// ctx bounds only the dial; the channel lives until Close or a read failure.
func Dial(ctx context.Context, url string, handlers Handlers, opts ...Option) (*Channel, error) {
	o := options{
		readLimit:    defaultReadLimit,
		pingInterval: DefaultPingInterval,
		pingTimeout:  DefaultPingTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: o.header,
		HTTPClient: o.httpClient,
	})
	if err != nil {
		telemetry.RecordTransportError("dial")
		e := sageerrors.Connect(err, "websocket dial failed").WithContext("url", url)
		if resp != nil {
			e = e.WithContext("status", resp.StatusCode)
		}
		return nil, e
	}
	conn.SetReadLimit(o.readLimit)

	if err := awaitOpen(ctx, conn); err != nil {
		telemetry.RecordTransportError("open")
		_ = conn.Close(websocket.StatusProtocolError, "expected open frame")
		return nil, sageerrors.Connect(err, "sockjs session did not open").WithContext("url", url)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conn:     conn,
		handlers: handlers,
		logger:   o.logger,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.alive.Store(true)

	StartPing(runCtx, conn, o.pingInterval, o.pingTimeout)
	go c.readLoop()

	_ = c.logger.Info(logging.CategoryTransport, "opened", "sockjs channel open", nil)
	return c, nil
}

func awaitOpen(ctx context.Context, conn *websocket.Conn) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	frame, err := ParseFrame(data)
	if err != nil {
		return err
	}
	telemetry.RecordFrameReceived(frame.Type.String())
	switch frame.Type {
	case FrameOpen:
		return nil
	case FrameClose:
		return fmt.Errorf("sockjs closed during open: %d %s", frame.CloseCode, frame.CloseReason)
	default:
		return fmt.Errorf("sockjs: expected open frame, got %s", frame.Type)
	}
}

// Send writes one raw payload as a SockJS client frame.
func (c *Channel) Send(ctx context.Context, raw string) error {
	if !c.Alive() {
		return sageerrors.Transport(ErrClosed, "send on closed channel")
	}
	data, err := EncodeMessages(raw)
	if err != nil {
		return sageerrors.Wrap(err, sageerrors.ErrCodeInternal, "encode sockjs frame")
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		telemetry.RecordTransportError("write")
		return sageerrors.Transport(err, "websocket write failed")
	}
	telemetry.RecordFrameSent()
	return nil
}

// Alive reports whether the channel is still open.
func (c *Channel) Alive() bool {
	return c != nil && c.alive.Load()
}

// Done is closed after OnClose has returned.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// CloseStatus returns the SockJS close code and reason, if the server sent one.
func (c *Channel) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Close closes the socket. It is safe to call more than once and from
// inside a handler.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		err = c.conn.Close(websocket.StatusNormalClosure, "client closed")
		c.cancel()
	})
	return err
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer func() {
		_ = c.Close()
		if c.handlers.OnClose != nil {
			c.handlers.OnClose()
		}
		_ = c.logger.Info(logging.CategoryTransport, "closed", "sockjs channel closed", nil)
	}()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if !c.expectedClose(err) {
				telemetry.RecordTransportError("read")
				_ = c.logger.Error(logging.CategoryTransport, "read_failed", err.Error(), nil)
				c.alive.Store(false)
				if c.handlers.OnError != nil {
					c.handlers.OnError(sageerrors.Transport(err, "websocket read failed"))
				}
			}
			return
		}

		frame, err := ParseFrame(data)
		if err != nil {
			_ = c.logger.Warn(logging.CategoryTransport, "bad_frame", err.Error(), map[string]any{"bytes": len(data)})
			continue
		}
		telemetry.RecordFrameReceived(frame.Type.String())

		switch frame.Type {
		case FrameOpen, FrameHeartbeat:
		case FrameMessages:
			for _, msg := range frame.Messages {
				if c.handlers.OnMessage != nil {
					c.handlers.OnMessage(msg)
				}
			}
		case FrameClose:
			c.mu.Lock()
			c.closeCode, c.closeReason = frame.CloseCode, frame.CloseReason
			c.mu.Unlock()
			_ = c.logger.Info(logging.CategoryTransport, "server_close", frame.CloseReason, map[string]any{"code": frame.CloseCode})
			return
		}
	}
}

func (c *Channel) expectedClose(err error) bool {
	if c.ctx.Err() != nil || !c.alive.Load() {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
