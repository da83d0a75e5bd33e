// Package ipc serves a live preview of a rendered note: the document over
// HTTP and its streaming cell output over a WebSocket.
package ipc

import (
	"context"
	stdliberrors "errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/odvcencio/sagecell/pkg/bus"
	"github.com/odvcencio/sagecell/pkg/config"
	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
	"github.com/odvcencio/sagecell/pkg/filewatch"
	"github.com/odvcencio/sagecell/pkg/logging"
	"github.com/odvcencio/sagecell/pkg/markdown"
	"github.com/odvcencio/sagecell/pkg/telemetry"
	"github.com/odvcencio/sagecell/pkg/transport"
)

const (
	maxPreviewClients = 32
	maxWSReadBytes    = 64 << 10
	watchDebounce     = 150 * time.Millisecond
)

// Render triggers.
const (
	TriggerStartup = "startup"
	TriggerAPI     = "api"
	TriggerWatch   = "watch"
)

// Renderer produces the current document.
type Renderer func(ctx context.Context) (*markdown.Document, error)

// Config controls the preview server.
type Config struct {
	Addr string
	// RenderRate caps re-renders per second. Zero uses the default.
	RenderRate float64
	// Source is the note file watched for changes. Empty disables watching.
	Source         string
	CellSubject    string
	SessionSubject string
	MaxClients     int
}

// Server hosts the preview.
type Server struct {
	cfg     Config
	render  Renderer
	bus     bus.MessageBus
	logger  *logging.Logger
	hub     *Hub
	limiter *rate.Limiter
	clients *semaphore.Weighted
	watcher *filewatch.Watcher

	doc        atomic.Pointer[markdown.Document]
	renderMu   sync.Mutex
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithBus streams cell events from b to preview clients.
func WithBus(b bus.MessageBus) Option {
	return func(s *Server) { s.bus = b }
}

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer returns a server rendering documents with render.
func NewServer(cfg Config, render Renderer, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultServeAddr
	}
	if cfg.RenderRate <= 0 {
		cfg.RenderRate = config.DefaultRenderRate
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = maxPreviewClients
	}
	if cfg.CellSubject == "" {
		cfg.CellSubject = config.DefaultEventsSubject
	}
	s := &Server{
		cfg:     cfg,
		render:  render,
		hub:     NewHub(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RenderRate), 1),
		clients: semaphore.NewWeighted(int64(cfg.MaxClients)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.watcher = filewatch.New(filewatch.WithErrorHandler(func(err error) {
		_ = s.logger.Warn(logging.CategoryServer, "watch_error", err.Error(), nil)
	}))
	return s
}

// Hub returns the event hub feeding /ws.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Document returns the last rendered document, or nil.
func (s *Server) Document() *markdown.Document {
	return s.doc.Load()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)

	router.Get("/", s.handleRoot)
	router.Get("/ws", s.handleWS)
	router.Post("/api/render", s.handleRender)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/healthz", s.handleHealthz)
	return router
}

// Rerender renders the document and announces it. Renders are serialized.
func (s *Server) Rerender(ctx context.Context, trigger string) (*markdown.Document, error) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	start := time.Now()
	doc, err := s.render(ctx)
	telemetry.RecordRender(trigger, time.Since(start), err)
	if err != nil {
		_ = s.logger.Warn(logging.CategoryServer, "render_failed", err.Error(), map[string]any{"trigger": trigger})
		return nil, err
	}
	s.doc.Store(doc)
	s.hub.Broadcast(Event{
		Type:    EventRendered,
		Payload: map[string]any{"trigger": trigger, "blocks": doc.Blocks()},
	})
	_ = s.logger.Info(logging.CategoryServer, "rendered", "document rendered", map[string]any{
		"trigger": trigger,
		"blocks":  doc.Blocks(),
		"errors":  len(doc.Errors()),
	})
	return doc, nil
}

// Start renders once and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.bus != nil {
		bridge := NewBusBridge(s.bus, s.hub, s.cfg.CellSubject, s.cfg.SessionSubject)
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer bridge.Stop()
	}

	if _, err := s.Rerender(ctx, TriggerStartup); err != nil {
		return err
	}
	if err := s.watch(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		_ = s.logger.Info(logging.CategoryServer, "listening", "serving preview", map[string]any{"addr": s.cfg.Addr})
		if err := s.httpServer.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// watch re-renders on writes to the source file, debounced.
func (s *Server) watch(ctx context.Context) error {
	src := strings.TrimSpace(s.cfg.Source)
	if src == "" {
		return nil
	}
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	s.watcher.Subscribe(filepath.Base(src), func(change filewatch.Change) {
		if change.Type == filewatch.ChangeDeleted {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			_, _ = s.Rerender(ctx, TriggerWatch)
		})
	})
	return s.watcher.Watch(ctx, filepath.Dir(src))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	doc := s.doc.Load()
	if doc == nil {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("document not rendered yet"))
		return
	}
	page, err := doc.HTML()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(withLiveScript(page)))
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		respondError(w, http.StatusTooManyRequests,
			sageerrors.New(sageerrors.ErrCodeInvalidInput, "render rate limit exceeded").WithRetryable(true))
		return
	}
	doc, err := s.Rerender(r.Context(), TriggerAPI)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	errs := doc.Errors()
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, sageerrors.UserMessage(e))
	}
	respondJSON(w, map[string]any{
		"status": "rendered",
		"blocks": doc.Blocks(),
		"errors": messages,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.clients.TryAcquire(1) {
		respondError(w, http.StatusServiceUnavailable, stdliberrors.New("too many preview clients"))
		return
	}
	defer s.clients.Release(1)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		_ = s.logger.Warn(logging.CategoryServer, "ws_accept_failed", err.Error(), nil)
		return
	}
	conn.SetReadLimit(maxWSReadBytes)

	client := s.hub.register(conn, strings.TrimSpace(r.URL.Query().Get("request")))
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	transport.StartPing(ctx, conn, transport.DefaultPingInterval, transport.DefaultPingTimeout)

	go func() {
		defer cancel()
		client.readLoop(ctx)
	}()
	go func() {
		defer cancel()
		_ = client.writeLoop(ctx)
	}()

	<-ctx.Done()
	s.hub.removeClient(client)
	client.close(websocket.StatusNormalClosure, "shutdown")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":   "ok",
		"rendered": s.doc.Load() != nil,
		"clients":  s.hub.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	}
	if last, ok := s.watcher.Last(); ok {
		payload["last_change"] = map[string]any{
			"path": last.Path,
			"type": last.Type,
			"at":   last.At.UTC().Format(time.RFC3339),
		}
	}
	respondJSON(w, payload)
}
