// Package kernel negotiates compute-kernel sessions with a SageMathCell
// server and resolves the URLs derived from them.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
	"github.com/odvcencio/sagecell/pkg/logging"
	"github.com/odvcencio/sagecell/pkg/telemetry"
)

const maxHandshakeBodyBytes = 1 << 20

// Negotiator performs the one-shot kernel handshake.
type Negotiator struct {
	httpClient *http.Client
	logger     *logging.Logger
	newID      func() string
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithHTTPClient overrides the HTTP client used for the handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Negotiator) {
		if c != nil {
			n.httpClient = c
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(n *Negotiator) { n.logger = l }
}

// WithSessionIDFunc overrides CellSessionID generation.
func WithSessionIDFunc(fn func() string) Option {
	return func(n *Negotiator) {
		if fn != nil {
			n.newID = fn
		}
	}
}

// NewNegotiator returns a negotiator. The default HTTP client has no overall
// timeout; the handshake asks the server for timeout=inf and only the
// caller's context bounds it.
func NewNegotiator(opts ...Option) *Negotiator {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	n := &Negotiator{
		httpClient: &http.Client{Transport: transport},
		newID:      func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type handshakeResponse struct {
	WSURL string `json:"ws_url"`
	ID    string `json:"id"`
}

// Negotiate requests a new kernel from serverBase. It is not retried.
func (n *Negotiator) Negotiate(ctx context.Context, serverBase string) (Session, error) {
	start := time.Now()
	session, err := n.negotiate(ctx, serverBase)
	telemetry.RecordHandshake(time.Since(start), err)
	return session, err
}

func (n *Negotiator) negotiate(ctx context.Context, serverBase string) (Session, error) {
	base, err := ParseServerBase(serverBase)
	if err != nil {
		return Session{}, sageerrors.Connect(err, "invalid server url").
			WithContext("server_url", serverBase)
	}

	sessionID := n.newID()
	endpoint := base.JoinPath("kernel")
	q := url.Values{}
	q.Set("CellSessionID", sessionID)
	q.Set("timeout", "inf")
	q.Set("accepted_tos", "true")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return Session{}, sageerrors.Connect(err, "build handshake request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		_ = n.logger.Error(logging.CategorySession, "handshake_failed", err.Error(), map[string]any{"server_url": base.String()})
		return Session{}, sageerrors.Connect(err, "kernel handshake failed").
			WithContext("server_url", base.String())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHandshakeBodyBytes))
	if err != nil {
		return Session{}, sageerrors.Connect(err, "read handshake response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := strings.TrimSpace(string(data))
		_ = n.logger.Error(logging.CategorySession, "handshake_rejected", resp.Status, map[string]any{"status": resp.StatusCode})
		return Session{}, sageerrors.Connect(nil, fmt.Sprintf("kernel handshake failed (%s)", resp.Status)).
			WithContext("status", resp.StatusCode).
			WithContext("body", truncate(body, 200))
	}

	var hs handshakeResponse
	if err := json.Unmarshal(data, &hs); err != nil {
		return Session{}, sageerrors.Connect(err, "decode handshake response")
	}
	hs.ID = strings.TrimSpace(hs.ID)
	if hs.ID == "" {
		return Session{}, sageerrors.Connect(nil, "handshake response missing kernel id")
	}

	wsEndpoint := base
	if raw := strings.TrimSpace(hs.WSURL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			return Session{}, sageerrors.Connect(err, "handshake returned invalid ws_url").
				WithContext("ws_url", raw)
		}
		wsEndpoint = withTrailingSlash(parsed)
	}

	session := Session{
		SessionID: sessionID,
		KernelID:  hs.ID,
		Endpoint:  wsEndpoint,
		Base:      base,
	}
	n.logger.SetSession(sessionID, hs.ID)
	_ = n.logger.Info(logging.CategorySession, "negotiated", "kernel ready", map[string]any{
		"endpoint": wsEndpoint.String(),
	})
	return session, nil
}

// ParseServerBase validates an absolute http(s) server URL and normalises
// it to end in "/".
func ParseServerBase(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("server url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("server url has no host")
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return withTrailingSlash(parsed), nil
}

func withTrailingSlash(u *url.URL) *url.URL {
	clone := *u
	if !strings.HasSuffix(clone.Path, "/") {
		clone.Path += "/"
		if clone.RawPath != "" {
			clone.RawPath += "/"
		}
	}
	return &clone
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
