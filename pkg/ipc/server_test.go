package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/odvcencio/sagecell/pkg/markdown"
	"github.com/odvcencio/sagecell/pkg/telemetry"
)

type stubRenderer struct {
	calls atomic.Int32
	err   error
}

func (r *stubRenderer) render(ctx context.Context) (*markdown.Document, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return markdown.NewProcessor().Render(ctx, []byte("# Preview\n\nbody\n"))
}

func newTestServer(t *testing.T, cfg Config, r *stubRenderer) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg, r.render)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestRootServesRenderedDocument(t *testing.T) {
	r := &stubRenderer{}
	s, ts := newTestServer(t, Config{}, r)

	resp, _ := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, err := s.Rerender(context.Background(), TriggerStartup)
	require.NoError(t, err)

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, body, `<h1 id="preview">Preview</h1>`)
	assert.Contains(t, body, `new WebSocket(`)
	assert.Less(t, strings.Index(body, "<script>"), strings.Index(body, "</body>"))
}

func TestRenderEndpointIsRateLimited(t *testing.T) {
	r := &stubRenderer{}
	_, ts := newTestServer(t, Config{RenderRate: 0.001}, r)

	before := testutil.ToFloat64(telemetry.Renders.WithLabelValues(TriggerAPI, "ok"))

	resp, err := http.Post(ts.URL+"/api/render", "application/json", nil)
	require.NoError(t, err)
	var ok struct {
		Status string   `json:"status"`
		Blocks int      `json:"blocks"`
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ok))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rendered", ok.Status)
	assert.Empty(t, ok.Errors)

	resp, err = http.Post(ts.URL+"/api/render", "application/json", nil)
	require.NoError(t, err)
	var limited struct {
		Code      string `json:"code"`
		Retryable bool   `json:"retryable"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&limited))
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", limited.Code)
	assert.True(t, limited.Retryable)

	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.Renders.WithLabelValues(TriggerAPI, "ok")))
}

func TestRenderEndpointReportsRendererFailure(t *testing.T) {
	r := &stubRenderer{err: errors.New("disk gone")}
	_, ts := newTestServer(t, Config{}, r)

	resp, err := http.Post(ts.URL+"/api/render", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, Config{}, &stubRenderer{})

	resp, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status": "ok"`)

	resp, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "sagecell_preview_ws_clients")
}

func TestWebSocketReceivesBroadcasts(t *testing.T) {
	s, ts := newTestServer(t, Config{}, &stubRenderer{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Hub().Broadcast(Event{Type: EventCell, RequestID: "r1", Payload: map[string]any{"text": "4"}})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, EventCell, evt.Type)
	assert.Equal(t, "r1", evt.RequestID)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, EventPong, evt.Type)

	conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return s.Hub().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketClientLimit(t *testing.T) {
	s, ts := newTestServer(t, Config{MaxClients: 1}, &stubRenderer{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	first, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer first.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWatchRerendersOnWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(src, []byte("# a\n"), 0o644))

	r := &stubRenderer{}
	s := NewServer(Config{Source: src}, r.render)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.watch(ctx))

	require.NoError(t, os.WriteFile(src, []byte("# b\n"), 0o644))
	require.NoError(t, os.WriteFile(src, []byte("# c\n"), 0o644))

	require.Eventually(t, func() bool { return s.Document() != nil }, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, r.calls.Load(), int32(1))

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	_, body := get(t, ts.URL+"/healthz")
	assert.Contains(t, body, `"last_change"`)
}

func TestWithLiveScriptWithoutBody(t *testing.T) {
	out := withLiveScript("<p>x</p>")
	assert.True(t, strings.HasPrefix(out, "<p>x</p><script>"))
}
