package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/sagecell/pkg/cell"
	"github.com/odvcencio/sagecell/pkg/cell/celltest"
	"github.com/odvcencio/sagecell/pkg/config"
	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

// syncBuffer is written from client goroutines while tests read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(t *testing.T, serverURL string) (*app, *syncBuffer, *syncBuffer) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SAGECELL_LOG_DIR", filepath.Join(home, "logs"))
	t.Setenv("SAGECELL_SERVER_URL", serverURL)
	t.Chdir(home)
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	return &app{stdout: stdout, stderr: stderr}, stdout, stderr
}

func TestDispatchVersionAndUsage(t *testing.T) {
	a, stdout, stderr := newTestApp(t, "http://127.0.0.1:1/")

	assert.Equal(t, exitOK, a.dispatch([]string{"version"}))
	assert.Contains(t, stdout.String(), "sagecell "+version)

	assert.Equal(t, exitUsage, a.dispatch(nil))
	assert.Equal(t, exitUsage, a.dispatch([]string{"bogus"}))
	assert.Contains(t, stderr.String(), `unknown command "bogus"`)

	assert.Equal(t, exitOK, a.dispatch([]string{"run", "-h"}))
	assert.Equal(t, exitUsage, a.dispatch([]string{"run", "-nope"}))
	assert.Equal(t, exitUsage, a.dispatch([]string{"run"}))
	assert.Equal(t, exitUsage, a.dispatch([]string{"render"}))
	assert.Equal(t, exitUsage, a.dispatch([]string{"serve", "missing.md"}))
}

func TestRunStreamsOutput(t *testing.T) {
	srv := celltest.NewServer(nil)
	defer srv.Close()
	a, stdout, _ := newTestApp(t, srv.URL)

	code := a.dispatch([]string{"run", "-e", "print(1 + 1)"})
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "print(1 + 1)")

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
}

func TestRunReadsFile(t *testing.T) {
	srv := celltest.NewServer(nil)
	defer srv.Close()
	a, stdout, _ := newTestApp(t, srv.URL)

	path := filepath.Join(t.TempDir(), "code.sage")
	require.NoError(t, os.WriteFile(path, []byte("factor(12)\n"), 0o644))

	require.Equal(t, exitOK, a.dispatch([]string{"run", path}))
	assert.Contains(t, stdout.String(), "factor(12)")
}

func TestRunReportsKernelError(t *testing.T) {
	srv := celltest.NewServer(func(string) []celltest.Output {
		return []celltest.Output{
			celltest.Fail("ZeroDivisionError", "rational division by zero"),
			celltest.Reply("error"),
		}
	})
	defer srv.Close()
	a, stdout, stderr := newTestApp(t, srv.URL)

	assert.Equal(t, exitRuntime, a.dispatch([]string{"run", "-e", "1/0"}))
	assert.Contains(t, stdout.String(), "ZeroDivisionError: rational division by zero")
	assert.Contains(t, stderr.String(), "execution failed")
}

func TestRunConnectFailureExitCode(t *testing.T) {
	srv := celltest.NewServer(nil)
	defer srv.Close()
	srv.FailHandshakes(true)
	a, _, stderr := newTestApp(t, srv.URL)

	assert.Equal(t, exitConnect, a.dispatch([]string{"run", "-e", "1"}))
	assert.Contains(t, stderr.String(), "warning:")
}

func TestRenderWritesDocument(t *testing.T) {
	srv := celltest.NewServer(nil)
	defer srv.Close()
	a, _, _ := newTestApp(t, srv.URL)

	dir := t.TempDir()
	note := filepath.Join(dir, "note.md")
	out := filepath.Join(dir, "note.html")
	require.NoError(t, os.WriteFile(note, []byte("# Note\n\n```sage\nplot(x)\n```\n\n```python\nnot run\n```\n"), 0o644))

	require.Equal(t, exitOK, a.dispatch([]string{"render", "-o", out, "-wait", "5s", note}))

	page, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(page), `class="sagecell-block"`)
	assert.Contains(t, string(page), "plot(x)")
	assert.Contains(t, string(page), "sagecell-text")
	assert.Len(t, srv.Requests(), 1)
}

func TestRenderConnectFailureStillWrites(t *testing.T) {
	srv := celltest.NewServer(nil)
	defer srv.Close()
	srv.FailHandshakes(true)
	a, _, stderr := newTestApp(t, srv.URL)

	dir := t.TempDir()
	note := filepath.Join(dir, "note.md")
	out := filepath.Join(dir, "note.html")
	require.NoError(t, os.WriteFile(note, []byte("```sage\n1\n```\n\n```sage\n2\n```\n"), 0o644))

	assert.Equal(t, exitConnect, a.dispatch([]string{"render", "-o", out, note}))
	assert.FileExists(t, out)
	assert.Equal(t, 1, strings.Count(stderr.String(), "warning:"))
}

func TestRenderWaitBound(t *testing.T) {
	srv := celltest.NewServer(func(code string) []celltest.Output {
		return []celltest.Output{celltest.Stream("stdout", code)}
	})
	defer srv.Close()
	a, _, stderr := newTestApp(t, srv.URL)

	dir := t.TempDir()
	note := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(note, []byte("```sage\nsleep(100)\n```\n"), 0o644))

	assert.Equal(t, exitRuntime, a.dispatch([]string{"render", "-o", filepath.Join(dir, "out.html"), "-wait", "100ms", note}))
	assert.Contains(t, stderr.String(), "blocks still running")
}

func TestNoteRendererReleasesPreviousRequests(t *testing.T) {
	srv := celltest.NewServer(func(code string) []celltest.Output {
		return []celltest.Output{celltest.Stream("stdout", code)}
	})
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.ServerURL = srv.URL
	client := cell.New(cfg)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Start(ctx))

	note := filepath.Join(t.TempDir(), "note.md")
	require.NoError(t, os.WriteFile(note, []byte("```sage\na\n```\n\n```sage\nb\n```\n"), 0o644))

	render := newNoteRenderer(client, note)
	doc, err := render(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Blocks())
	assert.Equal(t, 2, client.Pending())

	require.NoError(t, os.WriteFile(note, []byte("```sage\nc\n```\n"), 0o644))
	doc, err = render(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Blocks())
	assert.Equal(t, 1, client.Pending())
}

func TestServerConfigFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Serve.Addr = "127.0.0.1:9999"
	cfg.Events.Subject = "notes.cell"

	got := serverConfig(cfg, "/tmp/note.md")
	assert.Equal(t, "127.0.0.1:9999", got.Addr)
	assert.Equal(t, "/tmp/note.md", got.Source)
	assert.Equal(t, "notes.cell", got.CellSubject)
	assert.Equal(t, cell.SessionStartedSubject, got.SessionSubject)
}

func TestReadCode(t *testing.T) {
	_, err := readCode("1", []string{"f"})
	assert.Equal(t, exitUsage, exitCodeForError(err))

	_, err = readCode("", []string{"a", "b"})
	assert.Equal(t, exitUsage, exitCodeForError(err))

	_, err = readCode("", []string{filepath.Join(t.TempDir(), "missing")})
	assert.Equal(t, exitUsage, exitCodeForError(err))

	code, err := readCode("x = 1", nil)
	require.NoError(t, err)
	assert.Equal(t, "x = 1", code)
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain", errors.New("boom"), exitRuntime},
		{"connect", sageerrors.Connect(errors.New("refused"), "handshake"), exitConnect},
		{"config", sageerrors.New(sageerrors.ErrCodeConfigInvalid, "bad"), exitUsage},
		{"explicit", withExitCode(errors.New("x"), exitUsage), exitUsage},
		{"zero code", exitError{err: errors.New("x")}, exitRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeForError(tt.err))
		})
	}
}
