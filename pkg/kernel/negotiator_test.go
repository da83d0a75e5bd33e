package kernel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

func fixedID() string { return "01HZXSESSION" }

func TestNegotiateSuccess(t *testing.T) {
	var gotQuery url.Values
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ws_url":"wss://x","id":"sess1"}`))
	}))
	defer srv.Close()

	n := NewNegotiator(WithSessionIDFunc(fixedID))
	session, err := n.Negotiate(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/kernel", gotPath)
	assert.Equal(t, "01HZXSESSION", gotQuery.Get("CellSessionID"))
	assert.Equal(t, "inf", gotQuery.Get("timeout"))
	assert.Equal(t, "true", gotQuery.Get("accepted_tos"))

	assert.Equal(t, "sess1", session.KernelID)
	assert.Equal(t, "01HZXSESSION", session.SessionID)
	assert.Equal(t, "wss://x/", session.Endpoint.String())
	assert.Equal(t, srv.URL+"/kernel/sess1/files/plot.png", session.FileURL("plot.png"))
}

func TestNegotiateNormalisesTrailingSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"k"}`))
	}))
	defer srv.Close()

	session, err := NewNegotiator().Negotiate(context.Background(), srv.URL+"/cell")
	require.NoError(t, err)
	assert.Equal(t, "/cell/kernel", gotPath)
	assert.Equal(t, srv.URL+"/cell/", session.Base.String())
	// A missing ws_url falls back to the server base.
	assert.Equal(t, session.Base.String(), session.Endpoint.String())
}

func TestNegotiateFailuresAreConnectErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
		},
		{
			name: "missing id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ws_url":"wss://x"}`))
			},
		},
		{
			name: "invalid ws_url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"ws_url":"not a url","id":"k"}`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewNegotiator().Negotiate(context.Background(), srv.URL+"/")
			require.Error(t, err)
			assert.True(t, sageerrors.IsCode(err, sageerrors.ErrCodeConnect), "err = %v", err)
			assert.Equal(t, sageerrors.ConnectNotice, sageerrors.UserMessage(err))
		})
	}
}

func TestNegotiateNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewNegotiator().Negotiate(context.Background(), addr+"/")
	require.Error(t, err)
	assert.True(t, sageerrors.IsCode(err, sageerrors.ErrCodeConnect))
	assert.False(t, sageerrors.IsRetryable(err))
}

func TestNegotiateRejectsBadServerURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://host/", "sagecell.local/", "http:///nohost"} {
		_, err := NewNegotiator().Negotiate(context.Background(), raw)
		assert.True(t, sageerrors.IsCode(err, sageerrors.ErrCodeConnect), "raw %q: %v", raw, err)
	}
}

func TestSessionFileURLEscapes(t *testing.T) {
	base, err := ParseServerBase("https://cell.example/")
	require.NoError(t, err)
	s := Session{KernelID: "k1", Base: base}

	assert.Equal(t, "https://cell.example/kernel/k1/files/abc123.html", s.FileURL("abc123.html"))
	assert.Equal(t, "https://cell.example/kernel/k1/files/sub/my%20plot.png", s.FileURL("sub/my plot.png"))
}

func TestSessionTransportURL(t *testing.T) {
	pattern := regexp.MustCompile(`^(wss?)://cell\.example/sockjs/\d{3}/[a-z0-9]{8}/websocket\?CellSessionID=S1$`)

	https, _ := url.Parse("https://cell.example/")
	plain, _ := url.Parse("http://cell.example/")

	m := pattern.FindStringSubmatch(Session{SessionID: "S1", Endpoint: https}.TransportURL())
	require.NotNil(t, m)
	assert.Equal(t, "wss", m[1])

	m = pattern.FindStringSubmatch(Session{SessionID: "S1", Endpoint: plain}.TransportURL())
	require.NotNil(t, m)
	assert.Equal(t, "ws", m[1])

	assert.Equal(t, "", Session{}.TransportURL())
}
