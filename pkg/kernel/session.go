package kernel

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
)

const sockSessionAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Session is one negotiated kernel. It lives until the transport closes.
type Session struct {
	SessionID string
	KernelID  string
	// Endpoint is the websocket base returned as ws_url.
	Endpoint *url.URL
	// Base is the server base the handshake was sent to.
	Base *url.URL
}

// FileURL resolves a kernel-produced file to
// {serverBase}kernel/{kernelId}/files/{filename}.
func (s Session) FileURL(filename string) string {
	segments := strings.Split(strings.TrimLeft(filename, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	base := ""
	if s.Base != nil {
		base = s.Base.String()
	}
	return base + "kernel/" + url.PathEscape(s.KernelID) + "/files/" + strings.Join(segments, "/")
}

// TransportURL returns the SockJS raw websocket URL for this session.
func (s Session) TransportURL() string {
	endpoint := s.Endpoint
	if endpoint == nil {
		endpoint = s.Base
	}
	if endpoint == nil {
		return ""
	}
	u := *endpoint
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawPath = ""
	u.Path = strings.TrimSuffix(u.Path, "/") + fmt.Sprintf("/sockjs/%03d/%s/websocket", rand.IntN(1000), sockSessionToken())
	q := url.Values{}
	q.Set("CellSessionID", s.SessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

func sockSessionToken() string {
	var b [8]byte
	for i := range b {
		b[i] = sockSessionAlphabet[rand.IntN(len(sockSessionAlphabet))]
	}
	return string(b[:])
}
