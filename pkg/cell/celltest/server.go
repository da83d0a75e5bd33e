// Package celltest provides an in-process SageMathCell server for tests: the
// kernel handshake over HTTP and a SockJS raw websocket that answers
// execute requests from a script.
package celltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"

	"github.com/odvcencio/sagecell/pkg/protocol"
	"github.com/odvcencio/sagecell/pkg/transport"
)

// Output is one envelope the server sends in response to a request.
type Output struct {
	MsgType string
	Content any
}

// Script maps submitted code to the outputs sent back, in order.
type Script func(code string) []Output

// Stream is a stream output.
func Stream(name, text string) Output {
	return Output{MsgType: protocol.TypeStream, Content: map[string]any{"name": name, "text": text}}
}

// Display is a display_data output with the given bundle.
func Display(data map[string]any) Output {
	return Output{MsgType: protocol.TypeDisplayData, Content: map[string]any{"data": data, "metadata": map[string]any{}}}
}

// Result is an execute_result carrying text/plain.
func Result(count int, text string) Output {
	return Output{MsgType: protocol.TypeExecuteResult, Content: map[string]any{
		"execution_count": count,
		"data":            map[string]any{protocol.MIMETextPlain: text},
		"metadata":        map[string]any{},
	}}
}

// Fail is an error output.
func Fail(name, value string) Output {
	return Output{MsgType: protocol.TypeError, Content: map[string]any{"ename": name, "evalue": value, "traceback": []string{}}}
}

// Reply is the execute_reply that completes a request.
func Reply(status string) Output {
	return Output{MsgType: protocol.TypeExecuteReply, Content: map[string]any{"status": status, "execution_count": 1}}
}

// Echo streams the submitted code back on stdout and replies ok.
func Echo(code string) []Output {
	return []Output{Stream("stdout", code), Reply("ok")}
}

// Server is a fake SageMathCell server.
type Server struct {
	// URL is the server base, with a trailing slash.
	URL      string
	KernelID string

	srv        *httptest.Server
	script     Script
	upgrader   gorilla.Upgrader
	handshakes atomic.Int32
	failKernel atomic.Bool

	mu       sync.Mutex
	conns    []*gorilla.Conn
	requests []protocol.Envelope
	received chan protocol.Envelope
}

// NewServer starts a server answering requests with script. A nil script
// uses Echo.
func NewServer(script Script) *Server {
	if script == nil {
		script = Echo
	}
	s := &Server{
		KernelID: "kernel-" + uuid.NewString()[:8],
		script:   script,
		upgrader: gorilla.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		received: make(chan protocol.Envelope, 64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/kernel", s.handleKernel)
	mux.HandleFunc("/sockjs/", s.handleSockJS)
	s.srv = httptest.NewServer(mux)
	s.URL = s.srv.URL + "/"
	return s
}

// Close stops the server and drops every connection.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// Handshakes reports how many kernels were requested.
func (s *Server) Handshakes() int {
	return int(s.handshakes.Load())
}

// FailHandshakes makes /kernel answer 503.
func (s *Server) FailHandshakes(fail bool) {
	s.failKernel.Store(fail)
}

// Received yields every execute request as it is read.
func (s *Server) Received() <-chan protocol.Envelope {
	return s.received
}

// Requests returns the execute requests read so far.
func (s *Server) Requests() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Envelope(nil), s.requests...)
}

// DropConnections closes every websocket without a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.NetConn().Close()
	}
}

func (s *Server) handleKernel(w http.ResponseWriter, r *http.Request) {
	s.handshakes.Add(1)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.failKernel.Load() {
		http.Error(w, "no kernels available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"ws_url": s.URL,
		"id":     s.KernelID,
	})
}

func (s *Server) handleSockJS(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/websocket") {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	defer conn.Close()

	if err := conn.WriteMessage(gorilla.TextMessage, []byte("o")); err != nil {
		return
	}

	prefix := s.KernelID + "/channels,"
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var payloads []string
		if err := json.Unmarshal(data, &payloads); err != nil {
			continue
		}
		for _, p := range payloads {
			body, ok := strings.CutPrefix(p, prefix)
			if !ok {
				continue
			}
			var env protocol.Envelope
			if err := json.Unmarshal([]byte(body), &env); err != nil {
				continue
			}
			s.record(env)

			var req protocol.ExecuteRequest
			_ = json.Unmarshal(env.Content, &req)
			frame, err := s.frame(env.Header, s.script(req.Code))
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(gorilla.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) record(env protocol.Envelope) {
	s.mu.Lock()
	s.requests = append(s.requests, env)
	s.mu.Unlock()
	select {
	case s.received <- env:
	default:
	}
}

// frame packs outputs answering parent into one SockJS "a" frame.
func (s *Server) frame(parent protocol.Header, outputs []Output) ([]byte, error) {
	payloads := make([]string, 0, len(outputs))
	for _, out := range outputs {
		content, err := json.Marshal(out.Content)
		if err != nil {
			return nil, err
		}
		env := protocol.Envelope{
			Header: protocol.Header{
				MsgID:   uuid.NewString(),
				Session: parent.Session,
				MsgType: out.MsgType,
			},
			ParentHeader: protocol.ParentHeader{
				MsgID:   parent.MsgID,
				Session: parent.Session,
				MsgType: parent.MsgType,
			},
			Metadata: map[string]any{},
			Content:  content,
			MsgType:  out.MsgType,
		}
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, fmt.Sprintf("%s/channels,%s", s.KernelID, raw))
	}
	body, err := transport.EncodeMessages(payloads...)
	if err != nil {
		return nil, err
	}
	return append([]byte("a"), body...), nil
}
