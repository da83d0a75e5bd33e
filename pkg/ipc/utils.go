package ipc

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

// securityHeadersMiddleware adds standard security headers to responses.
// Framing stays same-origin so kernel frames can be embedded.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "SAMEORIGIN")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	response := struct {
		Error       string   `json:"error"`
		Status      int      `json:"status"`
		Code        string   `json:"code,omitempty"`
		Message     string   `json:"message"`
		Details     string   `json:"details,omitempty"`
		Remediation []string `json:"remediation,omitempty"`
		Retryable   bool     `json:"retryable,omitempty"`
		Timestamp   string   `json:"timestamp"`
	}{
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if e, ok := sageerrors.As(err); ok {
		response.Code = string(e.Code)
		if e.UserMessage != "" {
			response.Message = e.UserMessage
		} else if e.Message != "" {
			response.Message = e.Message
		}
		response.Remediation = append([]string(nil), e.Remediation...)
		response.Retryable = e.Retryable
		response.Details = e.Error()
	} else if err != nil {
		response.Message = err.Error()
	}

	response.Error = response.Message
	_ = json.NewEncoder(w).Encode(response)
}

// liveScript keeps the preview current: it reloads the body whenever the
// document is re-rendered or a cell event arrives.
const liveScript = `<script>
(function () {
  var pending = null;
  function refresh() {
    if (pending) return;
    pending = setTimeout(function () {
      pending = null;
      fetch(location.pathname, {cache: "no-store"}).then(function (r) { return r.text(); }).then(function (html) {
        var next = new DOMParser().parseFromString(html, "text/html");
        document.body.replaceWith(next.body);
      });
    }, 100);
  }
  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onmessage = function (m) {
      var evt = JSON.parse(m.data);
      if (evt.type === "cell" || evt.type === "document.rendered") refresh();
    };
    ws.onclose = function () { setTimeout(connect, 2000); };
  }
  connect();
})();
</script>`

func withLiveScript(page string) string {
	if i := strings.LastIndex(page, "</body>"); i >= 0 {
		return page[:i] + liveScript + page[i:]
	}
	return page + liveScript
}
